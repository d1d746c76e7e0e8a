package kalshi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kalshi-exec/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) config.KalshiConfig {
	t.Helper()
	_, pemStr := testKeyPEM(t)
	return config.KalshiConfig{
		APIKey:            "test-key",
		PrivateKey:        pemStr,
		UseDemo:           true,
		RateLimit:         1000,
		MaxAttempt:        5,
		BaseDelay:         500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
		OrderbookDepth:    10,
	}
}

// newTestClient builds a client against the given server with jitter disabled
// and sleeps recorded instead of slept.
func newTestClient(t *testing.T, cfg config.KalshiConfig, serverURL string) (*Client, *[]time.Duration) {
	t.Helper()
	c, err := NewClient(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(c.Close)
	c.http.SetBaseURL(serverURL)
	c.jitter = func(time.Duration) time.Duration { return 0 }

	var mu sync.Mutex
	sleeps := &[]time.Duration{}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*sleeps = append(*sleeps, d)
		mu.Unlock()
		return nil
	}
	return c, sleeps
}

func TestRetryThenSuccess(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"balance":1,"portfolio_value":2,"updated_ts":123}`))
	}))
	defer ts.Close()

	c, sleeps := newTestClient(t, testConfig(t), ts.URL)

	bal, err := c.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.Balance != 1 || bal.PortfolioValue != 2 || bal.UpdatedTS != 123 {
		t.Errorf("balance = %+v", bal)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	want := []time.Duration{500 * time.Millisecond, time.Second}
	if len(*sleeps) != 2 || (*sleeps)[0] != want[0] || (*sleeps)[1] != want[1] {
		t.Errorf("sleeps = %v, want %v", *sleeps, want)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"bad request"}`))
	}))
	defer ts.Close()

	c, sleeps := newTestClient(t, testConfig(t), ts.URL)

	_, err := c.GetBalance(context.Background())
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %v", err)
	}
	if httpErr.StatusCode != 400 {
		t.Errorf("StatusCode = %d, want 400", httpErr.StatusCode)
	}
	if httpErr.Payload["message"] != "bad request" {
		t.Errorf("Payload = %v", httpErr.Payload)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want exactly 1", calls.Load())
	}
	if len(*sleeps) != 0 {
		t.Errorf("sleeps = %v, want none", *sleeps)
	}
}

func TestRetryBudgetExhaustedByAttempts(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	cfg := testConfig(t)
	cfg.MaxAttempt = 3
	c, sleeps := newTestClient(t, cfg, ts.URL)

	_, err := c.GetBalance(context.Background())
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 503 {
		t.Fatalf("expected 503 *HTTPError, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if len(*sleeps) != 2 {
		t.Errorf("sleeps = %v, want 2 entries", *sleeps)
	}
}

func TestRetrySurfacesWhenDelayWouldExceedBudget(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	cfg := testConfig(t)
	cfg.BaseDelay = 10 * time.Second
	cfg.MaxDelay = 5 * time.Second
	c, sleeps := newTestClient(t, cfg, ts.URL)

	_, err := c.GetBalance(context.Background())
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 500 {
		t.Fatalf("expected 500 *HTTPError, got %v", err)
	}
	if len(*sleeps) != 0 {
		t.Errorf("sleeps = %v, want none (first delay already over budget)", *sleeps)
	}
}

func TestRetryOn429(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"balance":5,"portfolio_value":5,"updated_ts":1}`))
	}))
	defer ts.Close()

	c, _ := newTestClient(t, testConfig(t), ts.URL)

	bal, err := c.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.Balance != 5 {
		t.Errorf("balance = %d, want 5", bal.Balance)
	}
}

func TestTransportErrorClassified(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // connection refused from here on

	cfg := testConfig(t)
	cfg.MaxAttempt = 2
	c, sleeps := newTestClient(t, cfg, ts.URL)

	_, err := c.GetBalance(context.Background())
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if len(*sleeps) != 1 {
		t.Errorf("sleeps = %v, want 1 (transport errors are retryable)", *sleeps)
	}
}

func TestSerialRequestExecution(t *testing.T) {
	t.Parallel()
	var inFlight, maxInFlight atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		w.Write([]byte(`{"balance":0,"portfolio_value":0,"updated_ts":0}`))
	}))
	defer ts.Close()

	c, _ := newTestClient(t, testConfig(t), ts.URL)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetBalance(context.Background()); err != nil {
				t.Errorf("GetBalance: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInFlight.Load() != 1 {
		t.Errorf("max in-flight = %d, want 1", maxInFlight.Load())
	}
}

func TestRequestRetainsQueryAndAuthHeaders(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "depth=10" {
			t.Errorf("RawQuery = %q, want depth=10", r.URL.RawQuery)
		}
		for _, h := range []string{"KALSHI-ACCESS-KEY", "KALSHI-ACCESS-SIGNATURE", "KALSHI-ACCESS-TIMESTAMP"} {
			if r.Header.Get(h) == "" {
				t.Errorf("missing header %s", h)
			}
		}
		w.Write([]byte(`{"orderbook":{"yes_dollars":[],"no_dollars":[]}}`))
	}))
	defer ts.Close()

	c, _ := newTestClient(t, testConfig(t), ts.URL)
	if _, err := c.GetMarketOrderbook(context.Background(), "tick", 10); err != nil {
		t.Fatalf("GetMarketOrderbook: %v", err)
	}
}

func TestEmptyBodyReturnsNil(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c, _ := newTestClient(t, testConfig(t), ts.URL)
	data, err := c.Request(context.Background(), "DELETE", "/trade-api/v2/portfolio/orders/oid", nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if data != nil {
		t.Errorf("data = %s, want nil", data)
	}
}

func TestCreateOrderRoundTrip(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.Write([]byte(`{"order":{"order_id":"oid-9","status":"resting","initial_count":3}}`))
	}))
	defer ts.Close()

	c, _ := newTestClient(t, testConfig(t), ts.URL)
	price := Dollars(0.42)
	created, err := c.CreateOrder(context.Background(), Order{
		Ticker: "abc", Side: "yes", Action: "buy", Count: 3, Type: "limit",
		YesPriceDollars: &price,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if created.OrderID != "oid-9" {
		t.Errorf("OrderID = %q", created.OrderID)
	}
	if created.Count != 3 {
		t.Errorf("Count = %d, want 3 (initial_count mapping)", created.Count)
	}
}

func TestRequestAfterClose(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	c, _ := newTestClient(t, testConfig(t), ts.URL)
	c.Close()

	if _, err := c.Request(context.Background(), "GET", "/x", nil); !errors.Is(err, ErrClientClosed) {
		t.Errorf("err = %v, want ErrClientClosed", err)
	}
}
