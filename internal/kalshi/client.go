// Package kalshi implements the authenticated Kalshi trade API client.
//
// The client talks to the Kalshi REST API for order management and account
// state:
//   - CreateOrder / BatchCreateOrders:  POST   /trade-api/v2/portfolio/orders[...]
//   - CancelOrder / BatchCancelOrders:  DELETE /trade-api/v2/portfolio/orders[...]
//   - GetOrder / GetOrders:             GET    /trade-api/v2/portfolio/orders
//   - GetBalance:                       GET    /trade-api/v2/portfolio/balance
//   - GetPositions:                     GET    /trade-api/v2/portfolio/positions
//   - GetMarket(s) / GetMarketOrderbook / GetEvent / GetSeries — market data reads
//
// Every request funnels through one FIFO queue drained by a single worker:
// the worker acquires a rate-limit token, signs the request with a fresh
// timestamp, sends it, classifies the outcome, and retries transient
// failures with exponential backoff. While a request is in flight no other
// request is signed or sent, so the limiter sees exactly one consumer and
// signing timestamps are stable per attempt.
package kalshi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"kalshi-exec/internal/config"
	"kalshi-exec/internal/metrics"
)

// requestTimeout bounds a single HTTP attempt.
const requestTimeout = 30 * time.Second

// ErrClientClosed is returned for requests submitted after Close.
var ErrClientClosed = errors.New("kalshi: client closed")

// Client is the authenticated Kalshi REST API client.
type Client struct {
	cfg    config.KalshiConfig
	signer *Signer
	http   *resty.Client
	rl     *TokenBucket
	logger *slog.Logger

	queue     chan *pendingRequest
	startOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}

	// Test seams; production values set in NewClient.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

// pendingRequest pairs an enqueued request with its completion channel.
type pendingRequest struct {
	ctx    context.Context
	method string
	path   string
	body   any
	result chan requestOutcome
}

type requestOutcome struct {
	data json.RawMessage
	err  error
}

// NewClient creates a client from config. The request worker starts lazily on
// the first submission.
func NewClient(cfg config.KalshiConfig, logger *slog.Logger) (*Client, error) {
	signer, err := NewSigner(cfg.APIKey, cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	rl, err := NewTokenBucket(float64(cfg.RateLimit))
	if err != nil {
		return nil, err
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL()).
		SetTimeout(requestTimeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		cfg:    cfg,
		signer: signer,
		http:   httpClient,
		rl:     rl,
		logger: logger.With("component", "kalshi_client"),
		queue:  make(chan *pendingRequest, 256),
		closed: make(chan struct{}),
		sleep:  sleepCtx,
		jitter: func(d time.Duration) time.Duration {
			return time.Duration(rand.Float64() * 0.1 * float64(d))
		},
	}, nil
}

// Close stops the request worker. Requests already in flight complete;
// requests submitted afterwards fail with ErrClientClosed.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Request enqueues a signed request and waits for its result. The raw JSON
// body is returned for 2xx responses with content, nil for empty bodies.
func (c *Client) Request(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	c.startOnce.Do(func() { go c.requestWorker() })

	req := &pendingRequest{
		ctx:    ctx,
		method: method,
		path:   path,
		body:   body,
		result: make(chan requestOutcome, 1),
	}

	select {
	case c.queue <- req:
	case <-c.closed:
		return nil, ErrClientClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case out := <-req.result:
		return out.data, out.err
	case <-ctx.Done():
		// The worker finishes the in-flight attempt and discards the
		// unclaimed result; cancellation surfaces here, not as a venue error.
		return nil, ctx.Err()
	}
}

// requestWorker drains the queue serially. At most one request is signed and
// in flight at any moment.
func (c *Client) requestWorker() {
	for {
		select {
		case <-c.closed:
			return
		case req := <-c.queue:
			data, err := c.sendWithRetries(req.ctx, req.method, req.path, req.body)
			req.result <- requestOutcome{data: data, err: err}
		}
	}
}

// sendWithRetries applies the bounded retry policy: transient failures
// (transport errors, 429, 5xx) back off exponentially with jitter until the
// attempt or total-delay budget is exhausted. Each attempt re-acquires a
// token and re-signs with a fresh timestamp.
func (c *Client) sendWithRetries(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	attempt := 0
	start := time.Now()

	for {
		if err := c.rl.Acquire(ctx); err != nil {
			return nil, err
		}

		data, err := c.send(ctx, method, path, body)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		attempt++
		if !retryable(err) || attempt >= c.cfg.MaxAttempt {
			return nil, err
		}

		delay := time.Duration(float64(c.cfg.BaseDelay) * math.Pow(c.cfg.BackoffMultiplier, float64(attempt-1)))
		delay += c.jitter(delay)

		if time.Since(start)+delay > c.cfg.MaxDelay {
			return nil, err
		}

		metrics.HTTPRetries.Inc()
		c.logger.Warn("retrying request",
			"method", method,
			"path", path,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// send signs and performs one HTTP attempt, classifying the outcome.
func (c *Client) send(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	headers, err := c.signer.Headers(method, path)
	if err != nil {
		return nil, err
	}

	r := c.http.R().SetContext(ctx).SetHeaders(headers)
	if body != nil {
		r.SetBody(body)
	}

	resp, err := r.Execute(strings.ToUpper(method), path)
	if err != nil {
		metrics.HTTPRequests.WithLabelValues(strings.ToUpper(method), "transport_error").Inc()
		return nil, &TransportError{Err: err}
	}

	status := resp.StatusCode()
	metrics.HTTPRequests.WithLabelValues(strings.ToUpper(method), fmt.Sprintf("%d", status)).Inc()

	if status >= 200 && status < 300 {
		b := resp.Body()
		if len(b) == 0 {
			return nil, nil
		}
		return json.RawMessage(b), nil
	}

	var payload map[string]any
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		payload = nil // best-effort parse only
	}
	return nil, &HTTPError{StatusCode: status, Payload: payload}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// GetMarket fetches a single market by ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (Market, error) {
	data, err := c.Request(ctx, "GET", "/trade-api/v2/markets/"+NormalizeTicker(ticker), nil)
	if err != nil {
		return Market{}, err
	}
	var env struct {
		Market Market `json:"market"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Market{}, fmt.Errorf("decode market: %w", err)
	}
	return env.Market, nil
}

// GetMarketOrderbook fetches the orderbook for a market ticker.
func (c *Client) GetMarketOrderbook(ctx context.Context, ticker string, depth int) (OrderBook, error) {
	query := BuildQuery([]Param{{Key: "depth", Value: depth}})
	data, err := c.Request(ctx, "GET", "/trade-api/v2/markets/"+NormalizeTicker(ticker)+"/orderbook"+query, nil)
	if err != nil {
		return OrderBook{}, err
	}
	var env struct {
		Orderbook OrderBook `json:"orderbook"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return OrderBook{}, fmt.Errorf("decode orderbook: %w", err)
	}
	return env.Orderbook, nil
}

// MarketsFilter narrows GetMarkets results. Zero values are omitted; Limit
// defaults to 100.
type MarketsFilter struct {
	SeriesTicker string
	EventTicker  string
	Status       string
	Limit        int
	Cursor       string
}

// GetMarkets fetches markets with optional filters and cursor pagination.
func (c *Client) GetMarkets(ctx context.Context, filter MarketsFilter) ([]Market, string, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := BuildQuery([]Param{
		{Key: "limit", Value: limit},
		{Key: "cursor", Value: nilIfEmpty(filter.Cursor)},
		{Key: "event_ticker", Value: nilIfEmpty(NormalizeTicker(filter.EventTicker))},
		{Key: "series_ticker", Value: nilIfEmpty(NormalizeTicker(filter.SeriesTicker))},
		{Key: "status", Value: nilIfEmpty(filter.Status)},
	})
	data, err := c.Request(ctx, "GET", "/trade-api/v2/markets"+query, nil)
	if err != nil {
		return nil, "", err
	}
	var env struct {
		Markets []Market `json:"markets"`
		Cursor  string   `json:"cursor"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("decode markets: %w", err)
	}
	return env.Markets, env.Cursor, nil
}

// GetEvent fetches a single event by ticker as a raw document.
func (c *Client) GetEvent(ctx context.Context, eventTicker string) (map[string]any, error) {
	data, err := c.Request(ctx, "GET", "/trade-api/v2/events/"+NormalizeTicker(eventTicker), nil)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return doc, nil
}

// GetSeries fetches a series by ticker as a raw document.
func (c *Client) GetSeries(ctx context.Context, seriesTicker string) (map[string]any, error) {
	data, err := c.Request(ctx, "GET", "/trade-api/v2/series/"+NormalizeTicker(seriesTicker), nil)
	if err != nil {
		return nil, err
	}
	var env struct {
		Series map[string]any `json:"series"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode series: %w", err)
	}
	return env.Series, nil
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrdersFilter narrows GetOrders results.
type OrdersFilter struct {
	Ticker      string
	EventTicker string
	Status      string
	Limit       int
	Cursor      string
}

// GetOrders fetches orders with optional filtering and pagination.
func (c *Client) GetOrders(ctx context.Context, filter OrdersFilter) ([]Order, string, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := BuildQuery([]Param{
		{Key: "ticker", Value: nilIfEmpty(NormalizeTicker(filter.Ticker))},
		{Key: "event_ticker", Value: nilIfEmpty(NormalizeTicker(filter.EventTicker))},
		{Key: "status", Value: nilIfEmpty(filter.Status)},
		{Key: "limit", Value: limit},
		{Key: "cursor", Value: nilIfEmpty(filter.Cursor)},
	})
	data, err := c.Request(ctx, "GET", "/trade-api/v2/portfolio/orders"+query, nil)
	if err != nil {
		return nil, "", err
	}
	var env struct {
		Orders []Order `json:"orders"`
		Cursor string  `json:"cursor"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("decode orders: %w", err)
	}
	for i := range env.Orders {
		env.Orders[i].normalize()
	}
	return env.Orders, env.Cursor, nil
}

// GetOrder fetches a single order by its venue order id.
func (c *Client) GetOrder(ctx context.Context, orderID string) (Order, error) {
	data, err := c.Request(ctx, "GET", "/trade-api/v2/portfolio/orders/"+orderID, nil)
	if err != nil {
		return Order{}, err
	}
	var env struct {
		Order Order `json:"order"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Order{}, fmt.Errorf("decode order: %w", err)
	}
	env.Order.normalize()
	return env.Order, nil
}

// CreateOrder places an order and returns the venue's view of it.
func (c *Client) CreateOrder(ctx context.Context, order Order) (Order, error) {
	body, err := orderToCreateBody(order)
	if err != nil {
		return Order{}, err
	}
	data, err := c.Request(ctx, "POST", "/trade-api/v2/portfolio/orders", body)
	if err != nil {
		return Order{}, err
	}
	var env struct {
		Order Order `json:"order"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Order{}, fmt.Errorf("decode created order: %w", err)
	}
	env.Order.normalize()
	return env.Order, nil
}

// CancelOrder cancels (fully reduces) an order by venue order id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.Request(ctx, "DELETE", "/trade-api/v2/portfolio/orders/"+orderID, nil)
	return err
}

// BatchCreateOrders places multiple orders in one request. A per-item venue
// error fails the whole call.
func (c *Client) BatchCreateOrders(ctx context.Context, orders []Order) ([]Order, error) {
	bodies := make([]createOrderBody, len(orders))
	for i, o := range orders {
		b, err := orderToCreateBody(o)
		if err != nil {
			return nil, err
		}
		bodies[i] = b
	}
	body := map[string]any{"orders": bodies}

	data, err := c.Request(ctx, "POST", "/trade-api/v2/portfolio/orders/batched", body)
	if err != nil {
		return nil, err
	}
	var env struct {
		Orders []struct {
			Order *Order         `json:"order"`
			Error map[string]any `json:"error"`
		} `json:"orders"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}

	results := make([]Order, 0, len(env.Orders))
	for _, item := range env.Orders {
		if item.Error != nil {
			return nil, &HTTPError{StatusCode: 400, Payload: item.Error}
		}
		if item.Order == nil {
			return nil, &HTTPError{StatusCode: 500, Payload: map[string]any{"message": "missing order in batch response"}}
		}
		o := *item.Order
		o.normalize()
		results = append(results, o)
	}
	return results, nil
}

// BatchCancelOrders cancels multiple orders in one request.
func (c *Client) BatchCancelOrders(ctx context.Context, orderIDs []string) error {
	ids := make([]map[string]string, len(orderIDs))
	for i, id := range orderIDs {
		ids[i] = map[string]string{"order_id": id}
	}
	body := map[string]any{"orders": ids}

	data, err := c.Request(ctx, "DELETE", "/trade-api/v2/portfolio/orders/batched", body)
	if err != nil {
		return err
	}
	var env struct {
		Orders []struct {
			Error map[string]any `json:"error"`
		} `json:"orders"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode batch cancel response: %w", err)
	}
	for _, item := range env.Orders {
		if item.Error != nil {
			return &HTTPError{StatusCode: 400, Payload: item.Error}
		}
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Account
// ————————————————————————————————————————————————————————————————————————

// GetBalance fetches account balance and portfolio value (in cents).
func (c *Client) GetBalance(ctx context.Context) (Balance, error) {
	data, err := c.Request(ctx, "GET", "/trade-api/v2/portfolio/balance", nil)
	if err != nil {
		return Balance{}, err
	}
	var bal Balance
	if err := json.Unmarshal(data, &bal); err != nil {
		return Balance{}, fmt.Errorf("decode balance: %w", err)
	}
	return bal, nil
}

// PositionsFilter narrows GetPositions results.
type PositionsFilter struct {
	Ticker      string
	EventTicker string
	Limit       int
}

// GetPositions fetches market positions with optional filtering.
func (c *Client) GetPositions(ctx context.Context, filter PositionsFilter) ([]MarketPosition, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := BuildQuery([]Param{
		{Key: "ticker", Value: nilIfEmpty(NormalizeTicker(filter.Ticker))},
		{Key: "event_ticker", Value: nilIfEmpty(NormalizeTicker(filter.EventTicker))},
		{Key: "limit", Value: limit},
	})
	data, err := c.Request(ctx, "GET", "/trade-api/v2/portfolio/positions"+query, nil)
	if err != nil {
		return nil, err
	}
	var env struct {
		MarketPositions []MarketPosition `json:"market_positions"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	return env.MarketPositions, nil
}

// nilIfEmpty lets BuildQuery omit unset string filters.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
