package portfolio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"kalshi-exec/internal/bus"
	"kalshi-exec/pkg/types"
)

func testManager(t *testing.T) (*Manager, *bus.CommandBus, *bus.EventBus) {
	t.Helper()
	commands := bus.NewCommandBus(nil)
	events := bus.NewEventBus(nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(commands, events, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { m.Run(ctx); close(done) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m, commands, events
}

func TestSubmitOrderGeneratesIDs(t *testing.T) {
	t.Parallel()
	m, commands, _ := testManager(t)
	ctx := context.Background()

	tradeID, err := m.SubmitOrder(ctx, types.OrderRequest{
		Ticker: "MKT-A", Side: types.SideYes, Action: types.ActionBuy,
		Count: 1, OrderType: types.OrderTypeMarket,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if tradeID == "" {
		t.Fatal("trade id not generated")
	}

	cmd, err := commands.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	submit := cmd.(types.SubmitOrder)
	if submit.Request.TradeID != tradeID {
		t.Errorf("TradeID = %q, want %q", submit.Request.TradeID, tradeID)
	}
	if submit.Request.ClientOrderID == "" {
		t.Error("ClientOrderID not generated")
	}
	if submit.Request.Venue != types.VenueKalshi {
		t.Errorf("default venue = %q", submit.Request.Venue)
	}
}

func TestSubmitOrderKeepsCallerIDs(t *testing.T) {
	t.Parallel()
	m, commands, _ := testManager(t)
	ctx := context.Background()

	tradeID, err := m.SubmitOrder(ctx, types.OrderRequest{
		TradeID: "my-trade", ClientOrderID: "my-coid",
		Ticker: "MKT-A", Side: types.SideYes, Action: types.ActionBuy,
		Count: 1, OrderType: types.OrderTypeMarket,
	})
	if err != nil {
		t.Fatal(err)
	}
	if tradeID != "my-trade" {
		t.Errorf("tradeID = %q", tradeID)
	}

	cmd, _ := commands.Get(ctx)
	if cmd.(types.SubmitOrder).Request.ClientOrderID != "my-coid" {
		t.Error("caller ClientOrderID overwritten")
	}
}

func TestWaitForOrderSubmitted(t *testing.T) {
	t.Parallel()
	m, _, events := testManager(t)
	ctx := context.Background()

	type result struct {
		id  string
		err error
	}
	got := make(chan result, 1)
	go func() {
		id, err := m.WaitForOrderSubmitted(ctx, "t1", 2*time.Second)
		got <- result{id: id, err: err}
	}()

	time.Sleep(20 * time.Millisecond)
	events.Publish(ctx, types.OrderSubmitted{
		TradeID: "t1", Venue: types.VenueKalshi, VenueOrderID: "oid-1", TS: types.Now(),
	})

	select {
	case res := <-got:
		if res.err != nil {
			t.Fatalf("WaitForOrderSubmitted: %v", res.err)
		}
		if res.id != "oid-1" {
			t.Errorf("venue order id = %q", res.id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForOrderSubmitted never returned")
	}

	// Already-acknowledged submissions resolve without waiting.
	id, err := m.WaitForOrderSubmitted(ctx, "t1", 10*time.Millisecond)
	if err != nil || id != "oid-1" {
		t.Errorf("second wait = %q, %v", id, err)
	}
}

func TestWaitForOrderSubmittedRejection(t *testing.T) {
	t.Parallel()
	m, _, events := testManager(t)
	ctx := context.Background()

	got := make(chan error, 1)
	go func() {
		_, err := m.WaitForOrderSubmitted(ctx, "t2", 2*time.Second)
		got <- err
	}()

	time.Sleep(20 * time.Millisecond)
	events.Publish(ctx, types.OrderRejected{
		TradeID: "t2", Venue: types.VenueKalshi, Message: "market closed", TS: types.Now(),
	})

	select {
	case err := <-got:
		var rejected *ErrOrderRejected
		if !errors.As(err, &rejected) {
			t.Fatalf("expected *ErrOrderRejected, got %v", err)
		}
		if rejected.Message != "market closed" {
			t.Errorf("Message = %q", rejected.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("rejection never surfaced")
	}
}

func TestWaitForOrderSubmittedAfterRejection(t *testing.T) {
	t.Parallel()
	m, _, events := testManager(t)
	ctx := context.Background()

	events.Publish(ctx, types.OrderRejected{
		TradeID: "t-early", Venue: types.VenueKalshi, Message: "bad ticker", TS: types.Now(),
	})
	waitFor(t, func() bool {
		_, err := m.WaitForOrderSubmitted(ctx, "t-early", time.Millisecond)
		var rejected *ErrOrderRejected
		return errors.As(err, &rejected)
	})
}

func TestWaitForOrderSubmittedTimeout(t *testing.T) {
	t.Parallel()
	m, _, _ := testManager(t)

	_, err := m.WaitForOrderSubmitted(context.Background(), "missing", 30*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestManagerTracksOrderState(t *testing.T) {
	t.Parallel()
	m, _, events := testManager(t)
	ctx := context.Background()

	events.Publish(ctx, types.OrderSubmitted{
		TradeID: "t3", VenueOrderID: "oid-3", Venue: types.VenueKalshi, TS: types.Now(),
	})
	events.Publish(ctx, types.OrderUpdate{
		VenueOrderID: "oid-3", Status: types.StatusResting, FillCount: 2, TS: types.Now(),
	})
	events.Publish(ctx, types.FillUpdate{
		VenueOrderID: "oid-3", FilledDelta: 1, FilledTotal: 3, TS: types.Now(),
	})

	waitFor(t, func() bool {
		status, fills, ok := m.OrderState("oid-3")
		return ok && status == types.StatusResting && fills == 3
	})

	events.Publish(ctx, types.OrderCanceled{VenueOrderID: "oid-3", TS: types.Now()})
	waitFor(t, func() bool {
		status, _, _ := m.OrderState("oid-3")
		return status == types.StatusCanceled
	})
}

func TestManagerTracksPositions(t *testing.T) {
	t.Parallel()
	m, _, events := testManager(t)

	snap := types.PositionSnapshot{
		Venue: types.VenueKalshi,
		Positions: []types.Position{
			{Ticker: "MKT-A", Position: 4, MarketExposureDollars: 2.2},
		},
		TS: types.Now(),
	}
	events.Publish(context.Background(), snap)

	waitFor(t, func() bool {
		got, ok := m.Positions(types.VenueKalshi)
		return ok && len(got.Positions) == 1 && got.Positions[0].Position == 4
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never satisfied")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
