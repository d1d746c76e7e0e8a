// Package portfolio exposes the trading-facing API: submit and cancel
// orders through the command bus, then mirror lifecycle events from the
// event bus into queryable local state.
package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"kalshi-exec/internal/bus"
	"kalshi-exec/pkg/types"
)

// stagePortfolioManager labels this manager as the producer on the
// recorded message trail.
const stagePortfolioManager = "portfolio_manager"

// ErrOrderRejected wraps a venue rejection surfaced through
// WaitForOrderSubmitted.
type ErrOrderRejected struct {
	TradeID string
	Message string
}

func (e *ErrOrderRejected) Error() string {
	return fmt.Sprintf("order %s rejected: %s", e.TradeID, e.Message)
}

type submitResult struct {
	venueOrderID string
	err          error
}

// Manager is the caller-facing portfolio layer. It subscribes to the
// event bus at construction so no lifecycle event can slip past between
// wiring and Run.
type Manager struct {
	commands *bus.CommandBus
	sub      *bus.Subscription
	logger   *slog.Logger

	mu                sync.Mutex
	venueOrderByTrade map[string]string
	orderStatus       map[string]string
	orderFillCount    map[string]int
	latestPositions   map[types.Venue]types.PositionSnapshot
	awaiters          map[string][]chan submitResult
	rejections        map[string]*ErrOrderRejected
}

func NewManager(commands *bus.CommandBus, events *bus.EventBus, logger *slog.Logger) *Manager {
	return &Manager{
		commands:          commands,
		sub:               events.Subscribe(),
		logger:            logger.With("component", "portfolio_manager"),
		venueOrderByTrade: make(map[string]string),
		orderStatus:       make(map[string]string),
		orderFillCount:    make(map[string]int),
		latestPositions:   make(map[types.Venue]types.PositionSnapshot),
		awaiters:          make(map[string][]chan submitResult),
		rejections:        make(map[string]*ErrOrderRejected),
	}
}

// Run consumes lifecycle events until ctx ends.
func (m *Manager) Run(ctx context.Context) {
	for {
		ev, err := m.sub.Next(ctx)
		if err != nil {
			return
		}
		m.apply(ev)
	}
}

// SubmitOrder enqueues a submission and returns its trade id. A blank
// TradeID or ClientOrderID gets a generated UUID so every order is
// correlatable and idempotent at the venue.
func (m *Manager) SubmitOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	if req.TradeID == "" {
		req.TradeID = uuid.NewString()
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}
	if req.Venue == "" {
		req.Venue = types.VenueKalshi
	}

	if err := m.commands.Put(ctx, types.SubmitOrder{Request: req}, stagePortfolioManager); err != nil {
		return "", err
	}
	m.logger.Info("order submitted to bus", "trade_id", req.TradeID, "ticker", req.Ticker)
	return req.TradeID, nil
}

// CancelOrder enqueues a cancel for a live venue order.
func (m *Manager) CancelOrder(ctx context.Context, venueOrderID, reason string) error {
	return m.commands.Put(ctx, types.CancelOrder{VenueOrderID: venueOrderID, Reason: reason}, stagePortfolioManager)
}

// WaitForOrderSubmitted blocks until the submission for tradeID is
// acknowledged, returning the venue order id. A venue rejection returns
// *ErrOrderRejected.
func (m *Manager) WaitForOrderSubmitted(ctx context.Context, tradeID string, timeout time.Duration) (string, error) {
	m.mu.Lock()
	if id, ok := m.venueOrderByTrade[tradeID]; ok {
		m.mu.Unlock()
		return id, nil
	}
	if rejection, ok := m.rejections[tradeID]; ok {
		m.mu.Unlock()
		return "", rejection
	}
	ch := make(chan submitResult, 1)
	m.awaiters[tradeID] = append(m.awaiters[tradeID], ch)
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.venueOrderID, res.err
	case <-timer.C:
		return "", fmt.Errorf("order %s: no submission acknowledgment within %v", tradeID, timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// VenueOrderID returns the venue order id for a trade, if acknowledged.
func (m *Manager) VenueOrderID(tradeID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.venueOrderByTrade[tradeID]
	return id, ok
}

// OrderState returns the last seen status and cumulative fill count for
// a venue order.
func (m *Manager) OrderState(venueOrderID string) (status string, fillCount int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok = m.orderStatus[venueOrderID]
	return status, m.orderFillCount[venueOrderID], ok
}

// Positions returns the most recent position snapshot for a venue.
func (m *Manager) Positions(venue types.Venue) (types.PositionSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.latestPositions[venue]
	return snap, ok
}

func (m *Manager) apply(ev types.ExecutionEvent) {
	switch e := ev.(type) {
	case types.OrderSubmitted:
		m.mu.Lock()
		m.venueOrderByTrade[e.TradeID] = e.VenueOrderID
		m.orderStatus[e.VenueOrderID] = types.StatusSubmitted
		waiters := m.awaiters[e.TradeID]
		delete(m.awaiters, e.TradeID)
		m.mu.Unlock()
		for _, ch := range waiters {
			ch <- submitResult{venueOrderID: e.VenueOrderID}
		}

	case types.OrderRejected:
		m.logger.Warn("order rejected", "trade_id", e.TradeID, "message", e.Message)
		rejection := &ErrOrderRejected{TradeID: e.TradeID, Message: e.Message}
		m.mu.Lock()
		m.rejections[e.TradeID] = rejection
		waiters := m.awaiters[e.TradeID]
		delete(m.awaiters, e.TradeID)
		m.mu.Unlock()
		for _, ch := range waiters {
			ch <- submitResult{err: rejection}
		}

	case types.OrderUpdate:
		m.mu.Lock()
		m.orderStatus[e.VenueOrderID] = e.Status
		m.orderFillCount[e.VenueOrderID] = e.FillCount
		m.mu.Unlock()

	case types.FillUpdate:
		m.mu.Lock()
		m.orderFillCount[e.VenueOrderID] = e.FilledTotal
		m.mu.Unlock()

	case types.OrderCanceled:
		m.mu.Lock()
		m.orderStatus[e.VenueOrderID] = types.StatusCanceled
		m.mu.Unlock()

	case types.PositionSnapshot:
		m.mu.Lock()
		m.latestPositions[e.Venue] = e
		m.mu.Unlock()

	case types.ExecutionError:
		m.logger.Warn("execution error",
			"venue", e.Venue,
			"venue_order_id", e.VenueOrderID,
			"message", e.Message,
			"retryable", e.Retryable,
		)
	}
}
