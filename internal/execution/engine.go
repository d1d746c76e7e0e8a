package execution

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"kalshi-exec/internal/bus"
	"kalshi-exec/pkg/types"
)

const (
	defaultOrderPollInterval    = 500 * time.Millisecond
	defaultPositionPollInterval = 2 * time.Second

	// stageExecutionEngine labels this engine as the producer on the
	// recorded message trail.
	stageExecutionEngine = "execution_engine"
)

// EngineConfig tunes the engine's polling cadence. Zero values take the
// defaults.
type EngineConfig struct {
	OrderPollInterval    time.Duration
	PositionPollInterval time.Duration
}

// trackedOrder is the engine's last known venue state for a live order.
type trackedOrder struct {
	venue     types.Venue
	status    string
	fillCount int
}

// Engine consumes execution commands, drives the venue adapter, and
// publishes lifecycle events. Orders are tracked from submission until
// they reach a terminal status.
type Engine struct {
	adapter  VenueAdapter
	commands *bus.CommandBus
	events   *bus.EventBus
	logger   *slog.Logger
	cfg      EngineConfig

	mu      sync.Mutex
	tracked map[string]*trackedOrder
}

func NewEngine(adapter VenueAdapter, commands *bus.CommandBus, events *bus.EventBus, logger *slog.Logger, cfg EngineConfig) *Engine {
	if cfg.OrderPollInterval <= 0 {
		cfg.OrderPollInterval = defaultOrderPollInterval
	}
	if cfg.PositionPollInterval <= 0 {
		cfg.PositionPollInterval = defaultPositionPollInterval
	}
	return &Engine{
		adapter:  adapter,
		commands: commands,
		events:   events,
		logger:   logger.With("component", "execution_engine"),
		cfg:      cfg,
		tracked:  make(map[string]*trackedOrder),
	}
}

// Run starts the command consumer and both pollers and blocks until ctx
// ends. Loop failures are published as ExecutionError events, never
// returned.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); e.consumeCommands(ctx) }()
	go func() { defer wg.Done(); e.pollOrders(ctx) }()
	go func() { defer wg.Done(); e.pollPositions(ctx) }()
	wg.Wait()
}

// TrackedCount reports the number of orders still being polled.
func (e *Engine) TrackedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tracked)
}

func (e *Engine) consumeCommands(ctx context.Context) {
	for {
		cmd, err := e.commands.Get(ctx)
		if err != nil {
			return
		}

		switch c := cmd.(type) {
		case types.SubmitOrder:
			e.handleSubmit(ctx, c)
		case types.CancelOrder:
			e.handleCancel(ctx, c)
		default:
			e.logger.Error("unknown command", "command_type", cmd.CommandType())
			e.publish(ctx, types.ExecutionError{
				Message:   "unknown command type: " + cmd.CommandType(),
				Retryable: false,
				TS:        types.Now(),
			})
		}
		e.commands.TaskDone()
	}
}

func (e *Engine) handleSubmit(ctx context.Context, cmd types.SubmitOrder) {
	req := cmd.Request
	venueOrderID, err := e.adapter.PlaceOrder(ctx, req)
	if err != nil {
		// Any placement failure surfaces as a rejection: by this point the
		// client has already exhausted its retry budget on transient faults.
		message := err.Error()
		var payload map[string]any
		var ae *AdapterError
		if errors.As(err, &ae) {
			message = ae.Message
			payload = ae.Payload
		}
		e.logger.Warn("order rejected", "trade_id", req.TradeID, "reason", message)
		e.publish(ctx, types.OrderRejected{
			TradeID: req.TradeID,
			Venue:   e.adapter.Venue(),
			Request: req,
			Message: message,
			Payload: payload,
			TS:      types.Now(),
		})
		return
	}

	e.mu.Lock()
	e.tracked[venueOrderID] = &trackedOrder{
		venue:     e.adapter.Venue(),
		status:    types.StatusSubmitted,
		fillCount: 0,
	}
	e.mu.Unlock()

	e.logger.Info("order submitted", "trade_id", req.TradeID, "venue_order_id", venueOrderID)
	e.publish(ctx, types.OrderSubmitted{
		TradeID:      req.TradeID,
		Venue:        e.adapter.Venue(),
		VenueOrderID: venueOrderID,
		Request:      req,
		TS:           types.Now(),
	})
}

func (e *Engine) handleCancel(ctx context.Context, cmd types.CancelOrder) {
	if err := e.adapter.CancelOrder(ctx, cmd.VenueOrderID); err != nil {
		e.logger.Error("cancel failed", "venue_order_id", cmd.VenueOrderID, "error", err)
		e.publish(ctx, types.ExecutionError{
			Venue:        e.adapter.Venue(),
			VenueOrderID: cmd.VenueOrderID,
			Message:      "cancel failed: " + err.Error(),
			Retryable:    true,
			TS:           types.Now(),
		})
		return
	}

	// The venue tag comes from the tracked record when we have one; the
	// cancel command itself only carries the venue order id. The record
	// stays tracked until a poll observes the terminal status.
	venue := e.adapter.Venue()
	e.mu.Lock()
	if rec, ok := e.tracked[cmd.VenueOrderID]; ok {
		venue = rec.venue
	}
	e.mu.Unlock()

	e.logger.Info("order canceled", "venue_order_id", cmd.VenueOrderID, "reason", cmd.Reason)
	e.publish(ctx, types.OrderCanceled{
		Venue:        venue,
		VenueOrderID: cmd.VenueOrderID,
		Reason:       cmd.Reason,
		TS:           types.Now(),
	})
}

// pollOrders re-reads every tracked order on a fixed cadence and publishes
// OrderUpdate/FillUpdate deltas. Terminal orders leave the tracking set.
func (e *Engine) pollOrders(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.OrderPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollTrackedOrders(ctx)
		}
	}
}

func (e *Engine) pollTrackedOrders(ctx context.Context) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.tracked))
	for id := range e.tracked {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		e.pollOne(ctx, id)
	}
}

func (e *Engine) pollOne(ctx context.Context, venueOrderID string) {
	status, fillCount, err := e.adapter.GetOrderStatus(ctx, venueOrderID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.logger.Warn("order poll failed", "venue_order_id", venueOrderID, "error", err)
		e.publish(ctx, types.ExecutionError{
			Venue:        e.adapter.Venue(),
			VenueOrderID: venueOrderID,
			Message:      "order poll failed: " + err.Error(),
			Retryable:    true,
			TS:           types.Now(),
		})
		return
	}

	e.mu.Lock()
	rec, ok := e.tracked[venueOrderID]
	if !ok {
		// Removed between snapshot and poll.
		e.mu.Unlock()
		return
	}
	statusChanged := status != rec.status
	fillChanged := fillCount != rec.fillCount
	fillDelta := fillCount - rec.fillCount
	venue := rec.venue
	rec.status = status
	rec.fillCount = fillCount
	if types.TerminalStatus(status) {
		delete(e.tracked, venueOrderID)
	}
	e.mu.Unlock()

	if !statusChanged && !fillChanged {
		return
	}

	// Status first, then the fill that accompanied it.
	e.publish(ctx, types.OrderUpdate{
		Venue:        venue,
		VenueOrderID: venueOrderID,
		Status:       status,
		FillCount:    fillCount,
		TS:           types.Now(),
	})
	if fillDelta > 0 {
		e.publish(ctx, types.FillUpdate{
			Venue:        venue,
			VenueOrderID: venueOrderID,
			FilledDelta:  fillDelta,
			FilledTotal:  fillCount,
			TS:           types.Now(),
		})
	}
}

func (e *Engine) pollPositions(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PositionPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot, err := e.adapter.GetPositionsSnapshot(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				e.logger.Warn("position poll failed", "error", err)
				e.publish(ctx, types.ExecutionError{
					Venue:     e.adapter.Venue(),
					Message:   "position poll failed: " + err.Error(),
					Retryable: true,
					TS:        types.Now(),
				})
				continue
			}
			e.publish(ctx, snapshot)
		}
	}
}

func (e *Engine) publish(ctx context.Context, ev types.ExecutionEvent) {
	if err := e.events.Publish(ctx, ev, stageExecutionEngine); err != nil {
		e.logger.Error("publish failed", "event_type", ev.EventType(), "error", err)
	}
}
