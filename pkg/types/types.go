// Package types defines the venue-agnostic vocabulary shared across packages.
//
// It holds the normalized order model, the execution command/event unions
// carried by the in-process buses, and the position snapshot shape. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Venue tags which exchange an order or event belongs to.
type Venue string

const (
	VenueKalshi Venue = "kalshi"
)

// Side is the binary contract side being traded.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Action is the trade direction.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// OrderType enumerates supported order kinds.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// Venue lifecycle statuses surfaced unchanged from the exchange. Orders in a
// terminal state are no longer tracked by the execution engine.
const (
	StatusSubmitted = "submitted"
	StatusResting   = "resting"
	StatusExecuted  = "executed"
	StatusCanceled  = "canceled"
)

// TerminalStatus reports whether a venue status ends an order's lifecycle.
func TerminalStatus(status string) bool {
	return status == StatusExecuted || status == StatusCanceled
}

// Now returns the current UTC wall-clock time. Event timestamps are captured
// through this at construction.
func Now() time.Time {
	return time.Now().UTC()
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderRequest is a venue-agnostic order intent from the portfolio manager.
// TradeID is the caller-chosen correlation key that stitches the request to
// its lifecycle events.
type OrderRequest struct {
	TradeID   string    `json:"trade_id"`
	Venue     Venue     `json:"venue"`
	Ticker    string    `json:"ticker"`
	Side      Side      `json:"side"`
	Action    Action    `json:"action"`
	Count     int       `json:"count"`
	OrderType OrderType `json:"order_type"`

	// For limit orders. Interpreted as the YES or NO price in dollars
	// depending on Side.
	LimitPriceDollars *float64 `json:"limit_price_dollars,omitempty"`

	ClientOrderID string `json:"client_order_id,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Commands
// ————————————————————————————————————————————————————————————————————————

// ExecutionCommand is the closed union carried by the command bus.
// The portfolio manager produces commands; the execution engine consumes them.
type ExecutionCommand interface {
	CommandType() string
}

// SubmitOrder asks the engine to place an order at the venue.
type SubmitOrder struct {
	Request OrderRequest `json:"request"`
}

func (SubmitOrder) CommandType() string { return "submit_order" }

// CancelOrder asks the engine to cancel a live order by its venue id.
type CancelOrder struct {
	VenueOrderID string `json:"venue_order_id"`
	Reason       string `json:"reason,omitempty"`
}

func (CancelOrder) CommandType() string { return "cancel_order" }

// ————————————————————————————————————————————————————————————————————————
// Events
// ————————————————————————————————————————————————————————————————————————

// ExecutionEvent is the closed union published on the event bus. Every event
// carries a wall-clock timestamp captured at construction.
type ExecutionEvent interface {
	EventType() string
	OccurredAt() time.Time
}

// OrderSubmitted is published once per accepted submission and carries the
// venue-assigned order id.
type OrderSubmitted struct {
	TradeID      string       `json:"trade_id"`
	Venue        Venue        `json:"venue"`
	VenueOrderID string       `json:"venue_order_id"`
	Request      OrderRequest `json:"request"`
	TS           time.Time    `json:"ts"`
}

func (OrderSubmitted) EventType() string       { return "order_submitted" }
func (e OrderSubmitted) OccurredAt() time.Time { return e.TS }

// OrderRejected is published when the venue (or adapter validation) refuses a
// submission.
type OrderRejected struct {
	TradeID string         `json:"trade_id"`
	Venue   Venue          `json:"venue"`
	Request OrderRequest   `json:"request"`
	Message string         `json:"message"`
	Payload map[string]any `json:"payload,omitempty"`
	TS      time.Time      `json:"ts"`
}

func (OrderRejected) EventType() string       { return "order_rejected" }
func (e OrderRejected) OccurredAt() time.Time { return e.TS }

// OrderCanceled acknowledges a successful cancel command.
type OrderCanceled struct {
	Venue        Venue     `json:"venue"`
	VenueOrderID string    `json:"venue_order_id"`
	Reason       string    `json:"reason,omitempty"`
	TS           time.Time `json:"ts"`
}

func (OrderCanceled) EventType() string       { return "order_canceled" }
func (e OrderCanceled) OccurredAt() time.Time { return e.TS }

// OrderUpdate reports a change in venue status or cumulative fill count for a
// tracked order.
type OrderUpdate struct {
	Venue        Venue     `json:"venue"`
	VenueOrderID string    `json:"venue_order_id"`
	Status       string    `json:"status"`
	FillCount    int       `json:"fill_count"`
	TS           time.Time `json:"ts"`
}

func (OrderUpdate) EventType() string       { return "order_update" }
func (e OrderUpdate) OccurredAt() time.Time { return e.TS }

// FillUpdate reports an increase in executed contracts. FilledDelta is the
// increase since the previous poll; FilledTotal is cumulative.
type FillUpdate struct {
	Venue        Venue     `json:"venue"`
	VenueOrderID string    `json:"venue_order_id"`
	FilledDelta  int       `json:"filled_delta"`
	FilledTotal  int       `json:"filled_total"`
	TS           time.Time `json:"ts"`
}

func (FillUpdate) EventType() string       { return "fill_update" }
func (e FillUpdate) OccurredAt() time.Time { return e.TS }

// Position is one market's normalized open position.
type Position struct {
	Ticker                string     `json:"ticker"`
	Position              int        `json:"position"`
	MarketExposureDollars float64    `json:"market_exposure_dollars"`
	LastUpdatedTS         *time.Time `json:"last_updated_ts,omitempty"`
}

// PositionSnapshot is a point-in-time view of all open positions at a venue.
type PositionSnapshot struct {
	Venue     Venue      `json:"venue"`
	Positions []Position `json:"positions"`
	TS        time.Time  `json:"ts"`
}

func (PositionSnapshot) EventType() string       { return "position_snapshot" }
func (e PositionSnapshot) OccurredAt() time.Time { return e.TS }

// ExecutionError is the engine's envelope for background-loop failures that
// must not terminate the engine.
type ExecutionError struct {
	Venue        Venue     `json:"venue,omitempty"`
	VenueOrderID string    `json:"venue_order_id,omitempty"`
	Message      string    `json:"message"`
	Retryable    bool      `json:"retryable"`
	TS           time.Time `json:"ts"`
}

func (ExecutionError) EventType() string       { return "execution_error" }
func (e ExecutionError) OccurredAt() time.Time { return e.TS }
