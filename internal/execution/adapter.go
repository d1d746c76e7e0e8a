// Package execution turns venue-agnostic commands into venue API calls and
// publishes normalized lifecycle events. The engine consumes the command
// bus, polls tracked orders and positions, and never lets a single venue
// failure take down its loops.
package execution

import (
	"context"
	"fmt"

	"kalshi-exec/pkg/types"
)

// VenueAdapter is the venue-specific surface the engine drives. Adapters
// translate the normalized order model into venue payloads and classify
// venue failures.
type VenueAdapter interface {
	// Venue identifies which exchange this adapter targets.
	Venue() types.Venue

	// PlaceOrder submits an order and returns the venue-assigned order id.
	// Rejections surface as *AdapterError with Retryable=false.
	PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error)

	// CancelOrder cancels a live order by its venue order id.
	CancelOrder(ctx context.Context, venueOrderID string) error

	// GetOrderStatus returns the venue status string and cumulative fill
	// count for an order.
	GetOrderStatus(ctx context.Context, venueOrderID string) (string, int, error)

	// GetPositionsSnapshot returns the venue's current open positions.
	GetPositionsSnapshot(ctx context.Context) (types.PositionSnapshot, error)
}

// AdapterError wraps a venue failure with enough classification for the
// engine to decide between rejecting the order and reporting a transient
// fault.
type AdapterError struct {
	Venue     types.Venue
	Op        string
	Message   string
	Retryable bool
	Payload   map[string]any
	Err       error
}

func (e *AdapterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Venue, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Venue, e.Op, e.Message)
}

func (e *AdapterError) Unwrap() error { return e.Err }
