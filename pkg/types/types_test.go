package types

import (
	"testing"
	"time"
)

func TestEventTypeLabels(t *testing.T) {
	t.Parallel()
	cases := map[string]ExecutionEvent{
		"order_submitted":   OrderSubmitted{},
		"order_rejected":    OrderRejected{},
		"order_canceled":    OrderCanceled{},
		"order_update":      OrderUpdate{},
		"fill_update":       FillUpdate{},
		"position_snapshot": PositionSnapshot{},
		"execution_error":   ExecutionError{},
	}
	for want, ev := range cases {
		if got := ev.EventType(); got != want {
			t.Errorf("EventType() = %q, want %q", got, want)
		}
	}
}

func TestCommandTypeLabels(t *testing.T) {
	t.Parallel()
	if got := (SubmitOrder{}).CommandType(); got != "submit_order" {
		t.Errorf("SubmitOrder.CommandType() = %q", got)
	}
	if got := (CancelOrder{}).CommandType(); got != "cancel_order" {
		t.Errorf("CancelOrder.CommandType() = %q", got)
	}
}

func TestOccurredAtCarriesConstructionTime(t *testing.T) {
	t.Parallel()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := OrderUpdate{Venue: VenueKalshi, VenueOrderID: "oid", Status: StatusResting, TS: ts}
	if !ev.OccurredAt().Equal(ts) {
		t.Errorf("OccurredAt() = %v, want %v", ev.OccurredAt(), ts)
	}
}

func TestTerminalStatus(t *testing.T) {
	t.Parallel()
	if !TerminalStatus(StatusExecuted) || !TerminalStatus(StatusCanceled) {
		t.Error("executed/canceled should be terminal")
	}
	if TerminalStatus(StatusResting) || TerminalStatus(StatusSubmitted) {
		t.Error("resting/submitted should not be terminal")
	}
}
