package execution

import (
	"context"
	"errors"
	"fmt"

	"kalshi-exec/internal/kalshi"
	"kalshi-exec/pkg/types"
)

// kalshiAPI is the slice of the Kalshi client the adapter needs.
// *kalshi.Client satisfies it; tests substitute a scripted fake.
type kalshiAPI interface {
	CreateOrder(ctx context.Context, order kalshi.Order) (kalshi.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (kalshi.Order, error)
	GetPositions(ctx context.Context, filter kalshi.PositionsFilter) ([]kalshi.MarketPosition, error)
}

// KalshiAdapter maps the normalized order model onto the Kalshi trade API.
type KalshiAdapter struct {
	api kalshiAPI
}

func NewKalshiAdapter(api kalshiAPI) *KalshiAdapter {
	return &KalshiAdapter{api: api}
}

func (a *KalshiAdapter) Venue() types.Venue { return types.VenueKalshi }

// PlaceOrder validates and submits an order. Limit orders must carry a
// price; the venue's HTTP 4xx responses become non-retryable rejections.
func (a *KalshiAdapter) PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	if req.OrderType == types.OrderTypeLimit && req.LimitPriceDollars == nil {
		return "", &AdapterError{
			Venue:     types.VenueKalshi,
			Op:        "place_order",
			Message:   "limit order requires limit_price_dollars",
			Retryable: false,
		}
	}

	order := kalshi.Order{
		Ticker:        req.Ticker,
		Side:          string(req.Side),
		Action:        string(req.Action),
		Count:         req.Count,
		Type:          string(req.OrderType),
		ClientOrderID: req.ClientOrderID,
	}
	if req.LimitPriceDollars != nil {
		price := kalshi.Dollars(*req.LimitPriceDollars)
		switch req.Side {
		case types.SideYes:
			order.YesPriceDollars = &price
		case types.SideNo:
			order.NoPriceDollars = &price
		}
	}

	created, err := a.api.CreateOrder(ctx, order)
	if err != nil {
		return "", a.classify("place_order", err)
	}
	if created.OrderID == "" {
		return "", &AdapterError{
			Venue:     types.VenueKalshi,
			Op:        "place_order",
			Message:   "venue returned an order without an order_id",
			Retryable: false,
		}
	}
	return created.OrderID, nil
}

func (a *KalshiAdapter) CancelOrder(ctx context.Context, venueOrderID string) error {
	if err := a.api.CancelOrder(ctx, venueOrderID); err != nil {
		return a.classify("cancel_order", err)
	}
	return nil
}

func (a *KalshiAdapter) GetOrderStatus(ctx context.Context, venueOrderID string) (string, int, error) {
	order, err := a.api.GetOrder(ctx, venueOrderID)
	if err != nil {
		return "", 0, a.classify("get_order_status", err)
	}
	return order.Status, order.FillCount, nil
}

// GetPositionsSnapshot fetches open positions and normalizes them.
func (a *KalshiAdapter) GetPositionsSnapshot(ctx context.Context) (types.PositionSnapshot, error) {
	positions, err := a.api.GetPositions(ctx, kalshi.PositionsFilter{})
	if err != nil {
		return types.PositionSnapshot{}, a.classify("get_positions", err)
	}

	out := make([]types.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, types.Position{
			Ticker:                p.Ticker,
			Position:              p.Position,
			MarketExposureDollars: float64(p.MarketExposureDollars),
			LastUpdatedTS:         p.LastUpdatedTS,
		})
	}
	return types.PositionSnapshot{
		Venue:     types.VenueKalshi,
		Positions: out,
		TS:        types.Now(),
	}, nil
}

// classify wraps a client error. The client has already exhausted retries
// on transient failures, so what remains is either a definitive venue
// answer (4xx, non-retryable) or an upstream outage worth reporting as
// transient.
func (a *KalshiAdapter) classify(op string, err error) error {
	var httpErr *kalshi.HTTPError
	if errors.As(err, &httpErr) {
		return &AdapterError{
			Venue:     types.VenueKalshi,
			Op:        op,
			Message:   httpErrorMessage(httpErr),
			Retryable: httpErr.StatusCode == 429 || httpErr.StatusCode >= 500,
			Payload:   httpErr.Payload,
			Err:       err,
		}
	}
	return &AdapterError{
		Venue:     types.VenueKalshi,
		Op:        op,
		Message:   err.Error(),
		Retryable: true,
		Err:       err,
	}
}

func httpErrorMessage(httpErr *kalshi.HTTPError) string {
	if msg, ok := httpErr.Payload["message"].(string); ok && msg != "" {
		return msg
	}
	if e, ok := httpErr.Payload["error"].(map[string]any); ok {
		if msg, ok := e["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("venue returned HTTP %d", httpErr.StatusCode)
}
