// models.go defines the subset of Kalshi REST payloads this project touches.
//
// The REST API renders dollar amounts as fixed-point decimal strings with
// four fractional digits. Dollars parses either form and FormatDollars
// renders the outbound convention.
package kalshi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Dollars is a fixed-point dollar amount. The API commonly sends these as
// strings ("0.5500"); older fields are plain numbers. Both decode.
type Dollars float64

func (d *Dollars) UnmarshalJSON(data []byte) error {
	if string(data) == "null" || string(data) == `""` {
		*d = 0
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		dec, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("parse dollars %q: %w", s, err)
		}
		*d = Dollars(dec.InexactFloat64())
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse dollars %s: %w", data, err)
	}
	*d = Dollars(f)
	return nil
}

// FormatDollars renders a dollar amount with the API's four-decimal
// fixed-point convention (e.g. 0.1 -> "0.1000").
func FormatDollars(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(4)
}

// Market is the subset of market fields used by this project.
type Market struct {
	Ticker      string `json:"ticker"`
	EventTicker string `json:"event_ticker"`
	YesSubTitle string `json:"yes_sub_title"`
	NoSubTitle  string `json:"no_sub_title"`

	YesBidDollars Dollars `json:"yes_bid_dollars"`
	YesAskDollars Dollars `json:"yes_ask_dollars"`
	NoBidDollars  Dollars `json:"no_bid_dollars"`
	NoAskDollars  Dollars `json:"no_ask_dollars"`

	Volume    int        `json:"volume"`
	Status    string     `json:"status"`
	CloseTime *time.Time `json:"close_time"`
}

// PriceLevel is one orderbook level, decoded from the API's [dollars, count]
// array form.
type PriceLevel struct {
	Dollars Dollars
	Count   int
}

func (l *PriceLevel) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse price level: %w", err)
	}
	if len(raw) < 2 {
		return fmt.Errorf("price level needs [dollars, count], got %d elements", len(raw))
	}
	if err := json.Unmarshal(raw[0], &l.Dollars); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &l.Count)
}

// OrderBook is an orderbook snapshot with YES/NO ladders.
type OrderBook struct {
	YesDollars []PriceLevel `json:"yes_dollars"`
	NoDollars  []PriceLevel `json:"no_dollars"`
}

// Order is the subset of order fields used for create + polling.
type Order struct {
	OrderID       string `json:"order_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	Ticker        string `json:"ticker,omitempty"`

	Side   string `json:"side,omitempty"`
	Action string `json:"action,omitempty"`
	Type   string `json:"type,omitempty"`
	Status string `json:"status,omitempty"`

	YesPriceDollars *Dollars `json:"yes_price_dollars,omitempty"`
	NoPriceDollars  *Dollars `json:"no_price_dollars,omitempty"`

	Count        int `json:"count,omitempty"`
	InitialCount int `json:"initial_count,omitempty"`

	FillCount     int `json:"fill_count,omitempty"`
	QueuePosition int `json:"queue_position,omitempty"`

	// Fees are parsed but intentionally not surfaced on the normalized
	// event stream.
	TakerFeesDollars *Dollars `json:"taker_fees_dollars,omitempty"`
	MakerFeesDollars *Dollars `json:"maker_fees_dollars,omitempty"`

	ExpirationTime *time.Time `json:"expiration_time,omitempty"`
	CreatedTime    *time.Time `json:"created_time,omitempty"`
	LastUpdateTime *time.Time `json:"last_update_time,omitempty"`
}

// normalize maps REST response fields onto request-side conventions.
// Responses carry initial_count where requests carry count.
func (o *Order) normalize() {
	if o.Count == 0 && o.InitialCount != 0 {
		o.Count = o.InitialCount
	}
}

// MarketPosition is the subset of position fields used for the normalized
// position snapshot.
type MarketPosition struct {
	Ticker                string     `json:"ticker"`
	TotalTradedDollars    Dollars    `json:"total_traded_dollars"`
	Position              int        `json:"position"`
	MarketExposureDollars Dollars    `json:"market_exposure_dollars"`
	RealizedPnLDollars    Dollars    `json:"realized_pnl_dollars"`
	FeesPaidDollars       Dollars    `json:"fees_paid_dollars"`
	LastUpdatedTS         *time.Time `json:"last_updated_ts,omitempty"`
}

// Balance is the account balance response (cent-denominated integers).
type Balance struct {
	Balance        int64 `json:"balance"`
	PortfolioValue int64 `json:"portfolio_value"`
	UpdatedTS      int64 `json:"updated_ts"`
}

// createOrderBody is the Create Order request body. Prices are rendered as
// fixed-point dollar strings; which price field is set depends on side.
type createOrderBody struct {
	Ticker        string `json:"ticker"`
	Side          string `json:"side"`
	Action        string `json:"action"`
	Count         int    `json:"count"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	Type          string `json:"type,omitempty"`

	YesPriceDollars string `json:"yes_price_dollars,omitempty"`
	NoPriceDollars  string `json:"no_price_dollars,omitempty"`
}

// orderToCreateBody converts an Order into a Create Order request body,
// validating the fields the REST API requires.
func orderToCreateBody(order Order) (createOrderBody, error) {
	if order.Ticker == "" {
		return createOrderBody{}, fmt.Errorf("create order requires ticker")
	}
	if order.Side == "" {
		return createOrderBody{}, fmt.Errorf("create order requires side")
	}
	if order.Action == "" {
		return createOrderBody{}, fmt.Errorf("create order requires action")
	}
	if order.Count <= 0 {
		return createOrderBody{}, fmt.Errorf("create order requires a positive count")
	}

	body := createOrderBody{
		Ticker:        NormalizeTicker(order.Ticker),
		Side:          order.Side,
		Action:        order.Action,
		Count:         order.Count,
		ClientOrderID: order.ClientOrderID,
		Type:          order.Type,
	}
	if order.Side == "yes" && order.YesPriceDollars != nil {
		body.YesPriceDollars = FormatDollars(float64(*order.YesPriceDollars))
	}
	if order.Side == "no" && order.NoPriceDollars != nil {
		body.NoPriceDollars = FormatDollars(float64(*order.NoPriceDollars))
	}
	return body, nil
}
