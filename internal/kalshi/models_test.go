package kalshi

import (
	"encoding/json"
	"testing"
)

func TestDollarsUnmarshalStringAndNumber(t *testing.T) {
	t.Parallel()
	var d Dollars
	if err := json.Unmarshal([]byte(`"0.5500"`), &d); err != nil {
		t.Fatalf("string form: %v", err)
	}
	if d != 0.55 {
		t.Errorf("string form = %v, want 0.55", d)
	}

	if err := json.Unmarshal([]byte(`0.25`), &d); err != nil {
		t.Fatalf("number form: %v", err)
	}
	if d != 0.25 {
		t.Errorf("number form = %v, want 0.25", d)
	}

	if err := json.Unmarshal([]byte(`null`), &d); err != nil {
		t.Fatalf("null form: %v", err)
	}
	if d != 0 {
		t.Errorf("null form = %v, want 0", d)
	}

	if err := json.Unmarshal([]byte(`"abc"`), &d); err == nil {
		t.Error("expected error for non-numeric string")
	}
}

func TestFormatDollarsFourDecimals(t *testing.T) {
	t.Parallel()
	cases := map[float64]string{
		0.1:    "0.1000",
		0.5555: "0.5555",
		1:      "1.0000",
		0.12:   "0.1200",
	}
	for in, want := range cases {
		if got := FormatDollars(in); got != want {
			t.Errorf("FormatDollars(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestOrderNormalizeMapsInitialCount(t *testing.T) {
	t.Parallel()
	var env struct {
		Order Order `json:"order"`
	}
	raw := `{"order":{"order_id":"oid-1","status":"resting","initial_count":7,"fill_count":2,
		"yes_price_dollars":"0.4500","taker_fees_dollars":"0.0100"}}`
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	env.Order.normalize()

	if env.Order.Count != 7 {
		t.Errorf("Count = %d, want 7 (from initial_count)", env.Order.Count)
	}
	if env.Order.FillCount != 2 {
		t.Errorf("FillCount = %d, want 2", env.Order.FillCount)
	}
	if env.Order.YesPriceDollars == nil || *env.Order.YesPriceDollars != 0.45 {
		t.Errorf("YesPriceDollars = %v, want 0.45", env.Order.YesPriceDollars)
	}
	if env.Order.TakerFeesDollars == nil || *env.Order.TakerFeesDollars != 0.01 {
		t.Errorf("TakerFeesDollars = %v, want 0.01", env.Order.TakerFeesDollars)
	}
}

func TestPriceLevelUnmarshalArrayForm(t *testing.T) {
	t.Parallel()
	var ob OrderBook
	raw := `{"yes_dollars":[["0.5500",10],["0.5400",3]],"no_dollars":[["0.4400",5]]}`
	if err := json.Unmarshal([]byte(raw), &ob); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(ob.YesDollars) != 2 || len(ob.NoDollars) != 1 {
		t.Fatalf("levels = %d/%d", len(ob.YesDollars), len(ob.NoDollars))
	}
	if ob.YesDollars[0].Dollars != 0.55 || ob.YesDollars[0].Count != 10 {
		t.Errorf("level[0] = %+v", ob.YesDollars[0])
	}
}

func TestOrderToCreateBodySidePrices(t *testing.T) {
	t.Parallel()
	price := Dollars(0.1)

	yes, err := orderToCreateBody(Order{
		Ticker: "abc", Side: "yes", Action: "buy", Count: 1, Type: "limit",
		YesPriceDollars: &price,
	})
	if err != nil {
		t.Fatalf("yes order: %v", err)
	}
	if yes.Ticker != "ABC" {
		t.Errorf("ticker not uppercased: %q", yes.Ticker)
	}
	if yes.YesPriceDollars != "0.1000" {
		t.Errorf("YesPriceDollars = %q, want \"0.1000\"", yes.YesPriceDollars)
	}
	if yes.NoPriceDollars != "" {
		t.Errorf("NoPriceDollars should be empty, got %q", yes.NoPriceDollars)
	}

	no, err := orderToCreateBody(Order{
		Ticker: "abc", Side: "no", Action: "sell", Count: 2, Type: "limit",
		NoPriceDollars: &price,
	})
	if err != nil {
		t.Fatalf("no order: %v", err)
	}
	if no.NoPriceDollars != "0.1000" || no.YesPriceDollars != "" {
		t.Errorf("no-side prices = %q/%q", no.YesPriceDollars, no.NoPriceDollars)
	}
}

func TestOrderToCreateBodyValidation(t *testing.T) {
	t.Parallel()
	cases := []Order{
		{Side: "yes", Action: "buy", Count: 1},                 // missing ticker
		{Ticker: "T", Action: "buy", Count: 1},                 // missing side
		{Ticker: "T", Side: "yes", Count: 1},                   // missing action
		{Ticker: "T", Side: "yes", Action: "buy"},              // zero count
		{Ticker: "T", Side: "yes", Action: "buy", Count: -1},   // negative count
	}
	for i, o := range cases {
		if _, err := orderToCreateBody(o); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}
