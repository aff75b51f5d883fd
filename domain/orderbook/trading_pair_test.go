package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestPairDefaults(t *testing.T) {
	p := NewTradingPair("AVAX", "USDC", "43114", PairConfig{})
	if p.Symbol != "AVAX/USDC" {
		t.Errorf("symbol %q, want AVAX/USDC", p.Symbol)
	}
	if !p.TickSize.Equal(d("0.01")) {
		t.Errorf("default tick size %s, want 0.01", p.TickSize)
	}
	if !p.LotSize.Equal(d("0.00000001")) {
		t.Errorf("default lot size %s, want 1e-8", p.LotSize)
	}
	if !p.Active {
		t.Error("new pair should be active")
	}
}

func TestRoundPriceAndQuantity(t *testing.T) {
	p := NewTradingPair("AVAX", "USDC", "43114", PairConfig{
		TickSize: d("0.5"),
		LotSize:  d("0.1"),
	})

	cases := []struct{ in, want string }{
		{"100.3", "100"},
		{"100.5", "100.5"},
		{"100.74", "100.5"},
		{"100", "100"},
	}
	for _, tc := range cases {
		if got := p.RoundPrice(d(tc.in)); !got.Equal(d(tc.want)) {
			t.Errorf("RoundPrice(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}

	if got := p.RoundQuantity(d("1.25")); !got.Equal(d("1.2")) {
		t.Errorf("RoundQuantity(1.25) = %s, want 1.2", got)
	}
	if got := p.RoundQuantity(d("1.2")); !got.Equal(d("1.2")) {
		t.Errorf("RoundQuantity(1.2) = %s, want 1.2", got)
	}
}

func TestCheckNotional(t *testing.T) {
	p := NewTradingPair("AVAX", "USDC", "43114", PairConfig{
		MinOrderValue: d("10"),
		MaxOrderValue: d("1000"),
	})

	if err := p.CheckNotional(d("100"), d("1")); err != nil {
		t.Errorf("100 notional should pass: %v", err)
	}
	if err := p.CheckNotional(d("1"), d("5")); err == nil {
		t.Error("5 notional should fail the minimum")
	}
	if err := p.CheckNotional(d("100"), d("20")); err == nil {
		t.Error("2000 notional should fail the maximum")
	}
	// market orders carry no price and skip the check
	if err := p.CheckNotional(decimal.Zero, d("1000000")); err != nil {
		t.Errorf("zero price should skip notional bounds: %v", err)
	}
}
