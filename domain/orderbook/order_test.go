package orderbook

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func limitReq(side Side, qty, price string) OrderRequest {
	return OrderRequest{
		UserID:   "u1",
		Symbol:   "AVAX/USDC",
		ChainID:  "43114",
		Side:     side,
		Type:     TypeLimit,
		Quantity: d(qty),
		Price:    d(price),
	}
}

func checkAccounting(t *testing.T, o *Order) {
	t.Helper()
	if !o.Quantity.Add(o.FilledQuantity).Equal(o.OriginalQuantity) {
		t.Errorf("accounting broken: quantity=%s filled=%s original=%s",
			o.Quantity, o.FilledQuantity, o.OriginalQuantity)
	}
	if o.Quantity.Sign() < 0 {
		t.Errorf("negative remaining quantity %s", o.Quantity)
	}
}

func TestNewOrderDefaults(t *testing.T) {
	o := NewOrder(limitReq(SideBuy, "10", "100"))
	if o.Status != StatusPending {
		t.Errorf("expected PENDING, got %s", o.Status)
	}
	if o.TimeInForce != GTC {
		t.Errorf("expected default GTC, got %s", o.TimeInForce)
	}
	if !o.VisibleQuantity.Equal(d("10")) {
		t.Errorf("expected visible=10, got %s", o.VisibleQuantity)
	}
	if o.AveragePrice.Sign() != 0 {
		t.Errorf("average price should be 0 before any fill, got %s", o.AveragePrice)
	}
	if o.ID == "" {
		t.Error("expected generated id")
	}
}

func TestFillAccountingAndVWAP(t *testing.T) {
	o := NewOrder(limitReq(SideBuy, "10", "100"))
	now := time.Now()

	got := o.Fill(d("4"), d("100"), "t1", now)
	if !got.Equal(d("4")) {
		t.Fatalf("expected fill of 4, got %s", got)
	}
	checkAccounting(t, o)
	if o.Status != StatusPartial {
		t.Errorf("expected PARTIAL, got %s", o.Status)
	}
	if !o.AveragePrice.Equal(d("100")) {
		t.Errorf("expected avg 100, got %s", o.AveragePrice)
	}

	o.Fill(d("6"), d("110"), "t2", now)
	checkAccounting(t, o)
	if o.Status != StatusFilled {
		t.Errorf("expected FILLED, got %s", o.Status)
	}
	// (4*100 + 6*110) / 10 = 106
	if !o.AveragePrice.Equal(d("106")) {
		t.Errorf("expected avg 106, got %s", o.AveragePrice)
	}
	if len(o.Fills) != 2 {
		t.Errorf("expected 2 fill records, got %d", len(o.Fills))
	}
}

func TestFillClampsToRemaining(t *testing.T) {
	o := NewOrder(limitReq(SideSell, "5", "50"))
	got := o.Fill(d("8"), d("50"), "t1", time.Now())
	if !got.Equal(d("5")) {
		t.Errorf("expected fill clamped to 5, got %s", got)
	}
	checkAccounting(t, o)
	if o.Status != StatusFilled {
		t.Errorf("expected FILLED, got %s", o.Status)
	}
}

func TestFillOnTerminalOrderIsNoop(t *testing.T) {
	o := NewOrder(limitReq(SideBuy, "5", "50"))
	o.Cancel()
	if got := o.Fill(d("1"), d("50"), "t1", time.Now()); got.Sign() != 0 {
		t.Errorf("cancelled order accepted a fill of %s", got)
	}
	if o.CanFill() {
		t.Error("cancelled order should not be fillable")
	}
}

func TestIcebergVisibleQuantity(t *testing.T) {
	req := limitReq(SideBuy, "100", "10")
	req.Type = TypeIceberg
	req.IcebergQuantity = d("20")
	o := NewOrder(req)

	if !o.VisibleQuantity.Equal(d("20")) {
		t.Fatalf("expected visible=20 at creation, got %s", o.VisibleQuantity)
	}

	o.Fill(d("20"), d("10"), "t1", time.Now())
	checkAccounting(t, o)
	if !o.Quantity.Equal(d("80")) {
		t.Errorf("expected remaining 80, got %s", o.Quantity)
	}
	if !o.VisibleQuantity.Equal(d("20")) {
		t.Errorf("expected visible recomputed to 20, got %s", o.VisibleQuantity)
	}

	o.Fill(d("75"), d("10"), "t2", time.Now())
	if !o.VisibleQuantity.Equal(d("5")) {
		t.Errorf("expected visible capped at remaining 5, got %s", o.VisibleQuantity)
	}
}

func TestTerminalStates(t *testing.T) {
	for _, status := range []Status{StatusFilled, StatusCancelled, StatusRejected} {
		o := NewOrder(limitReq(SideBuy, "1", "1"))
		o.Status = status
		if o.IsActive() {
			t.Errorf("%s should be terminal", status)
		}
	}
}

func TestSideOpposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Error("side opposite mapping broken")
	}
}
