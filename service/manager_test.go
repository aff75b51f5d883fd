package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"freyr/domain/orderbook"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestManager(t *testing.T, balance BalanceService) *Manager {
	t.Helper()
	m := NewManager(Config{}, balance, nil)
	if _, err := m.CreateTradingPair("AVAX", "USDC", "43114", orderbook.PairConfig{}); err != nil {
		t.Fatalf("create pair: %v", err)
	}
	return m
}

func limitReq(userID string, side orderbook.Side, qty, price string) orderbook.OrderRequest {
	return orderbook.OrderRequest{
		UserID:   userID,
		Symbol:   "AVAX/USDC",
		ChainID:  "43114",
		Side:     side,
		Type:     orderbook.TypeLimit,
		Quantity: d(qty),
		Price:    d(price),
	}
}

// recordingBalance counts calls and fails on demand.
type recordingBalance struct {
	checkErr error
	checks   int
	reserves int
	releases int
}

func (r *recordingBalance) CheckBalance(context.Context, *orderbook.OrderRequest) error {
	r.checks++
	return r.checkErr
}

func (r *recordingBalance) ReserveBalance(context.Context, *orderbook.Order) error {
	r.reserves++
	return nil
}

func (r *recordingBalance) ReleaseBalance(context.Context, *orderbook.Order) error {
	r.releases++
	return nil
}

func TestCreateTradingPairDuplicate(t *testing.T) {
	m := newTestManager(t, nil)
	if _, err := m.CreateTradingPair("AVAX", "USDC", "43114", orderbook.PairConfig{}); err == nil {
		t.Fatal("duplicate pair creation should fail")
	}
	if got := len(m.GetTradingPairs()); got != 1 {
		t.Errorf("expected 1 pair, got %d", got)
	}
}

func TestPlaceOrderUnknownSymbol(t *testing.T) {
	m := newTestManager(t, nil)
	req := limitReq("u1", orderbook.SideBuy, "1", "100")
	req.Symbol = "BTC/USDC"
	res := m.PlaceOrder(context.Background(), req)
	if res.Success {
		t.Fatal("order for unknown pair should fail")
	}
	if res.Reason != `unknown trading pair "BTC/USDC"` {
		t.Errorf("unexpected reason %q", res.Reason)
	}
}

func TestPlaceOrderRoundsToTickAndLot(t *testing.T) {
	m := NewManager(Config{}, nil, nil)
	if _, err := m.CreateTradingPair("AVAX", "USDC", "43114", orderbook.PairConfig{
		TickSize: d("0.5"),
		LotSize:  d("0.1"),
	}); err != nil {
		t.Fatal(err)
	}

	req := limitReq("u1", orderbook.SideBuy, "1.25", "100.3")
	res := m.PlaceOrder(context.Background(), req)
	if !res.Success {
		t.Fatalf("order rejected: %s", res.Reason)
	}
	if !res.Order.Price.Equal(d("100")) {
		t.Errorf("price not snapped to tick: %s", res.Order.Price)
	}
	if !res.Order.Quantity.Equal(d("1.2")) {
		t.Errorf("quantity not snapped to lot: %s", res.Order.Quantity)
	}
}

func TestPlaceOrderNotionalBounds(t *testing.T) {
	m := NewManager(Config{}, nil, nil)
	if _, err := m.CreateTradingPair("AVAX", "USDC", "43114", orderbook.PairConfig{
		MinOrderValue: d("100"),
	}); err != nil {
		t.Fatal(err)
	}

	res := m.PlaceOrder(context.Background(), limitReq("u1", orderbook.SideBuy, "1", "50"))
	if res.Success {
		t.Fatal("order below minimum notional should fail")
	}
}

func TestPlaceOrderBalanceCheckFailure(t *testing.T) {
	bal := &recordingBalance{checkErr: errors.New("insufficient funds")}
	m := newTestManager(t, bal)

	res := m.PlaceOrder(context.Background(), limitReq("u1", orderbook.SideBuy, "1", "100"))
	if res.Success {
		t.Fatal("order should fail when balance check fails")
	}
	if bal.checks != 1 || bal.reserves != 0 {
		t.Errorf("expected 1 check / 0 reserves, got %d/%d", bal.checks, bal.reserves)
	}
}

func TestEmergencyStopGatesAdmission(t *testing.T) {
	m := newTestManager(t, nil)

	resting := m.PlaceOrder(context.Background(), limitReq("maker", orderbook.SideSell, "10", "100"))
	if !resting.Success {
		t.Fatalf("setup order rejected: %s", resting.Reason)
	}

	m.EmergencyStop()
	res := m.PlaceOrder(context.Background(), limitReq("taker", orderbook.SideBuy, "1", "100"))
	if res.Success {
		t.Fatal("admission should be gated while halted")
	}
	if res.Reason != "trading halted for AVAX/USDC" {
		t.Errorf("unexpected reason %q", res.Reason)
	}

	// resting orders survive the halt and cancellation still works
	if cr := m.CancelOrder(context.Background(), resting.Order.ID, "maker"); !cr.Success {
		t.Errorf("cancel during halt failed: %s", cr.Reason)
	}

	m.ResumeTrading()
	if res := m.PlaceOrder(context.Background(), limitReq("taker", orderbook.SideBuy, "1", "100")); !res.Success {
		t.Errorf("admission should work after resume: %s", res.Reason)
	}
}

func TestCancelReleasesBalance(t *testing.T) {
	bal := &recordingBalance{}
	m := newTestManager(t, bal)

	res := m.PlaceOrder(context.Background(), limitReq("u1", orderbook.SideBuy, "10", "100"))
	if !res.Success {
		t.Fatal(res.Reason)
	}
	if bal.reserves != 1 {
		t.Errorf("expected 1 reserve, got %d", bal.reserves)
	}

	cr := m.CancelOrder(context.Background(), res.Order.ID, "u1")
	if !cr.Success {
		t.Fatalf("cancel failed: %s", cr.Reason)
	}
	if bal.releases != 1 {
		t.Errorf("expected 1 release, got %d", bal.releases)
	}

	// failed cancels do not release
	m.CancelOrder(context.Background(), res.Order.ID, "u1")
	if bal.releases != 1 {
		t.Errorf("failed cancel must not release, got %d", bal.releases)
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	m := newTestManager(t, nil)
	cr := m.CancelOrder(context.Background(), "no-such-order", "u1")
	if cr.Success || cr.Reason != "Order not found" {
		t.Errorf("expected 'Order not found', got %q", cr.Reason)
	}
}

func TestTradeHistoryAndUserFilter(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	m.PlaceOrder(ctx, limitReq("alice", orderbook.SideSell, "10", "100"))
	m.PlaceOrder(ctx, limitReq("bob", orderbook.SideBuy, "4", "100"))
	m.PlaceOrder(ctx, limitReq("carol", orderbook.SideBuy, "6", "100"))

	all := m.GetTradeHistory("AVAX/USDC", 0)
	if len(all) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(all))
	}
	if !all[0].Quantity.Equal(d("4")) || !all[1].Quantity.Equal(d("6")) {
		t.Errorf("trades out of time order: %s then %s", all[0].Quantity, all[1].Quantity)
	}

	if got := m.GetTradeHistory("BTC/USDC", 0); len(got) != 0 {
		t.Errorf("expected no trades for unknown symbol, got %d", len(got))
	}
	if got := m.GetTradeHistory("", 1); len(got) != 1 || !got[0].Quantity.Equal(d("6")) {
		t.Errorf("limit should keep the newest trade, got %v", got)
	}

	bobs := m.GetUserTradeHistory("bob", "", 0)
	if len(bobs) != 1 || bobs[0].TakerUserID != "bob" {
		t.Errorf("expected bob's single trade, got %d", len(bobs))
	}
	alices := m.GetUserTradeHistory("alice", "", 0)
	if len(alices) != 2 {
		t.Errorf("alice was maker on both trades, got %d", len(alices))
	}
}

func TestGetUserOrdersAcrossBooks(t *testing.T) {
	m := newTestManager(t, nil)
	if _, err := m.CreateTradingPair("JOE", "USDC", "43114", orderbook.PairConfig{}); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	m.PlaceOrder(ctx, limitReq("u1", orderbook.SideBuy, "1", "100"))
	second := limitReq("u1", orderbook.SideBuy, "1", "2")
	second.Symbol = "JOE/USDC"
	m.PlaceOrder(ctx, second)

	if got := len(m.GetUserOrders("u1", "")); got != 2 {
		t.Errorf("expected 2 open orders across books, got %d", got)
	}
	if got := len(m.GetUserOrders("u1", "AVAX/USDC")); got != 1 {
		t.Errorf("expected 1 open order for AVAX/USDC, got %d", got)
	}
	if got := len(m.GetUserOrders("u2", "")); got != 0 {
		t.Errorf("expected no orders for unknown user, got %d", got)
	}
}

func TestGetMarketStats(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	if _, err := m.GetMarketStats("BTC/USDC"); err == nil {
		t.Error("unknown symbol should error")
	}

	m.PlaceOrder(ctx, limitReq("alice", orderbook.SideSell, "10", "100"))
	m.PlaceOrder(ctx, limitReq("bob", orderbook.SideBuy, "10", "100"))
	m.PlaceOrder(ctx, limitReq("alice", orderbook.SideSell, "5", "101"))

	stats, err := m.GetMarketStats("AVAX/USDC")
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(stats))
	}
	s := stats[0]
	if s.Stats.Trades != 1 || !s.Stats.Volume.Equal(d("10")) {
		t.Errorf("unexpected daily stats: %+v", s.Stats)
	}
	if s.Quote.Ask == nil || !s.Quote.Ask.Equal(d("101")) {
		t.Errorf("expected live ask 101, got %v", s.Quote.Ask)
	}
	if s.LastTrade == nil || !s.LastTrade.Price.Equal(d("100")) {
		t.Errorf("expected last trade at 100, got %v", s.LastTrade)
	}
}

func TestPruneTradeHistory(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	m.PlaceOrder(ctx, limitReq("alice", orderbook.SideSell, "10", "100"))
	m.PlaceOrder(ctx, limitReq("bob", orderbook.SideBuy, "5", "100"))
	m.PlaceOrder(ctx, limitReq("bob", orderbook.SideBuy, "5", "100"))

	// age the first trade past the retention window
	m.mu.Lock()
	m.tradeHistory[0].Timestamp = time.Now().Add(-8 * 24 * time.Hour)
	m.mu.Unlock()

	m.PruneTradeHistory(time.Now())
	if got := len(m.GetTradeHistory("", 0)); got != 1 {
		t.Errorf("expected 1 trade after prune, got %d", got)
	}

	// a second prune with nothing stale is a no-op
	m.PruneTradeHistory(time.Now())
	if got := len(m.GetTradeHistory("", 0)); got != 1 {
		t.Errorf("prune dropped fresh trades, got %d", got)
	}
}

// Read endpoints marshal order and pair state while matching mutates the live
// structures under the book lock; both must therefore hand out copies. Run
// with the race detector enabled.
func TestConcurrentReadsDuringMatching(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	resting := m.PlaceOrder(ctx, limitReq("maker", orderbook.SideBuy, "200", "100"))
	if !resting.Success {
		t.Fatal(resting.Reason)
	}
	id := resting.Order.ID

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			m.PlaceOrder(ctx, limitReq("taker", orderbook.SideSell, "1", "100"))
		}
	}()

	for {
		if o, ok := m.GetOrder(id); ok {
			if _, err := json.Marshal(o); err != nil {
				t.Fatalf("marshal order: %v", err)
			}
		}
		if _, err := json.Marshal(m.GetTradingPairs()); err != nil {
			t.Fatalf("marshal pairs: %v", err)
		}
		for _, o := range m.GetUserOrders("maker", "") {
			if _, err := json.Marshal(o); err != nil {
				t.Fatalf("marshal open order: %v", err)
			}
		}

		select {
		case <-done:
			o, ok := m.GetOrder(id)
			if !ok {
				t.Fatal("resting order vanished")
			}
			if o.Status != orderbook.StatusFilled {
				t.Errorf("expected FILLED after 200 crossing sells, got %s", o.Status)
			}
			return
		default:
		}
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	m := newTestManager(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := m.Subscribe()
	m.Start(ctx)

	m.PlaceOrder(ctx, limitReq("u1", orderbook.SideBuy, "1", "100"))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Type == orderbook.EventOrderAdded {
				if ev.Order == nil || ev.Order.UserID != "u1" {
					t.Errorf("orderAdded event missing order: %+v", ev)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for orderAdded event")
		}
	}
}
