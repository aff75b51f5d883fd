package orderbook

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DailyStats accumulates per-symbol trade statistics for the current day.
type DailyStats struct {
	Volume decimal.Decimal `json:"volume"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Open   decimal.Decimal `json:"open"`
	Close  decimal.Decimal `json:"close"`
	Trades int64           `json:"trades"`
}

// LastTrade is the last-trade ticker state.
type LastTrade struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Time     time.Time       `json:"time"`
}

// BookSnapshot is the externally visible view of one book.
type BookSnapshot struct {
	Symbol    string       `json:"symbol"`
	ChainID   string       `json:"chainId"`
	Timestamp time.Time    `json:"timestamp"`
	Bids      []DepthLevel `json:"bids"`
	Asks      []DepthLevel `json:"asks"`
	LastTrade *LastTrade   `json:"lastTrade,omitempty"`
	Stats     DailyStats   `json:"dailyStats"`
}

// BestQuote is the top of book. Spread is nil when either side is empty.
type BestQuote struct {
	Bid    *decimal.Decimal `json:"bid,omitempty"`
	Ask    *decimal.Decimal `json:"ask,omitempty"`
	Spread *decimal.Decimal `json:"spread,omitempty"`
}

// PlaceResult is the outcome of an admission attempt. On rejection Order
// carries the REJECTED order and Reason the first violation; no book state is
// mutated.
type PlaceResult struct {
	Success bool     `json:"success"`
	Order   *Order   `json:"order,omitempty"`
	Trades  []*Trade `json:"trades,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// CancelResult is the outcome of a cancellation attempt.
type CancelResult struct {
	Success bool   `json:"success"`
	Order   *Order `json:"order,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// OrderBook owns the bid and ask trees for one symbol. All mutation runs
// under a single mutex: price-level removal and best-price lookup are not
// atomic with respect to each other, so matching is single-writer per symbol.
// Events are buffered during an operation and published after the lock is
// released.
type OrderBook struct {
	mu sync.Mutex

	symbol  string
	chainID string

	bids *LevelTree
	asks *LevelTree

	// all orders ever admitted to this book, active or terminal
	orders map[string]*Order
	// user id -> set of open order ids
	userOrders map[string]map[string]struct{}

	stats     DailyStats
	lastTrade *LastTrade

	events chan<- Event
}

// NewOrderBook constructs an empty book. events may be nil, in which case the
// book is silent (used by tests that only care about matching).
func NewOrderBook(symbol, chainID string, events chan<- Event) *OrderBook {
	return &OrderBook{
		symbol:     symbol,
		chainID:    chainID,
		bids:       NewLevelTree(true),
		asks:       NewLevelTree(false),
		orders:     make(map[string]*Order),
		userOrders: make(map[string]map[string]struct{}),
		events:     events,
	}
}

func (b *OrderBook) Symbol() string  { return b.symbol }
func (b *OrderBook) ChainID() string { return b.chainID }

// AddOrder validates and executes or rests a new order. MARKET orders execute
// immediately against the opposite side; LIMIT/ICEBERG orders match first and
// rest any remainder (a newly resting order may cross the book if priced
// aggressively, so the matching loop always runs); STOP_LOSS is validated but
// rejected as not yet implemented.
func (b *OrderBook) AddOrder(req OrderRequest) PlaceResult {
	o := NewOrder(req)
	if reason := validateRequest(req); reason != "" {
		o.Reject()
		return PlaceResult{Success: false, Order: o, Reason: reason}
	}
	if o.Type == TypeStopLoss {
		o.Reject()
		return PlaceResult{Success: false, Order: o, Reason: "stop-loss orders are not yet implemented"}
	}

	var evs []Event
	b.mu.Lock()

	var trades []*Trade
	var reason string
	switch o.Type {
	case TypeMarket:
		trades, reason = b.executeMarket(o, &evs)
	default: // LIMIT, ICEBERG
		trades, reason = b.placeLimit(o, &evs)
	}

	if reason != "" {
		b.mu.Unlock()
		o.Reject()
		return PlaceResult{Success: false, Order: o, Reason: reason}
	}

	b.orders[o.ID] = o
	evs = append(evs, Event{Type: EventBookUpdated, Symbol: b.symbol, At: time.Now().UTC()})
	// snapshot before unlocking: the live order keeps mutating under the lock
	// once other orders can match against it
	snap := o.Clone()
	b.mu.Unlock()

	b.publish(evs)
	return PlaceResult{Success: true, Order: snap, Trades: trades}
}

// CancelOrder removes an active order from the book. When userID is non-empty
// it must match the order's owner.
func (b *OrderBook) CancelOrder(orderID, userID string) CancelResult {
	var evs []Event
	b.mu.Lock()

	o, ok := b.orders[orderID]
	if !ok {
		b.mu.Unlock()
		return CancelResult{Success: false, Reason: "Order not found"}
	}
	if userID != "" && o.UserID != userID {
		snap := o.Clone()
		b.mu.Unlock()
		return CancelResult{Success: false, Order: snap, Reason: "Unauthorized"}
	}
	if !o.IsActive() {
		snap := o.Clone()
		b.mu.Unlock()
		return CancelResult{Success: false, Order: snap, Reason: "Order is not active"}
	}

	b.unlink(o)
	o.Cancel()
	b.dropUserOrder(o)

	snap := o.Clone()
	now := time.Now().UTC()
	evs = append(evs,
		Event{Type: EventOrderCancelled, Symbol: b.symbol, Order: snap, At: now},
		Event{Type: EventBookUpdated, Symbol: b.symbol, At: now},
	)
	b.mu.Unlock()

	b.publish(evs)
	return CancelResult{Success: true, Order: snap}
}

// Snapshot returns the top depth levels of both sides plus ticker state.
func (b *OrderBook) Snapshot(depth int) *BookSnapshot {
	if depth <= 0 {
		depth = 10
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := &BookSnapshot{
		Symbol:    b.symbol,
		ChainID:   b.chainID,
		Timestamp: time.Now().UTC(),
		Bids:      b.bids.Depth(depth),
		Asks:      b.asks.Depth(depth),
		Stats:     b.stats,
	}
	if b.lastTrade != nil {
		lt := *b.lastTrade
		snap.LastTrade = &lt
	}
	return snap
}

// BestBidAsk returns the top of book; spread is nil if either side is empty.
func (b *OrderBook) BestBidAsk() BestQuote {
	b.mu.Lock()
	defer b.mu.Unlock()

	var q BestQuote
	if lvl := b.bids.Best(); lvl != nil {
		p := lvl.Price
		q.Bid = &p
	}
	if lvl := b.asks.Best(); lvl != nil {
		p := lvl.Price
		q.Ask = &p
	}
	if q.Bid != nil && q.Ask != nil {
		s := q.Ask.Sub(*q.Bid)
		q.Spread = &s
	}
	return q
}

// UserOrders returns copies of the user's open orders in this book.
func (b *OrderBook) UserOrders(userID string) []*Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := b.userOrders[userID]
	out := make([]*Order, 0, len(ids))
	for id := range ids {
		if o, ok := b.orders[id]; ok {
			out = append(out, o.Clone())
		}
	}
	return out
}

// Order looks up any order ever admitted to this book, returning a copy taken
// under the book lock.
func (b *OrderBook) Order(orderID string) (*Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Stats returns a copy of the current daily stats.
func (b *OrderBook) Stats() DailyStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// RolloverDaily resets the daily stats at a day boundary, carrying the
// previous close forward as the new open.
func (b *OrderBook) RolloverDaily() {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.stats.Close
	b.stats = DailyStats{Open: prev, Close: prev}
}

// Clear fully resets the book. Test/ops use only.
func (b *OrderBook) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids.Clear()
	b.asks.Clear()
	b.orders = make(map[string]*Order)
	b.userOrders = make(map[string]map[string]struct{})
	b.stats = DailyStats{}
	b.lastTrade = nil
}

/******************** Matching ********************/

// executeMarket walks the opposite side's best level until the order is
// consumed or liquidity runs out. The maker price always wins: a market order
// has no price of its own. FOK feasibility is checked before any fill is
// committed so a rejected FOK order leaves zero trades and zero mutation.
func (b *OrderBook) executeMarket(o *Order, evs *[]Event) ([]*Trade, string) {
	if o.TimeInForce == FOK && !b.canFullyFill(o) {
		return nil, "insufficient liquidity for FOK order"
	}

	opp := b.oppositeTree(o.Side)
	var trades []*Trade
	for o.CanFill() {
		best := opp.Best()
		if best == nil {
			break
		}
		maker := best.Head()
		qty := decimal.Min(o.Quantity, maker.VisibleQuantity)
		t := b.executeTrade(o, maker, best, qty, maker.Price, evs)
		if t == nil {
			break
		}
		trades = append(trades, t)
		if maker.Quantity.Sign() == 0 {
			b.removeMaker(maker, best, opp)
		}
	}

	if len(trades) == 0 {
		return nil, "insufficient liquidity"
	}
	// A market order can never rest: discard any IOC remainder explicitly,
	// everything else keeps the PARTIAL status its fills produced.
	if o.Quantity.Sign() > 0 && o.TimeInForce == IOC {
		o.Cancel()
	}
	return trades, ""
}

// placeLimit runs the limit/iceberg matching loop and rests the remainder
// according to time in force.
func (b *OrderBook) placeLimit(o *Order, evs *[]Event) ([]*Trade, string) {
	if o.TimeInForce == FOK && !b.canFullyFill(o) {
		return nil, "insufficient liquidity for FOK order"
	}

	opp := b.oppositeTree(o.Side)
	var trades []*Trade
	for o.CanFill() {
		best := opp.Best()
		if best == nil || !crosses(o, best.Price) {
			break
		}
		maker := best.Head()
		// Icebergs on either side expose only their visible slice per
		// iteration; the refresh inside Fill keeps the loop going.
		qty := decimal.Min(o.VisibleQuantity, maker.VisibleQuantity)
		t := b.executeTrade(o, maker, best, qty, maker.Price, evs)
		if t == nil {
			break
		}
		trades = append(trades, t)
		if maker.Quantity.Sign() == 0 {
			b.removeMaker(maker, best, opp)
		}
	}

	if o.CanFill() {
		if o.TimeInForce == IOC {
			o.Cancel()
		} else {
			b.rest(o, evs)
		}
	}
	return trades, ""
}

// rest inserts the order into its own side's tree and registers it for user
// lookup.
func (b *OrderBook) rest(o *Order, evs *[]Event) {
	tree := b.sideTree(o.Side)
	tree.GetOrCreate(o.Price).Enqueue(o)

	set, ok := b.userOrders[o.UserID]
	if !ok {
		set = make(map[string]struct{})
		b.userOrders[o.UserID] = set
	}
	set[o.ID] = struct{}{}

	*evs = append(*evs, Event{Type: EventOrderAdded, Symbol: b.symbol, Order: o.Clone(), At: time.Now().UTC()})
}

// executeTrade fills both sides with the exact same quantity and price,
// updates daily stats and the last-trade ticker, and queues the trade event.
func (b *OrderBook) executeTrade(taker, maker *Order, makerLevel *PriceLevel, qty, price decimal.Decimal, evs *[]Event) *Trade {
	now := time.Now().UTC()
	tradeID := uuid.NewString()

	filled := taker.Fill(qty, price, tradeID, now)
	if filled.Sign() <= 0 {
		return nil
	}
	maker.Fill(filled, price, tradeID, now)
	makerLevel.Reduce(filled)

	trade := &Trade{
		ID:           tradeID,
		Symbol:       b.symbol,
		ChainID:      b.chainID,
		Price:        price,
		Quantity:     filled,
		Timestamp:    now,
		TakerOrderID: taker.ID,
		MakerOrderID: maker.ID,
		TakerUserID:  taker.UserID,
		MakerUserID:  maker.UserID,
		Side:         taker.Side,
	}

	b.applyStats(trade)
	b.lastTrade = &LastTrade{Price: price, Quantity: filled, Time: now}

	*evs = append(*evs, Event{Type: EventTrade, Symbol: b.symbol, Trade: trade, At: now})
	if taker.Status == StatusFilled {
		*evs = append(*evs, Event{Type: EventOrderExecuted, Symbol: b.symbol, Order: taker.Clone(), At: now})
	}
	if maker.Status == StatusFilled {
		*evs = append(*evs, Event{Type: EventOrderExecuted, Symbol: b.symbol, Order: maker.Clone(), At: now})
	}
	return trade
}

// canFullyFill sums crossable opposite-side liquidity until it covers the
// order's full quantity. Level volumes count remaining (not just visible)
// quantity: iceberg slices refresh during matching, so the full remainder is
// consumable.
func (b *OrderBook) canFullyFill(o *Order) bool {
	available := decimal.Zero
	enough := false
	b.oppositeTree(o.Side).ForEach(func(lvl *PriceLevel) bool {
		if o.Type != TypeMarket && !crosses(o, lvl.Price) {
			return false
		}
		available = available.Add(lvl.TotalVolume)
		if available.GreaterThanOrEqual(o.Quantity) {
			enough = true
			return false
		}
		return true
	})
	return enough
}

// removeMaker unlinks a fully filled maker from its tree and user index.
func (b *OrderBook) removeMaker(maker *Order, lvl *PriceLevel, tree *LevelTree) {
	lvl.Remove(maker)
	if lvl.Empty() {
		tree.Delete(lvl.Price)
	}
	b.dropUserOrder(maker)
}

// unlink removes a resting order from its side's tree, deleting the level if
// it empties. No-op for orders that never rested.
func (b *OrderBook) unlink(o *Order) {
	tree := b.sideTree(o.Side)
	lvl := tree.Find(o.Price)
	if lvl == nil {
		return
	}
	lvl.Remove(o)
	if lvl.Empty() {
		tree.Delete(lvl.Price)
	}
}

func (b *OrderBook) dropUserOrder(o *Order) {
	if set, ok := b.userOrders[o.UserID]; ok {
		delete(set, o.ID)
		if len(set) == 0 {
			delete(b.userOrders, o.UserID)
		}
	}
}

func (b *OrderBook) applyStats(t *Trade) {
	s := &b.stats
	s.Volume = s.Volume.Add(t.Quantity)
	if s.Trades == 0 && s.Open.Sign() == 0 {
		s.Open = t.Price
	}
	if s.High.Sign() == 0 || t.Price.GreaterThan(s.High) {
		s.High = t.Price
	}
	if s.Low.Sign() == 0 || t.Price.LessThan(s.Low) {
		s.Low = t.Price
	}
	s.Close = t.Price
	s.Trades++
}

func (b *OrderBook) sideTree(s Side) *LevelTree {
	if s == SideBuy {
		return b.bids
	}
	return b.asks
}

func (b *OrderBook) oppositeTree(s Side) *LevelTree {
	if s == SideBuy {
		return b.asks
	}
	return b.bids
}

func (b *OrderBook) publish(evs []Event) {
	if b.events == nil {
		return
	}
	for _, ev := range evs {
		select {
		case b.events <- ev:
		default:
			// a full stream drops the event rather than stalling matching
		}
	}
}

// crosses reports whether an incoming limit order's price crosses a resting
// level: a buy crosses at or above its limit's reach, a sell at or below.
func crosses(o *Order, levelPrice decimal.Decimal) bool {
	if o.Side == SideBuy {
		return o.Price.GreaterThanOrEqual(levelPrice)
	}
	return o.Price.LessThanOrEqual(levelPrice)
}

func validateRequest(req OrderRequest) string {
	if req.UserID == "" {
		return "missing userId"
	}
	if req.Symbol == "" {
		return "missing symbol"
	}
	switch req.Side {
	case SideBuy, SideSell:
	default:
		return fmt.Sprintf("invalid side %q", string(req.Side))
	}
	switch req.Type {
	case TypeMarket, TypeLimit, TypeStopLoss, TypeIceberg:
	default:
		return fmt.Sprintf("invalid order type %q", string(req.Type))
	}
	if req.Quantity.Sign() <= 0 {
		return "quantity must be positive"
	}
	if (req.Type == TypeLimit || req.Type == TypeIceberg) && req.Price.Sign() <= 0 {
		return "price must be positive for LIMIT and ICEBERG orders"
	}
	if req.Type == TypeStopLoss && req.StopPrice.Sign() <= 0 {
		return "stopPrice must be positive for STOP_LOSS orders"
	}
	return ""
}
