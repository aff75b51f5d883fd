package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"freyr/domain/orderbook"
)

// Config tunes the manager's background maintenance.
type Config struct {
	// TradeRetention bounds the in-memory trade history.
	TradeRetention time.Duration
	// PruneInterval is how often the trade history is pruned.
	PruneInterval time.Duration
	// EventBuffer sizes the channel books publish into.
	EventBuffer int
	// SubscriberBuffer sizes each subscriber's channel.
	SubscriberBuffer int
}

func DefaultConfig() Config {
	return Config{
		TradeRetention:   7 * 24 * time.Hour,
		PruneInterval:    time.Hour,
		EventBuffer:      1024,
		SubscriberBuffer: 256,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.TradeRetention <= 0 {
		c.TradeRetention = d.TradeRetention
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = d.PruneInterval
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = d.SubscriberBuffer
	}
}

// SymbolStats merges a symbol's daily stats with its live top of book.
type SymbolStats struct {
	Symbol    string               `json:"symbol"`
	Stats     orderbook.DailyStats `json:"dailyStats"`
	Quote     orderbook.BestQuote  `json:"quote"`
	LastTrade *orderbook.LastTrade `json:"lastTrade,omitempty"`
}

// Manager routes orders to per-symbol books and owns the cross-symbol state:
// trading pairs, global order history, trade history, and the outbound event
// stream. Books are fully independent of each other; the maps here are the
// only shared surface and sit behind their own lock.
type Manager struct {
	mu sync.RWMutex

	pairs map[string]*orderbook.TradingPair
	books map[string]*orderbook.OrderBook

	orderHistory map[string]*orderbook.Order
	tradeHistory []*orderbook.Trade

	events chan orderbook.Event

	subMu sync.RWMutex
	subs  []chan orderbook.Event

	balance BalanceService
	cfg     Config
	log     *zap.Logger
}

func NewManager(cfg Config, balance BalanceService, log *zap.Logger) *Manager {
	cfg.setDefaults()
	if balance == nil {
		balance = NoopBalance{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		pairs:        make(map[string]*orderbook.TradingPair),
		books:        make(map[string]*orderbook.OrderBook),
		orderHistory: make(map[string]*orderbook.Order),
		events:       make(chan orderbook.Event, cfg.EventBuffer),
		balance:      balance,
		cfg:          cfg,
		log:          log,
	}
}

// Start launches event dispatch and periodic maintenance. It should run
// before sustained trading: books publish into a bounded channel and drop
// events once it fills.
func (m *Manager) Start(ctx context.Context) {
	go m.dispatchEvents(ctx)
	go m.maintenanceLoop(ctx)
}

// Subscribe returns a channel receiving every event from every book plus the
// manager's own lifecycle events. Slow subscribers lose events rather than
// stalling the engine.
func (m *Manager) Subscribe() <-chan orderbook.Event {
	ch := make(chan orderbook.Event, m.cfg.SubscriberBuffer)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

// CreateTradingPair registers a new market and its order book. The book's
// events flow into the manager's stream, so subscribers see all symbols
// without subscribing per book.
func (m *Manager) CreateTradingPair(base, quote, chainID string, cfg orderbook.PairConfig) (*orderbook.TradingPair, error) {
	symbol := orderbook.PairSymbol(base, quote)

	m.mu.Lock()
	if _, exists := m.pairs[symbol]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("trading pair %s already exists", symbol)
	}
	pair := orderbook.NewTradingPair(base, quote, chainID, cfg)
	book := orderbook.NewOrderBook(symbol, chainID, m.events)
	m.pairs[symbol] = pair
	m.books[symbol] = book
	m.mu.Unlock()

	m.log.Info("trading pair created",
		zap.String("symbol", symbol),
		zap.String("chain_id", chainID),
		zap.String("tick_size", pair.TickSize.String()),
		zap.String("lot_size", pair.LotSize.String()))
	m.emit(orderbook.Event{Type: orderbook.EventTradingPairCreated, Symbol: symbol, At: time.Now().UTC()})
	return pair, nil
}

// PlaceOrder validates and rounds a request against its pair's constraints,
// checks balance, and forwards it to the symbol's book. Balance calls happen
// outside any book lock; a reserve failure after matching is logged, not
// rolled back.
func (m *Manager) PlaceOrder(ctx context.Context, req orderbook.OrderRequest) orderbook.PlaceResult {
	m.mu.RLock()
	pair := m.pairs[req.Symbol]
	book := m.books[req.Symbol]
	active := pair != nil && pair.Active
	m.mu.RUnlock()

	if pair == nil {
		return orderbook.PlaceResult{Success: false, Reason: fmt.Sprintf("unknown trading pair %q", req.Symbol)}
	}
	if !active {
		return orderbook.PlaceResult{Success: false, Reason: fmt.Sprintf("trading halted for %s", req.Symbol)}
	}

	if req.Price.Sign() > 0 {
		req.Price = pair.RoundPrice(req.Price)
	}
	if req.Quantity.Sign() > 0 {
		req.Quantity = pair.RoundQuantity(req.Quantity)
	}
	if err := pair.CheckNotional(req.Price, req.Quantity); err != nil {
		return orderbook.PlaceResult{Success: false, Reason: err.Error()}
	}
	if err := m.balance.CheckBalance(ctx, &req); err != nil {
		return orderbook.PlaceResult{Success: false, Reason: fmt.Sprintf("balance check failed: %v", err)}
	}

	res := book.AddOrder(req)
	if !res.Success {
		return res
	}

	m.mu.Lock()
	m.orderHistory[res.Order.ID] = res.Order
	m.tradeHistory = append(m.tradeHistory, res.Trades...)
	m.mu.Unlock()

	if err := m.balance.ReserveBalance(ctx, res.Order); err != nil {
		m.log.Warn("balance reserve failed after matching",
			zap.String("order_id", res.Order.ID), zap.Error(err))
	}
	return res
}

// CancelOrder routes a cancellation to the owning book via the global order
// history, then releases any reserved balance.
func (m *Manager) CancelOrder(ctx context.Context, orderID, userID string) orderbook.CancelResult {
	m.mu.RLock()
	o := m.orderHistory[orderID]
	var book *orderbook.OrderBook
	if o != nil {
		book = m.books[o.Symbol]
	}
	m.mu.RUnlock()

	if o == nil || book == nil {
		return orderbook.CancelResult{Success: false, Reason: "Order not found"}
	}

	res := book.CancelOrder(orderID, userID)
	if res.Success {
		if err := m.balance.ReleaseBalance(ctx, res.Order); err != nil {
			m.log.Warn("balance release failed",
				zap.String("order_id", orderID), zap.Error(err))
		}
	}
	return res
}

// GetOrderBook returns a depth snapshot for one symbol.
func (m *Manager) GetOrderBook(symbol string, depth int) (*orderbook.BookSnapshot, error) {
	m.mu.RLock()
	book := m.books[symbol]
	m.mu.RUnlock()
	if book == nil {
		return nil, fmt.Errorf("unknown trading pair %q", symbol)
	}
	return book.Snapshot(depth), nil
}

// GetOrder looks an order up across all symbols. The returned order is a copy
// taken under the owning book's lock, so it is safe to marshal while matching
// continues.
func (m *Manager) GetOrder(orderID string) (*orderbook.Order, bool) {
	m.mu.RLock()
	o := m.orderHistory[orderID]
	var book *orderbook.OrderBook
	if o != nil {
		book = m.books[o.Symbol]
	}
	m.mu.RUnlock()

	if o == nil || book == nil {
		return nil, false
	}
	return book.Order(orderID)
}

// GetTradingPairs lists all registered pairs as value copies; Active flips
// under the manager lock during halt/resume.
func (m *Manager) GetTradingPairs() []orderbook.TradingPair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]orderbook.TradingPair, 0, len(m.pairs))
	for _, p := range m.pairs {
		out = append(out, *p)
	}
	return out
}

// GetUserOrders returns a user's open orders, across all books when symbol is
// empty.
func (m *Manager) GetUserOrders(userID, symbol string) []*orderbook.Order {
	m.mu.RLock()
	books := make([]*orderbook.OrderBook, 0, len(m.books))
	if symbol != "" {
		if b := m.books[symbol]; b != nil {
			books = append(books, b)
		}
	} else {
		for _, b := range m.books {
			books = append(books, b)
		}
	}
	m.mu.RUnlock()

	var out []*orderbook.Order
	for _, b := range books {
		out = append(out, b.UserOrders(userID)...)
	}
	return out
}

// GetTradeHistory returns the most recent trades, optionally filtered by
// symbol. Trades are ordered oldest to newest.
func (m *Manager) GetTradeHistory(symbol string, limit int) []*orderbook.Trade {
	return m.filterTrades(limit, func(t *orderbook.Trade) bool {
		return symbol == "" || t.Symbol == symbol
	})
}

// GetUserTradeHistory returns the most recent trades where the user was taker
// or maker.
func (m *Manager) GetUserTradeHistory(userID, symbol string, limit int) []*orderbook.Trade {
	return m.filterTrades(limit, func(t *orderbook.Trade) bool {
		if symbol != "" && t.Symbol != symbol {
			return false
		}
		return t.TakerUserID == userID || t.MakerUserID == userID
	})
}

// GetMarketStats merges daily stats with the live top of book, for one symbol
// or all.
func (m *Manager) GetMarketStats(symbol string) ([]SymbolStats, error) {
	m.mu.RLock()
	books := make(map[string]*orderbook.OrderBook, len(m.books))
	if symbol != "" {
		b := m.books[symbol]
		if b == nil {
			m.mu.RUnlock()
			return nil, fmt.Errorf("unknown trading pair %q", symbol)
		}
		books[symbol] = b
	} else {
		for s, b := range m.books {
			books[s] = b
		}
	}
	m.mu.RUnlock()

	out := make([]SymbolStats, 0, len(books))
	for s, b := range books {
		snap := b.Snapshot(1)
		out = append(out, SymbolStats{
			Symbol:    s,
			Stats:     snap.Stats,
			Quote:     b.BestBidAsk(),
			LastTrade: snap.LastTrade,
		})
	}
	return out, nil
}

// EmergencyStop blocks new admissions on every pair. Resting orders stay in
// the books; only admission is gated.
func (m *Manager) EmergencyStop() {
	m.setActive(false)
	m.log.Warn("emergency stop: all trading pairs halted")
	m.emit(orderbook.Event{Type: orderbook.EventEmergencyStop, At: time.Now().UTC()})
}

// ResumeTrading re-enables admission on every pair.
func (m *Manager) ResumeTrading() {
	m.setActive(true)
	m.log.Info("trading resumed on all pairs")
	m.emit(orderbook.Event{Type: orderbook.EventTradingResumed, At: time.Now().UTC()})
}

func (m *Manager) setActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pairs {
		p.Active = active
	}
}

/******************** Background work ********************/

func (m *Manager) dispatchEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.fanout(ev)
		}
	}
}

func (m *Manager) emit(ev orderbook.Event) {
	select {
	case m.events <- ev:
	default:
		m.log.Warn("event buffer full, dropping manager event", zap.String("type", string(ev.Type)))
	}
}

func (m *Manager) fanout(ev orderbook.Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.log.Warn("subscriber lagging, dropping event",
				zap.String("type", string(ev.Type)), zap.String("symbol", ev.Symbol))
		}
	}
}

func (m *Manager) maintenanceLoop(ctx context.Context) {
	prune := time.NewTicker(m.cfg.PruneInterval)
	defer prune.Stop()
	rollover := time.NewTimer(untilMidnight(time.Now()))
	defer rollover.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-prune.C:
			m.PruneTradeHistory(time.Now())
		case <-rollover.C:
			m.rolloverDailyStats()
			rollover.Reset(untilMidnight(time.Now()))
		}
	}
}

// PruneTradeHistory drops trades older than the retention window.
func (m *Manager) PruneTradeHistory(now time.Time) {
	cutoff := now.Add(-m.cfg.TradeRetention)
	m.mu.Lock()
	defer m.mu.Unlock()

	// History is append-only in time order: find the first trade to keep.
	keep := 0
	for keep < len(m.tradeHistory) && m.tradeHistory[keep].Timestamp.Before(cutoff) {
		keep++
	}
	if keep == 0 {
		return
	}
	dropped := keep
	m.tradeHistory = append([]*orderbook.Trade(nil), m.tradeHistory[keep:]...)
	m.log.Info("pruned trade history", zap.Int("dropped", dropped), zap.Int("remaining", len(m.tradeHistory)))
}

func (m *Manager) rolloverDailyStats() {
	m.mu.RLock()
	books := make([]*orderbook.OrderBook, 0, len(m.books))
	for _, b := range m.books {
		books = append(books, b)
	}
	m.mu.RUnlock()

	for _, b := range books {
		b.RolloverDaily()
	}
	m.log.Info("daily stats rolled over", zap.Int("books", len(books)))
}

func (m *Manager) filterTrades(limit int, match func(*orderbook.Trade) bool) []*orderbook.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*orderbook.Trade
	for _, t := range m.tradeHistory {
		if match(t) {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func untilMidnight(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return time.Until(next)
}
