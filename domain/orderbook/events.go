package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the single source of truth for "a trade happened". Everything
// downstream (settlement, market data, history) consumes these.
type Trade struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	ChainID      string          `json:"chainId"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Timestamp    time.Time       `json:"timestamp"`
	TakerOrderID string          `json:"takerOrderId"`
	MakerOrderID string          `json:"makerOrderId"`
	TakerUserID  string          `json:"takerUserId"`
	MakerUserID  string          `json:"makerUserId"`
	Side         Side            `json:"side"` // taker side
}

type EventType string

const (
	EventOrderAdded         EventType = "orderAdded"
	EventOrderCancelled     EventType = "orderCancelled"
	EventOrderExecuted      EventType = "orderExecuted"
	EventTrade              EventType = "trade"
	EventBookUpdated        EventType = "bookUpdated"
	EventTradingPairCreated EventType = "tradingPairCreated"
	EventEmergencyStop      EventType = "emergencyStop"
	EventTradingResumed     EventType = "tradingResumed"
)

// Event is the outbound message from the matching core. Books buffer events
// during a mutation and publish them after the book lock is released, so
// consumers can safely call back into the book.
type Event struct {
	Type   EventType `json:"type"`
	Symbol string    `json:"symbol"`
	Order  *Order    `json:"order,omitempty"`
	Trade  *Trade    `json:"trade,omitempty"`
	At     time.Time `json:"at"`
}
