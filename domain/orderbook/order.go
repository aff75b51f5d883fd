package orderbook

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderType string

const (
	TypeMarket   OrderType = "MARKET"
	TypeLimit    OrderType = "LIMIT"
	TypeStopLoss OrderType = "STOP_LOSS"
	TypeIceberg  OrderType = "ICEBERG"
)

type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPartial   Status = "PARTIAL"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
	StatusRejected  Status = "REJECTED"
)

// OrderRequest is the admission input. Price is ignored for MARKET orders,
// StopPrice is only meaningful for STOP_LOSS, IcebergQuantity for ICEBERG.
type OrderRequest struct {
	UserID          string          `json:"userId"`
	Symbol          string          `json:"symbol"`
	ChainID         string          `json:"chainId"`
	Side            Side            `json:"side"`
	Type            OrderType       `json:"type"`
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	StopPrice       decimal.Decimal `json:"stopPrice"`
	IcebergQuantity decimal.Decimal `json:"icebergQuantity"`
	TimeInForce     TimeInForce     `json:"timeInForce"`
}

// Fill is one execution against an order.
type Fill struct {
	TradeID   string          `json:"tradeId"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Order is the mutable per-order state machine. Quantity is the remaining
// (unfilled) amount; OriginalQuantity is the immutable snapshot at creation.
// Only the owning OrderBook mutates an Order, always under the book lock.
type Order struct {
	ID      string `json:"id"`
	UserID  string `json:"userId"`
	Symbol  string `json:"symbol"`
	ChainID string `json:"chainId"`

	Side        Side        `json:"side"`
	Type        OrderType   `json:"type"`
	TimeInForce TimeInForce `json:"timeInForce"`

	Price     decimal.Decimal `json:"price"`
	StopPrice decimal.Decimal `json:"stopPrice"`

	Quantity         decimal.Decimal `json:"quantity"`
	OriginalQuantity decimal.Decimal `json:"originalQuantity"`
	IcebergQuantity  decimal.Decimal `json:"icebergQuantity"`
	VisibleQuantity  decimal.Decimal `json:"visibleQuantity"`

	FilledQuantity decimal.Decimal `json:"filledQuantity"`
	AveragePrice   decimal.Decimal `json:"averagePrice"`
	Status         Status          `json:"status"`
	Fills          []Fill          `json:"fills"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// intrusive FIFO links for the price level queue
	next *Order
	prev *Order
}

// NewOrder builds a PENDING order from a request. No validation happens here;
// the book validates on admission and may mark the result REJECTED.
func NewOrder(req OrderRequest) *Order {
	tif := req.TimeInForce
	if tif == "" {
		tif = GTC
	}
	now := time.Now().UTC()
	o := &Order{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		Symbol:           req.Symbol,
		ChainID:          req.ChainID,
		Side:             req.Side,
		Type:             req.Type,
		TimeInForce:      tif,
		Price:            req.Price,
		StopPrice:        req.StopPrice,
		Quantity:         req.Quantity,
		OriginalQuantity: req.Quantity,
		IcebergQuantity:  req.IcebergQuantity,
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	o.refreshVisible()
	return o
}

// Fill applies one execution. The requested quantity is clamped to the
// remaining amount; the actual filled quantity is returned and is what the
// matching loop must use for progress tracking. Average price is the running
// volume-weighted average over all fills.
func (o *Order) Fill(quantity, price decimal.Decimal, tradeID string, ts time.Time) decimal.Decimal {
	if !o.CanFill() || quantity.Sign() <= 0 {
		return decimal.Zero
	}
	fillQty := decimal.Min(quantity, o.Quantity)

	notional := o.AveragePrice.Mul(o.FilledQuantity).Add(price.Mul(fillQty))
	o.Quantity = o.Quantity.Sub(fillQty)
	o.FilledQuantity = o.FilledQuantity.Add(fillQty)
	o.AveragePrice = notional.Div(o.FilledQuantity)

	o.Fills = append(o.Fills, Fill{
		TradeID:   tradeID,
		Quantity:  fillQty,
		Price:     price,
		Timestamp: ts,
	})

	if o.Quantity.Sign() == 0 {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartial
	}
	o.refreshVisible()
	o.UpdatedAt = ts
	return fillQty
}

// Cancel marks the order CANCELLED. Callers must have checked IsActive.
func (o *Order) Cancel() {
	o.Status = StatusCancelled
	o.UpdatedAt = time.Now().UTC()
}

// Reject marks the order REJECTED. Only reachable at admission time.
func (o *Order) Reject() {
	o.Status = StatusRejected
	o.UpdatedAt = time.Now().UTC()
}

// IsActive reports whether the order can still transition (PENDING or PARTIAL).
func (o *Order) IsActive() bool {
	return o.Status == StatusPending || o.Status == StatusPartial
}

// CanFill is the matching loop continuation condition.
func (o *Order) CanFill() bool {
	return o.IsActive() && o.Quantity.Sign() > 0
}

// refreshVisible recomputes the quantity exposed to the book. Iceberg orders
// show at most IcebergQuantity at a time; everything else shows the full
// remaining quantity.
func (o *Order) refreshVisible() {
	if o.Type == TypeIceberg && o.IcebergQuantity.Sign() > 0 {
		o.VisibleQuantity = decimal.Min(o.Quantity, o.IcebergQuantity)
	} else {
		o.VisibleQuantity = o.Quantity
	}
}

// Next walks the price level queue. Read-only.
func (o *Order) Next() *Order {
	return o.next
}

// Clone returns a detached copy safe to read or marshal outside the book
// lock. The live order keeps mutating under the lock after placement; callers
// re-fetch through the book for current state.
func (o *Order) Clone() *Order {
	c := *o
	c.Fills = append([]Fill(nil), o.Fills...)
	c.next = nil
	c.prev = nil
	return &c
}
