package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceLevel is the FIFO queue of resting orders at a single price.
// Insertion order is time priority: new orders are appended, never prepended.
// TotalVolume caches the sum of remaining quantities across the queue and is
// maintained incrementally on enqueue, fill, and removal.
type PriceLevel struct {
	Price decimal.Decimal

	head *Order
	tail *Order

	TotalVolume decimal.Decimal
	OrderCount  int
}

func NewPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{Price: price}
}

// Enqueue appends an order at the tail of the queue.
func (p *PriceLevel) Enqueue(o *Order) {
	if p.head == nil {
		p.head = o
		p.tail = o
	} else {
		p.tail.next = o
		o.prev = p.tail
		p.tail = o
	}
	p.TotalVolume = p.TotalVolume.Add(o.Quantity)
	p.OrderCount++
}

// Remove unlinks an order from the queue and subtracts its remaining
// quantity from the cached volume. Safe to call for orders whose remaining
// quantity is already zero.
func (p *PriceLevel) Remove(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else if p.head == o {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else if p.tail == o {
		p.tail = o.prev
	}
	o.next = nil
	o.prev = nil

	p.TotalVolume = p.TotalVolume.Sub(o.Quantity)
	p.OrderCount--
}

// Reduce subtracts an executed quantity from the cached volume. Called once
// per fill against the head order, before any removal.
func (p *PriceLevel) Reduce(quantity decimal.Decimal) {
	p.TotalVolume = p.TotalVolume.Sub(quantity)
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

// Head returns the order with time priority at this price.
func (p *PriceLevel) Head() *Order {
	return p.head
}

func (p *PriceLevel) String() string {
	return fmt.Sprintf("level{price=%s volume=%s orders=%d}", p.Price, p.TotalVolume, p.OrderCount)
}
