package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PairConfig carries the optional knobs for a trading pair. Zero values fall
// back to defaults.
type PairConfig struct {
	TickSize      decimal.Decimal `json:"tickSize" mapstructure:"tick_size"`
	LotSize       decimal.Decimal `json:"lotSize" mapstructure:"lot_size"`
	MinOrderValue decimal.Decimal `json:"minOrderValue" mapstructure:"min_order_value"`
	MaxOrderValue decimal.Decimal `json:"maxOrderValue" mapstructure:"max_order_value"`
}

// TradingPair is the immutable identity and constraints of one market.
// Active is the only mutable field; the manager flips it under its own lock
// during emergency halt/resume.
type TradingPair struct {
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
	ChainID    string `json:"chainId"`
	Symbol     string `json:"symbol"`

	TickSize      decimal.Decimal `json:"tickSize"`
	LotSize       decimal.Decimal `json:"lotSize"`
	MinOrderValue decimal.Decimal `json:"minOrderValue"`
	MaxOrderValue decimal.Decimal `json:"maxOrderValue"`

	Active bool `json:"isActive"`
}

func NewTradingPair(base, quote, chainID string, cfg PairConfig) *TradingPair {
	p := &TradingPair{
		BaseAsset:     base,
		QuoteAsset:    quote,
		ChainID:       chainID,
		Symbol:        PairSymbol(base, quote),
		TickSize:      cfg.TickSize,
		LotSize:       cfg.LotSize,
		MinOrderValue: cfg.MinOrderValue,
		MaxOrderValue: cfg.MaxOrderValue,
		Active:        true,
	}
	if p.TickSize.Sign() <= 0 {
		p.TickSize = decimal.New(1, -2) // 0.01
	}
	if p.LotSize.Sign() <= 0 {
		p.LotSize = decimal.New(1, -8) // 0.00000001
	}
	return p
}

// PairSymbol derives the canonical symbol for a base/quote pair.
func PairSymbol(base, quote string) string {
	return fmt.Sprintf("%s/%s", base, quote)
}

// RoundPrice snaps a price down to the pair's tick size. Prices already on a
// tick boundary pass through unchanged.
func (p *TradingPair) RoundPrice(price decimal.Decimal) decimal.Decimal {
	return snap(price, p.TickSize)
}

// RoundQuantity snaps a quantity down to the pair's lot size.
func (p *TradingPair) RoundQuantity(qty decimal.Decimal) decimal.Decimal {
	return snap(qty, p.LotSize)
}

// CheckNotional validates price*quantity against the pair's order value
// bounds. A zero bound disables that side of the check.
func (p *TradingPair) CheckNotional(price, qty decimal.Decimal) error {
	if price.Sign() <= 0 {
		return nil // market orders have no price to bound
	}
	notional := price.Mul(qty)
	if p.MinOrderValue.Sign() > 0 && notional.LessThan(p.MinOrderValue) {
		return fmt.Errorf("order value %s below minimum %s", notional, p.MinOrderValue)
	}
	if p.MaxOrderValue.Sign() > 0 && notional.GreaterThan(p.MaxOrderValue) {
		return fmt.Errorf("order value %s above maximum %s", notional, p.MaxOrderValue)
	}
	return nil
}

func snap(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 || v.Sign() <= 0 {
		return v
	}
	if v.Mod(step).Sign() == 0 {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}
