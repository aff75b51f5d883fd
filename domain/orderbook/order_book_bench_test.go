package orderbook

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

func BenchmarkRestingLimitOrders(b *testing.B) {
	book := newTestBook()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// spread bids over 1000 ticks so levels are reused
		price := decimal.NewFromInt(int64(1000 + i%1000))
		book.AddOrder(OrderRequest{
			UserID:   "bench",
			Symbol:   "AVAX/USDC",
			Side:     SideBuy,
			Type:     TypeLimit,
			Quantity: decimal.NewFromInt(1),
			Price:    price,
		})
	}
}

func BenchmarkMatchingCrossedFlow(b *testing.B) {
	book := newTestBook()
	rng := rand.New(rand.NewSource(1))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		side := SideBuy
		if i%2 == 0 {
			side = SideSell
		}
		price := decimal.NewFromInt(int64(95 + rng.Intn(11)))
		book.AddOrder(OrderRequest{
			UserID:   "bench",
			Symbol:   "AVAX/USDC",
			Side:     side,
			Type:     TypeLimit,
			Quantity: decimal.NewFromInt(int64(1 + rng.Intn(5))),
			Price:    price,
		})
	}
}

func BenchmarkLevelTreeGetOrCreate(b *testing.B) {
	tree := NewLevelTree(false)
	prices := make([]decimal.Decimal, 1024)
	for i := range prices {
		prices[i] = decimal.NewFromInt(int64(i))
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tree.GetOrCreate(prices[i%len(prices)])
	}
}
