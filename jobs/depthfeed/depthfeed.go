// Package depthfeed periodically publishes order-book depth snapshots to the
// market-data topic, one message per symbol keyed by symbol.
package depthfeed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"freyr/infra/kafka"
	"freyr/service"
)

type Feed struct {
	mgr      *service.Manager
	producer *kafka.Producer
	interval time.Duration
	depth    int
	log      *zap.Logger
}

func New(mgr *service.Manager, producer *kafka.Producer, interval time.Duration, depth int, log *zap.Logger) *Feed {
	if interval <= 0 {
		interval = time.Second
	}
	if depth <= 0 {
		depth = 10
	}
	return &Feed{
		mgr:      mgr,
		producer: producer,
		interval: interval,
		depth:    depth,
		log:      log,
	}
}

func (f *Feed) Run(ctx context.Context) {
	f.log.Info("depth feed started", zap.Duration("interval", f.interval), zap.Int("depth", f.depth))

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.publishAll(ctx)
		}
	}
}

func (f *Feed) publishAll(ctx context.Context) {
	for _, pair := range f.mgr.GetTradingPairs() {
		snap, err := f.mgr.GetOrderBook(pair.Symbol, f.depth)
		if err != nil {
			continue
		}
		if err := f.producer.SendJSON(ctx, pair.Symbol, snap); err != nil {
			f.log.Warn("depth publish failed", zap.String("symbol", pair.Symbol), zap.Error(err))
		}
	}
}
