// Package broadcaster journals trade events into the outbox and publishes
// pending records to Kafka. The two loops are independent: ingestion keeps up
// with the engine, delivery retries until the broker acknowledges.
package broadcaster

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"freyr/domain/orderbook"
	"freyr/infra/outbox"
)

type Broadcaster struct {
	box      *outbox.Outbox
	producer sarama.SyncProducer
	topic    string
	events   <-chan orderbook.Event
	interval time.Duration
	log      *zap.Logger
}

func New(
	brokers []string,
	topic string,
	box *outbox.Outbox,
	events <-chan orderbook.Event,
	log *zap.Logger,
) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}

	return &Broadcaster{
		box:      box,
		producer: producer,
		topic:    topic,
		events:   events,
		interval: 250 * time.Millisecond,
		log:      log,
	}, nil
}

// Run consumes engine events and drives delivery until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	b.log.Info("broadcaster started", zap.String("topic", b.topic))

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-b.events:
			if !ok {
				return
			}
			b.ingest(ev)
		case <-ticker.C:
			b.deliverPending()
		}
	}
}

// ingest journals trade events. Other event types are market-data chatter and
// are not durably delivered.
func (b *Broadcaster) ingest(ev orderbook.Event) {
	if ev.Type != orderbook.EventTrade || ev.Trade == nil {
		return
	}
	payload, err := json.Marshal(ev.Trade)
	if err != nil {
		b.log.Error("marshal trade event", zap.Error(err))
		return
	}
	if _, err := b.box.Append(payload); err != nil {
		b.log.Error("outbox append", zap.String("trade_id", ev.Trade.ID), zap.Error(err))
	}
}

// deliverPending walks the outbox and pushes unacked records to Kafka.
// MarkSent happens before the publish so a crash mid-send is visible as a
// retried SENT record rather than a silent loss.
func (b *Broadcaster) deliverPending() {
	err := b.box.ScanPending(func(rec outbox.Record) error {
		if err := b.box.MarkSent(rec.Seq); err != nil {
			return err
		}

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Value: sarama.ByteEncoder(rec.Payload),
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			b.log.Warn("kafka publish failed, will retry",
				zap.Uint64("seq", rec.Seq), zap.Error(err))
			return nil // leave as SENT, retried next tick
		}

		return b.box.MarkAcked(rec.Seq)
	})
	if err != nil {
		b.log.Error("outbox scan", zap.Error(err))
	}
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
