// Package kafka wraps the market-data producer. Depth snapshots are
// best-effort broadcast: delivery is at-most-once and a lost snapshot is
// superseded by the next one, unlike trade events which go through the outbox.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Send publishes one message keyed for per-symbol partition affinity.
func (p *Producer) Send(ctx context.Context, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
	})
}

// SendJSON marshals v and publishes it under key.
func (p *Producer) SendJSON(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.Send(ctx, []byte(key), payload)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
