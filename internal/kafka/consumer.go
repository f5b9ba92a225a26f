// Package kafka wraps segmentio/kafka-go for the email request topic.
package kafka

import (
	"context"
	"time"

	"github.com/jmehdipour/mail-outbox/internal/config"
	"github.com/segmentio/kafka-go"
)

type Message = kafka.Message

// Consumer reads email requests with explicit commits: an offset is committed
// only once the request is persisted in the outbox.
type Consumer struct {
	r *kafka.Reader
}

func readerConfig(c config.KafkaConfig) kafka.ReaderConfig {
	minBytes := c.MinBytes
	if minBytes <= 0 {
		minBytes = 1 << 10 // 1KB
	}
	maxBytes := c.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20 // 10MB
	}
	// 0 = commit synchronously on every CommitMessages call
	ci := time.Duration(c.CommitInterval) * time.Millisecond
	if ci < 0 {
		ci = 0
	}

	return kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       minBytes,
		MaxBytes:       maxBytes,
		CommitInterval: ci,
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
	}
}

func NewConsumer(c config.KafkaConfig) *Consumer {
	return &Consumer{r: kafka.NewReader(readerConfig(c))}
}

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, m)
}

func (c *Consumer) Close() error { return c.r.Close() }
