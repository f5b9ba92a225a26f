package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmehdipour/mail-outbox/internal/config"
	"github.com/jmehdipour/mail-outbox/internal/model"
	"github.com/segmentio/kafka-go"
)

// Publisher writes email requests to the intake topic.
type Publisher struct {
	w *kafka.Writer
}

func NewPublisher(c config.KafkaConfig) *Publisher {
	return &Publisher{w: &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

// Publish keys the message by template so requests for one template keep their order.
func (p *Publisher) Publish(ctx context.Context, req model.EmailRequest) error {
	m, err := EncodeRequest(req)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, m)
}

func (p *Publisher) Close() error { return p.w.Close() }

func EncodeRequest(req model.EmailRequest) (Message, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return Message{}, fmt.Errorf("encode email request: %w", err)
	}
	return Message{Key: []byte(req.Template), Value: b}, nil
}
