// Package events mirrors transitions to a Kafka topic for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rewired-gh/soulwatch/internal/models"
)

// Config holds the Kafka producer settings.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one message per transition, keyed by tenant so a tenant's
// transitions stay ordered within a partition.
type Publisher struct {
	writer messageWriter
}

// NewPublisher creates a Kafka-backed Publisher.
func NewPublisher(cfg Config) *Publisher {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Publisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.WriteTimeout,
	}}
}

// Publish writes t to the topic.
func (p *Publisher) Publish(ctx context.Context, t models.Transition) error {
	msg, err := buildMessage(t)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish transition %s: %w", t.ID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func buildMessage(t models.Transition) (kafka.Message, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode transition %s: %w", t.ID, err)
	}
	return kafka.Message{
		Key:   []byte(t.TenantID),
		Value: data,
		Time:  t.DetectedAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(t.Kind)},
		},
	}, nil
}
