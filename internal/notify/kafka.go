// Package notify publishes consumer notifications to Kafka.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/sirosfoundation/as4-gateway/internal/steps"
)

// KafkaPublisher writes notifications to a Kafka topic, keyed by ebMS
// message id so notifications of one message land in one partition in
// order.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
// A nil logger defaults to slog.Default().
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
		logger: logger,
	}
}

// Publish writes one notification.
func (p *KafkaPublisher) Publish(ctx context.Context, n steps.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.EbmsMessageID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("writing notification to kafka: %w", err)
	}
	p.logger.Debug("notification published",
		"ebms_message_id", n.EbmsMessageID, "outcome", n.Outcome)
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher is the fallback publisher used when no brokers are
// configured: notifications end up in the log instead of on a topic.
type LogPublisher struct {
	Logger *slog.Logger
}

// Publish logs the notification.
func (p *LogPublisher) Publish(_ context.Context, n steps.Notification) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("consumer notification",
		"ebms_message_id", n.EbmsMessageID,
		"direction", n.Direction,
		"outcome", n.Outcome,
		"detail", n.Detail)
	return nil
}
