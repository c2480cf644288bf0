package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultTopic is the Kafka topic hotspot alerts are published to.
const DefaultTopic = "geosignal.hotspot-alerts"

// KafkaPublisher publishes hotspot alerts to a Kafka topic, keyed by
// flashpoint so all alerts for one flashpoint land on the same partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaPublisher creates a publisher against the given brokers. An empty
// topic falls back to DefaultTopic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}

	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: dispatchTimeout,
		},
		logger: newLogger(),
	}
}

// Dispatch publishes the alert. Messages are keyed by flashpoint ID.
func (p *KafkaPublisher) Dispatch(ctx context.Context, payload Payload) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(payload.FlashpointID),
		Value: value,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("kafka alert publish failed",
			"topic", p.writer.Topic,
			"error", err)

		return fmt.Errorf("failed to publish alert: %w", err)
	}

	p.logger.Info("kafka alert published",
		"topic", p.writer.Topic,
		"flashpoint_id", payload.FlashpointID,
		"cluster_id", payload.ClusterID)

	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}

	return nil
}
