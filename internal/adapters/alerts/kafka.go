package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/okian/txguard/internal/domain/model"
)

// DefaultTopic is the topic alerts are published to.
const DefaultTopic = "guard.fraud_alerts"

// MessageWriter is the part of *kafka.Writer the recorder uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRecorder publishes alerts as JSON keyed by user id, so one user's
// alerts stay ordered within a partition.
type KafkaRecorder struct {
	writer MessageWriter
}

// NewKafkaRecorder creates a recorder publishing to topic on brokers.
func NewKafkaRecorder(brokers []string, topic string) *KafkaRecorder {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaRecorder{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

// NewKafkaRecorderFromWriter wraps an existing writer.
func NewKafkaRecorderFromWriter(w MessageWriter) *KafkaRecorder {
	return &KafkaRecorder{writer: w}
}

// Record implements Recorder.
func (r *KafkaRecorder) Record(ctx context.Context, a model.FraudAlert) error { //nolint:gocritic // hugeParam
	value, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	err = r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(a.UserID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "alert_type", Value: []byte(a.AlertType)},
			{Key: "severity", Value: []byte(a.Severity)},
		},
		Time: a.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("publish fraud alert %s: %w", a.ID, err)
	}
	return nil
}

// Close closes the underlying writer.
func (r *KafkaRecorder) Close() error {
	return r.writer.Close()
}
