package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes notifications as JSON records keyed by destination, so every
// owner's events stay ordered within a partition.
type KafkaNotifier struct {
	writer messageWriter
}

// NewKafkaNotifier builds a notifier writing to topic on the given brokers.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.CRC32Balancer{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	}}
}

// Send writes one record for the message.
func (k *KafkaNotifier) Send(ctx context.Context, message Message) error {
	if message.SentAt.IsZero() {
		message.SentAt = time.Now().UTC()
	}
	value, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(message.Destination),
		Value: value,
		Time:  message.SentAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(message.Kind)},
			{Key: "correlation-id", Value: []byte(message.CorrelationID)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka notification: %w", err)
	}
	return nil
}

// Close flushes pending records and closes the writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
