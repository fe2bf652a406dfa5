package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/zero-day-ai/responder/responderr"
)

// MessageWriter is the subset of *kafka.Writer the channel uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChannel writes alerts as JSON records keyed by finding id, so all
// alerts for one finding land on the same partition.
type KafkaChannel struct {
	writer MessageWriter
}

// NewKafkaWriter creates a writer that waits for all in-sync replicas.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}
}

// NewKafkaChannel creates a channel over writer.
func NewKafkaChannel(writer MessageWriter) *KafkaChannel {
	return &KafkaChannel{writer: writer}
}

// Name implements Channel.
func (c *KafkaChannel) Name() string {
	return "kafka"
}

// Publish implements Channel. The returned id is also sent as the
// "message_id" header.
func (c *KafkaChannel) Publish(ctx context.Context, msg Message) (string, error) {
	value, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	id := uuid.New().String()
	err = c.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.FindingID),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte(id)},
		},
	})
	if err != nil {
		return "", responderr.NotificationDelivery(c.Name(), err)
	}
	return id, nil
}

// Close flushes and closes the writer.
func (c *KafkaChannel) Close() error {
	return c.writer.Close()
}
