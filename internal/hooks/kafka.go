package hooks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/JonMunkholm/checkin/internal/core"
)

// EventType is the header value identifying completion events.
const EventType = "ingest.completed"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes completion events as JSON, keyed by inspection id so the
// events of one inspection stay in one partition.
type Kafka struct {
	w messageWriter
}

// NewKafka returns a Kafka hook writing to topic.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}}
}

// OnCompleted implements Hook.
func (k *Kafka) OnCompleted(ctx context.Context, ev core.CompletionEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode completion event: %w", err)
	}

	err = k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.InspectionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(EventType)},
			{Key: "file_id", Value: []byte(ev.FileID)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish completion of %s: %w", ev.FileID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.w.Close()
}
