// Package ingest journals ride lifecycle transitions to Kafka for fleet
// analytics. Journaling is optional and best-effort; ride flow never blocks
// on it.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-client/internal/models"
)

// TransitionEvent is one ride state change as emitted to the journal.
type TransitionEvent struct {
	BookingID string            `json:"booking_id"`
	From      models.RideStatus `json:"from"`
	To        models.RideStatus `json:"to"`
	At        time.Time         `json:"at"`
}

type KafkaJournal struct {
	writer *kafka.Writer
}

func NewKafkaJournal(brokers []string, topic string) *KafkaJournal {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaJournal{writer: w}
}

func (k *KafkaJournal) RecordTransition(ev TransitionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.BookingID), Value: b})
}

func (k *KafkaJournal) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
