package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink writes events to a topic keyed by cell, so one cell's events
// stay ordered on one partition.
type KafkaSink struct {
	brokers []string
	topic   string
}

// NewKafkaSink takes a comma separated broker list.
func NewKafkaSink(brokers, topic string) *KafkaSink {
	if topic == "" {
		topic = "crossbuild.events"
	}
	var list []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			list = append(list, b)
		}
	}
	return &KafkaSink{brokers: list, topic: topic}
}

func (k *KafkaSink) ensure() error {
	if len(k.brokers) == 0 {
		return errors.New("kafka brokers not configured")
	}
	return nil
}

func (k *KafkaSink) writer() *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(k.brokers...),
		Topic:        k.topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func (k *KafkaSink) Emit(ctx context.Context, ev Event) error {
	if err := k.ensure(); err != nil {
		return err
	}
	msg, err := message(ev)
	if err != nil {
		return err
	}
	w := k.writer()
	defer w.Close()
	return w.WriteMessages(ctx, msg)
}

func message(ev Event) (kafka.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.Cell),
		Value: data,
		Headers: []kafka.Header{
			{Key: "run_id", Value: []byte(ev.RunID)},
			{Key: "status", Value: []byte(ev.Status)},
		},
	}, nil
}

// List is a best-effort peek at recent events.
func (k *KafkaSink) List(ctx context.Context) ([]Event, error) {
	if err := k.ensure(); err != nil {
		return nil, err
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       k.topic,
		GroupID:     "crossbuild-peek",
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer r.Close()
	items := []Event{}
	deadline, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for len(items) < 100 {
		m, err := r.ReadMessage(deadline)
		if err != nil {
			break
		}
		var ev Event
		if err := json.Unmarshal(m.Value, &ev); err == nil {
			items = append(items, ev)
		}
	}
	return items, nil
}
