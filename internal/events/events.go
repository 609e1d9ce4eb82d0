// Package events publishes lamp and mode commands accepted by the relay.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type CommandEvent struct {
	Command string    `json:"command"`
	Value   bool      `json:"value"`
	At      time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev CommandEvent) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes one message per command, keyed by command name so a
// command's history stays on one partition.
type Kafka struct {
	w messageWriter
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

func (k *Kafka) Publish(ctx context.Context, ev CommandEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode command event: %w", err)
	}
	if err := k.w.WriteMessages(ctx, kafka.Message{Key: []byte(ev.Command), Value: payload, Time: ev.At}); err != nil {
		return fmt.Errorf("publish command event: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.w.Close()
}

// Nop drops events.
type Nop struct{}

func (Nop) Publish(context.Context, CommandEvent) error { return nil }
func (Nop) Close() error { return nil }
