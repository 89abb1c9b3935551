package forward

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"coffee-telemetry/internal/core/fleet"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes snapshots keyed by cloud topic so they stay ordered on
// one partition.
type Kafka struct {
	w messageWriter
}

func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka: empty topic")
	}
	return &Kafka{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}}, nil
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Forward(ctx context.Context, topic string, snap fleet.Snapshot) error {
	body, err := Payload(snap)
	if err != nil {
		return err
	}
	if err := k.w.WriteMessages(ctx, kafka.Message{Key: []byte(topic), Value: body}); err != nil {
		return fmt.Errorf("kafka: write: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error { return k.w.Close() }
