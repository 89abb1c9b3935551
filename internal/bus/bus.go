// Package bus abstracts the event stream the gateway mirrors readings
// and fleet snapshots to. Subjects are relative to the client's prefix.
package bus

import (
	"context"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

type PullConsumer interface {
	// Fetch blocks up to wait time, returning up to batch messages. An
	// empty result with a nil error means nothing arrived in time.
	Fetch(ctx context.Context, batch int, wait time.Duration) ([]Message, error)
	Close() error
}

// Message must be settled exactly once with Ack, Nak or Term.
type Message interface {
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}
