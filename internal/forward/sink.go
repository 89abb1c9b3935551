// Package forward delivers fleet snapshots to cloud sinks.
package forward

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"coffee-telemetry/internal/core/fleet"
)

// Sink publishes the aggregated fleet under a cloud topic.
type Sink interface {
	Name() string
	Forward(ctx context.Context, topic string, snap fleet.Snapshot) error
}

// Payload is the JSON body shared by every text based sink: an object
// keyed by device id.
func Payload(snap fleet.Snapshot) ([]byte, error) {
	if snap == nil {
		snap = fleet.Snapshot{}
	}
	return json.Marshal(snap)
}

// Fanout forwards to every sink and joins their errors. A failing sink
// does not prevent delivery to the others.
type Fanout struct {
	sinks []Sink
	log   *zap.Logger
}

func NewFanout(log *zap.Logger, sinks ...Sink) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{sinks: sinks, log: log}
}

func (f *Fanout) Name() string { return "fanout" }

func (f *Fanout) Sinks() []string {
	out := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		out = append(out, s.Name())
	}
	return out
}

func (f *Fanout) Forward(ctx context.Context, topic string, snap fleet.Snapshot) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Forward(ctx, topic, snap); err != nil {
			f.log.Warn("sink failed", zap.String("category", "forward"), zap.String("sink", s.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close releases sinks holding connections.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Log writes each snapshot to the logger. It stands in for a cloud
// sink in local runs.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{log: log}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Forward(_ context.Context, topic string, snap fleet.Snapshot) error {
	b, err := Payload(snap)
	if err != nil {
		return err
	}
	l.log.Info("publishing fleet snapshot",
		zap.String("topic", topic),
		zap.Int("devices", len(snap)),
		zap.ByteString("payload", b),
	)
	return nil
}
