// Package publish drives the simulator's steady state: every tick each
// tracked machine gets a new reading that is published to its topic.
package publish

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"coffee-telemetry/internal/consumption"
	"coffee-telemetry/internal/telemetry"
)

const DefaultInterval = time.Second

// Publisher sends a payload without waiting for broker acknowledgement.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

type Config struct {
	BaseTopic string
	DeviceIDs []string
	Interval  time.Duration
}

type Loop struct {
	cfg    Config
	model  *consumption.Model
	pub    Publisher
	states *StateStore
	log    *zap.Logger
}

func New(cfg Config, model *consumption.Model, pub Publisher, states *StateStore, log *zap.Logger) (*Loop, error) {
	if len(cfg.DeviceIDs) == 0 {
		return nil, errors.New("publish: no device ids")
	}
	if model == nil || pub == nil || states == nil {
		return nil, errors.New("publish: model, publisher and state store are required")
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = telemetry.DefaultBaseTopic
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{cfg: cfg, model: model, pub: pub, states: states, log: log}, nil
}

// Run ticks immediately and then once per interval until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.Tick()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.Tick()
		}
	}
}

// Tick updates and publishes every device once, in configured order.
// A failed publish is logged and does not affect the other devices.
func (l *Loop) Tick() {
	for _, id := range l.cfg.DeviceIDs {
		next := l.model.Next(l.states.Get(id))
		l.states.Set(id, next)

		env := telemetry.NewEnvelope(id, next)
		payload, err := env.Marshal()
		if err != nil {
			l.log.Error("encode envelope", zap.String("category", "publish"), zap.String("device_id", id), zap.Error(err))
			continue
		}
		topic := telemetry.DeviceTopic(l.cfg.BaseTopic, id)
		if err := l.pub.Publish(topic, payload); err != nil {
			l.log.Warn("publish failed",
				zap.String("category", "publish"),
				zap.String("topic", topic),
				zap.Error(err),
			)
			continue
		}
		l.log.Info("published", zap.String("topic", topic), zap.ByteString("payload", payload))
	}
}
