// Package ingest turns raw device readings into fleet updates and
// forwards the aggregated fleet to the cloud.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"coffee-telemetry/internal/bus"
	"coffee-telemetry/internal/core/fleet"
	"coffee-telemetry/internal/events"
	"coffee-telemetry/internal/metrics"
	"coffee-telemetry/internal/telemetry"
)

// Forwarder receives the fleet snapshot after every accepted reading.
type Forwarder interface {
	Forward(ctx context.Context, topic string, snap fleet.Snapshot) error
}

type Config struct {
	CloudTopic string
	Metrics    *metrics.Metrics
	// Events, when set, receives a device.reading event per accepted
	// reading. Source names this gateway in those events.
	Events bus.Publisher
	Source string
}

type Processor struct {
	v     *validator
	store *fleet.Store
	fwd   Forwarder
	topic string
	m     *metrics.Metrics
	log   *zap.Logger
	now   func() time.Time

	events *events.Schema
	pub    bus.Publisher
	source string

	fwdMu   sync.Mutex
	fwdSent uint64
}

func New(cfg Config, store *fleet.Store, fwd Forwarder, log *zap.Logger) (*Processor, error) {
	if store == nil {
		return nil, fmt.Errorf("ingest: nil fleet store")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CloudTopic == "" {
		cfg.CloudTopic = telemetry.DefaultCloudTopic
	}
	if cfg.Source == "" {
		cfg.Source = "gateway"
	}
	v, err := newValidator()
	if err != nil {
		return nil, err
	}
	p := &Processor{
		v:      v,
		store:  store,
		fwd:    fwd,
		topic:  cfg.CloudTopic,
		m:      cfg.Metrics,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
		pub:    cfg.Events,
		source: cfg.Source,
	}
	if cfg.Events != nil {
		if p.events, err = events.LoadSchema(); err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
	}
	return p, nil
}

// Handle validates payload, records it in the fleet and forwards the
// resulting snapshot. A forward failure is returned but the fleet keeps
// the new reading.
func (p *Processor) Handle(ctx context.Context, payload []byte) (fleet.Snapshot, error) {
	if err := p.v.validate(payload); err != nil {
		p.log.Warn("rejected reading", zap.String("category", "ingest"), zap.ByteString("payload", payload), zap.Error(err))
		p.m.Rejected()
		return nil, err
	}
	var e telemetry.Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		p.log.Warn("rejected reading", zap.String("category", "ingest"), zap.Error(err))
		p.m.Rejected()
		return nil, err
	}

	d, snap, version := p.store.UpsertSnapshot(e, p.now())
	p.m.Accepted(len(snap))
	p.log.Debug("reading accepted",
		zap.String("device_id", d.DeviceID),
		zap.Int64("total_cups", d.TotalCups),
		zap.Int64("total_beans_usage", d.TotalBeansUsage),
		zap.Int("fleet_size", len(snap)),
	)
	p.publishReading(ctx, e)

	if p.fwd == nil {
		return snap, nil
	}
	if err := p.forward(ctx, snap, version); err != nil {
		p.log.Error("forward fleet snapshot", zap.String("category", "forward"), zap.String("topic", p.topic), zap.Error(err))
		p.m.ForwardFailed(p.topic)
		return snap, fmt.Errorf("forward: %w", err)
	}
	return snap, nil
}

// forward sends snapshots in store order. A snapshot older than one
// already sent is skipped; the newer one contains its reading.
func (p *Processor) forward(ctx context.Context, snap fleet.Snapshot, version uint64) error {
	p.fwdMu.Lock()
	defer p.fwdMu.Unlock()
	if version <= p.fwdSent {
		p.log.Debug("stale snapshot skipped", zap.Uint64("version", version), zap.Uint64("sent", p.fwdSent))
		return nil
	}
	if err := p.fwd.Forward(ctx, p.topic, snap); err != nil {
		return err
	}
	p.fwdSent = version
	return nil
}

// publishReading mirrors the reading on the bus. The bus is an audit
// trail, so failures are logged and never fail the reading.
func (p *Processor) publishReading(ctx context.Context, e telemetry.Envelope) {
	if p.pub == nil {
		return
	}
	b, err := events.Marshal(p.events.DeviceReadingEvent(p.source, e))
	if err == nil {
		err = p.pub.Publish(ctx, events.DeviceReading, b)
	}
	if err != nil {
		p.log.Warn("publish reading event", zap.String("category", "bus"), zap.String("device_id", e.DeviceID), zap.Error(err))
	}
}
