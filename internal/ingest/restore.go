package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/jhump/protoreflect/dynamic"
	"go.uber.org/zap"

	"coffee-telemetry/internal/bus"
	"coffee-telemetry/internal/core/fleet"
	"coffee-telemetry/internal/events"
	"coffee-telemetry/internal/telemetry"
)

const restoreBatch = 64

// Restore drains pc into store until a fetch comes back empty, so a
// restarted gateway shows the devices it knew before. Fleet snapshots
// and single readings are both accepted; later messages win. Messages
// that do not decode are terminated and skipped. It returns the number
// of readings applied.
func Restore(ctx context.Context, pc bus.PullConsumer, store *fleet.Store, wait time.Duration, log *zap.Logger) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	schema, err := events.LoadSchema()
	if err != nil {
		return 0, fmt.Errorf("restore: %w", err)
	}

	applied := 0
	for {
		msgs, err := pc.Fetch(ctx, restoreBatch, wait)
		if err != nil {
			return applied, fmt.Errorf("restore: fetch: %w", err)
		}
		if len(msgs) == 0 {
			break
		}
		now := time.Now().UTC()
		for _, m := range msgs {
			readings, err := readingsOf(schema, m.Data())
			if err != nil {
				log.Warn("skip undecodable event", zap.String("category", "bus"), zap.Error(err))
				_ = m.Term()
				continue
			}
			for _, e := range readings {
				store.Upsert(e, now)
			}
			applied += len(readings)
			if err := m.Ack(); err != nil {
				log.Debug("ack restored event", zap.Error(err))
			}
		}
	}
	if applied > 0 {
		log.Info("fleet restored from bus", zap.Int("readings", applied), zap.Int("devices", store.Len()))
	}
	return applied, nil
}

func readingsOf(schema *events.Schema, b []byte) ([]telemetry.Envelope, error) {
	env, err := events.UnmarshalEnvelope(schema, b)
	if err != nil {
		return nil, err
	}
	switch subject, _ := env.GetFieldByName("subject").(string); subject {
	case events.DeviceReading:
		e, err := events.DeviceReadingFrom(env)
		if err != nil {
			return nil, err
		}
		return []telemetry.Envelope{e}, nil
	case events.FleetSnapshot:
		return snapshotReadings(env)
	default:
		return nil, fmt.Errorf("unexpected subject %q", subject)
	}
}

func snapshotReadings(env *dynamic.Message) ([]telemetry.Envelope, error) {
	_, snap, err := events.FleetSnapshotFrom(env)
	if err != nil {
		return nil, err
	}
	out := make([]telemetry.Envelope, 0, len(snap))
	for _, e := range snap {
		out = append(out, e)
	}
	return out, nil
}
