package events

import (
	"sort"

	"github.com/google/uuid"
	"github.com/jhump/protoreflect/dynamic"

	"coffee-telemetry/internal/telemetry"
)

func NewID() string { return uuid.NewString() }

func Subject(prefix, topic string) string {
	if prefix == "" {
		return topic
	}
	return prefix + "." + topic
}

func (s *Schema) newReading(e telemetry.Envelope) *dynamic.Message {
	m := dynamic.NewMessage(s.DeviceReading)
	m.SetFieldByName("device_id", e.DeviceID)
	m.SetFieldByName("total_cups", e.TotalCups)
	m.SetFieldByName("total_beans_usage", e.TotalBeansUsage)
	return m
}

// DeviceReadingEvent wraps a single reading in an Envelope.
func (s *Schema) DeviceReadingEvent(source string, e telemetry.Envelope) *dynamic.Message {
	env := s.NewEnvelope(DeviceReading, source)
	env.SetFieldByName("device_reading", s.newReading(e))
	return env
}

// FleetSnapshotEvent wraps the aggregated mapping in an Envelope.
// Devices are ordered by id so equal snapshots encode identically.
func (s *Schema) FleetSnapshotEvent(source, topic string, snap map[string]telemetry.Envelope) *dynamic.Message {
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fs := dynamic.NewMessage(s.FleetSnapshot)
	fs.SetFieldByName("topic", topic)
	for _, id := range ids {
		fs.AddRepeatedFieldByName("devices", s.newReading(snap[id]))
	}

	env := s.NewEnvelope(FleetSnapshot, source)
	env.SetFieldByName("fleet_snapshot", fs)
	return env
}
