package events

import (
	"fmt"

	"github.com/jhump/protoreflect/dynamic"

	"coffee-telemetry/internal/telemetry"
)

func Marshal(m *dynamic.Message) ([]byte, error) {
	return m.Marshal()
}

func UnmarshalEnvelope(schema *Schema, b []byte) (*dynamic.Message, error) {
	if schema == nil || schema.Envelope == nil {
		return nil, fmt.Errorf("schema not loaded")
	}
	m := dynamic.NewMessage(schema.Envelope)
	if err := m.Unmarshal(b); err != nil {
		return nil, err
	}
	return m, nil
}

func readingFrom(m *dynamic.Message) telemetry.Envelope {
	return telemetry.Envelope{
		DeviceID:        m.GetFieldByName("device_id").(string),
		TotalCups:       m.GetFieldByName("total_cups").(int64),
		TotalBeansUsage: m.GetFieldByName("total_beans_usage").(int64),
	}
}

// DeviceReadingFrom extracts the reading payload of an Envelope.
func DeviceReadingFrom(env *dynamic.Message) (telemetry.Envelope, error) {
	if env.GetFieldByName("subject").(string) != DeviceReading {
		return telemetry.Envelope{}, fmt.Errorf("events: not a device reading: %s", env.GetFieldByName("subject"))
	}
	p, ok := env.GetFieldByName("device_reading").(*dynamic.Message)
	if !ok || p == nil {
		return telemetry.Envelope{}, fmt.Errorf("events: empty device reading")
	}
	return readingFrom(p), nil
}

// FleetSnapshotFrom extracts the cloud topic and mapping of an Envelope.
func FleetSnapshotFrom(env *dynamic.Message) (string, map[string]telemetry.Envelope, error) {
	if env.GetFieldByName("subject").(string) != FleetSnapshot {
		return "", nil, fmt.Errorf("events: not a fleet snapshot: %s", env.GetFieldByName("subject"))
	}
	p, ok := env.GetFieldByName("fleet_snapshot").(*dynamic.Message)
	if !ok || p == nil {
		return "", nil, fmt.Errorf("events: empty fleet snapshot")
	}
	out := map[string]telemetry.Envelope{}
	devices, _ := p.GetFieldByName("devices").([]interface{})
	for _, v := range devices {
		if dm, ok := v.(*dynamic.Message); ok && dm != nil {
			r := readingFrom(dm)
			out[r.DeviceID] = r
		}
	}
	return p.GetFieldByName("topic").(string), out, nil
}
