// Package telemetry defines the per-device message exchanged between
// the simulator and the gateway.
package telemetry

import (
	"encoding/json"

	"coffee-telemetry/internal/consumption"
)

// Envelope is published once per device per tick.
type Envelope struct {
	DeviceID        string `json:"device_id"`
	TotalCups       int64  `json:"total_cups"`
	TotalBeansUsage int64  `json:"total_beans_usage"`
}

func NewEnvelope(deviceID string, s consumption.DeviceState) Envelope {
	return Envelope{
		DeviceID:        deviceID,
		TotalCups:       s.TotalCups,
		TotalBeansUsage: s.TotalBeansUsage,
	}
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func (e Envelope) State() consumption.DeviceState {
	return consumption.DeviceState{TotalCups: e.TotalCups, TotalBeansUsage: e.TotalBeansUsage}
}
