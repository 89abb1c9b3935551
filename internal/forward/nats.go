package forward

import (
	"context"
	"fmt"

	"coffee-telemetry/internal/bus"
	"coffee-telemetry/internal/core/fleet"
	"coffee-telemetry/internal/events"
)

// NATS publishes a protobuf FleetSnapshot envelope on the bus.
type NATS struct {
	pub    bus.Publisher
	schema *events.Schema
	source string
}

func NewNATS(pub bus.Publisher, source string) (*NATS, error) {
	if pub == nil {
		return nil, fmt.Errorf("nats: nil publisher")
	}
	schema, err := events.LoadSchema()
	if err != nil {
		return nil, fmt.Errorf("nats: %w", err)
	}
	return &NATS{pub: pub, schema: schema, source: source}, nil
}

func (n *NATS) Name() string { return "nats" }

func (n *NATS) Forward(ctx context.Context, topic string, snap fleet.Snapshot) error {
	b, err := events.Marshal(n.schema.FleetSnapshotEvent(n.source, topic, snap))
	if err != nil {
		return fmt.Errorf("nats: encode: %w", err)
	}
	if err := n.pub.Publish(ctx, events.FleetSnapshot, b); err != nil {
		return fmt.Errorf("nats: publish: %w", err)
	}
	return nil
}
