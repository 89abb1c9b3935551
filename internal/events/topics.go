package events

// Subject naming: <prefix>.<domain>.<name>
// Prefix is configured per deployment (e.g. "coffee").

const (
	DomainDevice = "device"
	DomainFleet  = "fleet"
)

const (
	DeviceReading = DomainDevice + ".reading"
	FleetSnapshot = DomainFleet + ".snapshot"
)
