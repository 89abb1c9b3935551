package telemetry

import "strings"

// Topic naming: <base>/<device_id> for readings, one cloud topic for
// the aggregated fleet.
const (
	DefaultBaseTopic   = "dt/coffeemonitor/machine"
	DefaultCloudTopic  = "dt/coffeemonitor/machines"
	DefaultIngestTopic = DefaultBaseTopic + "/+"
)

func DeviceTopic(base, deviceID string) string {
	return base + "/" + deviceID
}

// MatchTopic reports whether topic matches an MQTT filter with + and #
// wildcards.
func MatchTopic(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, f := range fl {
		if f == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
