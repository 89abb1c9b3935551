package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// override is set at link time:
//
//	go build -ldflags "-X coffee-telemetry/internal/version.override=1.2.3"
var override string

func String() string {
	if override != "" {
		return override
	}
	return strings.TrimSpace(raw)
}

// UserAgent identifies outbound requests made by component.
func UserAgent(component string) string {
	return "coffee-telemetry-" + component + "/" + String()
}
