package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.Regexp(t, `^\d+\.\d+\.\d+`, String())
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "coffee-telemetry-gateway/"+String(), UserAgent("gateway"))
}
