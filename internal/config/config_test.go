package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffee-telemetry/internal/discovery"
)

type files struct {
	root, cert, key string
}

func writeFiles(t *testing.T) files {
	t.Helper()
	dir := t.TempDir()
	f := files{
		root: filepath.Join(dir, "root.pem"),
		cert: filepath.Join(dir, "device.crt"),
		key:  filepath.Join(dir, "device.key"),
	}
	for _, p := range []string{f.root, f.cert, f.key} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	}
	return f
}

func configCode(t *testing.T, err error) int {
	t.Helper()
	var ce *ConfigError
	require.True(t, errors.As(err, &ce), "want *ConfigError, got %T: %v", err, err)
	return ce.Code
}

func TestParseSimulator_Defaults(t *testing.T) {
	f := writeFiles(t)
	c, err := ParseSimulator([]string{
		"-e", "gateway.local", "-r", f.root, "-c", f.cert, "-k", f.key, "-i", "1, 2,,3",
	}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, "gateway.local", c.Endpoint)
	assert.Equal(t, "Coffeemachine", c.ThingName)
	assert.Equal(t, "dt/coffeemonitor/machine", c.Topic)
	assert.Equal(t, []string{"1", "2", "3"}, c.DeviceIDs)
	assert.Equal(t, discovery.DefaultPort, c.DiscoveryPort)
	assert.Equal(t, 1, c.DiscoveryAttempts)
	assert.Equal(t, 10*time.Second, c.DiscoveryTimeout)
	assert.Equal(t, time.Second, c.Interval)
	assert.Equal(t, 0.7, c.Consumption.BrewProbability)
	assert.Equal(t, int64(10), c.Consumption.BeansMin)
	assert.Equal(t, int64(20), c.Consumption.BeansMax)
}

func TestParseSimulator_LongFlags(t *testing.T) {
	f := writeFiles(t)
	c, err := ParseSimulator([]string{
		"--endpoint", "gw", "--rootCA", f.root, "--cert", f.cert, "--key", f.key,
		"--thingName", "Other", "--topic", "base", "--deviceIdList", "A,B",
		"-discovery-retries", "3", "-brew-probability", "0.5",
	}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "Other", c.ThingName)
	assert.Equal(t, "base", c.Topic)
	assert.Equal(t, []string{"A", "B"}, c.DeviceIDs)
	assert.Equal(t, 3, c.DiscoveryAttempts)
	assert.Equal(t, 0.5, c.Consumption.BrewProbability)
}

func TestParseSimulator_Errors(t *testing.T) {
	f := writeFiles(t)
	missing := filepath.Join(t.TempDir(), "missing")

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"missing cert", []string{"-e", "gw", "-r", f.root, "-k", f.key, "-i", "A"}, ExitUsage},
		{"missing key", []string{"-e", "gw", "-r", f.root, "-c", f.cert, "-i", "A"}, ExitUsage},
		{"missing endpoint", []string{"-r", f.root, "-c", f.cert, "-k", f.key, "-i", "A"}, ExitUsage},
		{"unknown flag", []string{"-bogus"}, ExitUsage},
		{"empty device list", []string{"-e", "gw", "-r", f.root, "-c", f.cert, "-k", f.key, "-i", " , "}, ExitInvalidInput},
		{"no device list", []string{"-e", "gw", "-r", f.root, "-c", f.cert, "-k", f.key}, ExitInvalidInput},
		{"root CA not found", []string{"-e", "gw", "-r", missing, "-c", f.cert, "-k", f.key, "-i", "A"}, ExitInvalidInput},
		{"cert not found", []string{"-e", "gw", "-r", f.root, "-c", missing, "-k", f.key, "-i", "A"}, ExitInvalidInput},
		{"key not found", []string{"-e", "gw", "-r", f.root, "-c", f.cert, "-k", missing, "-i", "A"}, ExitInvalidInput},
		{"root CA is a directory", []string{"-e", "gw", "-r", filepath.Dir(f.root), "-c", f.cert, "-k", f.key, "-i", "A"}, ExitInvalidInput},
		{"bad probability", []string{"-e", "gw", "-r", f.root, "-c", f.cert, "-k", f.key, "-i", "A", "-brew-probability", "2"}, ExitUsage},
		{"beans max overflows", []string{"-e", "gw", "-r", f.root, "-c", f.cert, "-k", f.key, "-i", "A", "-beans-min", "0", "-beans-max", "9223372036854775807"}, ExitUsage},
		{"zero retries", []string{"-e", "gw", "-r", f.root, "-c", f.cert, "-k", f.key, "-i", "A", "-discovery-retries", "0"}, ExitUsage},
		{"stray argument", []string{"-e", "gw", "-r", f.root, "-c", f.cert, "-k", f.key, "-i", "A", "extra"}, ExitUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSimulator(tt.args, &bytes.Buffer{})
			require.Error(t, err)
			assert.Equal(t, tt.code, configCode(t, err))
		})
	}
}

func TestParseSimulator_Help(t *testing.T) {
	var out bytes.Buffer
	_, err := ParseSimulator([]string{"-h"}, &out)
	assert.Equal(t, 0, configCode(t, err))
	assert.Contains(t, out.String(), "deviceIdList")
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList(""))
	assert.Equal(t, []string{"a", "b"}, SplitList(" a ,b,"))
}

func TestLoadGateway_Defaults(t *testing.T) {
	g, err := LoadGateway()
	require.NoError(t, err)
	assert.Equal(t, "server", g.Mode)
	assert.Equal(t, ":8081", g.HTTPAddr)
	assert.Equal(t, "dt/coffeemonitor/machine/+", g.IngestTopic)
	assert.Equal(t, "dt/coffeemonitor/machines", g.CloudTopic)
	assert.Equal(t, "log", g.Sinks)
	assert.Equal(t, "coffee", g.NATS.Prefix)
	assert.Equal(t, 5*time.Second, g.NATS.Timeout)
	assert.Equal(t, "info", g.Logging.Level)
	assert.False(t, g.StrictClientID)
}

func TestLoadGateway_FromEnv(t *testing.T) {
	t.Setenv("GATEWAY_CONNECTIVITY", "10.0.0.1:8883,core.local:443")
	t.Setenv("CLOUD_SINKS", "nats,kafka")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("KAFKA_BROKERS", "k1:9092")
	t.Setenv("GATEWAY_STRICT_CLIENT_ID", "true")

	g, err := LoadGateway()
	require.NoError(t, err)
	assert.True(t, g.StrictClientID)
	assert.Equal(t, "nats,kafka", g.Sinks)
	assert.Equal(t, "debug", g.Logging.Level)
	assert.Equal(t, "k1:9092", g.Kafka.Brokers)

	conn, err := g.ConnectivityList()
	require.NoError(t, err)
	require.Len(t, conn, 2)
	assert.Equal(t, discovery.Connectivity{ID: "0", HostAddress: "10.0.0.1", PortNumber: 8883}, conn[0])
	assert.Equal(t, "core.local", conn[1].HostAddress)
	assert.Equal(t, 443, conn[1].PortNumber)
}

func TestLoadGateway_BadValues(t *testing.T) {
	t.Setenv("GATEWAY_CONNECTIVITY", "no-port")
	_, err := LoadGateway()
	assert.Error(t, err)

	t.Setenv("GATEWAY_CONNECTIVITY", "127.0.0.1:8883")
	t.Setenv("GATEWAY_MODE", "batch")
	_, err = LoadGateway()
	assert.Error(t, err)
}
