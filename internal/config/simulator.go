package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"coffee-telemetry/internal/consumption"
	"coffee-telemetry/internal/discovery"
	"coffee-telemetry/internal/logging"
	"coffee-telemetry/internal/publish"
	"coffee-telemetry/internal/session"
	"coffee-telemetry/internal/telemetry"
)

// Exit codes for configuration problems.
const (
	ExitUsage        = 2
	ExitInvalidInput = 3
)

// ConfigError is reported before any network activity. Code is the
// process exit status.
type ConfigError struct {
	Code int
	Msg  string
}

func (e *ConfigError) Error() string { return e.Msg }

func usageErr(format string, args ...any) error {
	return &ConfigError{Code: ExitUsage, Msg: fmt.Sprintf(format, args...)}
}

func inputErr(format string, args ...any) error {
	return &ConfigError{Code: ExitInvalidInput, Msg: fmt.Sprintf(format, args...)}
}

type Simulator struct {
	Endpoint   string
	RootCAPath string
	CertPath   string
	KeyPath    string
	ThingName  string
	Topic      string
	DeviceIDs  []string

	DiscoveryPort     int
	DiscoveryAttempts int
	DiscoveryTimeout  time.Duration
	GroupCADir        string
	ConnectTimeout    time.Duration

	Interval    time.Duration
	Consumption consumption.Params
	Seed        int64

	Logging logging.Config
}

// ParseSimulator parses and validates args (without the program name).
// Every returned error is a *ConfigError.
func ParseSimulator(args []string, stderr io.Writer) (Simulator, error) {
	var (
		c       Simulator
		devices string
	)
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	fs.SetOutput(stderr)

	stringVar(fs, &c.Endpoint, "e", "endpoint", "", "Discovery endpoint host")
	stringVar(fs, &c.RootCAPath, "r", "rootCA", "", "Root CA file path")
	stringVar(fs, &c.CertPath, "c", "cert", "", "Certificate file path")
	stringVar(fs, &c.KeyPath, "k", "key", "", "Private key file path")
	stringVar(fs, &c.ThingName, "n", "thingName", "Coffeemachine", "Targeted thing name")
	stringVar(fs, &c.Topic, "t", "topic", telemetry.DefaultBaseTopic, "Targeted topic")
	stringVar(fs, &devices, "i", "deviceIdList", "", "Comma separated device ids to include in MQTT messages")

	def := consumption.DefaultParams()
	fs.IntVar(&c.DiscoveryPort, "discovery-port", discovery.DefaultPort, "Discovery endpoint port")
	fs.IntVar(&c.DiscoveryAttempts, "discovery-retries", discovery.DefaultMaxAttempts, "Maximum discovery attempts")
	fs.DurationVar(&c.DiscoveryTimeout, "discovery-timeout", discovery.DefaultTimeout, "Discovery request timeout")
	fs.StringVar(&c.GroupCADir, "group-ca-dir", discovery.DefaultGroupCADir, "Directory for discovered group CAs")
	fs.DurationVar(&c.ConnectTimeout, "connect-timeout", session.DefaultConnectTimeout, "MQTT connect timeout per endpoint")
	fs.DurationVar(&c.Interval, "interval", publish.DefaultInterval, "Publish period")
	fs.Float64Var(&c.Consumption.BrewProbability, "brew-probability", def.BrewProbability, "Chance of brewing a cup per tick")
	fs.Int64Var(&c.Consumption.BeansMin, "beans-min", def.BeansMin, "Minimum beans per cup")
	fs.Int64Var(&c.Consumption.BeansMax, "beans-max", def.BeansMax, "Maximum beans per cup")
	fs.Int64Var(&c.Seed, "seed", 0, "Random seed (0 uses the clock)")
	fs.StringVar(&c.Logging.Level, "log-level", "info", "Log level")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return c, &ConfigError{Code: 0, Msg: "help requested"}
		}
		return c, usageErr("%v", err)
	}
	if fs.NArg() > 0 {
		return c, usageErr("unexpected arguments: %v", fs.Args())
	}

	c.DeviceIDs = SplitList(devices)
	if err := c.validate(); err != nil {
		fmt.Fprintf(stderr, "simulator: %v\n", err)
		return c, err
	}
	return c, nil
}

// validate keeps the historical check order: device list, credentials,
// then file existence.
func (c Simulator) validate() error {
	if len(c.DeviceIDs) == 0 {
		return inputErr("no device id list found")
	}
	if c.Endpoint == "" {
		return usageErr("missing endpoint, specify --endpoint")
	}
	if c.RootCAPath == "" {
		return usageErr("missing root CA, specify --rootCA")
	}
	if c.CertPath == "" || c.KeyPath == "" {
		return usageErr("missing credentials for authentication, you must specify --cert and --key")
	}
	if !isFile(c.RootCAPath) {
		return inputErr("root CA path does not exist %s", c.RootCAPath)
	}
	if !isFile(c.CertPath) {
		return inputErr("no certificate found at %s", c.CertPath)
	}
	if !isFile(c.KeyPath) {
		return inputErr("no private key found at %s", c.KeyPath)
	}
	if c.DiscoveryPort <= 0 || c.DiscoveryPort > 65535 {
		return usageErr("discovery port %d out of range", c.DiscoveryPort)
	}
	if c.DiscoveryAttempts < 1 {
		return usageErr("discovery retries must be at least 1")
	}
	if c.Interval <= 0 {
		return usageErr("interval must be positive")
	}
	if err := c.Consumption.Validate(); err != nil {
		return usageErr("%v", err)
	}
	return nil
}

// SplitList splits a comma separated list, dropping blank items.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func stringVar(fs *flag.FlagSet, p *string, short, long, value, usage string) {
	fs.StringVar(p, short, value, usage)
	fs.StringVar(p, long, value, usage+" (long form of -"+short+")")
}

func isFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}
