// Command simulator impersonates a set of coffee machines: it discovers
// its core, connects over MQTT with mutual TLS and publishes one reading
// per machine every interval.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"coffee-telemetry/internal/config"
	"coffee-telemetry/internal/consumption"
	"coffee-telemetry/internal/discovery"
	"coffee-telemetry/internal/logging"
	"coffee-telemetry/internal/publish"
	"coffee-telemetry/internal/session"
)

const (
	exitOK              = 0
	exitError           = 1
	exitConnectFailed   = 254
	exitDiscoveryFailed = 255
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr, nil)
	stop()
	os.Exit(code)
}

// run executes the simulator and returns the process exit status. A nil
// dialer selects the MQTT dialer.
func run(ctx context.Context, args []string, stderr io.Writer, dialer session.Dialer) int {
	cfg, err := config.ParseSimulator(args, stderr)
	if err != nil {
		var ce *config.ConfigError
		if !errors.As(err, &ce) {
			return exitError
		}
		if ce.Code != exitOK {
			if log, lerr := logging.New(logging.Config{}); lerr == nil {
				log.Error("invalid configuration", zap.String("category", "config"), zap.Error(err))
				_ = log.Sync()
			}
		}
		return ce.Code
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "simulator: log level: %v\n", err)
		return config.ExitUsage
	}
	defer func() { _ = log.Sync() }()

	dc, err := discovery.New(discovery.Config{
		Host:        cfg.Endpoint,
		Port:        cfg.DiscoveryPort,
		RootCAPath:  cfg.RootCAPath,
		CertPath:    cfg.CertPath,
		KeyPath:     cfg.KeyPath,
		Timeout:     cfg.DiscoveryTimeout,
		MaxAttempts: cfg.DiscoveryAttempts,
		GroupCADir:  cfg.GroupCADir,
	}, log.Named("discovery"))
	if err != nil {
		log.Error("cannot load credentials", zap.String("category", "config"), zap.Error(err))
		return config.ExitInvalidInput
	}

	res, err := dc.Discover(ctx, cfg.ThingName)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("interrupted during discovery")
			return exitError
		}
		log.Error("discovery failed", zap.String("thing", cfg.ThingName), zap.Error(err))
		return exitDiscoveryFailed
	}
	log.Info("core discovered",
		zap.String("group_id", res.GroupID),
		zap.String("core_thing_arn", res.CoreThingArn),
		zap.Int("endpoints", len(res.Endpoints)),
	)

	if dialer == nil {
		dialer = session.MQTTDialer{
			ClientID:       cfg.ThingName,
			ConnectTimeout: cfg.ConnectTimeout,
			Log:            log.Named("mqtt"),
		}
	}
	conn := session.NewConnector(session.Credentials{CertPath: cfg.CertPath, KeyPath: cfg.KeyPath}, dialer, log.Named("session"))
	sess, err := conn.Connect(ctx, res)
	if err != nil {
		if errors.Is(err, session.ErrConnectionExhausted) {
			log.Error("connect failed", zap.Error(err))
			return exitConnectFailed
		}
		log.Error("connect aborted", zap.Error(err))
		return exitError
	}
	defer sess.Close()

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	model, err := consumption.New(cfg.Consumption, rand.New(rand.NewSource(seed)))
	if err != nil {
		log.Error("consumption model", zap.String("category", "config"), zap.Error(err))
		return config.ExitUsage
	}
	loop, err := publish.New(publish.Config{
		BaseTopic: cfg.Topic,
		DeviceIDs: cfg.DeviceIDs,
		Interval:  cfg.Interval,
	}, model, sess, publish.NewStateStore(), log.Named("publish"))
	if err != nil {
		log.Error("publish loop", zap.Error(err))
		return exitError
	}

	log.Info("publishing readings",
		zap.Stringer("endpoint", sess.Endpoint()),
		zap.Strings("devices", cfg.DeviceIDs),
		zap.Duration("interval", cfg.Interval),
	)
	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("publish loop stopped", zap.Error(err))
		return exitError
	}
	log.Info("stopped")
	return exitOK
}
