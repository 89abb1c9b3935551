// Command gateway is the core side of the kit: it answers discovery
// requests, hosts the MQTT broker, aggregates readings and forwards the
// fleet to the configured cloud sinks. GATEWAY_MODE=lambda runs only the
// aggregation as an AWS Lambda handler.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"coffee-telemetry/internal/config"
	"coffee-telemetry/internal/logging"
	"coffee-telemetry/internal/version"
)

func main() {
	cfg, err := config.LoadGateway()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(config.ExitUsage)
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: log level: %v\n", err)
		os.Exit(config.ExitUsage)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting gateway", zap.String("version", version.String()), zap.String("mode", cfg.Mode))

	if cfg.Mode == "lambda" {
		if err := runLambda(cfg, log); err != nil {
			log.Error("lambda setup", zap.Error(err))
			_ = log.Sync()
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := runServer(ctx, cfg, log); err != nil {
		log.Error("gateway stopped", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}
