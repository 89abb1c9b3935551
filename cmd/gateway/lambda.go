package main

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"coffee-telemetry/internal/bus/natsjs"
	"coffee-telemetry/internal/config"
	"coffee-telemetry/internal/core/fleet"
	"coffee-telemetry/internal/ingest"
)

// runLambda serves readings delivered as Lambda events. The fleet lives
// as long as the execution environment.
func runLambda(cfg config.Gateway, log *zap.Logger) error {
	ctx := context.Background()

	var deps sinkDeps
	icfg := ingest.Config{CloudTopic: cfg.CloudTopic, Source: "lambda"}
	if wantsSink(cfg, "nats") {
		c, err := natsjs.Connect(natsjs.Config{URL: cfg.NATS.URL, Prefix: cfg.NATS.Prefix, Timeout: cfg.NATS.Timeout})
		if err != nil {
			return err
		}
		if err := c.EnsureStreams(); err != nil {
			return err
		}
		deps.bus = c
		icfg.Events = c
	}
	fwd, err := buildSinks(ctx, cfg, deps, log)
	if err != nil {
		return err
	}
	proc, err := ingest.New(icfg, fleet.NewStore(), fwd, log.Named("ingest"))
	if err != nil {
		return err
	}
	lambda.Start(newLambdaHandler(proc, log))
	return nil
}

func newLambdaHandler(proc *ingest.Processor, log *zap.Logger) func(context.Context, json.RawMessage) (fleet.Snapshot, error) {
	return func(ctx context.Context, event json.RawMessage) (fleet.Snapshot, error) {
		log.Info("function handler received message", zap.ByteString("event", event))
		return proc.Handle(ctx, event)
	}
}
