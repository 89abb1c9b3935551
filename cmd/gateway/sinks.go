package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"go.uber.org/zap"

	"coffee-telemetry/internal/bus"
	"coffee-telemetry/internal/config"
	"coffee-telemetry/internal/forward"
)

type sinkDeps struct {
	// bus backs the nats sink.
	bus bus.Publisher
	// local republishes on the gateway broker; nil in lambda mode.
	local forward.Sink
}

func wantsSink(cfg config.Gateway, name string) bool {
	for _, s := range config.SplitList(cfg.Sinks) {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// buildSinks instantiates every sink named in cfg.Sinks, in order.
func buildSinks(ctx context.Context, cfg config.Gateway, deps sinkDeps, log *zap.Logger) (*forward.Fanout, error) {
	var (
		sinks  []forward.Sink
		awsCfg *aws.Config
	)
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := forward.LoadAWSConfig(ctx, forward.AWSConfig{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
		})
		if err != nil {
			return aws.Config{}, fmt.Errorf("aws config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	for _, name := range config.SplitList(cfg.Sinks) {
		var (
			s   forward.Sink
			err error
		)
		switch strings.ToLower(name) {
		case "log":
			s = forward.NewLog(log.Named("sink.log"))
		case "iotdata":
			var c aws.Config
			if c, err = loadAWS(); err == nil {
				s, err = forward.NewIoTData(c, cfg.AWS.IoTDataEndpoint)
			}
		case "sqs":
			var c aws.Config
			if c, err = loadAWS(); err == nil {
				s, err = forward.NewSQS(c, cfg.AWS.SQSQueueURL)
			}
		case "kafka":
			s, err = forward.NewKafka(config.SplitList(cfg.Kafka.Brokers), cfg.Kafka.Topic)
		case "nats":
			if deps.bus == nil {
				err = fmt.Errorf("no bus connection")
			} else {
				s, err = forward.NewNATS(deps.bus, "gateway")
			}
		case "mqtt":
			s, err = forward.NewMQTT(ctx, forward.MQTTConfig{
				Broker:   cfg.CloudMQTT.Broker,
				ClientID: cfg.CloudMQTT.ClientID,
				Username: cfg.CloudMQTT.Username,
				Password: cfg.CloudMQTT.Password,
			}, log.Named("sink.mqtt"))
		case "local":
			if deps.local == nil {
				err = fmt.Errorf("local broker not running")
			} else {
				s = deps.local
			}
		default:
			err = fmt.Errorf("unknown sink")
		}
		if err != nil {
			return nil, fmt.Errorf("sink %q: %w", name, err)
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("no sinks configured")
	}
	return forward.NewFanout(log.Named("forward"), sinks...), nil
}
