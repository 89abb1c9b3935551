package session

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"coffee-telemetry/internal/discovery"
)

const DefaultConnectTimeout = 10 * time.Second

// MQTTDialer connects with MQTT 3.1.1 over TLS.
type MQTTDialer struct {
	ClientID       string
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	Log            *zap.Logger
}

func (d MQTTDialer) Dial(ctx context.Context, ep discovery.Endpoint, tlsCfg *tls.Config) (Session, error) {
	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	keepAlive := d.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	opts := mqtt.NewClientOptions().
		AddBroker("ssl://" + ep.String()).
		SetClientID(d.ClientID).
		SetTLSConfig(tlsCfg).
		SetProtocolVersion(4).
		SetCleanSession(true).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(timeout).
		SetConnectRetry(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Stringer("endpoint", ep), zap.Error(err))
	})

	c := mqtt.NewClient(opts)
	tok := c.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		c.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	if !c.IsConnected() {
		return nil, errors.New("mqtt client not connected")
	}
	return &mqttSession{c: c, ep: ep}, nil
}

type mqttSession struct {
	c  mqtt.Client
	ep discovery.Endpoint
}

// Publish uses QoS 0 and does not wait for completion. A token that is
// already done carries an immediate failure such as a lost connection.
func (s *mqttSession) Publish(topic string, payload []byte) error {
	tok := s.c.Publish(topic, 0, false, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	default:
		return nil
	}
}

func (s *mqttSession) Endpoint() discovery.Endpoint { return s.ep }

func (s *mqttSession) Close() { s.c.Disconnect(250) }
