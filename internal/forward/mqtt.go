package forward

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap"

	"coffee-telemetry/internal/core/fleet"
)

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// MQTT republishes snapshots to a cloud MQTT v5 broker. The connection
// manager reconnects in the background; publishes made while it is down
// fail and are not queued.
type MQTT struct {
	cm  *autopaho.ConnectionManager
	log *zap.Logger
}

func NewMQTT(ctx context.Context, cfg MQTTConfig, log *zap.Logger) (*MQTT, error) {
	if log == nil {
		log = zap.NewNop()
	}
	brokerURL, err := url.Parse(cfg.Broker)
	if err != nil || brokerURL.Host == "" {
		return nil, fmt.Errorf("mqtt: bad broker url %q", cfg.Broker)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: cfg.Username,
		ConnectPassword: []byte(cfg.Password),
		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			log.Info("cloud mqtt connected", zap.String("broker", cfg.Broker))
		},
		OnConnectError: func(err error) {
			log.Warn("cloud mqtt connection error", zap.String("category", "forward"), zap.Error(err))
		},
		ClientConfig: paho.ClientConfig{
			ClientID: cfg.ClientID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &MQTT{cm: cm, log: log}, nil
}

func (m *MQTT) Name() string { return "mqtt" }

func (m *MQTT) Forward(ctx context.Context, topic string, snap fleet.Snapshot) error {
	body, err := Payload(snap)
	if err != nil {
		return err
	}
	if _, err := m.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: body,
		QoS:     0,
	}); err != nil {
		return fmt.Errorf("mqtt: publish: %w", err)
	}
	return nil
}

func (m *MQTT) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return m.cm.Disconnect(ctx)
}
