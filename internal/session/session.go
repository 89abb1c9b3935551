// Package session establishes the secure MQTT session to the gateway
// core, trying the discovered endpoints one after another.
package session

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"coffee-telemetry/internal/discovery"
)

// ErrConnectionExhausted is returned when no candidate endpoint accepted
// a session.
var ErrConnectionExhausted = errors.New("session: all candidate endpoints failed")

// Session is an established connection bound to one endpoint.
type Session interface {
	// Publish sends payload without waiting for the broker.
	Publish(topic string, payload []byte) error
	Endpoint() discovery.Endpoint
	Close()
}

// Dialer opens a session to a single endpoint.
type Dialer interface {
	Dial(ctx context.Context, ep discovery.Endpoint, tlsCfg *tls.Config) (Session, error)
}

type Credentials struct {
	CertPath string
	KeyPath  string
}

type Connector struct {
	creds  Credentials
	dialer Dialer
	log    *zap.Logger
}

func NewConnector(creds Credentials, d Dialer, log *zap.Logger) *Connector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Connector{creds: creds, dialer: d, log: log}
}

// Connect tries res.Endpoints strictly in order and returns the first
// session that succeeds. Attempts are sequential.
func (c *Connector) Connect(ctx context.Context, res discovery.Result) (Session, error) {
	base, err := c.tlsConfig(res)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, ep := range res.Endpoints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.log.Info("trying to connect to core", zap.Stringer("endpoint", ep))

		cfg := base.Clone()
		cfg.ServerName = ep.Host
		s, err := c.dialer.Dial(ctx, ep, cfg)
		if err == nil {
			c.log.Info("connected to core", zap.Stringer("endpoint", ep))
			return s, nil
		}
		c.log.Warn("connect attempt failed",
			zap.String("category", "connect"),
			zap.Stringer("endpoint", ep),
			zap.Error(err),
		)
		errs = append(errs, fmt.Errorf("%s: %w", ep, err))
	}

	c.log.Error("cannot connect to core",
		zap.String("category", "connect_exhausted"),
		zap.String("core_thing_arn", res.CoreThingArn),
		zap.Int("candidates", len(res.Endpoints)),
	)
	return nil, errors.Join(append([]error{ErrConnectionExhausted}, errs...)...)
}

// tlsConfig trusts only the discovered group CA and presents the device
// certificate.
func (c *Connector) tlsConfig(res discovery.Result) (*tls.Config, error) {
	anchor := res.TrustAnchor
	if res.TrustAnchorPath != "" {
		b, err := os.ReadFile(res.TrustAnchorPath)
		if err != nil {
			return nil, fmt.Errorf("read trust anchor: %w", err)
		}
		anchor = b
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(anchor) {
		return nil, errors.New("session: trust anchor holds no certificate")
	}
	crt, err := tls.LoadX509KeyPair(c.creds.CertPath, c.creds.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load device key pair: %w", err)
	}
	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{crt},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
