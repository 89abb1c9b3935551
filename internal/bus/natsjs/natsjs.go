package natsjs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"coffee-telemetry/internal/bus"
	"coffee-telemetry/internal/events"
	"coffee-telemetry/internal/version"
)

type Config struct {
	URL     string
	Prefix  string
	Timeout time.Duration
}

type Client struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

func Connect(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	nc, err := nats.Connect(cfg.URL, nats.Timeout(cfg.Timeout), nats.Name(version.UserAgent("gateway")))
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		_ = nc.Drain()
		nc.Close()
		return nil, err
	}
	return &Client{nc: nc, js: js, prefix: cfg.Prefix}, nil
}

func (c *Client) Connected() bool { return c.nc != nil && c.nc.IsConnected() }

func (c *Client) Close() error {
	if c.nc == nil {
		return nil
	}
	return c.nc.Drain()
}

func (c *Client) EnsureStreams() error {
	// Single stream for every subject under prefix.
	name := fmt.Sprintf("%s_events", c.prefix)
	subject := events.Subject(c.prefix, ">")

	_, err := c.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}

	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,

		// Snapshots supersede each other; keep the stream bounded.
		MaxMsgsPerSubject: 10000,
	})
	return err
}

func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	s := events.Subject(c.prefix, subject)
	_, err := c.js.PublishMsg(&nats.Msg{
		Subject: s,
		Data:    data,
	}, nats.Context(ctx))
	return err
}

// ConsumerConfig describes a pull consumer. An empty Durable makes an
// ephemeral consumer that the server drops once it is closed.
type ConsumerConfig struct {
	Durable       string
	Filter        string
	MaxAckPending int
	// LastOnly starts at the newest stored message instead of the first.
	LastOnly bool
}

type pullConsumer struct {
	sub *nats.Subscription
}

func (c *Client) NewPullConsumer(cfg ConsumerConfig) (bus.PullConsumer, error) {
	if cfg.MaxAckPending <= 0 {
		cfg.MaxAckPending = 64
	}
	opts := []nats.SubOpt{
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxAckPending(cfg.MaxAckPending),
	}
	if cfg.LastOnly {
		opts = append(opts, nats.DeliverLast())
	}
	sub, err := c.js.PullSubscribe(events.Subject(c.prefix, cfg.Filter), cfg.Durable, opts...)
	if err != nil {
		return nil, err
	}
	return &pullConsumer{sub: sub}, nil
}

type msg struct {
	m *nats.Msg
}

func (m *msg) Data() []byte { return m.m.Data }
func (m *msg) Ack() error   { return m.m.Ack() }
func (m *msg) Nak() error   { return m.m.Nak() }
func (m *msg) Term() error  { return m.m.Term() }

func (pc *pullConsumer) Fetch(ctx context.Context, batch int, wait time.Duration) ([]bus.Message, error) {
	fctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	msgs, err := pc.sub.Fetch(batch, nats.Context(fctx))
	if err != nil {
		if ctx.Err() == nil && (errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]bus.Message, 0, len(msgs))
	for _, nm := range msgs {
		out = append(out, &msg{m: nm})
	}
	return out, nil
}

func (pc *pullConsumer) Close() error {
	return pc.sub.Unsubscribe()
}
