// Package broker hosts the local MQTT broker devices publish to.
package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/DrmagicE/gmqtt"
	"github.com/DrmagicE/gmqtt/pkg/packets"
	"go.uber.org/zap"

	"coffee-telemetry/internal/core/fleet"
	"coffee-telemetry/internal/forward"
	"coffee-telemetry/internal/ingest"
	"coffee-telemetry/internal/telemetry"
)

// HandlerFunc receives every message whose topic matches the ingest
// filter. Returning an error wrapping ingest.ErrInvalidMessage drops the
// message; other errors are logged and the message is still routed.
type HandlerFunc func(ctx context.Context, topic string, payload []byte) error

type Config struct {
	Addr        string
	TLS         *tls.Config
	IngestTopic string
	// StrictClientID rejects a CONNECT whose client id differs from the
	// certificate common name.
	StrictClientID bool
}

type Broker struct {
	p   *plugin
	srv gmqtt.Server
	ln  net.Listener
	log *zap.Logger
}

type plugin struct {
	filter  string
	strict  bool
	handle  HandlerFunc
	log     *zap.Logger
	service gmqtt.Server

	mu  sync.Mutex
	cns map[net.Conn]string
}

// New listens on cfg.Addr with TLS. The broker does not serve until Run.
func New(cfg Config, h HandlerFunc, log *zap.Logger) (*Broker, error) {
	if cfg.TLS == nil {
		return nil, errors.New("broker: tls config required")
	}
	if h == nil {
		return nil, errors.New("broker: nil handler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.IngestTopic == "" {
		cfg.IngestTopic = telemetry.DefaultIngestTopic
	}
	ln, err := tls.Listen("tcp", cfg.Addr, cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("broker listen %s: %w", cfg.Addr, err)
	}

	p := &plugin{
		filter: cfg.IngestTopic,
		strict: cfg.StrictClientID,
		handle: h,
		log:    log,
		cns:    map[net.Conn]string{},
	}
	srv := gmqtt.NewServer(
		gmqtt.WithTCPListener(ln),
		gmqtt.WithPlugin(p),
	)
	return &Broker{p: p, srv: srv, ln: ln, log: log}, nil
}

func (b *Broker) Addr() net.Addr { return b.ln.Addr() }

// Run starts serving in the background.
func (b *Broker) Run() {
	b.srv.Run()
	b.log.Info("mqtt broker started", zap.String("ingest_topic", b.p.filter))
}

func (b *Broker) Stop(ctx context.Context) error {
	return b.srv.Stop(ctx)
}

func (b *Broker) Name() string { return "local" }

// Forward republishes the snapshot to local subscribers of topic.
func (b *Broker) Forward(_ context.Context, topic string, snap fleet.Snapshot) error {
	if b.p.service == nil {
		return errors.New("broker not running")
	}
	body, err := forward.Payload(snap)
	if err != nil {
		return err
	}
	b.p.service.PublishService().Publish(gmqtt.NewMessage(topic, body, packets.QOS_0))
	return nil
}

func (p *plugin) Load(service gmqtt.Server) error {
	p.service = service
	return nil
}

func (p *plugin) Unload() error { return nil }

func (p *plugin) Name() string { return "coffee-ingest" }

func (p *plugin) HookWrapper() gmqtt.HookWrapper {
	return gmqtt.HookWrapper{
		OnAcceptWrapper:     p.OnAcceptWrapper,
		OnConnectWrapper:    p.OnConnectWrapper,
		OnMsgArrivedWrapper: p.OnMsgArrivedWrapper,
	}
}

// takeCommonName returns and forgets the name recorded at accept time.
func (p *plugin) takeCommonName(conn net.Conn) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	cn := p.cns[conn]
	delete(p.cns, conn)
	return cn
}

// OnAcceptWrapper completes the TLS handshake and remembers the
// certificate common name of the device.
func (p *plugin) OnAcceptWrapper(accept gmqtt.OnAccept) gmqtt.OnAccept {
	return func(ctx context.Context, conn net.Conn) bool {
		if tlsConn, ok := conn.(*tls.Conn); ok {
			_ = tlsConn.SetDeadline(time.Now().Add(10 * time.Second))
			err := tlsConn.Handshake()
			_ = tlsConn.SetDeadline(time.Time{})
			if err != nil {
				p.log.Warn("tls handshake failed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
				return false
			}
			state := tlsConn.ConnectionState()
			if len(state.VerifiedChains) == 0 || len(state.VerifiedChains[0]) == 0 {
				return false
			}
			cn := state.VerifiedChains[0][0].Subject.CommonName
			p.mu.Lock()
			p.cns[conn] = cn
			p.mu.Unlock()
			p.log.Debug("device accepted", zap.String("cn", cn), zap.Stringer("remote", conn.RemoteAddr()))
		}
		return accept(ctx, conn)
	}
}

func (p *plugin) OnConnectWrapper(connect gmqtt.OnConnect) gmqtt.OnConnect {
	return func(ctx context.Context, client gmqtt.Client) (code uint8) {
		id := client.OptionsReader().ClientID()
		cn := p.takeCommonName(client.Connection())
		if cn != "" && id != cn {
			if p.strict {
				p.log.Warn("connect denied", zap.String("client_id", id), zap.String("cn", cn))
				return packets.CodeNotAuthorized
			}
			p.log.Debug("client id differs from certificate", zap.String("client_id", id), zap.String("cn", cn))
		}
		p.log.Info("device connected", zap.String("client_id", id))
		return connect(ctx, client)
	}
}

// OnMsgArrivedWrapper hands readings to the ingest handler. Other
// topics are routed untouched.
func (p *plugin) OnMsgArrivedWrapper(arrived gmqtt.OnMsgArrived) gmqtt.OnMsgArrived {
	return func(ctx context.Context, client gmqtt.Client, msg packets.Message) (valid bool) {
		topic := msg.Topic()
		if telemetry.MatchTopic(p.filter, topic) {
			if err := p.handle(ctx, topic, msg.Payload()); err != nil {
				if errors.Is(err, ingest.ErrInvalidMessage) {
					return false
				}
				p.log.Debug("reading handled with error", zap.String("topic", topic), zap.Error(err))
			}
		}
		return arrived(ctx, client, msg)
	}
}
