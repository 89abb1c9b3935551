// Package embeddednats runs a JetStream enabled NATS server inside the
// gateway process for single box deployments.
package embeddednats

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	natssrv "github.com/nats-io/nats-server/v2/server"
	"go.uber.org/zap"
)

type Config struct {
	Host     string
	Port     int
	HTTPPort int
	StoreDir string
	// Log receives server notices and errors. Nil keeps the server quiet.
	Log *zap.Logger
}

type Server struct {
	s *natssrv.Server
}

func Start(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 14222
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 18222
	}
	if cfg.StoreDir == "" {
		cfg.StoreDir = "data/nats"
	}
	if err := os.MkdirAll(cfg.StoreDir, 0o755); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(cfg.StoreDir)
	if err != nil {
		return nil, err
	}

	opts := &natssrv.Options{
		ServerName: "coffee-embedded-nats",
		Host:       cfg.Host,
		Port:       cfg.Port,
		HTTPHost:   cfg.Host,
		HTTPPort:   cfg.HTTPPort,

		JetStream: true,
		StoreDir:  abs,

		NoSigs: true,
		NoLog:  cfg.Log == nil,
	}

	s, err := natssrv.NewServer(opts)
	if err != nil {
		return nil, err
	}
	if cfg.Log != nil {
		s.SetLoggerV2(zapLogger{cfg.Log.Sugar()}, false, false, false)
	}
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		return nil, fmt.Errorf("embedded nats not ready on %s:%d", cfg.Host, cfg.Port)
	}
	return &Server{s: s}, nil
}

// ClientURL is the nats:// URL clients should dial. It reflects the
// actual port when Port was RANDOM (-1).
func (s *Server) ClientURL() string {
	return s.s.ClientURL()
}

func (s *Server) Shutdown() {
	if s == nil || s.s == nil {
		return
	}
	s.s.Shutdown()
	s.s.WaitForShutdown()
}

// zapLogger adapts the server logger to zap. Fatal is downgraded to
// error so a misbehaving bus cannot exit the gateway.
type zapLogger struct {
	l *zap.SugaredLogger
}

func (z zapLogger) Noticef(format string, v ...any) { z.l.Infof(format, v...) }
func (z zapLogger) Warnf(format string, v ...any)   { z.l.Warnf(format, v...) }
func (z zapLogger) Fatalf(format string, v ...any)  { z.l.Errorf(format, v...) }
func (z zapLogger) Errorf(format string, v ...any)  { z.l.Errorf(format, v...) }
func (z zapLogger) Debugf(format string, v ...any)  { z.l.Debugf(format, v...) }
func (z zapLogger) Tracef(format string, v ...any)  { z.l.Debugf(format, v...) }
