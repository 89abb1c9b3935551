package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"coffee-telemetry/internal/broker"
	"coffee-telemetry/internal/bus/embeddednats"
	"coffee-telemetry/internal/bus/natsjs"
	"coffee-telemetry/internal/config"
	"coffee-telemetry/internal/core/fleet"
	"coffee-telemetry/internal/dashboard"
	"coffee-telemetry/internal/events"
	discoverysrv "coffee-telemetry/internal/discovery/server"
	"coffee-telemetry/internal/ingest"
	"coffee-telemetry/internal/metrics"
	"coffee-telemetry/internal/pki"
)

const coreCommonName = "coffee-gateway-core"

func runServer(ctx context.Context, cfg config.Gateway, log *zap.Logger) error {
	conn, err := cfg.ConnectivityList()
	if err != nil {
		return err
	}

	ca, err := pki.EnsureAuthority(filepath.Join(cfg.DataDir, "pki"), cfg.GroupID)
	if err != nil {
		return err
	}
	serverTLS, err := ca.ServerTLS(coreCommonName, config.SplitList(cfg.ServerHosts))
	if err != nil {
		return err
	}
	log.Info("group CA ready", zap.String("group_id", cfg.GroupID), zap.String("dir", filepath.Join(cfg.DataDir, "pki")))

	store := fleet.NewStore()

	// Bus
	var (
		emb      *embeddednats.Server
		natsConn *natsjs.Client
		natsErr  atomic.Value
	)
	if wantsSink(cfg, "nats") {
		url := cfg.NATS.URL
		if cfg.NATS.Embedded {
			emb, err = embeddednats.Start(embeddednats.Config{
				Host:     cfg.NATS.Host,
				Port:     cfg.NATS.Port,
				HTTPPort: cfg.NATS.HTTPPort,
				StoreDir: cfg.NATS.StoreDir,
				Log:      log.Named("nats"),
			})
			if err != nil {
				return err
			}
			defer emb.Shutdown()
			url = emb.ClientURL()
			log.Info("embedded nats started", zap.String("url", url))
		}
		natsConn, err = natsjs.Connect(natsjs.Config{URL: url, Prefix: cfg.NATS.Prefix, Timeout: cfg.NATS.Timeout})
		if err != nil {
			return err
		}
		defer func() { _ = natsConn.Close() }()
		if err := natsConn.EnsureStreams(); err != nil {
			natsErr.Store(err.Error())
			log.Warn("nats ensure streams", zap.Error(err))
		} else {
			restoreFleet(ctx, natsConn, store, log)
		}
	}

	// Broker, ingest and sinks. The broker hook needs the processor and
	// the local sink needs the broker, so the handler is bound late.
	mx := metrics.New()
	var proc atomic.Pointer[ingest.Processor]
	mq, err := broker.New(broker.Config{
		Addr:           cfg.MQTTAddr,
		TLS:            serverTLS,
		IngestTopic:    cfg.IngestTopic,
		StrictClientID: cfg.StrictClientID,
	}, func(ctx context.Context, topic string, payload []byte) error {
		p := proc.Load()
		if p == nil {
			return errors.New("ingest not ready")
		}
		_, err := p.Handle(ctx, payload)
		return err
	}, log.Named("broker"))
	if err != nil {
		return err
	}

	deps := sinkDeps{local: mq}
	icfg := ingest.Config{CloudTopic: cfg.CloudTopic, Metrics: mx, Source: coreCommonName}
	if natsConn != nil {
		deps.bus = natsConn
		icfg.Events = natsConn
	}
	fwd, err := buildSinks(ctx, cfg, deps, log)
	if err != nil {
		return err
	}
	defer func() { _ = fwd.Close() }()

	p, err := ingest.New(icfg, store, fwd, log.Named("ingest"))
	if err != nil {
		return err
	}
	proc.Store(p)
	mq.Run()

	// Discovery
	dr := chi.NewRouter()
	discoverysrv.New(discoverysrv.Config{
		GroupID:      cfg.GroupID,
		CoreThingArn: cfg.CoreThingArn,
		Connectivity: conn,
		CAPEM:        ca.CertPEM,
		Things:       config.SplitList(cfg.Things),
	}, log.Named("discovery")).Mount(dr)
	discovery := &http.Server{
		Addr:              cfg.DiscoveryAddr,
		Handler:           dr,
		TLSConfig:         serverTLS,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Dashboard
	dash, err := dashboard.New(store, func() map[string]any {
		errStr, _ := natsErr.Load().(string)
		return map[string]any{
			"group_id":       cfg.GroupID,
			"ingest_topic":   cfg.IngestTopic,
			"cloud_topic":    cfg.CloudTopic,
			"sinks":          fwd.Sinks(),
			"nats_connected": natsConn != nil && natsConn.Connected(),
			"nats_error":     errStr,
			"embedded_nats":  emb != nil,
			"strict_client":  cfg.StrictClientID,
		}
	}, log.Named("dashboard"))
	if err != nil {
		return err
	}
	dash.UseMetrics(mx)
	web := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           dash.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	serve := func(name string, srv *http.Server, tls bool) {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			errCh <- err
			return
		}
		log.Info(name+" listening", zap.String("addr", ln.Addr().String()))
		if tls {
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}
	go serve("discovery", discovery, true)
	go serve("dashboard", web, false)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = web.Shutdown(shutdownCtx)
	_ = discovery.Shutdown(shutdownCtx)
	if err := mq.Stop(shutdownCtx); err != nil {
		log.Warn("broker stop", zap.Error(err))
	}
	log.Info("gateway stopped", zap.Int("devices", store.Len()))
	return runErr
}

// restoreFleet seeds the store from the last fleet snapshot on the bus
// and, when none is stored, from the reading history. A failure only
// costs the dashboard its history, so it is logged.
func restoreFleet(ctx context.Context, c *natsjs.Client, store *fleet.Store, log *zap.Logger) {
	sources := []natsjs.ConsumerConfig{
		{Filter: events.FleetSnapshot, LastOnly: true},
		{Filter: events.DeviceReading},
	}
	for _, cc := range sources {
		n, err := restoreFrom(ctx, c, cc, store, log)
		if err != nil {
			log.Warn("fleet restore", zap.String("subject", cc.Filter), zap.Error(err))
			continue
		}
		if n > 0 {
			return
		}
	}
}

func restoreFrom(ctx context.Context, c *natsjs.Client, cc natsjs.ConsumerConfig, store *fleet.Store, log *zap.Logger) (int, error) {
	pc, err := c.NewPullConsumer(cc)
	if err != nil {
		return 0, err
	}
	defer func() { _ = pc.Close() }()
	return ingest.Restore(ctx, pc, store, 500*time.Millisecond, log.Named("restore"))
}
