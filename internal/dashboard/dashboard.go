// Package dashboard serves the gateway web page and its JSON API.
package dashboard

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"coffee-telemetry/internal/core/fleet"
	"coffee-telemetry/internal/core/webui"
	"coffee-telemetry/internal/metrics"
	"coffee-telemetry/internal/version"
)

const defaultHeartbeat = 15 * time.Second

// StatusFunc reports runtime facts for /api/status.
type StatusFunc func() map[string]any

type Dashboard struct {
	store     *fleet.Store
	status    StatusFunc
	index     *template.Template
	log       *zap.Logger
	heartbeat time.Duration
	startedAt time.Time
	metrics   *metrics.Metrics
}

func New(store *fleet.Store, status StatusFunc, log *zap.Logger) (*Dashboard, error) {
	if log == nil {
		log = zap.NewNop()
	}
	tmpl, err := webui.IndexTemplate()
	if err != nil {
		return nil, fmt.Errorf("dashboard template: %w", err)
	}
	return &Dashboard{
		store:     store,
		status:    status,
		index:     tmpl,
		log:       log,
		heartbeat: defaultHeartbeat,
		startedAt: time.Now().UTC(),
	}, nil
}

// UseMetrics instruments the router and serves m on /metrics.
func (d *Dashboard) UseMetrics(m *metrics.Metrics) {
	d.metrics = m
}

func (d *Dashboard) Router() chi.Router {
	r := chi.NewRouter()
	if d.metrics != nil {
		r.Use(d.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", d.metrics.Handler())
	}
	r.Get("/", d.handleIndex)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/plain")
		_, _ = w.Write([]byte(version.String()))
	})
	r.Get("/api/status", d.handleStatus)
	r.Get("/api/devices", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.store.List())
	})
	r.Get("/api/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
		dev, ok := d.store.Get(strings.TrimSpace(chi.URLParam(r, "id")))
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, dev)
	})
	r.Get("/api/stream/devices", d.handleStream)
	return r
}

func (d *Dashboard) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/html; charset=utf-8")
	data := struct {
		Message string
		Devices []fleet.Device
		Version string
	}{
		Devices: d.store.List(),
		Version: version.String(),
	}
	if err := d.index.Execute(w, data); err != nil {
		d.log.Error("render index", zap.Error(err))
	}
}

func (d *Dashboard) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if d.status != nil {
		for k, v := range d.status() {
			out[k] = v
		}
	}
	out["devices"] = d.store.Len()
	out["started_at"] = d.startedAt.Format(time.RFC3339)
	out["uptime_s"] = int64(time.Since(d.startedAt).Seconds())
	writeJSON(w, out)
}

func (d *Dashboard) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusBadRequest)
		return
	}

	w.Header().Set("content-type", "text/event-stream")
	w.Header().Set("cache-control", "no-cache")
	w.Header().Set("connection", "keep-alive")

	ctx := r.Context()
	ch := d.store.Subscribe(ctx)

	send := func() {
		b, _ := json.Marshal(d.store.List())
		_, _ = fmt.Fprintf(w, "event: devices\ndata: %s\n\n", b)
		flusher.Flush()
	}

	send()

	heartbeat := time.NewTicker(d.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			send()
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, "event: ping\ndata: 1\n\n")
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("content-type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
