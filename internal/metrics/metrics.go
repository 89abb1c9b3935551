// Package metrics exposes gateway counters in the Prometheus text format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so tests and multiple gateways in one
// process do not collide on the global one. A nil *Metrics is a no-op.
type Metrics struct {
	reg *prometheus.Registry

	readings     *prometheus.CounterVec
	forwardFails *prometheus.CounterVec
	fleetSize    prometheus.Gauge

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_readings_total",
			Help: "Device readings received by the gateway.",
		}, []string{"result"}),
		forwardFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_forward_failures_total",
			Help: "Fleet snapshots a cloud sink failed to accept.",
		}, []string{"topic"}),
		fleetSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coffee_fleet_devices",
			Help: "Devices currently known to the fleet store.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_http_requests_total",
			Help: "Dashboard HTTP requests.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coffee_http_request_duration_seconds",
			Help:    "Dashboard request duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.reg.MustRegister(m.readings, m.forwardFails, m.fleetSize, m.requests, m.duration)
	return m
}

func (m *Metrics) Accepted(fleetSize int) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues("accepted").Inc()
	m.fleetSize.Set(float64(fleetSize))
}

func (m *Metrics) Rejected() {
	if m == nil {
		return
	}
	m.readings.WithLabelValues("rejected").Inc()
}

func (m *Metrics) ForwardFailed(topic string) {
	if m == nil {
		return
	}
	m.forwardFails.WithLabelValues(topic).Inc()
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// unmatchedRoute labels requests no route handled, so stray paths do not
// grow the label set.
const unmatchedRoute = "unmatched"

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := unmatchedRoute
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}
