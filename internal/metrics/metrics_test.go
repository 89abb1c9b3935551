package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCounters(t *testing.T) {
	m := New()
	m.Accepted(2)
	m.Accepted(3)
	m.Rejected()
	m.ForwardFailed("dt/coffeemonitor/machines")

	out := scrape(t, m)
	assert.Contains(t, out, `coffee_readings_total{result="accepted"} 2`)
	assert.Contains(t, out, `coffee_readings_total{result="rejected"} 1`)
	assert.Contains(t, out, `coffee_forward_failures_total{topic="dt/coffeemonitor/machines"} 1`)
	assert.Contains(t, out, "coffee_fleet_devices 3")
}

func TestNilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Accepted(1)
		m.Rejected()
		m.ForwardFailed("x")
	})
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/devices/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	out := scrape(t, m)
	assert.Contains(t, out, `coffee_http_requests_total{method="GET",route="/api/devices/{id}",status="404"} 2`)
}

func TestMiddlewareBoundsUnmatchedPaths(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {})

	for _, p := range []string{"/wp-login.php", "/admin/etc", "/x/y/z"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	out := scrape(t, m)
	assert.Contains(t, out, `coffee_http_requests_total{method="GET",route="unmatched",status="404"} 3`)
	assert.NotContains(t, out, "wp-login")
}

func TestMiddlewareKeepsFlusher(t *testing.T) {
	m := New()
	var flushable bool
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/stream/devices", nil))
	assert.True(t, flushable)
}
