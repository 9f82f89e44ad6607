package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxtrader/internal/breaker"
)

func TestNewMetrics_RegistersOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.CyclesTotal.Inc()
	m.Decisions.WithLabelValues("EMA", "OpenLong").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("EMA", "OpenLong")))

	n, err := testutil.GatherAndCount(reg, "fxtrader_cycles_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestObserveBreaker(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveBreaker("broker", breaker.StateClosed, breaker.StateOpen)
	m.ObserveBreaker("broker", breaker.StateOpen, breaker.StateHalfOpen)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("broker")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerTrips.WithLabelValues("broker")))
}

func TestHealthz(t *testing.T) {
	h := NewHealthStatus(true)
	srv := NewServer(":0", h, prometheus.NewRegistry())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.SetStreamConnected(true)
	h.mu.Lock()
	h.SQLiteOK = true
	h.mu.Unlock()

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])

	h.SetHalted(errors.New("broker: unauthorized"))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "unhealthy"))
}
