package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTurn("empty", "success")
		m.ObserveSummary()
		m.ObserveClear("success")
		m.ObserveCompletion("converse", "success", time.Second)
		m.ObserveRequest("/conversation", http.StatusOK)
	})
}

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveTurn("empty", "success")
	m.ObserveTurn("empty", "success")
	m.ObserveTurn("active", "backend_error")
	m.ObserveSummary()
	m.ObserveClear("error")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turns.WithLabelValues("empty", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues("active", "backend_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.summaries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clears.WithLabelValues("error")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.ObserveCompletion("summarize", "success", 150*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "npcrelay_completion_duration_seconds_count"))
	assert.True(t, strings.Contains(body, `operation="summarize"`))
}
