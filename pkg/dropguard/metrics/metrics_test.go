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

func TestCounters(t *testing.T) {
	m := New()

	m.Event("created")
	m.Event("created")
	m.Outcome("quarantined")
	m.Detection("Email", "block")
	m.Failure("persist")
	m.AlertsStored(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("quarantined")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.detections.WithLabelValues("Email", "block")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("persist")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.alerts))
}

func TestInflight(t *testing.T) {
	m := New()
	m.PipelineStarted()
	m.PipelineStarted()
	m.PipelineDone()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inflight))
}

func TestNilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Event("created")
		m.Outcome("clean")
		m.Detection("Email", "warn")
		m.Failure("move")
		m.StabilityWait("stable", time.Second)
		m.PipelineStarted()
		m.PipelineDone()
		m.AlertsStored(1)
	})
	assert.Nil(t, m.Registry())
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New()
	m.StabilityWait("stable", 1500*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "dropguard_stability_wait_seconds_count"))
}
