package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTrial_CountsByStatusAndKind(t *testing.T) {
	m := New()
	m.ObserveTrial("success", "", 10*time.Millisecond)
	m.ObserveTrial("failure", "planner", time.Second)
	m.ObserveTrial("failure", "planner", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("success", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("failure", "planner")))
}

func TestObserveAttemptAndPlan(t *testing.T) {
	m := New()
	m.ObserveAttempt("rate_limited", time.Millisecond)
	m.ObserveAttempt("ok", time.Millisecond)
	m.ObservePlan(5, 2)
	m.ObservePlan(3, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.droppedSteps))
}

func TestTrackInFlight(t *testing.T) {
	m := New()
	done := m.TrackInFlight()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTrial("success", "", time.Second)
	m.ObserveAttempt("ok", time.Second)
	m.ObservePlan(1, 1)
	m.TrackInFlight()()
	assert.NotNil(t, m.Handler())
}

func TestHandler_ExposesNamespace(t *testing.T) {
	m := New()
	m.ObserveAttempt("ok", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "thor_planner_planner_attempts_total")
}
