package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "thor_planner"

// Metrics holds the service's collectors on a private registry so tests and
// multiple servers in one process never collide on prometheus.DefaultRegistry.
//
// All methods are safe on a nil *Metrics, which records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	attempts        *prometheus.CounterVec
	attemptDuration prometheus.Histogram
	droppedSteps    prometheus.Counter
	plannedSteps    prometheus.Histogram
	inFlight        prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry along
// with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trials_total",
			Help:      "Trials processed, partitioned by outcome status and failure kind.",
		}, []string{"status", "kind"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trial_duration_seconds",
			Help:      "End-to-end pipeline duration per trial.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"status"}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "planner_attempts_total",
			Help:      "Model calls, partitioned by result (ok or planner error code).",
		}, []string{"result"}),
		attemptDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "planner_attempt_duration_seconds",
			Help:      "Duration of individual model calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		droppedSteps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalizer_dropped_steps_total",
			Help:      "Planner output lines dropped during normalization.",
		}),
		plannedSteps: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "planned_steps",
			Help:      "Number of actions in successful plans.",
			Buckets:   prometheus.LinearBuckets(2, 4, 10),
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trials_in_flight",
			Help:      "Trials currently inside the pipeline.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveTrial records one finished trial. kind is empty for non-failures.
func (m *Metrics) ObserveTrial(status, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(status, kind).Inc()
	m.requestDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveAttempt records one model call. result is "ok" or a planner error code.
func (m *Metrics) ObserveAttempt(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
	m.attemptDuration.Observe(d.Seconds())
}

// ObservePlan records the size of a normalized plan and the lines it lost.
func (m *Metrics) ObservePlan(steps, dropped int) {
	if m == nil {
		return
	}
	m.plannedSteps.Observe(float64(steps))
	if dropped > 0 {
		m.droppedSteps.Add(float64(dropped))
	}
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}
