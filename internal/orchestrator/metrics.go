package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors reporting session and step activity.
type Metrics struct {
	sessionDuration *prometheus.HistogramVec
	stepDuration    *prometheus.HistogramVec
	stepFailures    *prometheus.CounterVec
	refinements     prometheus.Counter
	sessionsActive  prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. The collectors are created only once to
// avoid duplicate registration panics when orchestrators are instantiated
// repeatedly, as in tests or multi-session runners.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Callers needing isolated metric names supply a fresh registry. Registration
// errors panic, mirroring promauto and surfacing configuration bugs early.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	sessionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guideflow",
			Subsystem: "orchestrator",
			Name:      "session_duration_seconds",
			Help:      "Wall time from session start to its terminal event.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"mode", "outcome"},
	)
	stepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guideflow",
			Subsystem: "orchestrator",
			Name:      "step_duration_seconds",
			Help:      "Duration of individual executed steps.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "status"},
	)
	stepFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guideflow",
			Subsystem: "orchestrator",
			Name:      "step_failures_total",
			Help:      "Step executions that failed, by classified reason.",
		},
		[]string{"kind", "reason"},
	)
	refinements := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "guideflow",
			Subsystem: "orchestrator",
			Name:      "step_refinements_total",
			Help:      "Refinement attempts where the planner re-proposed the same step.",
		},
	)
	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "guideflow",
			Subsystem: "orchestrator",
			Name:      "sessions_active",
			Help:      "Sessions currently between start and terminal event.",
		},
	)
	reg.MustRegister(sessionDuration, stepDuration, stepFailures, refinements, sessionsActive)
	return &Metrics{
		sessionDuration: sessionDuration,
		stepDuration:    stepDuration,
		stepFailures:    stepFailures,
		refinements:     refinements,
		sessionsActive:  sessionsActive,
	}
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) sessionFinished(mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionDuration.WithLabelValues(mode, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) stepObserved(kind, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(kind, status).Observe(elapsed.Seconds())
}

func (m *Metrics) stepFailed(kind, reason string) {
	if m == nil {
		return
	}
	m.stepFailures.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) refinementObserved() {
	if m == nil {
		return
	}
	m.refinements.Inc()
}
