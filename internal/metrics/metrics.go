// Package metrics provides Prometheus metrics for the assessment engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Oracle call outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeTimeout     = "timeout"
	OutcomeUnparseable = "unparseable"
)

// Manager owns the engine's metrics on its own registry.
type Manager struct {
	namespace string
	subsystem string
	registry  *prometheus.Registry

	sessionsStarted   *prometheus.CounterVec
	sessionsCompleted *prometheus.CounterVec
	answersScored     *prometheus.CounterVec
	oracleCalls       *prometheus.CounterVec
	evaluationLatency prometheus.Histogram
	evaluationErrors  prometheus.Counter
	ratingDelta       prometheus.Histogram
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithSubsystem sets the subsystem for all metrics.
func WithSubsystem(subsystem string) Option {
	return func(m *Manager) {
		if subsystem != "" {
			m.subsystem = subsystem
		}
	}
}

// NewManager creates a manager with a fresh registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "tracker",
		subsystem: "assessment",
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.sessionsStarted = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sessions_started_total",
		Help:      "Assessment sessions created, by phase and mode",
	}, []string{"phase", "mode"})

	m.sessionsCompleted = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sessions_completed_total",
		Help:      "Assessment sessions that reached their final score, by phase",
	}, []string{"phase"})

	m.answersScored = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "answers_scored_total",
		Help:      "Answers scored, by question type",
	}, []string{"type"})

	m.oracleCalls = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "oracle_calls_total",
		Help:      "Scoring oracle calls, by model and outcome",
	}, []string{"model", "outcome"})

	m.evaluationLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "evaluation_duration_seconds",
		Help:      "Wall time of one multi-model evaluation",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
	})

	m.evaluationErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "evaluation_failures_total",
		Help:      "Evaluations where no oracle produced a usable score",
	})

	m.ratingDelta = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rating_delta",
		Help:      "Rating change applied per completed post-assessment",
		Buckets:   prometheus.LinearBuckets(-40, 10, 9),
	})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionStarted records a new session.
func (m *Manager) SessionStarted(phase, mode string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(phase, mode).Inc()
}

// SessionCompleted records a session reaching its final score.
func (m *Manager) SessionCompleted(phase string) {
	if m == nil {
		return
	}
	m.sessionsCompleted.WithLabelValues(phase).Inc()
}

// AnswerScored records one scored answer.
func (m *Manager) AnswerScored(questionType string) {
	if m == nil {
		return
	}
	m.answersScored.WithLabelValues(questionType).Inc()
}

// OracleCall records the outcome of one oracle call.
func (m *Manager) OracleCall(model, outcome string) {
	if m == nil {
		return
	}
	m.oracleCalls.WithLabelValues(model, outcome).Inc()
}

// EvaluationFinished records the latency of an evaluation and whether it failed.
func (m *Manager) EvaluationFinished(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.evaluationLatency.Observe(d.Seconds())
	if failed {
		m.evaluationErrors.Inc()
	}
}

// RatingChanged records the rating delta applied to an employee.
func (m *Manager) RatingChanged(delta int) {
	if m == nil {
		return
	}
	m.ratingDelta.Observe(float64(delta))
}
