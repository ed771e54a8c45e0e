// Package metrics exposes labkit's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"errors"
	"net/http"

	"github.com/livetemplate/labkit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "labkit"

// Lab load outcomes.
const (
	OutcomeLoaded    = "loaded"
	OutcomeNotFound  = "not_found"
	OutcomeFetch     = "fetch_error"
	OutcomeInit      = "init_error"
	OutcomeMissing   = "missing_lab"
	OutcomeOther     = "error"
	OutcomeSupersede = "superseded"
)

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	labLoads          *prometheus.CounterVec
	testRuns          *prometheus.CounterVec
	passPercentage    prometheus.Histogram
	validatorFailures *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates collectors on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		labLoads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lab_loads_total",
			Help:      "Lab loads by outcome.",
		}, []string{"outcome"}),
		testRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "test_runs_total",
			Help:      "Test runs by lab.",
		}, []string{"lab"}),
		passPercentage: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "test_pass_percentage",
			Help:      "Percentage of passing tests per run.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		validatorFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validator_failures_total",
			Help:      "Validation service failures by service.",
		}, []string{"service"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Learner sessions currently held by the server.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Tracks the number of HTTP requests.",
		}, []string{"method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Tracks the latencies for HTTP requests.",
		}, []string{"method", "code"}),
	}
}

// LoadOutcome classifies a lab load error for the lab_loads_total label.
func LoadOutcome(err error) string {
	if err == nil {
		return OutcomeLoaded
	}
	var notFound *labkit.NotFoundError
	var fetchErr *labkit.FetchError
	var initErr *labkit.InitializationError
	switch {
	case errors.As(err, &notFound):
		return OutcomeNotFound
	case errors.As(err, &fetchErr):
		return OutcomeFetch
	case errors.As(err, &initErr):
		return OutcomeInit
	default:
		return OutcomeOther
	}
}

// LabLoaded records a lab load with the given outcome.
func (m *Metrics) LabLoaded(outcome string) {
	if m == nil {
		return
	}
	m.labLoads.WithLabelValues(outcome).Inc()
}

// TestsRun records a test run and its pass percentage.
func (m *Metrics) TestsRun(lab string, percentage int) {
	if m == nil {
		return
	}
	m.testRuns.WithLabelValues(lab).Inc()
	m.passPercentage.Observe(float64(percentage))
}

// ValidatorFailed records a validation service failure.
func (m *Metrics) ValidatorFailed(service string) {
	if m == nil {
		return
	}
	m.validatorFailures.WithLabelValues(service).Inc()
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// Middleware instruments an HTTP handler with request counts and latency.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return promhttp.InstrumentHandlerCounter(m.httpRequests,
		promhttp.InstrumentHandlerDuration(m.httpDuration, next))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
