// Package metrics exposes gateway counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of measurements the gateway records.
type Metrics interface {
	IncSubmission(outcome string)
	IncDecision(outcome string)
	ObserveAssessment(durationSeconds float64, failSafe bool)
	IncNotifyError(sink string)
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncSubmission(string)                           {}
func (Noop) IncDecision(string)                             {}
func (Noop) ObserveAssessment(float64, bool)                {}
func (Noop) IncNotifyError(string)                          {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements Metrics on its own registry so several instances can live
// in one process (tests, embedded servers).
type Prom struct {
	registry    *prometheus.Registry
	submissions *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	assessments *prometheus.HistogramVec
	notifyErrs  *prometheus.CounterVec
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// NewProm builds and registers every collector under namespace.
func NewProm(namespace string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Command submissions by outcome",
		}, []string{"outcome"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_decisions_total",
			Help:      "Admin decisions by resulting outcome",
		}, []string{"outcome"}),
		assessments: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_assessment_duration_seconds",
			Help:      "Risk assessment latency, split by whether the fail-safe verdict was used",
			Buckets:   prometheus.DefBuckets,
		}, []string{"fail_safe"}),
		notifyErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_errors_total",
			Help:      "Failed best-effort side effects by sink",
		}, []string{"sink"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	p.registry.MustRegister(p.submissions, p.decisions, p.assessments, p.notifyErrs, p.requests, p.latency)
	return p
}

func (p *Prom) IncSubmission(outcome string) {
	p.submissions.WithLabelValues(outcome).Inc()
}

func (p *Prom) IncDecision(outcome string) {
	p.decisions.WithLabelValues(outcome).Inc()
}

func (p *Prom) ObserveAssessment(durationSeconds float64, failSafe bool) {
	label := "false"
	if failSafe {
		label = "true"
	}
	p.assessments.WithLabelValues(label).Observe(durationSeconds)
}

func (p *Prom) IncNotifyError(sink string) {
	p.notifyErrs.WithLabelValues(sink).Inc()
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

// Registry exposes the underlying registry for gathering.
func (p *Prom) Registry() *prometheus.Registry {
	return p.registry
}

// Handler returns an HTTP handler for /metrics.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
