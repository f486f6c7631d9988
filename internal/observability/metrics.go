package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "citeo"

// Metrics holds the auth layer's Prometheus collectors on a private registry.
// All record methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry    *prometheus.Registry
	decisions   *prometheus.CounterVec
	issued      *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "auth",
			Name:      "decisions_total",
			Help:      "Authentication decisions by credential method and outcome.",
		}, []string{"method", "outcome"}),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "auth",
			Name:      "tokens_issued_total",
			Help:      "Signed tokens minted by kind.",
		}, []string{"kind"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "auth",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the fixed-window limiter.",
		}, []string{"endpoint"}),
	}

	registry.MustRegister(m.decisions, m.issued, m.rateLimited)
	return m
}

func (m *Metrics) RecordAuthDecision(method, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) RecordTokenIssued(kind string) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordRateLimited(endpoint string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(endpoint).Inc()
}

// RegisterActiveTokens exposes fn as a gauge sampled on every scrape.
func (m *Metrics) RegisterActiveTokens(fn func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "auth",
		Name:      "active_refresh_tokens",
		Help:      "Issued refresh tokens that are neither revoked nor expired.",
	}, func() float64 { return float64(fn()) }))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
