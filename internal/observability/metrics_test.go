package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordAuthDecision("jwt", "accepted")
	metrics.RecordAuthDecision("jwt", "accepted")
	metrics.RecordTokenIssued("access")
	metrics.RecordRateLimited("papers.analyze")

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.decisions.WithLabelValues("jwt", "accepted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.issued.WithLabelValues("access")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.rateLimited.WithLabelValues("papers.analyze")))
}

func TestMetricsActiveTokensGauge(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	active := 3
	metrics.RegisterActiveTokens(func() int { return active })

	expected := `
# HELP citeo_auth_active_refresh_tokens Issued refresh tokens that are neither revoked nor expired.
# TYPE citeo_auth_active_refresh_tokens gauge
citeo_auth_active_refresh_tokens 3
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "citeo_auth_active_refresh_tokens"))
}

func TestMetricsHandlerExposesCounters(t *testing.T) {
	metrics := NewMetrics(nil)
	metrics.RecordTokenIssued("refresh")

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `citeo_auth_tokens_issued_total{kind="refresh"} 1`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	assert.NotPanics(t, func() {
		metrics.RecordAuthDecision("jwt", "accepted")
		metrics.RecordTokenIssued("access")
		metrics.RecordRateLimited("x")
		metrics.RegisterActiveTokens(func() int { return 0 })
	})
}
