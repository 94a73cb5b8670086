package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findMetric(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestMiddleware_RecordsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/payments/:id/status", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/payments/pay_abc/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	mf := findMetric(t, "pactum_http_requests_total")
	require.NotNil(t, mf)

	found := false
	for _, m := range mf.GetMetric() {
		labels := map[string]string{}
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		if labels["path"] == "/v1/payments/:id/status" && labels["status"] == "200" {
			found = true
			assert.GreaterOrEqual(t, m.GetCounter().GetValue(), float64(1))
		}
	}
	assert.True(t, found, "expected counter for route pattern")
}

func TestDomainCounters(t *testing.T) {
	TransitionsTotal.WithLabelValues("deposit_confirmed", "applied").Inc()
	ReleasesTotal.WithLabelValues("multisig").Inc()

	mf := findMetric(t, "pactum_transitions_total")
	require.NotNil(t, mf)
	mf = findMetric(t, "pactum_releases_total")
	require.NotNil(t, mf)
}
