// Package metrics provides Prometheus instrumentation for the platform.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pactum"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TransitionsTotal counts payment state transitions by event and result.
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Total state machine transitions by event kind and result (applied|ignored|failed).",
		},
		[]string{"event", "result"},
	)

	// ReleasesTotal counts escrow releases by path (single|multisig).
	ReleasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "Total escrow releases by signing path.",
		},
		[]string{"path"},
	)

	// DisputesTotal counts dispute lifecycle events.
	DisputesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disputes_total",
			Help:      "Total dispute operations by action (opened|resolved|dismissed).",
		},
		[]string{"action"},
	)

	// MultisigExecutionsTotal counts multisig executions by outcome.
	MultisigExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "multisig_executions_total",
			Help:      "Total multisig request executions by outcome (executed|failed).",
		},
		[]string{"outcome"},
	)

	// YieldRunsTotal counts daily yield job runs by result.
	YieldRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "yield_runs_total",
			Help:      "Total yield accrual runs by result (processed|skipped|failed).",
		},
		[]string{"result"},
	)

	// ReconciliationWarnings counts best-effort failures flagged for manual follow-up.
	ReconciliationWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_warnings_total",
			Help:      "Total warnings recorded for manual reconciliation.",
		},
	)

	// PaymentsFailed counts payments parked for manual review.
	PaymentsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_failed_total",
			Help:      "Total payments moved to failed after exhausting retries.",
		},
	)

	// ActiveStreamClients tracks connected WebSocket clients.
	ActiveStreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Currently connected WebSocket stream clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TransitionsTotal,
		ReleasesTotal,
		DisputesTotal,
		MultisigExecutionsTotal,
		YieldRunsTotal,
		ReconciliationWarnings,
		PaymentsFailed,
		ActiveStreamClients,
	)
}

// Middleware records request counts and latencies per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		HTTPRequestDuration.WithLabelValues(
			c.Request.Method, path,
		).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
