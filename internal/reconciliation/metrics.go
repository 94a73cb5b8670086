package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileCustodyMismatch = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pactum",
		Subsystem: "reconciliation",
		Name:      "custody_mismatch",
		Help:      "1 when the last run found a custody shortfall, 0 otherwise.",
	})

	reconcileStuckEscrows = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pactum",
		Subsystem: "reconciliation",
		Name:      "stuck_escrows",
		Help:      "Number of escrows stuck past custody expiry found in last run.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pactum",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pactum",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation check errors.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileCustodyMismatch,
		reconcileStuckEscrows,
		reconcileDuration,
		reconcileErrors,
	)
}
