package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlarena_queries_total",
			Help: "Total number of sandbox queries by outcome kind.",
		},
		[]string{"outcome"},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlarena_query_duration_seconds",
			Help:    "End-to-end sandbox query latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	queryRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlarena_query_rows_returned",
			Help:    "Rows returned per successful sandbox query.",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 2500, 5000},
		},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqlarena_sessions_active",
			Help: "Currently provisioned tenant sessions.",
		},
	)
	provisionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlarena_provision_duration_seconds",
			Help:    "Session provisioning latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	provisionRowsSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlarena_provision_rows_skipped_total",
			Help: "Dataset rows skipped during provisioning because they failed to coerce into the declared schema.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		queriesTotal,
		queryDurationSeconds,
		queryRowsReturned,
		sessionsActive,
		provisionDurationSeconds,
		provisionRowsSkippedTotal,
	)
}

func ObserveQuery(outcome string, rows int, elapsed time.Duration) {
	queriesTotal.WithLabelValues(outcome).Inc()
	queryDurationSeconds.Observe(elapsed.Seconds())
	if outcome == "success" {
		queryRowsReturned.Observe(float64(rows))
	}
}

func ObserveProvision(skippedRows int, elapsed time.Duration) {
	provisionDurationSeconds.Observe(elapsed.Seconds())
	if skippedRows > 0 {
		provisionRowsSkippedTotal.Add(float64(skippedRows))
	}
}

func SessionStarted() {
	sessionsActive.Inc()
}

func SessionEnded() {
	sessionsActive.Dec()
}
