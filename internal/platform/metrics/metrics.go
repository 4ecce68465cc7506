package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cds_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cds_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cds_jobs_total",
			Help: "Background jobs by queue and outcome (enqueued, dropped, succeeded, failed)",
		},
		[]string{"queue", "outcome"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cds_job_duration_seconds",
			Help:    "Duration of background jobs in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 30.0},
		},
		[]string{"queue"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cds_queue_depth",
			Help: "Jobs waiting in a background queue",
		},
		[]string{"queue"},
	)

	summaryChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cds_summary_items_total",
			Help: "Auto-generated summary items changed by reconciliation",
		},
		[]string{"category", "change"},
	)

	danglingKeys = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cds_dangling_catalog_keys_total",
			Help: "Decision rule keys that did not resolve to a catalog entry",
		},
		[]string{"category"},
	)
)

// Register adds every collector to reg. Call once at startup.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		jobsTotal,
		jobDuration,
		queueDepth,
		summaryChanges,
		danglingKeys,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func RecordJob(queue, outcome string) {
	jobsTotal.WithLabelValues(queue, outcome).Inc()
}

func ObserveJobDuration(queue string, d time.Duration) {
	jobDuration.WithLabelValues(queue).Observe(d.Seconds())
}

func SetQueueDepth(queue string, n int) {
	queueDepth.WithLabelValues(queue).Set(float64(n))
}

func RecordSummaryChanges(category, change string, n int) {
	if n <= 0 {
		return
	}
	summaryChanges.WithLabelValues(category, change).Add(float64(n))
}

func RecordDanglingKey(category string) {
	danglingKeys.WithLabelValues(category).Inc()
}
