package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hodei_jobs_submitted_total",
			Help: "Total number of jobs submitted",
		},
	)

	JobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hodei_jobs_finished_total",
			Help: "Total number of jobs finished by outcome",
		},
		[]string{"outcome"},
	)

	JobsRetried = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hodei_jobs_retried_total",
			Help: "Total number of job retry attempts",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hodei_queue_depth",
			Help: "Number of jobs waiting in the queue",
		},
	)

	// Execution metrics
	ExecutionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hodei_executions_active",
			Help: "Number of executions currently dispatched or running",
		},
	)

	ExecutionsDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hodei_executions_dispatched_total",
			Help: "Total number of executions dispatched to workers",
		},
	)

	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hodei_dispatch_latency_seconds",
			Help:    "Time from enqueue to dispatch in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Worker and pool metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hodei_workers_total",
			Help: "Total number of registered workers by status",
		},
		[]string{"status"},
	)

	PoolsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hodei_pools_total",
			Help: "Total number of pools by status",
		},
		[]string{"status"},
	)

	WorkersLost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hodei_workers_lost_total",
			Help: "Total number of workers that missed their heartbeat window",
		},
	)

	// Quota metrics
	QuotaRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hodei_quota_rejections_total",
			Help: "Total number of submissions or dispatches blocked by quota",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hodei_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hodei_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(JobsSubmitted)
	prometheus.MustRegister(JobsFinished)
	prometheus.MustRegister(JobsRetried)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(ExecutionsActive)
	prometheus.MustRegister(ExecutionsDispatched)
	prometheus.MustRegister(DispatchLatency)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(PoolsTotal)
	prometheus.MustRegister(WorkersLost)
	prometheus.MustRegister(QuotaRejections)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in a histogram
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time in a labeled histogram
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
