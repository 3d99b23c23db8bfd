// Package metrics exposes Prometheus collectors for the orderwatch client.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	apiRequestsTotal          *prometheus.CounterVec
	apiRequestDurationSeconds *prometheus.HistogramVec
	apiRetriesTotal           prometheus.Counter
	inflightSharedTotal       prometheus.Counter
	pollTicksTotal            prometheus.Counter
	jobsTotal                 *prometheus.CounterVec
	jobProgress               prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderwatch_api_requests_total",
				Help: "Total API requests issued, labeled by method and status class.",
			},
			[]string{"method", "status_class"},
		)

		apiRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orderwatch_api_request_duration_seconds",
				Help:    "Histogram of API request latencies, labeled by path.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"path"},
		)

		apiRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "orderwatch_api_retries_total",
				Help: "Total retry attempts issued by the request coordinator.",
			},
		)

		inflightSharedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "orderwatch_inflight_shared_total",
				Help: "Requests that attached to an already in-flight call instead of dialing.",
			},
		)

		pollTicksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "orderwatch_poll_ticks_total",
				Help: "Total status poll ticks executed.",
			},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderwatch_jobs_total",
				Help: "Total analysis runs, labeled by terminal outcome.",
			},
			[]string{"outcome"},
		)

		jobProgress = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orderwatch_job_progress",
				Help: "Progress (0-100) reported by the most recent status snapshot.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StatusClass groups an HTTP status code into its coarse class label.
// Transport-level failures (no response) are labeled "error".
func StatusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// ObserveRequest increments the request counter and latency histogram.
func ObserveRequest(method, path string, code int, duration time.Duration) {
	apiRequestsTotal.WithLabelValues(method, StatusClass(code)).Inc()
	apiRequestDurationSeconds.WithLabelValues(path).Observe(duration.Seconds())
}

// ObserveRetry increments the retry counter.
func ObserveRetry() {
	apiRetriesTotal.Inc()
}

// ObserveSharedInflight increments the dedup-hit counter.
func ObserveSharedInflight() {
	inflightSharedTotal.Inc()
}

// ObservePollTick increments the poll tick counter.
func ObservePollTick() {
	pollTicksTotal.Inc()
}

// ObserveJob increments the job counter for the given terminal outcome.
func ObserveJob(outcome string) {
	jobsTotal.WithLabelValues(outcome).Inc()
}

// SetJobProgress records the latest reported progress percentage.
func SetJobProgress(progress int) {
	jobProgress.Set(float64(progress))
}
