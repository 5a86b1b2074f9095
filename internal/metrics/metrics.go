package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookforge_api_request_duration_seconds",
			Help:    "Provider API request duration in seconds by model",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
		},
		[]string{"model", "status"},
	)

	rateLimiterWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookforge_rate_limiter_wait_duration_seconds",
			Help:    "Rate limiter wait duration in seconds by model",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"model"},
	)

	moduleOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookforge_module_outcomes_total",
			Help: "Module generation outcomes by terminal status",
		},
		[]string{"status"}, // "completed" or "error"
	)

	moduleRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookforge_module_retries_total",
			Help: "Total per-module retry attempts",
		},
	)

	wordsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookforge_words_generated_total",
			Help: "Total words accepted into completed modules",
		},
	)
)

// Collector provides convenience methods for recording metrics.
type Collector struct{}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordAPIRequest records a provider request duration.
func (c *Collector) RecordAPIRequest(model string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	apiRequestDuration.WithLabelValues(model, status).Observe(duration.Seconds())
}

// RecordRateLimiterWait records time spent waiting on the rate limiter.
func (c *Collector) RecordRateLimiterWait(model string, duration time.Duration) {
	rateLimiterWaitDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordModuleOutcome records a terminal per-module outcome.
func (c *Collector) RecordModuleOutcome(completed bool, words int) {
	if completed {
		moduleOutcomes.WithLabelValues("completed").Inc()
		wordsGenerated.Add(float64(words))
		return
	}
	moduleOutcomes.WithLabelValues("error").Inc()
}

// RecordModuleRetry records one retry attempt.
func (c *Collector) RecordModuleRetry() {
	moduleRetries.Inc()
}
