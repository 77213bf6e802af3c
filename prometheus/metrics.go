package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shank50/metriq/pkg/config"
)

var (
	// HTTP request metrics
	HttpRequestsTotal   prometheus.CounterVec
	HttpRequestDuration prometheus.HistogramVec

	// Authentication metrics
	AuthErrorsCounter prometheus.CounterVec

	// Database operation metrics
	DbOperationDuration prometheus.HistogramVec

	// Sync pipeline metrics
	StoreSyncsTotal     prometheus.CounterVec
	RowsUpsertedTotal   prometheus.CounterVec
	RetryAttemptsTotal  prometheus.CounterVec
	RetryExhaustedTotal prometheus.Counter

	initialized bool
)

// InitMetrics initializes Prometheus metrics with configuration
func InitMetrics(config *config.Config) {
	prefix := config.Metrics.Prefix

	HttpRequestsTotal = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HttpRequestDuration = *promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	AuthErrorsCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_auth_errors_total",
			Help: "Total number of authentication errors",
		},
		[]string{"reason"},
	)

	DbOperationDuration = *promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation_type"},
	)

	StoreSyncsTotal = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_store_syncs_total",
			Help: "Total number of per-store sync runs by outcome",
		},
		[]string{"status"},
	)

	RowsUpsertedTotal = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_rows_upserted_total",
			Help: "Total number of rows upserted by entity kind",
		},
		[]string{"entity"},
	)

	RetryAttemptsTotal = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_retry_attempts_total",
			Help: "Total number of retry attempts by transient condition tag",
		},
		[]string{"tag"},
	)

	RetryExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_retry_exhausted_total",
			Help: "Total number of operations that exhausted their retry budget",
		},
	)

	initialized = true
}

// TrackDBOperation returns a function that records the duration of a database operation
func TrackDBOperation(operationType string) func(startTime time.Time) {
	return func(startTime time.Time) {
		if !initialized {
			return
		}
		duration := time.Since(startTime).Seconds()
		DbOperationDuration.WithLabelValues(operationType).Observe(duration)
	}
}

// RecordAuthError increments the counter for authentication errors
func RecordAuthError(reason string) {
	if !initialized {
		return
	}
	AuthErrorsCounter.WithLabelValues(reason).Inc()
}

// RecordStoreSync increments the counter for per-store sync outcomes
func RecordStoreSync(status string) {
	if !initialized {
		return
	}
	StoreSyncsTotal.WithLabelValues(status).Inc()
}

// RecordRowsUpserted adds to the upserted-row counter for an entity kind
func RecordRowsUpserted(entity string, count int) {
	if !initialized {
		return
	}
	RowsUpsertedTotal.WithLabelValues(entity).Add(float64(count))
}

// RecordRetryAttempt increments the retry counter for a transient condition tag
func RecordRetryAttempt(tag string) {
	if !initialized {
		return
	}
	RetryAttemptsTotal.WithLabelValues(tag).Inc()
}

// RecordRetryExhausted increments the counter for exhausted retry budgets
func RecordRetryExhausted() {
	if !initialized {
		return
	}
	RetryExhaustedTotal.Inc()
}
