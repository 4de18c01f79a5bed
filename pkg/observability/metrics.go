package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Storage metrics
	StorageOperationsTotal    *prometheus.CounterVec
	StorageOperationDuration  *prometheus.HistogramVec
	StorageErrorsTotal        *prometheus.CounterVec

	// Dispatch metrics
	DispatchTotal             *prometheus.CounterVec
	DispatchDuration          *prometheus.HistogramVec
	DispatchErrorsTotal       *prometheus.CounterVec

	// Retry metrics
	RetryAttemptsTotal              *prometheus.CounterVec
	BatchFlushesTotal                *prometheus.CounterVec
	WebhookUnavailableTransitionsTotal *prometheus.CounterVec
	RetryQueueDepth           *prometheus.GaugeVec

	// Database metrics
	DBConnectionsActive       prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge

	// Redis metrics
	RedisConnectionsActive    prometheus.Gauge
	RedisCommandsTotal        *prometheus.CounterVec
	RedisCommandDuration      *prometheus.HistogramVec

	// Delivery-engine summary gauges
	WebhooksRetryingTotal     prometheus.Gauge
	WebhooksUnavailableTotal  prometheus.Gauge
	WebhooksDisabledTotal     prometheus.Gauge
	BackoffSecondsCurrent     prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookrelay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhookrelay_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhookrelay_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhookrelay_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		// Storage metrics
		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookrelay_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhookrelay_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookrelay_storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"operation", "backend", "error_type"},
		),

		// Dispatch metrics
		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookrelay_dispatch_total",
				Help: "Total number of webhook dispatch attempts",
			},
			[]string{"mode", "status"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhookrelay_dispatch_duration_seconds",
				Help:    "Webhook dispatch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		DispatchErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookrelay_dispatch_errors_total",
				Help: "Total number of failed webhook dispatch attempts",
			},
			[]string{"mode", "error_type"},
		),

		// Retry metrics
		RetryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookrelay_retry_attempts_total",
				Help: "Total number of retry attempts per webhook",
			},
			[]string{"webhook_id", "outcome"},
		),
		BatchFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookrelay_batch_flushes_total",
				Help: "Total number of batch queue flushes per webhook",
			},
			[]string{"webhook_id", "reason"},
		),
		WebhookUnavailableTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookrelay_webhook_unavailable_transitions_total",
				Help: "Total number of times a webhook transitioned to Unavailable",
			},
			[]string{"webhook_id", "reason"},
		),
		RetryQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "webhookrelay_retry_queue_depth",
				Help: "Current number of events queued for retry per webhook",
			},
			[]string{"webhook_id"},
		),

		// Database metrics
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "webhookrelay_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "webhookrelay_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "webhookrelay_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		DBConnectionsWaitDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "webhookrelay_db_connections_wait_duration_seconds",
				Help: "Total time spent waiting for connections",
			},
		),

		// Redis metrics
		RedisConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "webhookrelay_redis_connections_active",
				Help: "Number of active Redis connections",
			},
		),
		RedisCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookrelay_redis_commands_total",
				Help: "Total number of Redis commands",
			},
			[]string{"command", "status"},
		),
		RedisCommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhookrelay_redis_command_duration_seconds",
				Help:    "Redis command duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"command"},
		),

		// Delivery-engine summary gauges
		WebhooksRetryingTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "webhookrelay_webhooks_retrying_total",
				Help: "Number of webhooks currently in the Retrying state",
			},
		),
		WebhooksUnavailableTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "webhookrelay_webhooks_unavailable_total",
				Help: "Number of webhooks currently marked Unavailable",
			},
		),
		WebhooksDisabledTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "webhookrelay_webhooks_disabled_total",
				Help: "Number of webhooks currently Disabled",
			},
		),
		BackoffSecondsCurrent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "webhookrelay_backoff_seconds_current",
				Help: "Largest current backoff duration in seconds across all retrying webhooks",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.StorageErrorsTotal,
		m.DispatchTotal,
		m.DispatchDuration,
		m.DispatchErrorsTotal,
		m.RetryAttemptsTotal,
		m.BatchFlushesTotal,
		m.WebhookUnavailableTransitionsTotal,
		m.RetryQueueDepth,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
		m.RedisConnectionsActive,
		m.RedisCommandsTotal,
		m.RedisCommandDuration,
		m.WebhooksRetryingTotal,
		m.WebhooksUnavailableTotal,
		m.WebhooksDisabledTotal,
		m.BackoffSecondsCurrent,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status and size
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			// Record request size
			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(r.ContentLength))
			}

			// Serve the request
			next.ServeHTTP(rw, r)

			// Record metrics
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
