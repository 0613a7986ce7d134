// Package metrics defines the Prometheus metrics for the training audio service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the service
type Metrics struct {
	// Module lifecycle metrics
	ModulesCreated   prometheus.Counter
	ModulesCompleted prometheus.Counter
	ModulesFailed    prometheus.Counter
	ModulesDeleted   prometheus.Counter

	// Pipeline metrics
	ItemsProcessed     prometheus.Counter
	ItemsDropped       prometheus.Counter
	ProcessingDuration prometheus.Histogram
	QueueDepth         prometheus.Gauge

	// Transcription metrics
	TranscriptionRequests prometheus.Counter
	TranscriptionDegraded prometheus.Counter
	TranscriptionDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates and registers all metrics on the given registerer.
// Tests pass a fresh registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Module lifecycle metrics
		ModulesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "aeroar_modules_created_total",
			Help: "Total number of training modules created",
		}),
		ModulesCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "aeroar_modules_completed_total",
			Help: "Total number of modules that reached COMPLETE status",
		}),
		ModulesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "aeroar_modules_failed_total",
			Help: "Total number of modules that reached ERROR status",
		}),
		ModulesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "aeroar_modules_deleted_total",
			Help: "Total number of modules deleted",
		}),

		// Pipeline metrics
		ItemsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "aeroar_items_processed_total",
			Help: "Total number of items that made it into a manifest",
		}),
		ItemsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "aeroar_items_dropped_total",
			Help: "Total number of items dropped because normalization failed",
		}),
		ProcessingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aeroar_module_processing_duration_seconds",
			Help:    "Duration of full module pipeline runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aeroar_pipeline_queue_depth",
			Help: "Current number of modules waiting for a pipeline worker",
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "aeroar_transcription_requests_total",
			Help: "Total number of transcription attempts",
		}),
		TranscriptionDegraded: factory.NewCounter(prometheus.CounterOpts{
			Name: "aeroar_transcription_degraded_total",
			Help: "Total number of transcripts that degraded to a placeholder",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aeroar_transcription_duration_seconds",
			Help:    "Duration of individual transcription calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aeroar_http_requests_total",
			Help: "Total number of HTTP requests by method, endpoint and status",
		}, []string{"method", "endpoint", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aeroar_http_request_duration_seconds",
			Help:    "HTTP request duration by method and endpoint",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aeroar_http_errors_total",
			Help: "Total number of HTTP error responses by method, endpoint and class",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordHTTPRequest records a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, status string, duration float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordHTTPError records an HTTP error response
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
