package observability

import "time"

// MetricsRegistry provides an interface for recording SDK metrics.
// This replaces direct access to global Prometheus metrics with dependency
// injection, so the core stays testable and hosts that do not scrape can run
// with the no-op implementation.
type MetricsRegistry interface {
	// Storage metrics
	IncrementEventsWritten(feature, consent string)
	IncrementEventsDropped(feature, reason string)
	IncrementBatchesCreated(feature string)
	IncrementBatchesDeleted(feature, reason string)

	// Upload metrics
	IncrementUploads(feature, status string)
	SetUploadDelay(feature string, delay time.Duration)

	// Self-monitoring
	IncrementTelemetry(kind string)
}

// PrometheusRegistry implements MetricsRegistry using the package-level
// Prometheus metrics.
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry.
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementEventsWritten(feature, consent string) {
	EventsWritten.WithLabelValues(feature, consent).Inc()
}

func (r *PrometheusRegistry) IncrementEventsDropped(feature, reason string) {
	EventsDropped.WithLabelValues(feature, reason).Inc()
}

func (r *PrometheusRegistry) IncrementBatchesCreated(feature string) {
	BatchesCreated.WithLabelValues(feature).Inc()
}

func (r *PrometheusRegistry) IncrementBatchesDeleted(feature, reason string) {
	BatchesDeleted.WithLabelValues(feature, reason).Inc()
}

func (r *PrometheusRegistry) IncrementUploads(feature, status string) {
	Uploads.WithLabelValues(feature, status).Inc()
}

func (r *PrometheusRegistry) SetUploadDelay(feature string, delay time.Duration) {
	UploadDelay.WithLabelValues(feature).Set(delay.Seconds())
}

func (r *PrometheusRegistry) IncrementTelemetry(kind string) {
	TelemetryEvents.WithLabelValues(kind).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for hosts that
// do not collect metrics, and for tests.
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry.
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementEventsWritten(feature, consent string)        {}
func (r *NoOpRegistry) IncrementEventsDropped(feature, reason string)         {}
func (r *NoOpRegistry) IncrementBatchesCreated(feature string)                {}
func (r *NoOpRegistry) IncrementBatchesDeleted(feature, reason string)        {}
func (r *NoOpRegistry) IncrementUploads(feature, status string)               {}
func (r *NoOpRegistry) SetUploadDelay(feature string, delay time.Duration)    {}
func (r *NoOpRegistry) IncrementTelemetry(kind string)                        {}
