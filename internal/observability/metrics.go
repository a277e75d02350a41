package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// events accepted by a writer, per feature and consent partition
	EventsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_events_written_total",
			Help: "Total events appended to batch files",
		},
		[]string{"feature", "consent"},
	)

	// events dropped before reaching disk, per feature and reason
	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_events_dropped_total",
			Help: "Total events dropped before write",
		},
		[]string{"feature", "reason"},
	)

	// batch files opened per feature
	BatchesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_batches_created_total",
			Help: "Total batch files created",
		},
		[]string{"feature"},
	)

	// batch files removed per feature, labelled by removal reason
	BatchesDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_batches_deleted_total",
			Help: "Total batch files deleted",
		},
		[]string{"feature", "reason"},
	)

	// upload attempts per feature, labelled by classified outcome
	Uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_uploads_total",
			Help: "Total upload attempts",
		},
		[]string{"feature", "status"},
	)

	// current adaptive upload delay per feature
	UploadDelay = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beacon_upload_delay_seconds",
			Help: "Current adaptive upload delay",
		},
		[]string{"feature"},
	)

	// telemetry signals emitted on the bus, labelled by kind
	TelemetryEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_telemetry_total",
			Help: "Total SDK self-monitoring signals",
		},
		[]string{"kind"},
	)
)

// RegisterMetrics registers all SDK metrics with the given registerer.
// Call once per process; duplicate registration returns an error from
// Prometheus.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		EventsWritten,
		EventsDropped,
		BatchesCreated,
		BatchesDeleted,
		Uploads,
		UploadDelay,
		TelemetryEvents,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
