// Package beacon is the core of the telemetry SDK: a feature registry wired
// to a consent-aware storage pipeline and an adaptive upload pipeline, with a
// shared context snapshot and a message bus between features.
//
// A host registers features against a Core; each feature writes events
// through its scope and, when remote, gets its batches uploaded in the
// background. The host application never observes SDK failures: everything
// degrades silently into logs, metrics and telemetry.
package beacon

import (
	"go.uber.org/zap"

	"github.com/beaconlabs/beacon/api"
)

// sdkVersion is stamped into the context when the host does not override it.
const sdkVersion = "1.2.0"

// Configuration assembles a Core. Zero values get sensible defaults; only
// RootDir is required.
type Configuration struct {
	// Site is the intake site identifier (e.g. "us1").
	Site string
	// ClientToken authenticates uploads.
	ClientToken string
	// Service, Env and AppVersion identify the host application.
	Service    string
	Env        string
	AppVersion string
	// Source tags the platform the events originate from (e.g. "android").
	Source string
	// SDKVersion overrides the version stamped into the context.
	SDKVersion string

	// RootDir is the directory all feature storages live under. Required.
	RootDir string

	// Preset is the SDK-wide performance tuning; zero fields inherit
	// DefaultPreset. Remote features may override on top.
	Preset api.PerformancePreset

	// InitialConsent seeds the tracking consent; defaults to ConsentPending.
	InitialConsent api.TrackingConsent

	// Encryption, when non-nil, encrypts every event payload at rest.
	Encryption api.DataEncryption

	// HTTPClient submits upload requests; defaults to the transport package
	// client.
	HTTPClient api.HTTPClient

	// DateProvider supplies timestamps; defaults to the system clock.
	DateProvider api.DateProvider

	// ServerDateProvider, when non-nil, feeds the server time offset.
	ServerDateProvider api.ServerDateProvider

	// ContextPublishers are platform push sources (reachability, battery,
	// app state, ...) bound to the context provider at start.
	ContextPublishers []api.ContextPublisher
	// ContextReaders are pull sources evaluated on each context read.
	ContextReaders []api.ContextReader

	// BackgroundTasks leases OS background time around uploads in flight
	// while the app is backgrounded; used when BackgroundTasksEnabled.
	BackgroundTasks        api.BackgroundTaskCoordinator
	BackgroundTasksEnabled bool

	// Device seeds the device description in the context.
	Device api.DeviceInfo

	// Logger receives SDK logs; defaults to a no-op logger.
	Logger *zap.Logger

	// EnableMetrics records pipeline metrics into the process-global
	// Prometheus registry.
	EnableMetrics bool
}
