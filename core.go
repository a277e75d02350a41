package beacon

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/beaconlabs/beacon/api"
	"github.com/beaconlabs/beacon/internal/bus"
	"github.com/beaconlabs/beacon/internal/corectx"
	"github.com/beaconlabs/beacon/internal/lane"
	"github.com/beaconlabs/beacon/internal/observability"
	"github.com/beaconlabs/beacon/internal/storage"
	"github.com/beaconlabs/beacon/internal/upload"
	"github.com/beaconlabs/beacon/transport"
)

// storageVersion names the layout under each feature directory; bumping it
// orphans batches written by incompatible layouts instead of misreading them.
const storageVersion = "v2"

// featureRecord is the core-owned state of one registered feature.
type featureRecord struct {
	feature api.Feature
	storage *storage.Storage // nil for non-remote features
	worker  *upload.Worker   // nil for non-remote features
}

// Core is the feature registry and the owner of every shared lane: context,
// bus, and the read/write lane all storages serialize on. One Core per SDK
// instance.
type Core struct {
	cfg     Configuration
	preset  api.PerformancePreset
	logger  *zap.Logger
	metrics observability.MetricsRegistry

	provider *corectx.Provider
	bus      *bus.Bus
	rw       *lane.SerialLane

	httpClient api.HTTPClient

	userPub    *valuePublisher
	consentPub *valuePublisher

	mu       sync.Mutex
	features map[string]*featureRecord
	torn     bool
}

// New builds a Core from the configuration and starts its lanes. The returned
// core accepts registrations immediately.
func New(cfg Configuration) (*Core, error) {
	if cfg.RootDir == "" {
		return nil, ErrMissingRootDir
	}
	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create sdk root: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var metrics observability.MetricsRegistry = observability.NewNoOpRegistry()
	if cfg.EnableMetrics {
		if err := observability.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			logger.Warn("metrics registration failed, continuing without", zap.Error(err))
		} else {
			metrics = observability.NewPrometheusRegistry()
		}
	}

	if cfg.DateProvider == nil {
		cfg.DateProvider = api.SystemDateProvider{}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = transport.NewClient()
	}
	consent := cfg.InitialConsent
	if !consent.Valid() {
		consent = api.ConsentPending
	}
	version := cfg.SDKVersion
	if version == "" {
		version = sdkVersion
	}

	initial := api.Context{
		Site:            cfg.Site,
		ClientToken:     cfg.ClientToken,
		Service:         cfg.Service,
		Env:             cfg.Env,
		AppVersion:      cfg.AppVersion,
		SDKVersion:      version,
		Source:          cfg.Source,
		Device:          cfg.Device,
		LaunchTime:      cfg.DateProvider.Now(),
		TrackingConsent: consent,
		Network:         api.NetworkInfo{Reachability: api.ReachabilityMaybe},
	}

	c := &Core{
		cfg:        cfg,
		preset:     api.DefaultPreset().Merge(&cfg.Preset),
		logger:     logger.Named("beacon"),
		metrics:    metrics,
		provider:   corectx.New(initial, logger),
		bus:        bus.New(logger),
		rw:         lane.New("rw"),
		httpClient: httpClient,
		userPub:    &valuePublisher{},
		consentPub: &valuePublisher{},
		features:   make(map[string]*featureRecord),
	}

	c.bus.ConnectCore(c, c.provider)
	// Every committed context mutation is re-broadcast as a bus message.
	c.provider.OnChange(func(ctx api.Context) {
		c.bus.Send(api.ContextMessage{Context: ctx}, nil)
	})

	c.provider.Subscribe(c.userPub)
	c.provider.Subscribe(c.consentPub)
	for _, pub := range cfg.ContextPublishers {
		c.provider.Subscribe(pub)
	}
	if cfg.ServerDateProvider != nil {
		c.provider.Subscribe(&serverDatePublisher{src: cfg.ServerDateProvider})
	}
	for _, r := range cfg.ContextReaders {
		c.provider.Assign(r)
	}

	return c, nil
}

// Register adds a feature to the core: its directory is created, and when the
// feature uploads remotely, a storage and an upload worker are instantiated
// under the effective performance preset. The feature's message receiver is
// connected to the bus. Duplicate names fail fast.
func (c *Core) Register(f api.Feature) error {
	name := f.Name()
	if name == "" {
		return fmt.Errorf("beacon: feature name must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.torn {
		return ErrCoreTornDown
	}
	if _, exists := c.features[name]; exists {
		return fmt.Errorf("%w: %s", ErrFeatureAlreadyRegistered, name)
	}

	featureDir := filepath.Join(c.cfg.RootDir, name)
	if err := os.MkdirAll(featureDir, 0o755); err != nil {
		return fmt.Errorf("create feature directory: %w", err)
	}

	rec := &featureRecord{feature: f}
	if rf, ok := f.(api.RemoteFeature); ok {
		st, err := storage.New(storage.Config{
			Feature:      name,
			Root:         filepath.Join(featureDir, storageVersion),
			Preset:       c.preset.Merge(rf.PerformanceOverride()),
			Encryption:   c.cfg.Encryption,
			DateProvider: c.cfg.DateProvider,
		}, c.rw, c.logger, c.metrics, c.sendTelemetry)
		if err != nil {
			return fmt.Errorf("create storage for %s: %w", name, err)
		}
		st.ClearUnauthorized()

		worker := upload.NewWorker(upload.Config{
			Feature:                name,
			Preset:                 c.preset.Merge(rf.PerformanceOverride()),
			Reader:                 st,
			Builder:                rf.RequestBuilder(),
			Client:                 c.httpClient,
			Provider:               c.provider,
			Telemetry:              c.sendTelemetry,
			BackgroundTasks:        c.cfg.BackgroundTasks,
			BackgroundTasksEnabled: c.cfg.BackgroundTasksEnabled,
		}, c.logger, c.metrics)
		worker.Start()

		rec.storage = st
		rec.worker = worker
	}

	c.bus.Connect(name, f.MessageReceiver())
	c.features[name] = rec
	c.logger.Info("feature registered",
		zap.String("feature", name),
		zap.Bool("remote", rec.storage != nil),
	)
	return nil
}

// Get returns the registered feature instance under name.
func (c *Core) Get(name string) (api.Feature, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.features[name]
	if !ok {
		return nil, false
	}
	return rec.feature, true
}

// GetFeature returns the feature under name, typed. The second result is
// false when the feature is missing or of a different concrete type.
func GetFeature[F api.Feature](c *Core, name string) (F, bool) {
	var zero F
	f, ok := c.Get(name)
	if !ok {
		return zero, false
	}
	typed, ok := f.(F)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Scope returns the write scope of a registered remote feature, or a no-op
// scope when the feature is unknown or does not store events.
func (c *Core) Scope(feature string) api.FeatureScope {
	c.mu.Lock()
	rec, ok := c.features[feature]
	c.mu.Unlock()
	if !ok || rec.storage == nil {
		c.logger.Debug("scope requested for unavailable feature", zap.String("feature", feature))
		return nopScope{}
	}
	return &featureScope{core: c, feature: feature, storage: rec.storage}
}

// SetUserInfo replaces the user identity in the context.
func (c *Core) SetUserInfo(u api.UserInfo) {
	c.userPub.Submit(func(ctx *api.Context) {
		ctx.User = u
	})
}

// AddUserExtraInfo merges extra attributes into the current user info.
// Nil values delete the key.
func (c *Core) AddUserExtraInfo(extra map[string]any) {
	c.userPub.Submit(func(ctx *api.Context) {
		if ctx.User.Extra == nil {
			ctx.User.Extra = make(map[string]any, len(extra))
		}
		for k, v := range extra {
			if v == nil {
				delete(ctx.User.Extra, k)
				continue
			}
			ctx.User.Extra[k] = v
		}
	})
}

// SetTrackingConsent applies a consent change: every feature's pending data
// is migrated (kept or deleted) first, then the new consent is published so
// subsequent writes land in the new partition.
func (c *Core) SetTrackingConsent(consent api.TrackingConsent) {
	if !consent.Valid() {
		c.logger.Warn("ignoring invalid tracking consent", zap.String("consent", string(consent)))
		return
	}
	if c.provider.Current().TrackingConsent == consent {
		return
	}

	c.mu.Lock()
	records := c.records()
	c.mu.Unlock()
	for _, rec := range records {
		if rec.storage != nil {
			rec.storage.MigrateUnauthorized(consent)
		}
	}
	c.consentPub.Submit(func(ctx *api.Context) {
		ctx.TrackingConsent = consent
	})
}

// SetBaggage attaches an opaque sub-context under the given key; nil removes
// it.
func (c *Core) SetBaggage(key string, value any) {
	c.provider.Write(func(ctx *api.Context) {
		if value == nil {
			delete(ctx.Baggages, key)
			return
		}
		if ctx.Baggages == nil {
			ctx.Baggages = make(map[string]any)
		}
		ctx.Baggages[key] = value
	})
}

// Send fans a message out on the bus; fallback runs when no receiver handled
// it and may be nil.
func (c *Core) Send(msg api.Message, fallback func()) {
	c.bus.Send(msg, fallback)
}

// ClearAllData removes every stored batch of every feature.
func (c *Core) ClearAllData() {
	c.mu.Lock()
	records := c.records()
	c.mu.Unlock()
	for _, rec := range records {
		if rec.storage != nil {
			rec.storage.ClearAll()
		}
	}
}

// sendTelemetry counts, logs and publishes one self-monitoring signal.
func (c *Core) sendTelemetry(t api.Telemetry) {
	c.metrics.IncrementTelemetry(string(t.Kind))
	if t.Kind == api.TelemetryError {
		c.logger.Warn("sdk telemetry", zap.String("message", t.Message), zap.Any("attributes", t.Attributes))
	} else {
		c.logger.Debug("sdk telemetry", zap.String("message", t.Message), zap.Any("attributes", t.Attributes))
	}
	c.bus.Send(api.TelemetryMessage{Telemetry: t}, nil)
}

// records returns the current feature records; callers must hold c.mu.
func (c *Core) records() []*featureRecord {
	out := make([]*featureRecord, 0, len(c.features))
	for _, rec := range c.features {
		out = append(out, rec)
	}
	return out
}
