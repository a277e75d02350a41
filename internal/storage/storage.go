// Package storage manages the batch files of one feature: consent-partitioned
// directories, the single open file per consent, length-prefixed appends with
// optional encryption at rest, and the read side that feeds the upload
// pipeline.
//
// All directory mutations serialize through the shared read/write lane passed
// in by the core, so writes to the same batch file are strictly ordered and
// readers never observe a torn append.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/beaconlabs/beacon/api"
	"github.com/beaconlabs/beacon/internal/lane"
	"github.com/beaconlabs/beacon/internal/observability"
)

// ErrObjectTooLarge is returned by a writer when a single event exceeds the
// preset's MaxObjectSize. The event is dropped; the batch stays valid.
var ErrObjectTooLarge = errors.New("storage: event exceeds max object size")

// Directory names of the consent partitions under <feature root>.
const (
	dirGranted      = "granted"
	dirPending      = "pending"
	dirUnauthorized = "unauthorized"
)

// Telemetry reports a self-monitoring signal upward; the core forwards it to
// the message bus.
type Telemetry func(t api.Telemetry)

// Config assembles the collaborators of one feature's storage.
type Config struct {
	// Feature is the owning feature's name, used for logs and metrics.
	Feature string
	// Root is the feature's versioned storage root, e.g. <sdk root>/logs/v2.
	Root string
	// Preset tunes file rotation, retention and directory caps.
	Preset api.PerformancePreset
	// Encryption, when non-nil, encrypts every payload before disk write.
	Encryption api.DataEncryption
	// DateProvider supplies batch timestamps.
	DateProvider api.DateProvider
}

// openFile is the one writable batch file of a consent partition.
type openFile struct {
	name      string
	path      string
	createdAt time.Time
	lastWrite time.Time
	size      int64
	objects   int
}

// Storage owns the batch files of a single feature.
type Storage struct {
	cfg       Config
	rw        *lane.SerialLane
	logger    *zap.Logger
	metrics   observability.MetricsRegistry
	telemetry Telemetry

	// ignoreFileAge lifts MinFileAgeForRead during synchronous flush.
	ignoreFileAge atomic.Bool

	// open tracks the single open file per consent. Owned by the rw lane.
	open map[api.TrackingConsent]*openFile
}

// New creates the consent partition directories and returns the storage.
func New(cfg Config, rw *lane.SerialLane, logger *zap.Logger, metrics observability.MetricsRegistry, telemetry Telemetry) (*Storage, error) {
	if cfg.DateProvider == nil {
		cfg.DateProvider = api.SystemDateProvider{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if telemetry == nil {
		telemetry = func(api.Telemetry) {}
	}
	for _, dir := range []string{dirGranted, dirPending, dirUnauthorized} {
		if err := os.MkdirAll(filepath.Join(cfg.Root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory %s: %w", dir, err)
		}
	}
	return &Storage{
		cfg:       cfg,
		rw:        rw,
		logger:    logger.With(zap.String("feature", cfg.Feature)),
		metrics:   metrics,
		telemetry: telemetry,
		open:      make(map[api.TrackingConsent]*openFile),
	}, nil
}

// SetIgnoreFileAge toggles the flush-time bypass of MinFileAgeForRead.
func (s *Storage) SetIgnoreFileAge(v bool) {
	s.ignoreFileAge.Store(v)
}

// consentDir maps a consent value to its partition directory.
func (s *Storage) consentDir(consent api.TrackingConsent) string {
	switch consent {
	case api.ConsentGranted:
		return filepath.Join(s.cfg.Root, dirGranted)
	case api.ConsentPending:
		return filepath.Join(s.cfg.Root, dirPending)
	default:
		return filepath.Join(s.cfg.Root, dirUnauthorized)
	}
}

// Writer returns an event writer bound to the given consent. When
// forceNewBatch is set, the current open file of that consent is closed
// before the first append.
func (s *Storage) Writer(consent api.TrackingConsent, forceNewBatch bool) api.EventWriter {
	if forceNewBatch {
		s.rw.Async(func() {
			delete(s.open, consent)
		})
	}
	return &writer{s: s, consent: consent}
}

// writer appends events for one consent value. It is cheap and stateless;
// batch selection happens per append on the rw lane.
type writer struct {
	s       *Storage
	consent api.TrackingConsent
}

// Write validates and encrypts the event on the calling lane, then schedules
// the append on the shared rw lane. Disk errors surface as telemetry, never
// to the caller.
func (w *writer) Write(event []byte) error {
	s := w.s
	if len(event) == 0 {
		s.metrics.IncrementEventsDropped(s.cfg.Feature, "empty")
		return nil
	}
	if w.consent == api.ConsentNotGranted {
		// Collection is forbidden: drop silently.
		s.metrics.IncrementEventsDropped(s.cfg.Feature, "consent")
		return nil
	}
	if int64(len(event)) > s.cfg.Preset.MaxObjectSize {
		s.metrics.IncrementEventsDropped(s.cfg.Feature, "too_large")
		s.telemetry(api.Telemetry{
			Kind:    api.TelemetryError,
			Message: "event exceeds max object size",
			Attributes: map[string]any{
				"feature": s.cfg.Feature,
				"size":    len(event),
				"max":     s.cfg.Preset.MaxObjectSize,
			},
		})
		return ErrObjectTooLarge
	}

	data := event
	if s.cfg.Encryption != nil {
		encrypted, err := s.cfg.Encryption.Encrypt(event)
		if err != nil {
			s.metrics.IncrementEventsDropped(s.cfg.Feature, "encryption")
			s.telemetry(api.Telemetry{
				Kind:       api.TelemetryError,
				Message:    "event encryption failed",
				Attributes: map[string]any{"feature": s.cfg.Feature, "error": err.Error()},
			})
			return fmt.Errorf("encrypt event: %w", err)
		}
		data = encrypted
	}

	consent := w.consent
	s.rw.Async(func() {
		if err := s.append(consent, data); err != nil {
			s.logger.Error("event append failed", zap.Error(err))
			s.telemetry(api.Telemetry{
				Kind:       api.TelemetryError,
				Message:    "event append failed",
				Attributes: map[string]any{"feature": s.cfg.Feature, "error": err.Error()},
			})
		}
	})
	return nil
}

// append runs on the rw lane: selects or creates the open file and writes the
// length-prefixed blob.
func (s *Storage) append(consent api.TrackingConsent, data []byte) error {
	need := int64(len(data)) + 4
	now := s.cfg.DateProvider.Now()

	cur := s.open[consent]
	if cur != nil {
		rotate := cur.size+need > s.cfg.Preset.MaxFileSize ||
			cur.objects >= s.cfg.Preset.MaxObjectsInFile ||
			now.Sub(cur.createdAt) >= s.cfg.Preset.MaxFileAgeForWrite
		if rotate {
			delete(s.open, consent)
			cur = nil
		}
	}
	if cur == nil {
		created, err := s.createFile(consent, now)
		if err != nil {
			return err
		}
		cur = created
		s.open[consent] = cur
	}

	f, err := os.OpenFile(cur.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open batch file: %w", err)
	}
	defer f.Close()
	if err := appendEvent(f, data); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	cur.size += need
	cur.objects++
	cur.lastWrite = now
	s.metrics.IncrementEventsWritten(s.cfg.Feature, string(consent))
	return nil
}

// createFile opens a fresh batch file under the consent partition, evicting
// oldest batches first when the feature directory exceeds its size cap.
func (s *Storage) createFile(consent api.TrackingConsent, now time.Time) (*openFile, error) {
	s.enforceDirectorySize()

	dir := s.consentDir(consent)
	name := nameForTime(now)
	path := filepath.Join(dir, name)
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		// Same-millisecond creation: advance the encoded timestamp to keep
		// names unique and ordering stable.
		now = now.Add(time.Millisecond)
		name = nameForTime(now)
		path = filepath.Join(dir, name)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create batch file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close new batch file: %w", err)
	}
	s.metrics.IncrementBatchesCreated(s.cfg.Feature)
	return &openFile{
		name:      name,
		path:      path,
		createdAt: now,
	}, nil
}

// enforceDirectorySize deletes batches past their retention age, then evicts
// oldest batches across the granted and pending partitions until the feature
// total fits under MaxDirectorySize. Open files are spared.
func (s *Storage) enforceDirectorySize() {
	now := s.cfg.DateProvider.Now()
	var all []diskFile
	var total int64
	for _, dir := range []string{dirGranted, dirPending} {
		files, err := listFiles(filepath.Join(s.cfg.Root, dir))
		if err != nil {
			s.logger.Warn("directory scan failed", zap.String("dir", dir), zap.Error(err))
			continue
		}
		for _, f := range files {
			if now.Sub(f.createdAt) >= s.cfg.Preset.MaxFileAgeForRead {
				if err := os.Remove(f.path); err == nil {
					s.metrics.IncrementBatchesDeleted(s.cfg.Feature, "obsolete")
				}
				continue
			}
			total += f.size
			all = append(all, f)
		}
	}
	if total <= s.cfg.Preset.MaxDirectorySize {
		return
	}

	openPaths := make(map[string]bool, len(s.open))
	for _, f := range s.open {
		openPaths[f.path] = true
	}
	// listFiles returns per-dir oldest-first; merge into one oldest-first view.
	sortOldestFirst(all)
	for _, f := range all {
		if total <= s.cfg.Preset.MaxDirectorySize {
			return
		}
		if openPaths[f.path] {
			continue
		}
		if err := os.Remove(f.path); err != nil {
			s.logger.Warn("size purge failed", zap.String("file", f.name), zap.Error(err))
			continue
		}
		total -= f.size
		s.metrics.IncrementBatchesDeleted(s.cfg.Feature, "size_purge")
	}
}

// Barrier returns a quiescence barrier over the shared rw lane.
func (s *Storage) Barrier() lane.Barrier {
	return lane.FromLane(s.rw)
}
