package upload

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/beaconlabs/beacon/api"
	"github.com/beaconlabs/beacon/internal/lane"
	"github.com/beaconlabs/beacon/internal/observability"
	"github.com/beaconlabs/beacon/internal/storage"
)

// BatchReader is the slice of the storage surface the worker consumes.
type BatchReader interface {
	NextBatch() *storage.Batch
	Accept(batchID string, deleteFile bool, reason string)
}

// ContextProvider supplies the context snapshot consulted at every tick.
type ContextProvider interface {
	Current() api.Context
}

// outcome is the classified result of one upload attempt.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeUnrecoverable
	outcomeRetryable
)

// classify maps a transport result onto the retry policy: 2xx delete and
// speed up; 408, 429, 5xx and transport errors keep the batch and back off;
// every other status is unrecoverable and the batch is deleted.
func classify(status int, err error) outcome {
	if err != nil {
		return outcomeRetryable
	}
	switch {
	case status >= 200 && status < 300:
		return outcomeSuccess
	case status == 408 || status == 429:
		return outcomeRetryable
	case status >= 500:
		return outcomeRetryable
	default:
		return outcomeUnrecoverable
	}
}

func (o outcome) label() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeRetryable:
		return "retryable"
	default:
		return "unrecoverable"
	}
}

// Config assembles one feature's upload worker.
type Config struct {
	Feature  string
	Preset   api.PerformancePreset
	Reader   BatchReader
	Builder  api.RequestBuilder
	Client   api.HTTPClient
	Provider ContextProvider
	// Telemetry forwards self-monitoring signals to the core.
	Telemetry func(api.Telemetry)
	// BackgroundTasks, when non-nil and enabled, leases an OS background task
	// around requests in flight while the app is backgrounded.
	BackgroundTasks        api.BackgroundTaskCoordinator
	BackgroundTasksEnabled bool
}

// Worker periodically drains one feature's batches. All state is confined to
// the worker's serial lane; Start, Stop and FlushSynchronously are the
// cross-lane entry points.
type Worker struct {
	cfg     Config
	lane    *lane.SerialLane
	logger  *zap.Logger
	metrics observability.MetricsRegistry

	stopped atomic.Bool

	// Owned by the lane goroutine.
	delay *delay
	timer *time.Timer
}

// NewWorker creates a worker; Start schedules the first tick.
func NewWorker(cfg Config, logger *zap.Logger, metrics observability.MetricsRegistry) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = func(api.Telemetry) {}
	}
	return &Worker{
		cfg:     cfg,
		lane:    lane.New("upload:" + cfg.Feature),
		logger:  logger.With(zap.String("feature", cfg.Feature)),
		metrics: metrics,
		delay:   newDelay(cfg.Preset),
	}
}

// Start schedules the first tick after the initial delay.
func (w *Worker) Start() {
	w.lane.Async(func() {
		w.schedule(w.delay.Current())
	})
}

// Stop cancels the pending tick and parks the worker. The next scheduled
// tick, if already in flight, observes the terminated state and returns.
func (w *Worker) Stop() {
	w.stopped.Store(true)
	w.lane.Sync(func() {
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
	})
	w.lane.Stop()
}

// schedule arms the single pending tick. Runs on the lane.
func (w *Worker) schedule(after time.Duration) {
	if w.stopped.Load() {
		return
	}
	w.metrics.SetUploadDelay(w.cfg.Feature, after)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(after, func() {
		w.lane.Async(w.tick)
	})
}

// tick performs one upload attempt and reschedules. Runs on the lane.
func (w *Worker) tick() {
	if w.stopped.Load() {
		return
	}

	ctx := w.cfg.Provider.Current()
	if blocked := blockers(ctx); len(blocked) > 0 {
		w.logger.Debug("upload blocked", zap.Strings("blockers", blocked))
		w.metrics.IncrementUploads(w.cfg.Feature, "blocked")
		w.schedule(w.delay.Current())
		return
	}

	batch := w.cfg.Reader.NextBatch()
	if batch == nil {
		w.delay.Increase()
		w.schedule(w.delay.Current())
		return
	}

	switch w.attempt(ctx, batch) {
	case outcomeSuccess:
		w.cfg.Reader.Accept(batch.ID, true, "uploaded")
		w.delay.Decrease()
	case outcomeUnrecoverable:
		w.cfg.Reader.Accept(batch.ID, true, "unrecoverable")
	case outcomeRetryable:
		w.cfg.Reader.Accept(batch.ID, false, "")
		w.delay.Increase()
	}
	w.schedule(w.delay.Current())
}

// attempt builds and submits one batch, classifying the result. A builder
// failure is unrecoverable.
func (w *Worker) attempt(ctx api.Context, batch *storage.Batch) outcome {
	req, err := w.cfg.Builder.Build(ctx, batch.Events)
	if err != nil {
		w.logger.Error("request build failed", zap.String("batch", batch.ID), zap.Error(err))
		w.cfg.Telemetry(api.Telemetry{
			Kind:       api.TelemetryError,
			Message:    "upload request build failed",
			Attributes: map[string]any{"feature": w.cfg.Feature, "batch": batch.ID, "error": err.Error()},
		})
		w.metrics.IncrementUploads(w.cfg.Feature, "build_error")
		return outcomeUnrecoverable
	}

	if w.cfg.BackgroundTasksEnabled && w.cfg.BackgroundTasks != nil &&
		ctx.AppStateHistory.CurrentState() == api.AppStateBackground {
		end := w.cfg.BackgroundTasks.BeginTask("beacon.upload." + w.cfg.Feature)
		defer end()
	}

	status, err := w.cfg.Client.Send(context.Background(), req)
	result := classify(status, err)
	w.metrics.IncrementUploads(w.cfg.Feature, result.label())
	if result != outcomeSuccess {
		w.logger.Debug("upload attempt failed",
			zap.String("batch", batch.ID),
			zap.Int("status", status),
			zap.Error(err),
			zap.String("outcome", result.label()),
		)
	}
	return result
}

// FlushSynchronously drains every remaining batch once, deleting each
// regardless of outcome: this is the terminal, best-effort drain used during
// tear-down. The storage's ignore-age flag must be set by the caller first.
// Returns when the reader yields no more batches.
func (w *Worker) FlushSynchronously() {
	w.lane.Sync(func() {
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		ctx := w.cfg.Provider.Current()
		for {
			batch := w.cfg.Reader.NextBatch()
			if batch == nil {
				break
			}
			result := w.attempt(ctx, batch)
			reason := "uploaded"
			if result != outcomeSuccess {
				reason = "flush_discard"
			}
			w.cfg.Reader.Accept(batch.ID, true, reason)
		}
		w.schedule(w.delay.Current())
	})
}

// Barrier returns a quiescence barrier over the worker's lane.
func (w *Worker) Barrier() lane.Barrier {
	return lane.FromLane(w.lane)
}
