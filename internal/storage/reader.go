package storage

import (
	"bytes"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/beaconlabs/beacon/api"
)

// NextBatch returns the oldest upload-eligible batch of the granted
// partition, or nil when none is ready. Eligibility: the batch rested at
// least MinFileAgeForRead (unless the flush bypass is set) and is younger
// than MaxFileAgeForRead; older batches are deleted unread, corrupt batches
// deleted with telemetry.
//
// The call serializes through the rw lane; callers own the returned batch
// until they Accept it.
func (s *Storage) NextBatch() *Batch {
	var batch *Batch
	s.rw.Sync(func() {
		batch = s.nextBatch()
	})
	return batch
}

// nextBatch runs on the rw lane.
func (s *Storage) nextBatch() *Batch {
	ignoreAge := s.ignoreFileAge.Load()
	if ignoreAge {
		// A terminal drain reads everything, including the file still marked
		// open; writes have quiesced by the time the flag is set.
		delete(s.open, api.ConsentGranted)
	}

	files, err := listFiles(s.consentDir(api.ConsentGranted))
	if err != nil {
		s.logger.Error("batch scan failed", zap.Error(err))
		return nil
	}

	now := s.cfg.DateProvider.Now()
	// A file past its write age will never be appended to again; stop
	// treating it as open so it can ship even when the feature goes idle.
	if f := s.open[api.ConsentGranted]; f != nil && now.Sub(f.createdAt) >= s.cfg.Preset.MaxFileAgeForWrite {
		delete(s.open, api.ConsentGranted)
	}
	openPath := ""
	if f := s.open[api.ConsentGranted]; f != nil {
		openPath = f.path
	}

	for _, f := range files {
		age := now.Sub(f.createdAt)
		if age >= s.cfg.Preset.MaxFileAgeForRead {
			if err := os.Remove(f.path); err == nil {
				s.metrics.IncrementBatchesDeleted(s.cfg.Feature, "obsolete")
			}
			continue
		}
		if !ignoreAge {
			if f.path == openPath {
				continue
			}
			if age < s.cfg.Preset.MinFileAgeForRead {
				// Files are oldest first: everything after is younger still.
				return nil
			}
		}

		content, err := os.ReadFile(f.path)
		if err != nil {
			s.logger.Error("batch read failed", zap.String("batch", f.name), zap.Error(err))
			return nil
		}
		events, err := decodeAll(bytes.NewReader(content), s.cfg.Encryption)
		if err != nil {
			// Corrupt batch: delete and move on to the next candidate.
			os.Remove(f.path)
			s.metrics.IncrementBatchesDeleted(s.cfg.Feature, "corrupt")
			s.telemetry(api.Telemetry{
				Kind:       api.TelemetryError,
				Message:    "batch decode failed",
				Attributes: map[string]any{"feature": s.cfg.Feature, "batch": f.name, "error": err.Error()},
			})
			continue
		}
		if len(events) == 0 {
			os.Remove(f.path)
			continue
		}
		return &Batch{ID: f.name, Events: events}
	}
	return nil
}

// Accept completes the read of a batch: delete removes the file (after a
// successful or unrecoverable upload), keep leaves it for a retry. The reason
// labels the deletion metric.
func (s *Storage) Accept(batchID string, deleteFile bool, reason string) {
	if !deleteFile {
		return
	}
	s.rw.Async(func() {
		path := filepath.Join(s.consentDir(api.ConsentGranted), batchID)
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				s.logger.Warn("batch delete failed", zap.String("batch", batchID), zap.Error(err))
			}
			return
		}
		s.metrics.IncrementBatchesDeleted(s.cfg.Feature, reason)
	})
}
