package storage

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/beaconlabs/beacon/api"
)

// MigrateUnauthorized resolves the pending partition after a consent change:
// to granted, every pending batch moves to the granted partition and becomes
// upload-eligible; to notGranted, every pending batch is deleted. A change to
// pending leaves the partition untouched.
//
// The move is a rename on the rw lane, so no batch is ever observable in both
// partitions and nothing reaches granted/ that was not explicitly migrated.
func (s *Storage) MigrateUnauthorized(to api.TrackingConsent) {
	s.rw.Async(func() {
		delete(s.open, api.ConsentPending)

		switch to {
		case api.ConsentGranted:
			s.promotePending()
		case api.ConsentNotGranted:
			files, err := listFiles(filepath.Join(s.cfg.Root, dirPending))
			if err != nil {
				s.logger.Error("pending scan failed", zap.Error(err))
				return
			}
			for _, f := range files {
				if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
					s.logger.Warn("pending delete failed", zap.String("batch", f.name), zap.Error(err))
					continue
				}
				s.metrics.IncrementBatchesDeleted(s.cfg.Feature, "consent_revoked")
			}
		}
	})
}

// promotePending runs on the rw lane: renames every pending batch into the
// granted partition, preserving names unless a target already exists.
func (s *Storage) promotePending() {
	files, err := listFiles(filepath.Join(s.cfg.Root, dirPending))
	if err != nil {
		s.logger.Error("pending scan failed", zap.Error(err))
		return
	}
	grantedDir := s.consentDir(api.ConsentGranted)
	for _, f := range files {
		target := filepath.Join(grantedDir, f.name)
		createdAt := f.createdAt
		for {
			if _, err := os.Stat(target); os.IsNotExist(err) {
				break
			}
			createdAt = createdAt.Add(time.Millisecond)
			target = filepath.Join(grantedDir, nameForTime(createdAt))
		}
		if err := os.Rename(f.path, target); err != nil {
			s.logger.Error("pending promote failed", zap.String("batch", f.name), zap.Error(err))
		}
	}
}

// ClearAll removes every batch across all consent partitions. Idempotent.
func (s *Storage) ClearAll() {
	s.rw.Async(func() {
		s.open = make(map[api.TrackingConsent]*openFile)
		for _, dir := range []string{dirGranted, dirPending, dirUnauthorized} {
			if err := removeAllFiles(filepath.Join(s.cfg.Root, dir)); err != nil {
				s.logger.Warn("clear failed", zap.String("dir", dir), zap.Error(err))
			}
		}
	})
}

// ClearUnauthorized removes the pending partition and stale unauthorized
// files. Invoked at feature registration, before any write of the new
// session.
func (s *Storage) ClearUnauthorized() {
	s.rw.Async(func() {
		delete(s.open, api.ConsentPending)
		for _, dir := range []string{dirPending, dirUnauthorized} {
			if err := removeAllFiles(filepath.Join(s.cfg.Root, dir)); err != nil {
				s.logger.Warn("unauthorized clear failed", zap.String("dir", dir), zap.Error(err))
			}
		}
	})
}
