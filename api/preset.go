package api

import "time"

// PerformancePreset tunes the storage and upload pipelines of one feature.
// The core carries an SDK-wide default; a RemoteFeature may override single
// fields, with zero values inheriting from the default.
type PerformancePreset struct {
	// MaxFileSize is the byte cap above which a new batch file opens.
	MaxFileSize int64
	// MaxObjectSize is the per-event byte cap; larger events are dropped.
	MaxObjectSize int64
	// MaxObjectsInFile is the event count cap per batch file.
	MaxObjectsInFile int
	// MaxFileAgeForWrite closes the current file on the next write once
	// exceeded.
	MaxFileAgeForWrite time.Duration
	// MinFileAgeForRead is how long a batch must rest before it becomes
	// upload-eligible; it keeps the writer and reader off the same file.
	MinFileAgeForRead time.Duration
	// MaxFileAgeForRead is the retention limit; older batches are deleted
	// unread.
	MaxFileAgeForRead time.Duration
	// MaxDirectorySize caps the total bytes per feature; oldest batches are
	// evicted first.
	MaxDirectorySize int64

	// InitialUploadDelay seeds the upload loop cadence.
	InitialUploadDelay time.Duration
	// MinUploadDelay and MaxUploadDelay bound the adaptive delay.
	MinUploadDelay time.Duration
	MaxUploadDelay time.Duration
	// UploadDelayChangeRate is the multiplicative step: successful uploads
	// shrink the delay by this fraction, retryable failures grow it.
	UploadDelayChangeRate float64
}

// DefaultPreset returns the SDK-wide default tuning.
func DefaultPreset() PerformancePreset {
	return PerformancePreset{
		MaxFileSize:           4 << 20,
		MaxObjectSize:         512 << 10,
		MaxObjectsInFile:      500,
		MaxFileAgeForWrite:    5 * time.Second,
		MinFileAgeForRead:     8 * time.Second,
		MaxFileAgeForRead:     18 * time.Hour,
		MaxDirectorySize:      512 << 20,
		InitialUploadDelay:    5 * time.Second,
		MinUploadDelay:        1 * time.Second,
		MaxUploadDelay:        20 * time.Second,
		UploadDelayChangeRate: 0.1,
	}
}

// Merge returns p with every non-zero field of override applied on top.
func (p PerformancePreset) Merge(override *PerformancePreset) PerformancePreset {
	if override == nil {
		return p
	}
	if override.MaxFileSize > 0 {
		p.MaxFileSize = override.MaxFileSize
	}
	if override.MaxObjectSize > 0 {
		p.MaxObjectSize = override.MaxObjectSize
	}
	if override.MaxObjectsInFile > 0 {
		p.MaxObjectsInFile = override.MaxObjectsInFile
	}
	if override.MaxFileAgeForWrite > 0 {
		p.MaxFileAgeForWrite = override.MaxFileAgeForWrite
	}
	if override.MinFileAgeForRead > 0 {
		p.MinFileAgeForRead = override.MinFileAgeForRead
	}
	if override.MaxFileAgeForRead > 0 {
		p.MaxFileAgeForRead = override.MaxFileAgeForRead
	}
	if override.MaxDirectorySize > 0 {
		p.MaxDirectorySize = override.MaxDirectorySize
	}
	if override.InitialUploadDelay > 0 {
		p.InitialUploadDelay = override.InitialUploadDelay
	}
	if override.MinUploadDelay > 0 {
		p.MinUploadDelay = override.MinUploadDelay
	}
	if override.MaxUploadDelay > 0 {
		p.MaxUploadDelay = override.MaxUploadDelay
	}
	if override.UploadDelayChangeRate > 0 {
		p.UploadDelayChangeRate = override.UploadDelayChangeRate
	}
	return p
}
