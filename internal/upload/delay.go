// Package upload drains a feature's storage on an adaptive cadence: one
// worker per feature, one pending delayed tick at a time, response-driven
// delay between ticks.
package upload

import (
	"time"

	"github.com/beaconlabs/beacon/api"
)

// delay is the adaptive interval between upload ticks. It converges toward
// MinUploadDelay while uploads succeed and toward MaxUploadDelay while they
// fail or nothing is ready. Owned by the worker's lane; no locking.
type delay struct {
	current time.Duration
	min     time.Duration
	max     time.Duration
	rate    float64
}

func newDelay(p api.PerformancePreset) *delay {
	d := &delay{
		current: p.InitialUploadDelay,
		min:     p.MinUploadDelay,
		max:     p.MaxUploadDelay,
		rate:    p.UploadDelayChangeRate,
	}
	d.current = d.clamp(d.current)
	return d
}

func (d *delay) Current() time.Duration { return d.current }

// Decrease shrinks the delay multiplicatively after a successful upload.
func (d *delay) Decrease() {
	d.current = d.clamp(time.Duration(float64(d.current) * (1 - d.rate)))
}

// Increase grows the delay multiplicatively after a retryable failure or an
// idle tick.
func (d *delay) Increase() {
	d.current = d.clamp(time.Duration(float64(d.current) * (1 + d.rate)))
}

func (d *delay) clamp(v time.Duration) time.Duration {
	if v < d.min {
		return d.min
	}
	if v > d.max {
		return d.max
	}
	return v
}
