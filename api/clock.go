package api

import "time"

// DateProvider supplies the current instant. It is monotonic within a process
// run but may jump on wall-clock corrections; batch file names derive from it.
type DateProvider interface {
	Now() time.Time
}

// SystemDateProvider reads the system clock.
type SystemDateProvider struct{}

func (SystemDateProvider) Now() time.Time { return time.Now() }

// ServerDateProvider pushes the offset between server time and device time.
// The core merges offsets into the context as they arrive.
type ServerDateProvider interface {
	// Subscribe registers the offset sink and starts delivering. Implementations
	// deliver at most one pending offset at a time.
	Subscribe(receive func(offset time.Duration))
	// Stop ends delivery.
	Stop()
}
