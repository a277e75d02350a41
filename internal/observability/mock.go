package observability

import (
	"sync"
	"time"
)

// CapturingRegistry is a MetricsRegistry for tests: it counts every call so
// assertions can inspect what the pipelines recorded.
type CapturingRegistry struct {
	mu sync.Mutex

	EventsWritten  map[string]int // feature|consent
	EventsDropped  map[string]int // feature|reason
	BatchesCreated map[string]int // feature
	BatchesDeleted map[string]int // feature|reason
	Uploads        map[string]int // feature|status
	Delays         map[string]time.Duration
	Telemetry      map[string]int // kind
}

// NewCapturingRegistry creates an empty CapturingRegistry.
func NewCapturingRegistry() *CapturingRegistry {
	return &CapturingRegistry{
		EventsWritten:  make(map[string]int),
		EventsDropped:  make(map[string]int),
		BatchesCreated: make(map[string]int),
		BatchesDeleted: make(map[string]int),
		Uploads:        make(map[string]int),
		Delays:         make(map[string]time.Duration),
		Telemetry:      make(map[string]int),
	}
}

func (c *CapturingRegistry) IncrementEventsWritten(feature, consent string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EventsWritten[feature+"|"+consent]++
}

func (c *CapturingRegistry) IncrementEventsDropped(feature, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EventsDropped[feature+"|"+reason]++
}

func (c *CapturingRegistry) IncrementBatchesCreated(feature string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BatchesCreated[feature]++
}

func (c *CapturingRegistry) IncrementBatchesDeleted(feature, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BatchesDeleted[feature+"|"+reason]++
}

func (c *CapturingRegistry) IncrementUploads(feature, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Uploads[feature+"|"+status]++
}

func (c *CapturingRegistry) SetUploadDelay(feature string, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Delays[feature] = delay
}

func (c *CapturingRegistry) IncrementTelemetry(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Telemetry[kind]++
}

// Count returns a recorded counter value under lock.
func (c *CapturingRegistry) Count(m map[string]int, key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return m[key]
}
