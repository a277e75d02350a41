package beacon

import (
	"github.com/beaconlabs/beacon/api"
	"github.com/beaconlabs/beacon/internal/lane"
)

// harvestBarrier composes the quiescence staircase over the core's lanes in
// causal order: every path from a user thread to disk crosses these queues in
// exactly this order, so awaiting them in sequence observes full quiescence.
//
//  1. The bus lane: pending deliveries may schedule writes.
//  2. Each feature's own background work, in parallel.
//  3. The context lane: writes dispatched from message handlers commit here.
//  4. The shared read/write lane: the appends themselves.
func (c *Core) harvestBarrier(records []*featureRecord) lane.Barrier {
	var drains []lane.Barrier
	for _, rec := range records {
		if d, ok := rec.feature.(api.Drainable); ok {
			drains = append(drains, func(done func()) {
				d.DrainPendingWork(done)
			})
		}
	}
	return lane.Sequence(
		c.bus.Barrier(),
		lane.Group(drains...),
		c.provider.Barrier(),
		lane.FromLane(c.rw),
	)
}

// FlushAndTearDown synchronously harvests all in-flight work onto disk,
// uploads every remaining batch once regardless of outcome, then releases the
// features and stops every lane. The core accepts no work afterwards.
//
// Must be called from a non-critical thread: the terminal drain performs
// blocking network I/O with no timeout of its own beyond the per-request one.
func (c *Core) FlushAndTearDown() {
	c.mu.Lock()
	if c.torn {
		c.mu.Unlock()
		return
	}
	c.torn = true
	records := c.records()
	c.mu.Unlock()

	// Harvest: wait for every enqueued write to land on disk.
	lane.Await(c.harvestBarrier(records))

	// Upload: terminal best-effort drain, min-age lifted.
	for _, rec := range records {
		if rec.storage != nil {
			rec.storage.SetIgnoreFileAge(true)
		}
	}
	for _, rec := range records {
		if rec.worker != nil {
			rec.worker.FlushSynchronously()
		}
	}
	for _, rec := range records {
		if rec.storage != nil {
			rec.storage.SetIgnoreFileAge(false)
		}
	}

	// Tear down: workers first, then the shared lanes.
	for _, rec := range records {
		if rec.worker != nil {
			rec.worker.Stop()
		}
	}
	c.bus.DisconnectCore()
	c.bus.Stop()
	c.provider.Stop()
	c.rw.Stop()

	c.mu.Lock()
	c.features = make(map[string]*featureRecord)
	c.mu.Unlock()

	c.logger.Info("core torn down")
}
