// Package corectx owns the evolving context snapshot shared with every event
// write and upload. One Provider serializes all reads and mutations on its
// own lane and fans committed snapshots out to subscribers.
package corectx

import (
	"go.uber.org/zap"

	"github.com/beaconlabs/beacon/api"
	"github.com/beaconlabs/beacon/internal/lane"
)

// Provider holds one api.Context behind a serial access lane.
//
// Ordering guarantee: a Write that completes before a Read is enqueued is
// visible to that read, and subscribers observe strictly increasing context
// versions.
type Provider struct {
	lane   *lane.SerialLane
	logger *zap.Logger

	// All fields below are owned by the lane goroutine.
	current     api.Context
	version     uint64
	readers     []api.ContextReader
	publishers  []api.ContextPublisher
	subscribers []func(api.Context)
}

// New creates a Provider seeded with the initial context.
func New(initial api.Context, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{
		lane:    lane.New("context"),
		logger:  logger,
		current: initial,
	}
	return p
}

// Read schedules block on the context lane with a consistent snapshot.
// Assigned pull readers are evaluated against the snapshot first. The block
// may call writers safely.
func (p *Provider) Read(block func(ctx api.Context)) {
	p.lane.Async(func() {
		block(p.snapshot())
	})
}

// Current returns a consistent snapshot synchronously. Must not be called
// from the context lane itself.
func (p *Provider) Current() api.Context {
	var snap api.Context
	p.lane.Sync(func() {
		snap = p.snapshot()
	})
	return snap
}

// Write schedules mutate on the context lane. After it runs, the new snapshot
// is published to all subscribers in subscription order.
func (p *Provider) Write(mutate func(ctx *api.Context)) {
	p.lane.Async(func() {
		mutate(&p.current)
		p.version++
		p.current.Version = p.version
		snap := p.current.Clone()
		for _, sub := range p.subscribers {
			sub(snap)
		}
	})
}

// Subscribe binds a push source: every mutation the publisher emits is merged
// into the context on the provider's lane. The publisher is stopped with the
// provider.
func (p *Provider) Subscribe(pub api.ContextPublisher) {
	p.lane.Async(func() {
		p.publishers = append(p.publishers, pub)
	})
	pub.Start(func(mutate func(ctx *api.Context)) {
		p.Write(mutate)
	})
}

// Assign binds a pull source evaluated lazily on each read. Assigned readers
// see the stored context but their output is not persisted.
func (p *Provider) Assign(r api.ContextReader) {
	p.lane.Async(func() {
		p.readers = append(p.readers, r)
	})
}

// OnChange registers a subscriber invoked on the context lane with every
// committed snapshot.
func (p *Provider) OnChange(fn func(ctx api.Context)) {
	p.lane.Async(func() {
		p.subscribers = append(p.subscribers, fn)
	})
}

// Barrier returns a quiescence barrier over the context lane.
func (p *Provider) Barrier() lane.Barrier {
	return lane.FromLane(p.lane)
}

// Stop stops all bound publishers, drains the lane and parks it.
func (p *Provider) Stop() {
	var pubs []api.ContextPublisher
	p.lane.Sync(func() {
		pubs = p.publishers
		p.publishers = nil
		p.subscribers = nil
	})
	for _, pub := range pubs {
		pub.Stop()
	}
	p.lane.Stop()
}

// snapshot runs on the lane goroutine.
func (p *Provider) snapshot() api.Context {
	snap := p.current.Clone()
	for _, r := range p.readers {
		r.Read(&snap)
	}
	snap.Version = p.version
	return snap
}
