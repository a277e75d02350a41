package beacon

import (
	"sync"
	"time"

	"github.com/beaconlabs/beacon/api"
)

// valuePublisher is an api.ContextPublisher driven by explicit Submit calls:
// the backing source for user-info and consent updates entering through the
// core's public surface.
type valuePublisher struct {
	mu      sync.Mutex
	publish func(mutate func(ctx *api.Context))
	pending []func(ctx *api.Context)
}

func (p *valuePublisher) Start(publish func(mutate func(ctx *api.Context))) {
	p.mu.Lock()
	p.publish = publish
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, mutate := range pending {
		publish(mutate)
	}
}

func (p *valuePublisher) Stop() {
	p.mu.Lock()
	p.publish = nil
	p.mu.Unlock()
}

// Submit forwards a mutation to the provider; mutations submitted before
// Start are queued.
func (p *valuePublisher) Submit(mutate func(ctx *api.Context)) {
	p.mu.Lock()
	publish := p.publish
	if publish == nil {
		p.pending = append(p.pending, mutate)
	}
	p.mu.Unlock()
	if publish != nil {
		publish(mutate)
	}
}

// serverDatePublisher adapts an api.ServerDateProvider to the context
// publisher contract.
type serverDatePublisher struct {
	src api.ServerDateProvider
}

func (s *serverDatePublisher) Start(publish func(mutate func(ctx *api.Context))) {
	s.src.Subscribe(func(offset time.Duration) {
		publish(func(ctx *api.Context) {
			ctx.ServerTimeOffset = offset
		})
	})
}

func (s *serverDatePublisher) Stop() {
	s.src.Stop()
}
