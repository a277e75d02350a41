// Package bus fans typed messages out to the receivers registered by
// features. Delivery runs on the bus's own serial lane: asynchronous for the
// sender, serial per receiver, with send order from a single sender
// preserved.
package bus

import (
	"go.uber.org/zap"

	"github.com/beaconlabs/beacon/api"
	"github.com/beaconlabs/beacon/internal/lane"
)

// ContextSource supplies the current context for re-delivery to receivers
// that connect after the latest context broadcast.
type ContextSource interface {
	Current() api.Context
}

// Bus is the fan-out dispatcher. It holds no strong back-reference to the
// core: the core scope and context source are installed with ConnectCore and
// cleared with DisconnectCore at tear-down, breaking the core-bus-receiver
// cycle.
type Bus struct {
	lane   *lane.SerialLane
	logger *zap.Logger

	// Owned by the lane goroutine.
	receivers map[string]api.MessageReceiver
	order     []string
	scope     api.CoreScope
	source    ContextSource
}

// New creates a bus with its own lane.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		lane:      lane.New("bus"),
		logger:    logger,
		receivers: make(map[string]api.MessageReceiver),
	}
}

// ConnectCore installs the core scope passed to receivers and the source used
// to re-deliver the current context on connect.
func (b *Bus) ConnectCore(scope api.CoreScope, source ContextSource) {
	b.lane.Async(func() {
		b.scope = scope
		b.source = source
	})
}

// DisconnectCore clears the back-references installed by ConnectCore.
// Messages sent afterwards are delivered with a nil core scope.
func (b *Bus) DisconnectCore() {
	b.lane.Sync(func() {
		b.scope = nil
		b.source = nil
	})
}

// Connect registers a receiver under the given key, replacing any previous
// registration. The current context is delivered to the new receiver
// immediately; messages sent before the connect are not replayed.
func (b *Bus) Connect(key string, r api.MessageReceiver) {
	if r == nil {
		return
	}
	b.lane.Async(func() {
		if _, exists := b.receivers[key]; !exists {
			b.order = append(b.order, key)
		}
		b.receivers[key] = r
		if b.source != nil {
			r.Receive(api.ContextMessage{Context: b.source.Current()}, b.scope)
		}
	})
}

// Disconnect removes the receiver registered under key.
func (b *Bus) Disconnect(key string) {
	b.lane.Async(func() {
		if _, exists := b.receivers[key]; !exists {
			return
		}
		delete(b.receivers, key)
		for i, k := range b.order {
			if k == key {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	})
}

// Send delivers msg to every connected receiver in connection order. If no
// receiver reports the message handled, fallback runs on the bus lane;
// fallback may be nil.
func (b *Bus) Send(msg api.Message, fallback func()) {
	b.lane.Async(func() {
		handled := false
		for _, key := range b.order {
			if b.receivers[key].Receive(msg, b.scope) {
				handled = true
			}
		}
		if !handled && fallback != nil {
			fallback()
		}
	})
}

// Barrier returns a quiescence barrier over the bus lane.
func (b *Bus) Barrier() lane.Barrier {
	return lane.FromLane(b.lane)
}

// Stop drains pending deliveries and parks the lane.
func (b *Bus) Stop() {
	b.lane.Stop()
}
