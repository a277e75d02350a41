package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/beaconlabs/beacon/api"
	"github.com/beaconlabs/beacon/internal/lane"
)

type recordingReceiver struct {
	mu      sync.Mutex
	got     []api.Message
	handles bool
}

func (r *recordingReceiver) Receive(msg api.Message, core api.CoreScope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg)
	return r.handles
}

func (r *recordingReceiver) setHandles(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = v
}

func (r *recordingReceiver) messages() []api.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]api.Message, len(r.got))
	copy(out, r.got)
	return out
}

type staticSource struct{ ctx api.Context }

func (s staticSource) Current() api.Context { return s.ctx }

func TestBus_FanOutPreservesSenderOrder(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	defer b.Stop()

	a := &recordingReceiver{handles: true}
	c := &recordingReceiver{}
	b.Connect("a", a)
	b.Connect("c", c)

	b.Send(api.BaggageMessage{Key: "first"}, nil)
	b.Send(api.BaggageMessage{Key: "second"}, nil)
	lane.Await(b.Barrier())

	for _, r := range []*recordingReceiver{a, c} {
		msgs := r.messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, "first", msgs[0].(api.BaggageMessage).Key)
		assert.Equal(t, "second", msgs[1].(api.BaggageMessage).Key)
	}
}

func TestBus_FallbackRunsWhenUnhandled(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	defer b.Stop()

	r := &recordingReceiver{handles: false}
	b.Connect("r", r)

	fallbackRan := false
	b.Send(api.BaggageMessage{Key: "k"}, func() { fallbackRan = true })
	lane.Await(b.Barrier())
	assert.True(t, fallbackRan)

	r.setHandles(true)
	fallbackRan = false
	b.Send(api.BaggageMessage{Key: "k"}, func() { fallbackRan = true })
	lane.Await(b.Barrier())
	assert.False(t, fallbackRan)
}

func TestBus_ContextRedeliveredOnConnect(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	defer b.Stop()
	b.ConnectCore(nil, staticSource{ctx: api.Context{Service: "svc"}})

	// Message sent before the receiver connects is not replayed.
	b.Send(api.BaggageMessage{Key: "early"}, nil)

	r := &recordingReceiver{}
	b.Connect("late", r)
	lane.Await(b.Barrier())

	msgs := r.messages()
	require.Len(t, msgs, 1)
	ctxMsg, ok := msgs[0].(api.ContextMessage)
	require.True(t, ok, "connect must re-deliver the current context")
	assert.Equal(t, "svc", ctxMsg.Context.Service)
}

func TestBus_Disconnect(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	defer b.Stop()

	r := &recordingReceiver{}
	b.Connect("r", r)
	b.Disconnect("r")
	b.Send(api.BaggageMessage{Key: "k"}, nil)
	lane.Await(b.Barrier())

	assert.Empty(t, r.messages())
}

func TestBus_DisconnectCoreClearsScope(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	defer b.Stop()
	b.ConnectCore(nil, staticSource{})
	b.DisconnectCore()

	var sawScope api.CoreScope
	received := make(chan struct{})
	b.Connect("r", api.MessageReceiverFunc(func(msg api.Message, core api.CoreScope) bool {
		sawScope = core
		close(received)
		return true
	}))
	b.Send(api.BaggageMessage{Key: "k"}, nil)
	<-received
	assert.Nil(t, sawScope)
}
