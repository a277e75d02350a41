package api

// Feature is an independently registered event producer (logs, traces, RUM,
// session replay, ...). The name must be unique within a core; registering a
// second feature under the same name fails.
type Feature interface {
	// Name returns the feature's unique identifier. It is also the directory
	// name of the feature's storage root.
	Name() string
	// MessageReceiver returns the receiver connected to the message bus on
	// registration, or nil if the feature does not listen to messages.
	MessageReceiver() MessageReceiver
}

// RemoteFeature is a Feature whose events are uploaded to a remote intake.
// Registering a RemoteFeature instantiates a storage and an upload worker.
type RemoteFeature interface {
	Feature
	// RequestBuilder turns a drained batch into an HTTP request.
	RequestBuilder() RequestBuilder
	// PerformanceOverride returns preset fields to merge over the core
	// default, or nil to use the default unchanged.
	PerformanceOverride() *PerformancePreset
}

// Drainable is implemented by features that run their own background queues.
// The core awaits DrainPendingWork during harvest so that work scheduled by
// the feature lands on disk before the terminal upload drain.
type Drainable interface {
	// DrainPendingWork schedules complete at the tail of the feature's
	// internal work queue(s) and returns immediately.
	DrainPendingWork(complete func())
}

// MessageReceiver handles messages delivered by the bus. Receive returns
// whether the message was handled; when no connected receiver handles a
// message, the sender's fallback runs instead.
//
// Receive is invoked on the bus lane: implementations must not block and must
// schedule any heavy work elsewhere.
type MessageReceiver interface {
	Receive(msg Message, core CoreScope) bool
}

// MessageReceiverFunc adapts a function to the MessageReceiver interface.
type MessageReceiverFunc func(msg Message, core CoreScope) bool

func (f MessageReceiverFunc) Receive(msg Message, core CoreScope) bool { return f(msg, core) }

// CoreScope is the part of the core surface available to message receivers
// and features: enough to reach other features and publish messages, without
// owning the core.
type CoreScope interface {
	// Scope returns the write scope of a registered feature, or a no-op scope
	// when the feature is not registered or does not store events.
	Scope(feature string) FeatureScope
	// Send fans a message out on the bus. The fallback runs if no receiver
	// handled the message; it may be nil.
	Send(msg Message, fallback func())
	// SetBaggage attaches an opaque sub-context under the given key.
	SetBaggage(key string, value any)
}

// WriteOptions tunes a single event-write scope.
type WriteOptions struct {
	// BypassConsent writes the event under the granted partition regardless
	// of the current consent. Reserved for data the user explicitly opted
	// into (e.g. crash reports).
	BypassConsent bool
	// ForceNewBatch closes the current batch file and opens a fresh one
	// before the write.
	ForceNewBatch bool
}

// FeatureScope is the contract under which a feature produces events: a
// consistent context snapshot paired with a writer bound to the consent
// captured by that snapshot.
type FeatureScope interface {
	// EventWriteContext schedules block on the context lane with the current
	// context and a writer selecting the batch file for the effective
	// consent. A panic inside block is recovered and reported as telemetry;
	// the surrounding batch stays valid.
	EventWriteContext(opts WriteOptions, block func(ctx Context, w EventWriter))
	// Context schedules block with the current context snapshot.
	Context(block func(ctx Context))
}

// EventWriter appends one event blob to the current batch. Writes are
// serialized through the shared read/write lane.
type EventWriter interface {
	// Write appends the event. Oversize events and encryption failures return
	// an error and the event is dropped; the batch is otherwise unaffected.
	Write(event []byte) error
}
