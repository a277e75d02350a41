package api

// ContextPublisher is a push source of context mutations: reachability
// monitors, battery and low-power publishers, application state trackers,
// carrier readers. All are optional; on platforms without a source, the
// corresponding context fields keep their initial values.
type ContextPublisher interface {
	// Start begins publishing. Each state change is delivered by calling
	// publish with a mutator; the provider applies the mutator on its own
	// lane, so implementations need no synchronization around context state.
	Start(publish func(mutate func(ctx *Context)))
	// Stop ends publishing. No publish calls may happen after Stop returns.
	Stop()
}

// ContextReader is a pull source evaluated lazily on every context read,
// for values too cheap or too volatile to track with a publisher (e.g.
// process launch time).
type ContextReader interface {
	Read(ctx *Context)
}

// ContextReaderFunc adapts a function to the ContextReader interface.
type ContextReaderFunc func(ctx *Context)

func (f ContextReaderFunc) Read(ctx *Context) { f(ctx) }

// BackgroundTaskCoordinator wraps an OS background-task lease around in-flight
// uploads when the application is backgrounded. BeginTask returns the release
// function; the coordinator may invoke expiration handling on its own if the
// OS reclaims the lease first.
type BackgroundTaskCoordinator interface {
	BeginTask(name string) (end func())
}
