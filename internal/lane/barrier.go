package lane

import "sync/atomic"

// Barrier awaits quiescence of some underlying work queue: invoking it
// schedules done to run once all work submitted before the barrier was
// installed has completed.
//
// Barriers compose: Sequence chains them in order, Group runs them in
// parallel. Both return plain Barriers, so arbitrary staircases of quiescence
// can be assembled and awaited once.
type Barrier func(done func())

// FromLane returns a barrier over a serial lane: done runs after everything
// currently enqueued on the lane.
func FromLane(l *SerialLane) Barrier {
	return func(done func()) {
		l.Async(done)
	}
}

// Immediate is a barrier that completes at once.
func Immediate() Barrier {
	return func(done func()) {
		done()
	}
}

// Sequence composes barriers left to right: each barrier is installed only
// after the previous one completed, so work scheduled across queues in that
// order is fully observed.
func Sequence(barriers ...Barrier) Barrier {
	if len(barriers) == 0 {
		return Immediate()
	}
	head, rest := barriers[0], barriers[1:]
	if len(rest) == 0 {
		return head
	}
	tail := Sequence(rest...)
	return func(done func()) {
		head(func() {
			tail(done)
		})
	}
}

// Group composes barriers in parallel: done runs once every member completed.
func Group(barriers ...Barrier) Barrier {
	if len(barriers) == 0 {
		return Immediate()
	}
	return func(done func()) {
		var remaining atomic.Int64
		remaining.Store(int64(len(barriers)))
		for _, b := range barriers {
			b(func() {
				if remaining.Add(-1) == 0 {
					done()
				}
			})
		}
	}
}

// Await installs the barrier and blocks the calling goroutine until it
// completes. Must not be called from a lane the barrier covers.
func Await(b Barrier) {
	ch := make(chan struct{})
	b(func() {
		close(ch)
	})
	<-ch
}
