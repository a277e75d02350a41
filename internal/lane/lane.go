// Package lane provides the serial execution lanes the core schedules on, and
// the quiescence barriers composed over them during harvest.
//
// A lane is a single-consumer FIFO: work submitted with Async runs to
// completion, in submission order, on one dedicated goroutine. Cross-lane
// hand-offs (Async onto another lane) are the only points where ordering
// between subsystems is defined.
package lane

import "sync"

// SerialLane is a named FIFO work queue drained by a single goroutine.
type SerialLane struct {
	name string

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool

	done chan struct{}
}

// New creates a lane and starts its goroutine.
func New(name string) *SerialLane {
	l := &SerialLane{
		name: name,
		done: make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Name returns the lane's name.
func (l *SerialLane) Name() string { return l.name }

// Async enqueues fn at the tail of the lane. Work submitted after Stop is
// silently discarded.
func (l *SerialLane) Async(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.cond.Signal()
}

// Sync enqueues fn and blocks until it has run. Must not be called from the
// lane's own goroutine: the lane would wait on itself.
func (l *SerialLane) Sync(fn func()) {
	var wg sync.WaitGroup
	wg.Add(1)
	executed := false
	l.mu.Lock()
	if !l.stopped {
		executed = true
		l.queue = append(l.queue, func() {
			defer wg.Done()
			fn()
		})
	}
	l.mu.Unlock()
	if !executed {
		return
	}
	l.cond.Signal()
	wg.Wait()
}

// Stop drains the work already enqueued, then parks the lane. Subsequent
// submissions are discarded. Stop blocks until the lane goroutine exits and
// is idempotent.
func (l *SerialLane) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.stopped = true
	l.mu.Unlock()
	l.cond.Signal()
	<-l.done
}

func (l *SerialLane) run() {
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if len(l.queue) == 0 && l.stopped {
			l.mu.Unlock()
			close(l.done)
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()
		fn()
	}
}
