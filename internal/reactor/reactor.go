// Package reactor implements the single-threaded event loop that owns every
// piece of mutable state in bedweb. Go has no application-level epoll, so the
// loop is a goroutine draining one channel of closures instead of a set of
// registered file descriptors; every external source (a client's read loop, a
// terminal's read loop, the telemetry ticker) only ever reaches into shared
// state by submitting a closure, never by touching it directly. That is what
// makes the rest of the server safe without a single mutex.
package reactor

import (
	"context"
	"sync"
)

// Reactor serializes arbitrary closures onto one goroutine. Closures run to
// completion, one at a time, in the order they were submitted — the same
// "handlers for distinct fds are invoked serially; no handler re-enters
// another" guarantee the original event loop made for fd readiness, just
// phrased for channel delivery instead.
type Reactor struct {
	jobs chan func()

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Reactor with the given job queue depth. A depth of 0 makes
// Submit synchronize directly with the loop goroutine; in practice a small
// buffer avoids submitters blocking on a busy loop.
func New(queueDepth int) *Reactor {
	return &Reactor{
		jobs:   make(chan func(), queueDepth),
		stopCh: make(chan struct{}),
	}
}

// Submit enqueues fn to run on the loop goroutine. Safe to call from any
// goroutine, including from within a closure already running on the loop
// (self-submission is how a handler defers follow-up work to the next
// iteration). Submit after Stop is a silent no-op — the loop is gone and
// there is nobody left to run fn.
func (r *Reactor) Submit(fn func()) {
	select {
	case r.jobs <- fn:
	case <-r.stopCh:
	}
}

// Run drains jobs until ctx is cancelled or Stop is called. It blocks the
// calling goroutine — call it from its own goroutine (or last, from main)
// the way the original "run() blocks until no registered fds remain or
// shutdown is signalled" did.
func (r *Reactor) Run(ctx context.Context) {
	for {
		select {
		case job := <-r.jobs:
			job()
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		}
	}
}

// Stop signals the loop to exit. Safe to call from inside a submitted
// closure (the common case: a handler reacting to a final disconnect decides
// to shut the whole server down) or from any other goroutine. Idempotent.
func (r *Reactor) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}
