// Package debounce collapses bursts of calls into a single trailing
// invocation.
//
// A debounced function schedules its wrapped function after a quiet period.
// Every call within that period cancels the previous pending invocation and
// re-arms the timer with the new arguments, so only the last call's arguments
// are ever executed. A wait of zero disables scheduling entirely and the
// wrapped function runs synchronously on every call.
package debounce

import (
	"sync"
	"time"
)

// Func is a debounced function of one argument.
// It is safe for concurrent use.
type Func[T any] struct {
	wait time.Duration
	fn   func(T)

	mu    sync.Mutex
	timer *time.Timer
}

// New wraps fn so that rapid repeated calls collapse into a single delayed
// invocation carrying the last call's argument.
func New[T any](wait time.Duration, fn func(T)) *Func[T] {
	return &Func[T]{wait: wait, fn: fn}
}

// Call schedules fn with arg after the quiet period, superseding any pending
// invocation. With a zero wait, fn runs synchronously before Call returns.
func (d *Func[T]) Call(arg T) {
	if d.wait <= 0 {
		d.fn(arg)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, func() {
		d.fn(arg)
	})
}

// Stop cancels any pending invocation. It does not wait for an invocation
// that has already started.
func (d *Func[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// AwaitableFunc is a debounced function whose callers can wait for the
// invocation that ultimately runs. Superseded callers receive the result of
// the final invocation rather than a cancellation error.
type AwaitableFunc[T any] struct {
	wait time.Duration
	fn   func(T) error

	mu      sync.Mutex
	timer   *time.Timer
	waiters []chan error
	gen     uint64
}

// NewAwaitable wraps fn so that callers can await completion of the
// (possibly superseded) scheduled invocation.
func NewAwaitable[T any](wait time.Duration, fn func(T) error) *AwaitableFunc[T] {
	return &AwaitableFunc[T]{wait: wait, fn: fn}
}

// Call schedules fn with arg and returns a channel that receives the error
// of the invocation that actually runs, then closes. Callers superseded by a
// later Call receive that later call's result.
func (d *AwaitableFunc[T]) Call(arg T) <-chan error {
	done := make(chan error, 1)

	if d.wait <= 0 {
		done <- d.fn(arg)
		close(done)
		return done
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.waiters = append(d.waiters, done)
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.wait, func() {
		// A Call or Stop arriving while this invocation runs supersedes it;
		// the queued waiters then belong to the newer invocation.
		d.mu.Lock()
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()

		err := d.fn(arg)

		d.mu.Lock()
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		waiters := d.waiters
		d.waiters = nil
		d.timer = nil
		d.mu.Unlock()

		for _, w := range waiters {
			w <- err
			close(w)
		}
	})
	return done
}

// Stop cancels any pending invocation and releases waiters with a nil error.
func (d *AwaitableFunc[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	for _, w := range d.waiters {
		w <- nil
		close(w)
	}
	d.waiters = nil
}
