// Package async provides the future type behind the engine's non-blocking
// facade. A Future settles exactly once, fulfilled or rejected, and has no
// cancellation: work already handed to a tier runs to completion.
//
// Execution is cooperative, never parallel. With a Scheduler the operation
// is deferred to the scheduler's next tick and the future settles from
// within that tick; with a nil Scheduler it runs inline on the caller's
// goroutine and the returned future is already settled. Deferral changes
// only when the underlying call executes, never its semantics.
package async

import (
	"context"
	"sync"
)

// Future is a one-shot container for a value or an error.
type Future[T any] struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	val     T
	err     error
	waiters []func(T, error)
}

// New returns a pending future plus its fulfill and reject functions.
// Only the first settle wins; later calls are ignored.
func New[T any]() (f *Future[T], fulfill func(T), reject func(error)) {
	f = &Future[T]{done: make(chan struct{})}
	return f, func(v T) { f.settle(v, nil) }, func(err error) { var zero T; f.settle(zero, err) }
}

// Resolved returns an already-fulfilled future.
func Resolved[T any](v T) *Future[T] {
	f, fulfill, _ := New[T]()
	fulfill(v)
	return f
}

// Rejected returns an already-rejected future.
func Rejected[T any](err error) *Future[T] {
	f, _, reject := New[T]()
	reject(err)
	return f
}

// Go runs fn under the scheduler and returns the future of its result.
// A nil scheduler runs fn synchronously; the future comes back settled.
func Go[T any](s Scheduler, fn func() (T, error)) *Future[T] {
	f, fulfill, reject := New[T]()
	run := func() {
		v, err := fn()
		if err != nil {
			reject(err)
			return
		}
		fulfill(v)
	}
	if s == nil {
		run()
		return f
	}
	s.Schedule(run)
	return f
}

func (f *Future[T]) settle(v T, err error) {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return
	}
	f.settled = true
	f.val, f.err = v, err
	waiters := f.waiters
	f.waiters = nil
	close(f.done)
	f.mu.Unlock()

	for _, w := range waiters {
		w(v, err)
	}
}

// Done is closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Settled reports whether the future has a result yet.
func (f *Future[T]) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Result blocks until the future settles. Do not call it from inside a
// cooperative loop tick; use OnSettle there.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.val, f.err
}

// Wait is Result with a context escape hatch. The underlying operation is
// not cancelled; only the wait is abandoned.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnSettle registers fn to run when the future settles, or immediately if
// it already has. Inside a cooperative loop the callback runs within the
// settling tick.
func (f *Future[T]) OnSettle(fn func(T, error)) {
	f.mu.Lock()
	if !f.settled {
		f.waiters = append(f.waiters, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.val, f.err
	f.mu.Unlock()
	fn(v, err)
}
