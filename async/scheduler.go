package async

import (
	"context"
	"sync"
)

// Scheduler defers work to a later tick. Implementations decide when
// scheduled functions run; they must run them one at a time.
type Scheduler interface {
	Schedule(fn func())
}

// Loop is a single-goroutine cooperative scheduler. Work scheduled during
// a tick runs on the next tick, never recursively within the current one.
// Drive it either by calling Run on a dedicated goroutine or by pumping
// Tick from a host event loop.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Schedule enqueues fn for the next tick. Safe from any goroutine,
// including from within a running tick.
func (l *Loop) Schedule(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Tick runs everything queued at the moment of the call and reports how
// many functions ran. Work scheduled by those functions waits for the
// next Tick.
func (l *Loop) Tick() int {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

// Run pumps ticks until ctx is done. It parks between ticks, waking when
// new work arrives.
func (l *Loop) Run(ctx context.Context) {
	for {
		l.Tick()
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}
