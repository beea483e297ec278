// Package pool manages reusable handles to network-backed tiers.
//
// A Pool owns the full handle lifecycle: dial with a bounded retry count
// and a fixed inter-attempt delay, validate with a lightweight ping before
// handing out, keep released handles on a small idle list, and discard
// anything that fails validation so the next Acquire dials fresh. Callers
// must Release in a defer so an error path can never leak a handle.
//
// The pool is type-parameterized so the Redis and memcached tiers share
// one implementation.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrExhausted is returned when every dial attempt failed. The dial error
// of the last attempt is joined onto it.
var ErrExhausted = errors.New("pool: connection attempts exhausted")

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("pool: closed")

const (
	DefaultRetryAttempts  = 3
	DefaultRetryDelay     = 250 * time.Millisecond
	DefaultConnectTimeout = 5 * time.Second
	DefaultMaxIdle        = 1
)

// Config describes one pool. Dial is mandatory; Ping and Close are
// optional: a nil Ping trusts dialed handles, a nil Close drops them for
// the collector (the memcached client exposes no close).
type Config[H any] struct {
	// Name tags log output and errors, typically the tier ID.
	Name string

	Dial  func(ctx context.Context) (H, error)
	Ping  func(ctx context.Context, h H) error
	Close func(h H) error

	// RetryAttempts bounds dialing; RetryDelay is the fixed pause between
	// attempts; ConnectTimeout bounds each individual attempt.
	RetryAttempts  int
	RetryDelay     time.Duration
	ConnectTimeout time.Duration

	// Persistent keeps released handles for reuse. When false every
	// Release closes the handle, matching non-persistent connection
	// semantics.
	Persistent bool

	// MaxIdle caps the idle list when Persistent is set.
	MaxIdle int
}

// Pool hands out validated handles. Safe for concurrent use.
type Pool[H any] struct {
	cfg Config[H]

	mu     sync.Mutex
	idle   []H
	closed bool
}

func New[H any](cfg Config[H]) (*Pool[H], error) {
	if cfg.Dial == nil {
		return nil, fmt.Errorf("pool %q: nil Dial", cfg.Name)
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = DefaultMaxIdle
	}
	return &Pool[H]{cfg: cfg}, nil
}

// Acquire returns a validated handle: a pooled one when it still pings,
// otherwise a freshly dialed one. Unhealthy pooled handles are discarded,
// never handed out.
func (p *Pool[H]) Acquire(ctx context.Context) (H, error) {
	var zero H
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return zero, ErrClosed
		}
		if n := len(p.idle); n > 0 {
			h := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()
			if err := p.ping(ctx, h); err != nil {
				p.Discard(h)
				continue // stale handle; try the next one or dial
			}
			return h, nil
		}
		p.mu.Unlock()
		return p.dial(ctx)
	}
}

// Release returns a handle to the pool. Non-persistent pools and full idle
// lists close it instead.
func (p *Pool[H]) Release(h H) {
	if !p.cfg.Persistent {
		p.closeHandle(h)
		return
	}
	p.mu.Lock()
	if p.closed || len(p.idle) >= p.cfg.MaxIdle {
		p.mu.Unlock()
		p.closeHandle(h)
		return
	}
	p.idle = append(p.idle, h)
	p.mu.Unlock()
}

// Discard closes a handle found unhealthy mid-use. The next Acquire dials
// a fresh one.
func (p *Pool[H]) Discard(h H) {
	p.closeHandle(h)
}

// Close drains the idle list and fails all future Acquires.
func (p *Pool[H]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var errs []error
	for _, h := range idle {
		if p.cfg.Close != nil {
			if err := p.cfg.Close(h); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Pool[H]) dial(ctx context.Context) (H, error) {
	var zero H
	var lastErr error
	for attempt := 0; attempt < p.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(p.cfg.RetryDelay):
			}
		}

		dctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		h, err := p.cfg.Dial(dctx)
		if err == nil {
			if perr := p.ping(dctx, h); perr != nil {
				p.closeHandle(h) // dialed but unhealthy
				err = perr
			}
		}
		cancel()

		if err == nil {
			return h, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
	return zero, errors.Join(fmt.Errorf("%w: %q gave up after %d attempts", ErrExhausted, p.cfg.Name, p.cfg.RetryAttempts), lastErr)
}

func (p *Pool[H]) ping(ctx context.Context, h H) error {
	if p.cfg.Ping == nil {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()
	return p.cfg.Ping(pctx, h)
}

func (p *Pool[H]) closeHandle(h H) {
	if p.cfg.Close != nil {
		_ = p.cfg.Close(h)
	}
}
