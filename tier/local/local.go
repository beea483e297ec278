// Package local is the in-process tier backed by ristretto: TinyLFU
// admission, cost accounting by payload size, native per-entry TTL. Writes
// are admission-gated, so Put reporting ok=false is a normal outcome under
// memory pressure, not a failure.
package local

import (
	"bytes"
	"context"
	"fmt"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/tiercache/internal/keys"
	"github.com/unkn0wn-root/tiercache/tier"
)

const (
	defaultMaxBytes    = 64 << 20
	defaultNumCounters = 1 << 20
	defaultBufferItems = 64
)

type Config struct {
	// MaxBytes caps the summed payload size. Default 64 MiB.
	MaxBytes int64
	// NumCounters sizes the admission sketch. Default 1M.
	NumCounters int64
	// BufferItems is ristretto's Set buffer width. Default 64.
	BufferItems int64
}

type Cache struct {
	rc  *rc.Cache
	now func() time.Time
}

var _ tier.Tier = (*Cache)(nil)

func New(cfg Config) (*Cache, error) {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = defaultNumCounters
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = defaultBufferItems
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxBytes,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: ristretto: %w", tier.ErrUnavailable, err)
	}
	return &Cache{rc: c, now: time.Now}, nil
}

func (c *Cache) ID() tier.ID { return tier.LocalProcess }

// Probe cannot use the shared round-trip directly: admission is
// asynchronous, so the canary write must be flushed before it is judged.
func (c *Cache) Probe(ctx context.Context) error {
	key := keys.Canary(string(c.ID()))
	want := []byte(key)

	ok, err := c.Put(ctx, key, want, c.now().Add(time.Minute))
	if err != nil || !ok {
		return fmt.Errorf("%w: canary put: ok=%v err=%v", tier.ErrUnavailable, ok, err)
	}
	c.rc.Wait()

	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok || !bytes.Equal(got, want) {
		_ = c.Delete(ctx, key)
		return fmt.Errorf("%w: canary did not survive the round-trip", tier.ErrUnavailable)
	}
	return c.Delete(ctx, key)
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.rc.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		c.rc.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

func (c *Cache) Put(_ context.Context, key string, payload []byte, expiresAt time.Time) (bool, error) {
	cost := int64(len(payload))
	if expiresAt.IsZero() {
		return c.rc.SetWithTTL(key, payload, cost, 0), nil
	}
	ttl := expiresAt.Sub(c.now())
	if ttl <= 0 {
		// Already dead on arrival; storing it would only resurface it.
		c.rc.Del(key)
		return true, nil
	}
	return c.rc.SetWithTTL(key, payload, cost, ttl), nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.rc.Del(key)
	return nil
}

func (c *Cache) Clear(_ context.Context) error {
	c.rc.Clear()
	return nil
}

// Cleanup is a no-op: ristretto expires entries itself.
func (c *Cache) Cleanup(context.Context) (int, error) { return 0, nil }

func (c *Cache) Close(_ context.Context) error {
	c.rc.Wait()
	c.rc.Close()
	return nil
}
