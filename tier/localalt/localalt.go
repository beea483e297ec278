// Package localalt is the second in-process tier, backed by bigcache.
// bigcache has no per-entry TTL, only a global life window, so entries ride
// in the binary envelope and expiry is enforced on read; the life window
// caps residency from above.
package localalt

import (
	"context"
	"errors"
	"fmt"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/tiercache/internal/envelope"
	"github.com/unkn0wn-root/tiercache/tier"
)

const defaultLifeWindow = time.Hour

type Config struct {
	LifeWindow         time.Duration // upper bound on residency; default 1h
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

type Cache struct {
	c   *bc.BigCache
	now func() time.Time
}

var _ tier.Tier = (*Cache)(nil)

func New(cfg Config) (*Cache, error) {
	lw := cfg.LifeWindow
	if lw <= 0 {
		lw = defaultLifeWindow
	}
	conf := bc.DefaultConfig(lw)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, fmt.Errorf("%w: bigcache: %w", tier.ErrUnavailable, err)
	}
	return &Cache{c: c, now: time.Now}, nil
}

func (c *Cache) ID() tier.ID { return tier.LocalProcessAlt }

func (c *Cache) Probe(ctx context.Context) error { return tier.RoundTrip(ctx, c) }

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	raw, err := c.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	exp, payload, derr := envelope.Decode(raw)
	if derr != nil || envelope.Expired(exp, c.now()) {
		_ = c.c.Delete(key)
		return nil, false, nil
	}
	return payload, true, nil
}

func (c *Cache) Put(_ context.Context, key string, payload []byte, expiresAt time.Time) (bool, error) {
	err := c.c.Set(key, envelope.Encode(expiresAt, payload))
	return err == nil, err
}

func (c *Cache) Delete(_ context.Context, key string) error {
	err := c.c.Delete(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil
	}
	return err
}

func (c *Cache) Clear(_ context.Context) error {
	return c.c.Reset()
}

// Cleanup walks the shards and drops entries whose envelope is expired or
// undecodable. Keys are collected first; deleting during iteration would
// mutate the shards under the iterator.
func (c *Cache) Cleanup(ctx context.Context) (int, error) {
	var dead []string
	it := c.c.Iterator()
	for it.SetNext() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		info, err := it.Value()
		if err != nil {
			continue // entry evicted mid-iteration
		}
		exp, _, derr := envelope.DecodeHeader(info.Value())
		if derr != nil || envelope.Expired(exp, c.now()) {
			dead = append(dead, info.Key())
		}
	}

	removed := 0
	for _, k := range dead {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := c.c.Delete(k); err == nil || errors.Is(err, bc.ErrEntryNotFound) {
			removed++
		}
	}
	return removed, nil
}

func (c *Cache) Close(_ context.Context) error {
	return c.c.Close()
}
