// Package netkv is the Redis tier. Handles come from a pool.Pool so dialing
// gets bounded retries and ping validation; each pooled client is pinned to
// a single connection, keeping the pool the one place connection lifecycle
// lives.
//
// Keys are namespaced with the configured prefix on the way in and the
// prefix never leaks back out: batch results line up with the caller's key
// order, and Clear with a prefix only sweeps that namespace (a prefixless
// tier flushes the whole database).
package netkv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tiercache/pool"
	"github.com/unkn0wn-root/tiercache/tier"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = 6379

	scanBatch = 512
)

type Config struct {
	Host string // default 127.0.0.1
	Port int    // default 6379
	DB   int

	// Prefix namespaces every key verbatim (include a separator if you
	// want one). Empty means the tier owns the whole database.
	Prefix string

	// Persistent keeps released handles pooled; otherwise every operation
	// dials, validates, and closes its own connection.
	Persistent bool
	MaxIdle    int

	RetryAttempts  int
	RetryDelay     time.Duration
	ConnectTimeout time.Duration
}

type Cache struct {
	pool   *pool.Pool[*goredis.Client]
	prefix string
	now    func() time.Time
}

var (
	_ tier.Tier      = (*Cache)(nil)
	_ tier.BatchTier = (*Cache)(nil)
)

func New(cfg Config) (*Cache, error) {
	host := cfg.Host
	if host == "" {
		host = defaultHost
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	p, err := pool.New(pool.Config[*goredis.Client]{
		Name: string(tier.NetworkKV),
		// NewClient connects lazily; the pool's ping is the real dial.
		Dial: func(_ context.Context) (*goredis.Client, error) {
			return goredis.NewClient(&goredis.Options{
				Addr:        addr,
				DB:          cfg.DB,
				DialTimeout: cfg.ConnectTimeout,
				PoolSize:    1, // one handle, one connection
			}), nil
		},
		Ping: func(ctx context.Context, c *goredis.Client) error {
			return c.Ping(ctx).Err()
		},
		Close: func(c *goredis.Client) error {
			if err := c.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
				return err
			}
			return nil
		},
		RetryAttempts:  cfg.RetryAttempts,
		RetryDelay:     cfg.RetryDelay,
		ConnectTimeout: cfg.ConnectTimeout,
		Persistent:     cfg.Persistent,
		MaxIdle:        cfg.MaxIdle,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{pool: p, prefix: cfg.Prefix, now: time.Now}, nil
}

func (c *Cache) ID() tier.ID { return tier.NetworkKV }

func (c *Cache) Probe(ctx context.Context) error { return tier.RoundTrip(ctx, c) }

func (c *Cache) key(k string) string { return c.prefix + k }

// ttlUntil maps an absolute expiry to the relative TTL Redis wants:
// 0 for "never", negative for dead on arrival.
func (c *Cache) ttlUntil(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	d := expiresAt.Sub(c.now())
	if d <= 0 {
		return -1
	}
	return d
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	h, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	defer c.pool.Release(h)

	b, err := h.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, payload []byte, expiresAt time.Time) (bool, error) {
	h, err := c.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer c.pool.Release(h)

	ttl := c.ttlUntil(expiresAt)
	if ttl < 0 {
		return true, h.Del(ctx, c.key(key)).Err()
	}
	if err := h.Set(ctx, c.key(key), payload, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	h, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.pool.Release(h)

	return h.Del(ctx, c.key(key)).Err()
}

func (c *Cache) GetMulti(ctx context.Context, ks []string) ([][]byte, error) {
	if len(ks) == 0 {
		return nil, nil
	}
	h, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(h)

	phys := make([]string, len(ks))
	for i, k := range ks {
		phys[i] = c.key(k)
	}
	vals, err := h.MGet(ctx, phys...).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) != len(ks) {
		return nil, fmt.Errorf("netkv: MGET returned %d values for %d keys", len(vals), len(ks))
	}
	out := make([][]byte, len(ks))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

func (c *Cache) PutMulti(ctx context.Context, ks []string, payloads [][]byte, expiresAt time.Time) (bool, error) {
	if len(ks) == 0 {
		return true, nil
	}
	h, err := c.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer c.pool.Release(h)

	ttl := c.ttlUntil(expiresAt)
	if ttl < 0 {
		phys := make([]string, len(ks))
		for i, k := range ks {
			phys[i] = c.key(k)
		}
		return true, h.Del(ctx, phys...).Err()
	}

	pipe := h.Pipeline()
	for i, k := range ks {
		pipe.Set(ctx, c.key(k), payloads[i], ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) DeleteMulti(ctx context.Context, ks []string) error {
	if len(ks) == 0 {
		return nil
	}
	h, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.pool.Release(h)

	phys := make([]string, len(ks))
	for i, k := range ks {
		phys[i] = c.key(k)
	}
	return h.Del(ctx, phys...).Err()
}

// Clear sweeps the namespace: SCAN+DEL under a prefix, FLUSHDB without one.
func (c *Cache) Clear(ctx context.Context) error {
	h, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.pool.Release(h)

	if c.prefix == "" {
		return h.FlushDB(ctx).Err()
	}
	var cursor uint64
	for {
		batch, next, err := h.Scan(ctx, cursor, c.prefix+"*", scanBatch).Result()
		if err != nil {
			return err
		}
		if len(batch) > 0 {
			if err := h.Del(ctx, batch...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Cleanup is a no-op: Redis expires entries itself.
func (c *Cache) Cleanup(context.Context) (int, error) { return 0, nil }

func (c *Cache) Close(context.Context) error { return c.pool.Close() }
