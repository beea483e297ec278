// Package cluster is the memcached tier. One or more servers are sharded
// by the client's consistent hashing; handles come from a pool.Pool with
// the same dial-retry and ping-validation discipline as the Redis tier.
//
// memcached cannot enumerate keys, so Clear flushes every namespace on the
// cluster regardless of prefix. Keys that are not legal memcached keys
// (whitespace, control bytes, over 250 chars) fall back to their hashed
// form; the mapping is deterministic, so reads and writes agree.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/unkn0wn-root/tiercache/internal/keys"
	"github.com/unkn0wn-root/tiercache/pool"
	"github.com/unkn0wn-root/tiercache/tier"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = 11211

	maxKeyLen = 250

	// Expirations at or past thirty days are absolute unix timestamps on
	// the wire; below that they are relative seconds.
	relativeLimit = 30 * 24 * 60 * 60
)

type Config struct {
	// Servers lists the cluster members as host:port. Empty means the
	// single server from Host and Port.
	Servers []string

	Host string // default 127.0.0.1
	Port int    // default 11211

	// Prefix namespaces every key verbatim.
	Prefix string

	Persistent bool
	MaxIdle    int

	RetryAttempts  int
	RetryDelay     time.Duration
	ConnectTimeout time.Duration
}

type Cache struct {
	pool   *pool.Pool[*memcache.Client]
	prefix string
	now    func() time.Time
}

var (
	_ tier.Tier      = (*Cache)(nil)
	_ tier.BatchTier = (*Cache)(nil)
)

func New(cfg Config) (*Cache, error) {
	servers := cfg.Servers
	if len(servers) == 0 {
		host := cfg.Host
		if host == "" {
			host = defaultHost
		}
		port := cfg.Port
		if port == 0 {
			port = defaultPort
		}
		servers = []string{net.JoinHostPort(host, strconv.Itoa(port))}
	}

	p, err := pool.New(pool.Config[*memcache.Client]{
		Name: string(tier.NetworkCluster),
		// memcache.New connects lazily; the pool's ping is the real dial.
		Dial: func(_ context.Context) (*memcache.Client, error) {
			mc := memcache.New(servers...)
			if cfg.ConnectTimeout > 0 {
				mc.Timeout = cfg.ConnectTimeout
			}
			mc.MaxIdleConns = 1 // one handle, one connection
			return mc, nil
		},
		Ping: func(_ context.Context, mc *memcache.Client) error {
			return mc.Ping()
		},
		Close: func(mc *memcache.Client) error {
			return mc.Close()
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

func (c *Cache) ID() tier.ID { return tier.NetworkCluster }

func (c *Cache) Probe(ctx context.Context) error { return tier.RoundTrip(ctx, c) }

// key derives the physical key: the prefixed logical key when memcached
// accepts it, its hashed form otherwise.
func (c *Cache) key(k string) string {
	phys := c.prefix + k
	if legalKey(phys) {
		return phys
	}
	return c.prefix + keys.Wide(k)
}

func legalKey(k string) bool {
	if len(k) == 0 || len(k) > maxKeyLen {
		return false
	}
	for i := 0; i < len(k); i++ {
		if k[i] <= ' ' || k[i] == 0x7f {
			return false
		}
	}
	return true
}

// expiration maps an absolute expiry to the wire convention: 0 for never,
// relative seconds under thirty days, absolute unix time past that.
// Negative means dead on arrival; callers delete instead of storing.
func (c *Cache) expiration(expiresAt time.Time) int32 {
	if expiresAt.IsZero() {
		return 0
	}
	d := expiresAt.Sub(c.now())
	if d <= 0 {
		return -1
	}
	secs := int64(math.Ceil(d.Seconds()))
	if secs < relativeLimit {
		return int32(secs)
	}
	return int32(expiresAt.Unix())
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	mc, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	defer c.pool.Release(mc)

	it, err := mc.Get(c.key(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return it.Value, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, payload []byte, expiresAt time.Time) (bool, error) {
	mc, err := c.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer c.pool.Release(mc)

	exp := c.expiration(expiresAt)
	if exp < 0 {
		err := mc.Delete(c.key(key))
		if errors.Is(err, memcache.ErrCacheMiss) {
			err = nil
		}
		return true, err
	}
	if err := mc.Set(&memcache.Item{Key: c.key(key), Value: payload, Expiration: exp}); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	mc, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.pool.Release(mc)

	err = mc.Delete(c.key(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

// GetMulti uses the client's native multi-get; results line up with the
// caller's key order, nil for misses.
func (c *Cache) GetMulti(ctx context.Context, ks []string) ([][]byte, error) {
	if len(ks) == 0 {
		return nil, nil
	}
	mc, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(mc)

	phys := make([]string, len(ks))
	for i, k := range ks {
		phys[i] = c.key(k)
	}
	items, err := mc.GetMulti(phys)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(ks))
	for i := range ks {
		if it, ok := items[phys[i]]; ok {
			out[i] = it.Value
		}
	}
	return out, nil
}

func (c *Cache) PutMulti(ctx context.Context, ks []string, payloads [][]byte, expiresAt time.Time) (bool, error) {
	if len(ks) == 0 {
		return true, nil
	}
	mc, err := c.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer c.pool.Release(mc)

	exp := c.expiration(expiresAt)
	if exp < 0 {
		for _, k := range ks {
			if err := mc.Delete(c.key(k)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
				return false, err
			}
		}
		return true, nil
	}
	for i, k := range ks {
		if err := mc.Set(&memcache.Item{Key: c.key(k), Value: payloads[i], Expiration: exp}); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (c *Cache) DeleteMulti(ctx context.Context, ks []string) error {
	if len(ks) == 0 {
		return nil
	}
	mc, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.pool.Release(mc)

	var errs []error
	for _, k := range ks {
		if err := mc.Delete(c.key(k)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			errs = append(errs, fmt.Errorf("delete %q: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

// Clear flushes the whole cluster; memcached has no key enumeration to
// scope the sweep to a prefix.
func (c *Cache) Clear(ctx context.Context) error {
	mc, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.pool.Release(mc)

	return mc.FlushAll()
}

// Cleanup is a no-op: memcached expires entries itself.
func (c *Cache) Cleanup(context.Context) (int, error) { return 0, nil }

func (c *Cache) Close(context.Context) error { return c.pool.Close() }
