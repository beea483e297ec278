package tiercache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/tiercache/async"
	c "github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/tier"
)

// Cache is the tiered cache API. V is the caller's value type; serialization
// is handled by a pluggable Codec[V]. Reads walk the hierarchy fastest tier
// first and promote hits upward; writes go through to every available tier.
//
// Backend trouble never surfaces as an error: a sick tier degrades to misses
// on read and is skipped on write, leaving a trace in LastError. Errors are
// reserved for invalid use (empty key or value, closed cache) and for codec
// failures on the caller's own values.
type Cache[V any] interface {
	// Get returns the value for key from the fastest tier holding it.
	Get(ctx context.Context, key string) (v V, ok bool, err error)

	// GetMulti returns the found subset of keys. Misses are simply absent.
	GetMulti(ctx context.Context, keys []string) (map[string]V, error)

	// GetOrSet returns the cached value or, on a miss, fills it exactly
	// once per key across concurrent callers and caches the result.
	GetOrSet(ctx context.Context, key string, ttl time.Duration, fill func(context.Context) (V, error)) (V, error)

	// Set writes through to every tier. ttl == 0 applies DefaultTTL.
	// ok means at least one tier accepted the write.
	Set(ctx context.Context, key string, value V, ttl time.Duration) (ok bool, err error)

	// SetMulti writes all items through every tier; ok means at least one
	// tier accepted every entry.
	SetMulti(ctx context.Context, items map[string]V, ttl time.Duration) (bool, error)

	// Delete removes key from every tier; ok means every tier succeeded.
	// Deleting an absent key succeeds.
	Delete(ctx context.Context, key string) (bool, error)

	// DeleteMulti removes all keys from every tier.
	DeleteMulti(ctx context.Context, keys []string) (bool, error)

	// Clear empties every tier's namespace.
	Clear(ctx context.Context) (bool, error)

	// Cleanup sweeps expired entries out of every tier that cannot expire
	// them natively and returns how many were removed.
	Cleanup(ctx context.Context) (int, error)

	// AvailableTiers lists the post-discovery hierarchy, fastest first.
	AvailableTiers(ctx context.Context) []tier.ID

	// LastUsedTier reports which tier served the last read or took the
	// last write; empty before the first operation.
	LastUsedTier() tier.ID

	// Health maps every probed tier to its discovery outcome.
	Health(ctx context.Context) map[tier.ID]bool

	// LastError describes the most recent backend failure, or "".
	LastError() string

	// SetCachePath points file-backed tiers at a directory. It reports
	// false once discovery has run.
	SetCachePath(path string) bool

	// CachePath returns the cache directory: the resolved one after
	// discovery, the configured one before.
	CachePath() string

	// ConfigureTier applies settings to a built-in tier before discovery.
	ConfigureTier(id tier.ID, s Settings) error

	// Async wraps the cache in a future-returning facade. A nil scheduler
	// runs operations inline; futures come back already settled.
	Async(s async.Scheduler) *AsyncCache[V]

	Close(context.Context) error
}

// Options tune the cache. The zero value works: every built-in tier is
// probed, values are msgpack-encoded, and the cache directory is resolved
// from the usual fallbacks.
type Options[V any] struct {
	Codec c.Codec[V] // nil => codec.Msgpack[V]

	Logger Logger // if nil, logging is disabled
	Hooks  Hooks  // if nil, NopHooks

	// CachePath is the preferred directory for file-backed tiers.
	// Discovery falls back to temp, working-directory and executable
	// locations when it cannot be provisioned.
	CachePath string

	// Prefix namespaces every key as "<prefix>:<key>" across all tiers.
	Prefix string

	DefaultTTL      time.Duration // applied when ttl == 0; 0 => 1h
	CleanupInterval time.Duration // 0 => no background sweeper

	// Tiers selects which built-in tiers discovery probes. nil probes all
	// of them; an empty non-nil slice probes none (collaborators only).
	Tiers []tier.ID

	// TierSettings configures built-in tiers, same shape as ConfigureTier.
	TierSettings map[tier.ID]Settings

	// Extra attaches caller-constructed collaborator tiers. They rank
	// after the built-ins, in the given order.
	Extra []tier.Tier
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newEngine[V](opts)
}
