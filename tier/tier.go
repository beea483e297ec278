// Package tier defines the uniform storage contract every backend of the
// hierarchy implements, plus the fixed tier identifiers and their priority
// order.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the same []byte that was previously passed to Put for a key (no visible
// metadata, no re-encoding, no mutation). Tiers that persist raw bytes wrap
// payloads in the internal envelope, and that wrapping must be fully reversed
// on read.
//
// Implementations MUST enforce expiry themselves: a Get after expiresAt has
// passed reports a miss and may remove the dead object. The engine never
// re-checks expiry above this boundary.
package tier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/tiercache/internal/keys"
)

// ID names one storage backend slot in the priority-ordered chain.
type ID string

// Built-in tiers, fastest first. Rank is the index in Order; lower rank
// wins reads and receives promotions.
const (
	OpcodeCache     ID = "opcode_cache"
	SharedMemory    ID = "shared_memory"
	LocalProcess    ID = "local_process"
	LocalProcessAlt ID = "local_process_alt"
	MemoryMapped    ID = "memory_mapped"
	NetworkKV       ID = "network_kv"
	NetworkCluster  ID = "network_cluster"
	Filesystem      ID = "filesystem"
)

// Order is the canonical priority order. Collaborator tiers attached by the
// caller rank after Filesystem in attachment order.
var Order = [...]ID{
	OpcodeCache,
	SharedMemory,
	LocalProcess,
	LocalProcessAlt,
	MemoryMapped,
	NetworkKV,
	NetworkCluster,
	Filesystem,
}

// Rank returns the canonical rank of a built-in tier, or -1 for IDs outside
// the fixed hierarchy (collaborator tiers).
func Rank(id ID) int {
	for i, t := range Order {
		if t == id {
			return i
		}
	}
	return -1
}

// ErrUnavailable marks a backend that cannot serve in this process: not
// compiled for this platform, daemon unreachable, permissions missing.
// Probe failures wrap it so the registry can tell "skip quietly" from
// genuine misconfiguration.
var ErrUnavailable = errors.New("tiercache: tier unavailable")

// Tier is the closed per-backend contract. One concrete type exists per
// backend; the registry selects probed survivors into an ordered slice.
// Implementations must be safe for concurrent use.
type Tier interface {
	// ID reports which slot of the hierarchy this backend fills.
	ID() ID

	// Probe performs a functional round-trip: write a canary, read it
	// back, compare, clean up. Merely being linked in is not enough; a
	// backend can be present but non-functional. An error removes the
	// tier from the available set for the process lifetime.
	Probe(ctx context.Context) error

	// Get returns (payload, true, nil) on a live hit; (nil, false, nil)
	// on a miss, an expired entry, or a corrupt object (both of which the
	// tier removes opportunistically). IO errors return (nil, false, err).
	Get(ctx context.Context, key string) (payload []byte, ok bool, err error)

	// Put stores payload until expiresAt; a zero expiresAt never expires.
	// Returns ok=false when the backend rejected the write (admission
	// pressure, size limits) without a hard error.
	Put(ctx context.Context, key string, payload []byte, expiresAt time.Time) (ok bool, err error)

	// Delete removes a key. A key that is already absent is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry this tier holds for its cache namespace.
	Clear(ctx context.Context) error

	// Cleanup removes expired and undecodable objects, returning how many
	// were deleted. Backends with native expiry have nothing to sweep and
	// return 0.
	Cleanup(ctx context.Context) (removed int, err error)

	// Close releases resources.
	Close(ctx context.Context) error
}

// BatchTier is implemented by tiers with a native multi-key fast path.
// GetMulti results preserve the caller's key order, with nil payloads for
// misses. PutMulti reports ok only when every entry was accepted.
type BatchTier interface {
	Tier

	GetMulti(ctx context.Context, ks []string) ([][]byte, error)
	PutMulti(ctx context.Context, ks []string, payloads [][]byte, expiresAt time.Time) (ok bool, err error)
	DeleteMulti(ctx context.Context, ks []string) error
}

// RoundTrip is the canonical functional probe: put a unique canary, read
// it back, compare, delete. Tiers without extra preconditions implement
// Probe as a direct call to it.
func RoundTrip(ctx context.Context, t Tier) error {
	key := keys.Canary(string(t.ID()))
	want := []byte(key)

	ok, err := t.Put(ctx, key, want, time.Now().Add(time.Minute))
	if err != nil {
		return fmt.Errorf("%w: canary put: %w", ErrUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: canary put rejected", ErrUnavailable)
	}

	got, ok, err := t.Get(ctx, key)
	if err != nil {
		_ = t.Delete(ctx, key)
		return fmt.Errorf("%w: canary get: %w", ErrUnavailable, err)
	}
	if !ok || !bytes.Equal(got, want) {
		_ = t.Delete(ctx, key)
		return fmt.Errorf("%w: canary did not survive the round-trip", ErrUnavailable)
	}

	if err := t.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: canary delete: %w", ErrUnavailable, err)
	}
	return nil
}
