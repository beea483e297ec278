// Package shm is the shared-memory tier: one System V segment per key,
// addressed by a 31-bit key derived from the configured base, written under
// the same exclusive-lock discipline as the file tiers via a sidecar lock
// file per segment.
//
// The sidecars double as the segment ledger: SysV segments cannot be
// enumerated portably, so Clear and Cleanup walk the sidecar directory and
// only ever touch segments this cache created. A sidecar without a segment
// is stale and silently pruned; a segment without a sidecar is foreign and
// never touched.
package shm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/unkn0wn-root/tiercache/internal/envelope"
	"github.com/unkn0wn-root/tiercache/internal/fslock"
	"github.com/unkn0wn-root/tiercache/internal/keys"
	"github.com/unkn0wn-root/tiercache/tier"
)

const (
	lockSuffix         = ".lock"
	defaultSegmentSize = 4096

	// DefaultBaseKey partitions tiercache segments away from other SysV
	// users on the host ("tc" in the high bytes). Override it per cache
	// when two caches share a machine.
	DefaultBaseKey int32 = 0x74630000
)

type Config struct {
	// Dir holds the sidecar lock files, usually the shm/ subtree of the
	// cache directory. New creates it if missing.
	Dir string

	// BaseKey is XORed into the hash of every logical key to place this
	// cache's segments in SysV key space. Zero means DefaultBaseKey.
	BaseKey int32

	// SegmentSize is the minimum extent of each segment in bytes. Entries
	// whose envelope exceeds it get an exact-size segment. Default 4096.
	SegmentSize int
}

type Cache struct {
	dir     string
	base    int32
	segSize int
	now     func() time.Time
}

var _ tier.Tier = (*Cache)(nil)

func New(cfg Config) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: shm: no lock directory", tier.ErrUnavailable)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: shm: %w", tier.ErrUnavailable, err)
	}
	base := cfg.BaseKey
	if base == 0 {
		base = DefaultBaseKey
	}
	ss := cfg.SegmentSize
	if ss <= 0 {
		ss = defaultSegmentSize
	}
	if ss < envelope.HeaderLen {
		ss = envelope.HeaderLen
	}
	return &Cache{dir: cfg.Dir, base: base, segSize: ss, now: time.Now}, nil
}

func (c *Cache) ID() tier.ID { return tier.SharedMemory }

// Probe round-trips a canary through a real segment; hosts without SysV
// IPC (or with exhausted segment quotas) fail here and the tier is skipped.
func (c *Cache) Probe(ctx context.Context) error { return tier.RoundTrip(ctx, c) }

func (c *Cache) lockPath(k int32) string {
	return filepath.Join(c.dir, fmt.Sprintf("%08x%s", uint32(k), lockSuffix))
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	k := keys.Sysv(c.base, key)
	lf, err := os.Open(c.lockPath(k))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer lf.Close()

	if err := fslock.Shared(lf); err != nil {
		return nil, false, err
	}
	defer fslock.Unlock(lf)

	raw, found, err := segRead(k)
	if err != nil {
		return nil, false, err
	}
	if !found {
		_ = os.Remove(c.lockPath(k)) // sidecar outlived its segment
		return nil, false, nil
	}
	exp, payload, derr := envelope.DecodePadded(raw)
	if derr != nil || envelope.Expired(exp, c.now()) {
		_ = segRemove(k)
		_ = os.Remove(c.lockPath(k))
		return nil, false, nil
	}
	return payload, true, nil
}

func (c *Cache) Put(_ context.Context, key string, payload []byte, expiresAt time.Time) (bool, error) {
	k := keys.Sysv(c.base, key)
	lf, err := os.OpenFile(c.lockPath(k), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, err
	}
	defer lf.Close()

	if err := fslock.Exclusive(lf); err != nil {
		return false, err
	}
	defer fslock.Unlock(lf)

	if err := segPut(k, envelope.Encode(expiresAt, payload), c.segSize); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	k := keys.Sysv(c.base, key)
	lf, err := os.OpenFile(c.lockPath(k), os.O_RDWR, 0o644)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer lf.Close()

	if err := fslock.Exclusive(lf); err != nil {
		return err
	}
	defer fslock.Unlock(lf)

	if err := segRemove(k); err != nil {
		return err
	}
	err = os.Remove(c.lockPath(k))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (c *Cache) Clear(_ context.Context) error {
	ks, err := c.ledger()
	if err != nil {
		return err
	}
	var errs []error
	for _, k := range ks {
		if err := c.drop(k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cleanup judges every ledgered segment by its envelope header and drops
// the dead and the undecodable. Stale sidecars are pruned without counting;
// they never held an entry.
func (c *Cache) Cleanup(ctx context.Context) (int, error) {
	ks, err := c.ledger()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, k := range ks {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		dead, stale, err := c.judge(k)
		if err != nil {
			return removed, err
		}
		if stale {
			_ = os.Remove(c.lockPath(k))
			continue
		}
		if !dead {
			continue
		}
		if err := c.drop(k); err == nil {
			removed++
		}
	}
	return removed, nil
}

// ledger lists the SysV keys of every sidecar in the lock directory.
func (c *Cache) ledger() ([]int32, error) {
	ents, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ks []int32
	for _, de := range ents {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, lockSuffix) {
			continue
		}
		hexid := strings.TrimSuffix(name, lockSuffix)
		u, err := strconv.ParseUint(hexid, 16, 32)
		if err != nil {
			continue // not one of ours
		}
		ks = append(ks, int32(u))
	}
	return ks, nil
}

// judge reports whether the segment behind k is dead (expired or corrupt)
// or stale (sidecar without segment). Runs under the exclusive lock so the
// verdict cannot race a writer.
func (c *Cache) judge(k int32) (dead, stale bool, err error) {
	lf, err := os.OpenFile(c.lockPath(k), os.O_RDWR, 0o644)
	if errors.Is(err, os.ErrNotExist) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	defer lf.Close()

	if err := fslock.Exclusive(lf); err != nil {
		return false, false, err
	}
	defer fslock.Unlock(lf)

	raw, found, err := segRead(k)
	if err != nil {
		return false, false, err
	}
	if !found {
		return false, true, nil
	}
	exp, _, derr := envelope.DecodeHeader(raw)
	if derr != nil {
		return true, false, nil
	}
	return envelope.Expired(exp, c.now()), false, nil
}

// drop removes a segment and its sidecar under the exclusive lock.
func (c *Cache) drop(k int32) error {
	lf, err := os.OpenFile(c.lockPath(k), os.O_RDWR, 0o644)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer lf.Close()

	if err := fslock.Exclusive(lf); err != nil {
		return err
	}
	defer fslock.Unlock(lf)

	if err := segRemove(k); err != nil {
		return err
	}
	err = os.Remove(c.lockPath(k))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (c *Cache) Close(context.Context) error { return nil }
