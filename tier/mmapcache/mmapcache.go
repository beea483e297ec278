// Package mmapcache is the memory-mapped tier: one fixed-extent file per
// key under an mmap/ subdirectory, written and read through a shared
// mapping. Entries are wrapped in the binary envelope; the declared payload
// length makes the trailing padding of the extent invisible to readers.
//
// The extent is the configured file size or the encoded entry, whichever is
// larger, so small entries share one page-aligned shape and large ones are
// never truncated.
package mmapcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/unkn0wn-root/tiercache/internal/envelope"
	"github.com/unkn0wn-root/tiercache/internal/fslock"
	"github.com/unkn0wn-root/tiercache/internal/keys"
	"github.com/unkn0wn-root/tiercache/tier"
)

const (
	fileSuffix      = ".mmap"
	defaultFileSize = 4096
)

type Config struct {
	// Dir is the directory holding the mapped files, usually the mmap/
	// subtree of the cache directory. New creates it if missing.
	Dir string

	// FileSize is the minimum extent of each file in bytes. Entries whose
	// envelope exceeds it get an exact-size file instead. Default 4096.
	FileSize int
}

type Cache struct {
	dir      string
	fileSize int
	now      func() time.Time
}

var _ tier.Tier = (*Cache)(nil)

func New(cfg Config) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: mmapcache: no directory", tier.ErrUnavailable)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mmapcache: %w", tier.ErrUnavailable, err)
	}
	fs := cfg.FileSize
	if fs <= 0 {
		fs = defaultFileSize
	}
	if fs < envelope.HeaderLen {
		fs = envelope.HeaderLen
	}
	return &Cache{dir: cfg.Dir, fileSize: fs, now: time.Now}, nil
}

func (c *Cache) ID() tier.ID { return tier.MemoryMapped }

// Probe round-trips a canary through a real mapping, so platforms without
// the mmap surface fail here instead of at first use.
func (c *Cache) Probe(ctx context.Context) error { return tier.RoundTrip(ctx, c) }

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, keys.Wide(key)+fileSuffix)
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	p := c.path(key)
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	if err := fslock.Shared(f); err != nil {
		return nil, false, err
	}
	defer fslock.Unlock(f)

	fi, err := f.Stat()
	if err != nil {
		return nil, false, err
	}
	size := int(fi.Size())
	if size < envelope.HeaderLen {
		_ = os.Remove(p)
		return nil, false, nil
	}

	m, err := mapRO(f, size)
	if err != nil {
		return nil, false, err
	}
	exp, payload, derr := envelope.DecodePadded(m)
	if derr != nil || envelope.Expired(exp, c.now()) {
		_ = unmap(m)
		_ = os.Remove(p)
		return nil, false, nil
	}

	// The mapping dies with unmap; hand back a copy.
	out := make([]byte, len(payload))
	copy(out, payload)
	if err := unmap(m); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (c *Cache) Put(_ context.Context, key string, payload []byte, expiresAt time.Time) (bool, error) {
	enc := envelope.Encode(expiresAt, payload)
	extent := c.fileSize
	if len(enc) > extent {
		extent = len(enc)
	}

	f, err := os.OpenFile(c.path(key), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if err := fslock.Exclusive(f); err != nil {
		return false, err
	}
	defer fslock.Unlock(f)

	if err := f.Truncate(int64(extent)); err != nil {
		return false, err
	}
	m, err := mapRW(f, extent)
	if err != nil {
		return false, err
	}
	n := copy(m, enc)
	clear(m[n:]) // stale tail of a previous, longer entry must not linger
	if err := msync(m); err != nil {
		_ = unmap(m)
		return false, err
	}
	if err := unmap(m); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	err := os.Remove(c.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (c *Cache) Clear(_ context.Context) error {
	ents, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var errs []error
	for _, de := range ents {
		if de.IsDir() || !strings.HasSuffix(de.Name(), fileSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, de.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cleanup judges each file from its envelope header alone; mapping the
// whole extent to read seventeen bytes would be waste.
func (c *Cache) Cleanup(ctx context.Context) (int, error) {
	ents, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, de := range ents {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if de.IsDir() || !strings.HasSuffix(de.Name(), fileSuffix) {
			continue
		}
		p := filepath.Join(c.dir, de.Name())
		if !c.dead(p) {
			continue
		}
		if err := os.Remove(p); err == nil || errors.Is(err, os.ErrNotExist) {
			removed++
		}
	}
	return removed, nil
}

func (c *Cache) dead(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()
	if err := fslock.Shared(f); err != nil {
		return false
	}
	defer fslock.Unlock(f)

	var hdr [envelope.HeaderLen]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return true
	}
	exp, _, err := envelope.DecodeHeader(hdr[:])
	if err != nil {
		return true
	}
	return envelope.Expired(exp, c.now())
}

func (c *Cache) Close(context.Context) error { return nil }
