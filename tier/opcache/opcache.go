// Package opcache is the fastest tier of the chain: envelope files under a
// code/ subdirectory paired with an in-process mirror of the decoded
// entries. Reads serve from the mirror after a single stat revalidation
// against the backing file (size and mtime), so a live hit costs no read,
// no lock and no decode, while writes and deletes from other processes are
// still observed.
//
// The mirror never outlives its file: a missing or rewritten file drops the
// mirror entry and the read falls back to disk.
package opcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/unkn0wn-root/tiercache/internal/envelope"
	"github.com/unkn0wn-root/tiercache/internal/fslock"
	"github.com/unkn0wn-root/tiercache/internal/keys"
	"github.com/unkn0wn-root/tiercache/tier"
)

const filePrefix = "op_"

type Config struct {
	// Dir is the code-cache directory, usually the code/ subtree of the
	// cache directory. New creates it if missing.
	Dir string
}

type entry struct {
	payload []byte
	exp     time.Time

	// file identity at mirror time; a mismatch on read invalidates the
	// mirror entry.
	size  int64
	mtime time.Time
}

type Cache struct {
	dir string
	now func() time.Time

	mu     sync.RWMutex
	mirror map[string]entry
}

var _ tier.Tier = (*Cache)(nil)

func New(cfg Config) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: opcache: no directory", tier.ErrUnavailable)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: opcache: %w", tier.ErrUnavailable, err)
	}
	return &Cache{
		dir:    cfg.Dir,
		now:    time.Now,
		mirror: make(map[string]entry),
	}, nil
}

func (c *Cache) ID() tier.ID { return tier.OpcodeCache }

func (c *Cache) Probe(ctx context.Context) error { return tier.RoundTrip(ctx, c) }

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, filePrefix+keys.Wide(key))
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	p := c.path(key)

	c.mu.RLock()
	e, mirrored := c.mirror[p]
	c.mu.RUnlock()

	if mirrored {
		if fi, err := os.Stat(p); err == nil && fi.Size() == e.size && fi.ModTime().Equal(e.mtime) {
			if envelope.Expired(e.exp, c.now()) {
				c.evict(p)
				_ = os.Remove(p)
				return nil, false, nil
			}
			return e.payload, true, nil
		}
		// File gone or rewritten behind our back; disk decides.
		c.evict(p)
	}

	return c.readThrough(p)
}

// readThrough loads an entry from its file and refreshes the mirror. Stat
// happens under the same shared lock as the read so the recorded identity
// matches the bytes.
func (c *Cache) readThrough(p string) ([]byte, bool, error) {
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

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, false, err
	}
	exp, payload, derr := envelope.Decode(raw)
	if derr != nil || envelope.Expired(exp, c.now()) {
		_ = os.Remove(p)
		return nil, false, nil
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	c.mirror[p] = entry{payload: payload, exp: exp, size: fi.Size(), mtime: fi.ModTime()}
	c.mu.Unlock()
	return payload, true, nil
}

func (c *Cache) Put(_ context.Context, key string, payload []byte, expiresAt time.Time) (bool, error) {
	enc := envelope.Encode(expiresAt, payload)
	p := c.path(key)

	f, err := os.OpenFile(p, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if err := fslock.Exclusive(f); err != nil {
		return false, err
	}
	defer fslock.Unlock(f)

	if err := f.Truncate(0); err != nil {
		return false, err
	}
	if _, err := f.WriteAt(enc, 0); err != nil {
		return false, err
	}
	fi, err := f.Stat()
	if err != nil {
		return false, err
	}

	// Mirror the expiry as the file stores it (second granularity), not as
	// the caller passed it, so both sides agree near the boundary.
	exp, _, _ := envelope.DecodeHeader(enc)

	c.mu.Lock()
	c.mirror[p] = entry{payload: bytes.Clone(payload), exp: exp, size: fi.Size(), mtime: fi.ModTime()}
	c.mu.Unlock()
	return true, nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	p := c.path(key)
	c.evict(p)
	err := os.Remove(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (c *Cache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.mirror = make(map[string]entry)
	c.mu.Unlock()

	ents, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var errs []error
	for _, de := range ents {
		if de.IsDir() || !strings.HasPrefix(de.Name(), filePrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, de.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cleanup sweeps dead code files, then drops mirror entries whose file is
// gone. Only removed files count; the mirror holds no entries of its own.
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
		if de.IsDir() || !strings.HasPrefix(de.Name(), filePrefix) {
			continue
		}
		p := filepath.Join(c.dir, de.Name())
		if !c.dead(p) {
			continue
		}
		c.evict(p)
		if err := os.Remove(p); err == nil || errors.Is(err, os.ErrNotExist) {
			removed++
		}
	}

	c.mu.Lock()
	for p := range c.mirror {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			delete(c.mirror, p)
		}
	}
	c.mu.Unlock()
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

func (c *Cache) evict(p string) {
	c.mu.Lock()
	delete(c.mirror, p)
	c.mu.Unlock()
}

func (c *Cache) Close(context.Context) error {
	c.mu.Lock()
	c.mirror = make(map[string]entry)
	c.mu.Unlock()
	return nil
}
