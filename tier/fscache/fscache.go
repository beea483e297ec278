// Package fscache is the filesystem tier: one file per key under the cache
// directory, named by a wide hash of the key, holding a ten-digit decimal
// unix expiry glued in front of the payload. The layout lets Get and
// Cleanup judge an entry from a ten-byte partial read before committing to
// the whole file.
//
// It is the slowest tier of the chain and the guaranteed fallback: once a
// writable directory exists, nothing else can take it away.
package fscache

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

// filePrefix separates entry files from the mmap/ and code/ subtrees that
// share the cache directory.
const filePrefix = "tc_"

type Config struct {
	// Dir is the provisioned cache directory. It must already exist and
	// be writable; directory fallback is the registry's job, not ours.
	Dir string
}

type Cache struct {
	dir string
	now func() time.Time
}

var _ tier.Tier = (*Cache)(nil)

func New(cfg Config) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: fscache: no cache directory", tier.ErrUnavailable)
	}
	return &Cache{dir: cfg.Dir, now: time.Now}, nil
}

func (c *Cache) ID() tier.ID { return tier.Filesystem }

func (c *Cache) Probe(ctx context.Context) error { return tier.RoundTrip(ctx, c) }

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, filePrefix+keys.Wide(key))
}

// Get checks the expiry prefix before reading the payload; dead and
// corrupt entries are removed on sight and reported as misses.
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

	var pre [envelope.PrefixLen]byte
	if _, err := io.ReadFull(f, pre[:]); err != nil {
		_ = os.Remove(p) // too short to ever have been an entry
		return nil, false, nil
	}
	exp, err := envelope.DecodePrefix(pre[:])
	if err != nil {
		_ = os.Remove(p)
		return nil, false, nil
	}
	if envelope.Expired(exp, c.now()) {
		_ = os.Remove(p)
		return nil, false, nil
	}

	payload, err := io.ReadAll(f)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Put truncates and overwrites from offset zero under an exclusive lock,
// so concurrent writers serialize per entry and readers never observe a
// torn file.
func (c *Cache) Put(_ context.Context, key string, payload []byte, expiresAt time.Time) (bool, error) {
	f, err := os.OpenFile(c.path(key), os.O_CREATE|os.O_RDWR, 0o644)
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
	if _, err := f.WriteAt(envelope.EncodePrefixed(expiresAt, payload), 0); err != nil {
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

// Clear removes every entry file. Anything not carrying the entry prefix
// is left alone; the directory is shared with the mmap and code subtrees.
func (c *Cache) Clear(_ context.Context) error {
	ents, err := os.ReadDir(c.dir)
	if err != nil {
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

// Cleanup decodes just the expiry of every entry file and removes the dead
// ones. Files too mangled to decode count as dead.
func (c *Cache) Cleanup(ctx context.Context) (int, error) {
	ents, err := os.ReadDir(c.dir)
	if err != nil {
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
		return false // cannot judge it; leave it for the next pass
	}
	defer fslock.Unlock(f)

	var pre [envelope.PrefixLen]byte
	if _, err := io.ReadFull(f, pre[:]); err != nil {
		return true
	}
	exp, err := envelope.DecodePrefix(pre[:])
	if err != nil {
		return true
	}
	return envelope.Expired(exp, c.now())
}

func (c *Cache) Close(context.Context) error { return nil }
