package shm

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/unkn0wn-root/tiercache/internal/keys"
)

func keyOf(c *Cache, key string) int32 { return keys.Sysv(c.base, key) }

// Segments outlive the process, so every test cache clears itself on
// cleanup and uses a per-process base key to stay off other runs' keys.
func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(Config{
		Dir:         filepath.Join(t.TempDir(), "shm"),
		BaseKey:     DefaultBaseKey ^ int32(os.Getpid()),
		SegmentSize: 128,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Clear(context.Background()) })

	if err := c.Probe(context.Background()); err != nil {
		t.Skipf("System V shared memory unavailable: %v", err)
	}
	return c
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	want := []byte("segment-bytes")
	if ok, err := c.Put(ctx, "k", want, time.Now().Add(time.Minute)); err != nil || !ok {
		t.Fatalf("Put: ok=%v err=%v", ok, err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || !bytes.Equal(got, want) {
		t.Fatalf("Get: ok=%v err=%v got=%q", ok, err, got)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("deleted entry still readable")
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
}

func TestSegmentGrowsForLargeEntries(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	small := []byte("s")
	if ok, err := c.Put(ctx, "k", small, time.Now().Add(time.Minute)); err != nil || !ok {
		t.Fatalf("Put small: ok=%v err=%v", ok, err)
	}
	// Larger than the 128-byte minimum extent: forces recreate.
	big := bytes.Repeat([]byte("x"), 4096)
	if ok, err := c.Put(ctx, "k", big, time.Now().Add(time.Minute)); err != nil || !ok {
		t.Fatalf("Put big: ok=%v err=%v", ok, err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || !bytes.Equal(got, big) {
		t.Fatalf("Get big: ok=%v err=%v len=%d", ok, err, len(got))
	}

	// And shrink again; the padded tail must stay invisible.
	if ok, err := c.Put(ctx, "k", small, time.Now().Add(time.Minute)); err != nil || !ok {
		t.Fatalf("Put shrink: ok=%v err=%v", ok, err)
	}
	got, ok, err = c.Get(ctx, "k")
	if err != nil || !ok || !bytes.Equal(got, small) {
		t.Fatalf("Get after shrink: ok=%v err=%v got=%q", ok, err, got)
	}
}

func TestExpiredSegmentRemovedOnRead(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	if ok, err := c.Put(ctx, "old", []byte("v"), time.Now().Add(time.Second)); err != nil || !ok {
		t.Fatalf("Put: ok=%v err=%v", ok, err)
	}
	c.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, ok, err := c.Get(ctx, "old"); err != nil || ok {
		t.Fatalf("expired Get should miss, ok=%v err=%v", ok, err)
	}
	// Segment and sidecar both gone.
	if _, err := os.Stat(c.lockPath(keyOf(c, "old"))); !os.IsNotExist(err) {
		t.Fatalf("sidecar not removed with its segment")
	}
}

func TestStaleSidecarPruned(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	if ok, err := c.Put(ctx, "k", []byte("v"), time.Now().Add(time.Minute)); err != nil || !ok {
		t.Fatalf("Put: ok=%v err=%v", ok, err)
	}
	// Remove the segment out-of-band; the sidecar is now stale.
	if err := segRemove(keyOf(c, "k")); err != nil {
		t.Fatalf("remove segment: %v", err)
	}
	if _, ok, err := c.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("Get without segment should miss, ok=%v err=%v", ok, err)
	}
	if _, err := os.Stat(c.lockPath(keyOf(c, "k"))); !os.IsNotExist(err) {
		t.Fatalf("stale sidecar not pruned on read")
	}
}

func TestCleanupSweepsLedger(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	if ok, err := c.Put(ctx, "live", []byte("v"), time.Now().Add(time.Hour)); err != nil || !ok {
		t.Fatalf("Put live: ok=%v err=%v", ok, err)
	}
	if ok, err := c.Put(ctx, "dead", []byte("v"), time.Now().Add(time.Second)); err != nil || !ok {
		t.Fatalf("Put dead: ok=%v err=%v", ok, err)
	}
	// Stale sidecar: segment removed out-of-band.
	if ok, err := c.Put(ctx, "stale", []byte("v"), time.Now().Add(time.Hour)); err != nil || !ok {
		t.Fatalf("Put stale: ok=%v err=%v", ok, err)
	}
	if err := segRemove(keyOf(c, "stale")); err != nil {
		t.Fatalf("remove segment: %v", err)
	}

	c.now = func() time.Time { return time.Now().Add(time.Minute) }
	removed, err := c.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Cleanup removed %d segments, want 1 (stale sidecars do not count)", removed)
	}
	if _, ok, _ := c.Get(ctx, "live"); !ok {
		t.Fatalf("live entry swept by Cleanup")
	}
	ks, err := c.ledger()
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(ks) != 1 {
		t.Fatalf("ledger after Cleanup: %d sidecars, want 1", len(ks))
	}
}

func TestClearDropsEverything(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	for _, k := range []string{"a", "b"} {
		if ok, err := c.Put(ctx, k, []byte(k), time.Time{}); err != nil || !ok {
			t.Fatalf("Put %q: ok=%v err=%v", k, ok, err)
		}
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for _, k := range []string{"a", "b"} {
		if _, ok, _ := c.Get(ctx, k); ok {
			t.Fatalf("entry %q survived Clear", k)
		}
	}
	ks, err := c.ledger()
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(ks) != 0 {
		t.Fatalf("ledger not empty after Clear: %d sidecars", len(ks))
	}
}
