package sqlitetier

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	ctx := context.Background()
	c, err := New(ctx, Config{Path: filepath.Join(t.TempDir(), "cache.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(ctx) })
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, Config{}); err == nil {
		t.Fatalf("New without a path should fail")
	}
	if _, err := New(ctx, Config{Path: "x.db", Table: "bad-name;"}); err == nil {
		t.Fatalf("New with a non-identifier table should fail")
	}
	if _, err := New(ctx, Config{Path: "x.db", Table: "1starts_with_digit"}); err == nil {
		t.Fatalf("New with a digit-leading table should fail")
	}
}

func TestProbeRoundTrip(t *testing.T) {
	c := newTestCache(t)
	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if c.ID() != TierID {
		t.Fatalf("ID: got %q", c.ID())
	}
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	want := []byte("blob-bytes")
	if ok, err := c.Put(ctx, "k", want, time.Now().Add(time.Minute)); err != nil || !ok {
		t.Fatalf("Put: ok=%v err=%v", ok, err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || !bytes.Equal(got, want) {
		t.Fatalf("Get: ok=%v err=%v got=%q", ok, err, got)
	}

	// Upsert replaces in place.
	if ok, err := c.Put(ctx, "k", []byte("second"), time.Now().Add(time.Minute)); err != nil || !ok {
		t.Fatalf("Put upsert: ok=%v err=%v", ok, err)
	}
	got, ok, err = c.Get(ctx, "k")
	if err != nil || !ok || !bytes.Equal(got, []byte("second")) {
		t.Fatalf("Get after upsert: ok=%v err=%v got=%q", ok, err, got)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("deleted row still readable")
	}
}

func TestExpiryLazyOnRead(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	if ok, err := c.Put(ctx, "short", []byte("v"), time.Now().Add(time.Second)); err != nil || !ok {
		t.Fatalf("Put: ok=%v err=%v", ok, err)
	}
	if ok, err := c.Put(ctx, "forever", []byte("v"), time.Time{}); err != nil || !ok {
		t.Fatalf("Put forever: ok=%v err=%v", ok, err)
	}

	c.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, ok, err := c.Get(ctx, "short"); err != nil || ok {
		t.Fatalf("expired Get should miss, ok=%v err=%v", ok, err)
	}
	if _, ok, err := c.Get(ctx, "forever"); err != nil || !ok {
		t.Fatalf("NULL expiry should never die, ok=%v err=%v", ok, err)
	}

	// The lazy delete removed the row, not just masked it.
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM cache_entries WHERE key = 'short'").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expired row still in table")
	}
}

func TestCleanupCountsRows(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	if ok, err := c.Put(ctx, "live", []byte("v"), time.Now().Add(time.Hour)); err != nil || !ok {
		t.Fatalf("Put live: ok=%v err=%v", ok, err)
	}
	for _, k := range []string{"d1", "d2"} {
		if ok, err := c.Put(ctx, k, []byte("v"), time.Now().Add(time.Second)); err != nil || !ok {
			t.Fatalf("Put %q: ok=%v err=%v", k, ok, err)
		}
	}

	c.now = func() time.Time { return time.Now().Add(time.Minute) }
	removed, err := c.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 2 {
		t.Fatalf("Cleanup removed %d rows, want 2", removed)
	}
	if _, ok, _ := c.Get(ctx, "live"); !ok {
		t.Fatalf("live row swept by Cleanup")
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	for _, k := range []string{"a", "b", "c"} {
		if ok, err := c.Put(ctx, k, []byte(k), time.Time{}); err != nil || !ok {
			t.Fatalf("Put %q: ok=%v err=%v", k, ok, err)
		}
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if _, ok, _ := c.Get(ctx, k); ok {
			t.Fatalf("row %q survived Clear", k)
		}
	}
}

func TestCustomTableName(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, Config{
		Path:  filepath.Join(t.TempDir(), "cache.db"),
		Table: "page_fragments",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close(ctx)

	if ok, err := c.Put(ctx, "k", []byte("v"), time.Time{}); err != nil || !ok {
		t.Fatalf("Put: ok=%v err=%v", ok, err)
	}
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM page_fragments").Scan(&n); err != nil {
		t.Fatalf("custom table not used: %v", err)
	}
	if n != 1 {
		t.Fatalf("custom table rows: %d, want 1", n)
	}
}
