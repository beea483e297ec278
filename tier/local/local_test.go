package local

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/unkn0wn-root/tiercache/tier"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestProbeRoundTrip(t *testing.T) {
	c := newTestCache(t)
	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if c.ID() != tier.LocalProcess {
		t.Fatalf("ID: got %q", c.ID())
	}
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	want := []byte("value")
	ok, err := c.Put(ctx, "k", want, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !ok {
		t.Skipf("ristretto rejected the write under pressure")
	}
	c.rc.Wait()

	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || !bytes.Equal(got, want) {
		t.Fatalf("Get: ok=%v err=%v got=%q", ok, err, got)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	c.rc.Wait()
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("deleted entry still readable")
	}
}

func TestNativeExpiry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	ok, err := c.Put(ctx, "short", []byte("v"), time.Now().Add(150*time.Millisecond))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !ok {
		t.Skipf("ristretto rejected the write under pressure")
	}
	c.rc.Wait()

	if _, ok, _ := c.Get(ctx, "short"); !ok {
		t.Fatalf("entry should be live before its TTL")
	}
	time.Sleep(250 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "short"); ok {
		t.Fatalf("entry should be gone after its TTL")
	}
}

func TestDeadOnArrivalNotStored(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	ok, err := c.Put(ctx, "dead", []byte("v"), time.Now().Add(-time.Minute))
	if err != nil || !ok {
		t.Fatalf("Put dead-on-arrival: ok=%v err=%v", ok, err)
	}
	c.rc.Wait()
	if _, ok, _ := c.Get(ctx, "dead"); ok {
		t.Fatalf("expired-at-write entry must not be readable")
	}
}

func TestSelfHealWrongShape(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	if !c.rc.Set("odd", 42, 1) {
		t.Skipf("ristretto rejected the injected entry")
	}
	c.rc.Wait()
	if _, ok, err := c.Get(ctx, "odd"); err != nil || ok {
		t.Fatalf("non-bytes entry should miss, ok=%v err=%v", ok, err)
	}
	c.rc.Wait()
	if _, ok := c.rc.Get("odd"); ok {
		t.Fatalf("non-bytes entry should have been dropped")
	}
}

func TestClearAndCleanup(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	if ok, err := c.Put(ctx, "k", []byte("v"), time.Time{}); err != nil || !ok {
		t.Skipf("Put: ok=%v err=%v", ok, err)
	}
	c.rc.Wait()

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("entry survived Clear")
	}

	n, err := c.Cleanup(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Cleanup on native-TTL tier: n=%d err=%v", n, err)
	}
}
