package netkv

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/unkn0wn-root/tiercache/pool"
	"github.com/unkn0wn-root/tiercache/tier"
)

func newTestCache(t *testing.T, prefix string) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("miniredis port: %v", err)
	}
	c, err := New(Config{
		Host:       mr.Host(),
		Port:       port,
		Prefix:     prefix,
		Persistent: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c, mr
}

func TestProbeRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, "")
	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if c.ID() != tier.NetworkKV {
		t.Fatalf("ID: got %q", c.ID())
	}
}

func TestPrefixAppliedAndStripped(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, "tc:")

	want := []byte("v")
	if ok, err := c.Put(ctx, "k", want, time.Now().Add(time.Minute)); err != nil || !ok {
		t.Fatalf("Put: ok=%v err=%v", ok, err)
	}
	// Stored under the physical name, served under the logical one.
	if !mr.Exists("tc:k") {
		t.Fatalf("expected physical key tc:k, have %v", mr.Keys())
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || !bytes.Equal(got, want) {
		t.Fatalf("Get: ok=%v err=%v got=%q", ok, err, got)
	}
}

func TestTTLHonored(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, "")

	if ok, err := c.Put(ctx, "short", []byte("v"), time.Now().Add(time.Second)); err != nil || !ok {
		t.Fatalf("Put: ok=%v err=%v", ok, err)
	}
	if ok, err := c.Put(ctx, "forever", []byte("v"), time.Time{}); err != nil || !ok {
		t.Fatalf("Put forever: ok=%v err=%v", ok, err)
	}

	mr.FastForward(2 * time.Second)

	if _, ok, err := c.Get(ctx, "short"); err != nil || ok {
		t.Fatalf("expired Get should miss, ok=%v err=%v", ok, err)
	}
	if _, ok, err := c.Get(ctx, "forever"); err != nil || !ok {
		t.Fatalf("zero-expiry entry should survive, ok=%v err=%v", ok, err)
	}
}

func TestDeadOnArrivalDeletes(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, "")

	if ok, err := c.Put(ctx, "k", []byte("old"), time.Now().Add(time.Minute)); err != nil || !ok {
		t.Fatalf("Put: ok=%v err=%v", ok, err)
	}
	if ok, err := c.Put(ctx, "k", []byte("new"), time.Now().Add(-time.Minute)); err != nil || !ok {
		t.Fatalf("Put dead-on-arrival: ok=%v err=%v", ok, err)
	}
	if mr.Exists("k") {
		t.Fatalf("expired-at-write entry should remove the key")
	}
}

func TestGetMultiPreservesOrder(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, "tc:")

	if ok, err := c.PutMulti(ctx, []string{"a", "b"}, [][]byte{[]byte("va"), []byte("vb")}, time.Now().Add(time.Minute)); err != nil || !ok {
		t.Fatalf("PutMulti: ok=%v err=%v", ok, err)
	}

	got, err := c.GetMulti(ctx, []string{"b", "missing", "a"})
	if err != nil {
		t.Fatalf("GetMulti: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("GetMulti returned %d results, want 3", len(got))
	}
	if !bytes.Equal(got[0], []byte("vb")) || got[1] != nil || !bytes.Equal(got[2], []byte("va")) {
		t.Fatalf("GetMulti order broken: %q", got)
	}
}

func TestDeleteMulti(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, "")

	if ok, err := c.PutMulti(ctx, []string{"a", "b"}, [][]byte{[]byte("1"), []byte("2")}, time.Time{}); err != nil || !ok {
		t.Fatalf("PutMulti: ok=%v err=%v", ok, err)
	}
	// Absent members do not fail the batch.
	if err := c.DeleteMulti(ctx, []string{"a", "b", "ghost"}); err != nil {
		t.Fatalf("DeleteMulti: %v", err)
	}
	for _, k := range []string{"a", "b"} {
		if _, ok, _ := c.Get(ctx, k); ok {
			t.Fatalf("entry %q survived DeleteMulti", k)
		}
	}
}

func TestClearScopedByPrefix(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, "tc:")

	if ok, err := c.Put(ctx, "mine", []byte("v"), time.Time{}); err != nil || !ok {
		t.Fatalf("Put: ok=%v err=%v", ok, err)
	}
	// A neighbour outside our namespace.
	if err := mr.Set("other-app", "keep"); err != nil {
		t.Fatalf("seed foreign key: %v", err)
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "mine"); ok {
		t.Fatalf("entry survived scoped Clear")
	}
	if !mr.Exists("other-app") {
		t.Fatalf("scoped Clear must not touch foreign keys")
	}
}

func TestClearWithoutPrefixFlushes(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, "")

	if ok, err := c.Put(ctx, "a", []byte("v"), time.Time{}); err != nil || !ok {
		t.Fatalf("Put: ok=%v err=%v", ok, err)
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("prefixless Clear should flush the database, keys=%v", mr.Keys())
	}
}

func TestUnreachableServerExhaustsPool(t *testing.T) {
	mr := miniredis.RunT(t)
	port, _ := strconv.Atoi(mr.Port())
	addrHost := mr.Host()
	mr.Close() // nothing listens there anymore

	c, err := New(Config{
		Host:           addrHost,
		Port:           port,
		RetryAttempts:  2,
		RetryDelay:     10 * time.Millisecond,
		ConnectTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close(context.Background())

	_, _, err = c.Get(context.Background(), "k")
	if !errors.Is(err, pool.ErrExhausted) {
		t.Fatalf("expected pool exhaustion, got %v", err)
	}
}
