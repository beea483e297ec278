package tiercache

import (
	"context"
	"errors"
	"testing"

	"github.com/unkn0wn-root/tiercache/async"
)

func TestAsyncInlineSettlesImmediately(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, []*fakeTier{newFakeTier("fake_a")}, nil)
	ac := cc.Async(nil)

	v := user{ID: "1", Name: "Ada"}
	sf := ac.Set(ctx, "k", v, 0)
	if !sf.Settled() {
		t.Fatal("inline Set future should come back settled")
	}
	if ok, err := sf.Result(); err != nil || !ok {
		t.Fatalf("Set future: ok=%v err=%v", ok, err)
	}

	gf := ac.Get(ctx, "k")
	res, err := gf.Result()
	if err != nil || !res.Found || res.Value != v {
		t.Fatalf("Get future: err=%v res=%+v", err, res)
	}

	// Misses fulfill with Found false rather than rejecting.
	res, err = ac.Get(ctx, "ghost").Result()
	if err != nil || res.Found {
		t.Fatalf("miss future: err=%v res=%+v", err, res)
	}

	if _, ok, _ := ac.Sync().Get(ctx, "k"); !ok {
		t.Fatal("Sync view disagrees with async writes")
	}
}

func TestAsyncLoopDefersToTick(t *testing.T) {
	ctx := context.Background()
	a := newFakeTier("fake_a")
	cc := newTestCache(t, []*fakeTier{a}, nil)

	loop := async.NewLoop()
	ac := cc.Async(loop)

	f := ac.Set(ctx, "k", user{ID: "1"}, 0)
	if f.Settled() {
		t.Fatal("loop-scheduled work ran before the tick")
	}
	if a.has("k") {
		t.Fatal("write reached the tier before the tick")
	}

	if n := loop.Tick(); n != 1 {
		t.Fatalf("Tick ran %d tasks, want 1", n)
	}
	if !f.Settled() {
		t.Fatal("future unsettled after the tick")
	}
	if ok, err := f.Result(); err != nil || !ok {
		t.Fatalf("Set future: ok=%v err=%v", ok, err)
	}
	if !a.has("k") {
		t.Fatal("tier missing the write after the tick")
	}

	// Chained work settles within the tick that runs it.
	var chained bool
	ac.Get(ctx, "k").OnSettle(func(res GetResult[user], err error) {
		chained = err == nil && res.Found
	})
	loop.Tick()
	if !chained {
		t.Fatal("OnSettle did not run inside the tick")
	}
}

func TestAsyncRejectsOnEngineError(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, []*fakeTier{newFakeTier("fake_a")}, nil)
	if err := cc.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := cc.Async(nil).Get(ctx, "k").Result(); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v, want ErrClosed", err)
	}
}

func TestAsyncBulkOps(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, []*fakeTier{newFakeTier("fake_a")}, nil)
	ac := cc.Async(nil)

	items := map[string]user{"k1": {ID: "1"}, "k2": {ID: "2"}}
	if ok, err := ac.SetMulti(ctx, items, 0).Result(); err != nil || !ok {
		t.Fatalf("SetMulti future: ok=%v err=%v", ok, err)
	}
	got, err := ac.GetMulti(ctx, []string{"k1", "k2", "k3"}).Result()
	if err != nil || len(got) != 2 {
		t.Fatalf("GetMulti future: err=%v got=%v", err, got)
	}
	if ok, err := ac.DeleteMulti(ctx, []string{"k1", "k2"}).Result(); err != nil || !ok {
		t.Fatalf("DeleteMulti future: ok=%v err=%v", ok, err)
	}

	filled, err := ac.GetOrSet(ctx, "k9", 0, func(context.Context) (user, error) {
		return user{ID: "9"}, nil
	}).Result()
	if err != nil || filled.ID != "9" {
		t.Fatalf("GetOrSet future: err=%v got=%v", err, filled)
	}
}
