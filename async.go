package tiercache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/tiercache/async"
)

// GetResult pairs a value with its presence flag for future delivery.
type GetResult[V any] struct {
	Value V
	Found bool
}

// AsyncCache is a future-returning facade over a Cache. It adds no
// concurrency of its own: with a scheduler, operations run inside the
// scheduler's ticks; with a nil scheduler they run inline on the caller's
// goroutine and the returned future is already settled. Either way each
// operation is the same synchronous walk the Cache performs.
type AsyncCache[V any] struct {
	eng   *engine[V]
	sched async.Scheduler
}

func (a *AsyncCache[V]) Get(ctx context.Context, key string) *async.Future[GetResult[V]] {
	return async.Go(a.sched, func() (GetResult[V], error) {
		v, ok, err := a.eng.Get(ctx, key)
		return GetResult[V]{Value: v, Found: ok}, err
	})
}

func (a *AsyncCache[V]) GetMulti(ctx context.Context, keys []string) *async.Future[map[string]V] {
	return async.Go(a.sched, func() (map[string]V, error) {
		return a.eng.GetMulti(ctx, keys)
	})
}

func (a *AsyncCache[V]) GetOrSet(ctx context.Context, key string, ttl time.Duration, fill func(context.Context) (V, error)) *async.Future[V] {
	return async.Go(a.sched, func() (V, error) {
		return a.eng.GetOrSet(ctx, key, ttl, fill)
	})
}

func (a *AsyncCache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) *async.Future[bool] {
	return async.Go(a.sched, func() (bool, error) {
		return a.eng.Set(ctx, key, value, ttl)
	})
}

func (a *AsyncCache[V]) SetMulti(ctx context.Context, items map[string]V, ttl time.Duration) *async.Future[bool] {
	return async.Go(a.sched, func() (bool, error) {
		return a.eng.SetMulti(ctx, items, ttl)
	})
}

func (a *AsyncCache[V]) Delete(ctx context.Context, key string) *async.Future[bool] {
	return async.Go(a.sched, func() (bool, error) {
		return a.eng.Delete(ctx, key)
	})
}

func (a *AsyncCache[V]) DeleteMulti(ctx context.Context, keys []string) *async.Future[bool] {
	return async.Go(a.sched, func() (bool, error) {
		return a.eng.DeleteMulti(ctx, keys)
	})
}

func (a *AsyncCache[V]) Clear(ctx context.Context) *async.Future[bool] {
	return async.Go(a.sched, func() (bool, error) {
		return a.eng.Clear(ctx)
	})
}

func (a *AsyncCache[V]) Cleanup(ctx context.Context) *async.Future[int] {
	return async.Go(a.sched, func() (int, error) {
		return a.eng.Cleanup(ctx)
	})
}

// Sync returns the underlying synchronous cache.
func (a *AsyncCache[V]) Sync() Cache[V] { return a.eng }
