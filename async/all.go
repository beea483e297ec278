package async

import "sync/atomic"

// All settles once every constituent future has settled: fulfilled with
// the results in argument order, or rejected with the first rejection.
// Later rejections lose the race and are dropped; the combined future
// still waits for nobody once rejected.
func All[T any](futures ...*Future[T]) *Future[[]T] {
	if len(futures) == 0 {
		return Resolved([]T(nil))
	}

	out, fulfill, reject := New[[]T]()
	results := make([]T, len(futures))
	var remaining atomic.Int64
	remaining.Store(int64(len(futures)))

	for i, f := range futures {
		i, f := i, f
		f.OnSettle(func(v T, err error) {
			if err != nil {
				reject(err) // first rejection wins; settle is one-shot
				return
			}
			results[i] = v
			if remaining.Add(-1) == 0 {
				fulfill(results)
			}
		})
	}
	return out
}
