// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/tiercache"
//	"github.com/unkn0wn-root/tiercache/hooks/async"
//	"github.com/unkn0wn-root/tiercache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    HitEvery:  100, // sample logs: ~every 100th hit
//	    MissEvery: 10,  // ~every 10th miss
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := tiercache.New[User](tiercache.Options[User]{
//	    Prefix: "app:prod:user",
//	    Hooks:  hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/tier"
)

type Hooks struct {
	inner tiercache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(inner tiercache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) TierProbed(id tier.ID, err error) { h.try(func() { h.inner.TierProbed(id, err) }) }
func (h *Hooks) Hit(k string, id tier.ID)         { h.try(func() { h.inner.Hit(k, id) }) }
func (h *Hooks) Miss(k string)                    { h.try(func() { h.inner.Miss(k) }) }
func (h *Hooks) Swept(n int)                      { h.try(func() { h.inner.Swept(n) }) }
func (h *Hooks) Promoted(k string, from, to tier.ID) {
	h.try(func() { h.inner.Promoted(k, from, to) })
}
func (h *Hooks) PutRejected(k string, id tier.ID) {
	h.try(func() { h.inner.PutRejected(k, id) })
}
func (h *Hooks) SelfHeal(k string, id tier.ID, reason string) {
	h.try(func() { h.inner.SelfHeal(k, id, reason) })
}
func (h *Hooks) TierError(id tier.ID, op string, err error) {
	h.try(func() { h.inner.TierError(id, op, err) })
}
