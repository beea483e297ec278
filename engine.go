package tiercache

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/tiercache/async"
	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/tier"
)

type engine[V any] struct {
	codec codec.Codec[V]
	log   Logger
	hooks Hooks

	prefix     string
	defaultTTL time.Duration

	reg *registry
	sf  singleflight.Group
	now func() time.Time

	lastUsed atomic.Value // tier.ID that last served a read or took a write

	errMu   sync.Mutex
	lastErr string

	closed atomic.Bool
	quit   chan struct{}
}

func newEngine[V any](opts Options[V]) (*engine[V], error) {
	e := &engine[V]{
		prefix: opts.Prefix,
		now:    time.Now,
		quit:   make(chan struct{}),
	}

	// defaults
	e.codec = coalesce[codec.Codec[V]](opts.Codec, codec.Msgpack[V]{})
	e.log = coalesce[Logger](opts.Logger, NopLogger{})
	e.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	e.defaultTTL = coalesce(opts.DefaultTTL, DefaultTTL)

	reg := newRegistry(e.log, e.hooks)
	reg.cfgPath = opts.CachePath
	reg.fail = e.recordErr

	if opts.Tiers != nil {
		// Empty non-nil slice disables every built-in; only collaborator
		// tiers remain.
		inc := make(map[tier.ID]bool, len(opts.Tiers))
		for _, id := range opts.Tiers {
			if tier.Rank(id) < 0 {
				return nil, fmt.Errorf("%w: %q", ErrUnknownTier, id)
			}
			inc[id] = true
		}
		reg.include = inc
	}
	for id, s := range opts.TierSettings {
		if err := reg.configure(id, s); err != nil {
			return nil, err
		}
	}

	ids := make(map[tier.ID]bool, len(opts.Extra))
	for _, t := range opts.Extra {
		if t == nil {
			return nil, fmt.Errorf("tiercache: nil collaborator tier")
		}
		id := t.ID()
		if ids[id] || (tier.Rank(id) >= 0 && reg.enabled(id)) {
			return nil, fmt.Errorf("tiercache: duplicate tier id %q", id)
		}
		ids[id] = true
	}
	reg.extra = opts.Extra
	e.reg = reg

	if opts.CleanupInterval > 0 {
		go e.sweep(opts.CleanupInterval)
	}
	return e, nil
}

// ensure runs discovery if it has not happened yet and returns the live
// hierarchy, fastest tier first.
func (e *engine[V]) ensure(ctx context.Context) ([]tier.Tier, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	e.reg.discover(ctx)
	ts := e.reg.available()
	if len(ts) == 0 {
		return nil, ErrNoTiers
	}
	return ts, nil
}

func (e *engine[V]) storageKey(key string) string {
	if e.prefix == "" {
		return key
	}
	return e.prefix + ":" + key
}

func (e *engine[V]) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		ttl = e.defaultTTL
	}
	return e.now().Add(ttl)
}

func (e *engine[V]) setLastUsed(id tier.ID) { e.lastUsed.Store(id) }

func (e *engine[V]) recordErr(err error) {
	if err == nil {
		return
	}
	e.errMu.Lock()
	e.lastErr = err.Error()
	e.errMu.Unlock()
}

func (e *engine[V]) tierError(id tier.ID, op string, err error) {
	e.hooks.TierError(id, op, err)
	e.log.Warn("tier operation failed", Fields{"tier": id, "op": op, "err": err})
	e.recordErr(fmt.Errorf("%s %s: %w", id, op, err))
}

func (e *engine[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if key == "" {
		return zero, false, ErrEmptyKey
	}
	ts, err := e.ensure(ctx)
	if err != nil {
		return zero, false, err
	}

	sk := e.storageKey(key)
	for i, t := range ts {
		if err := ctx.Err(); err != nil {
			return zero, false, err
		}
		payload, ok, err := t.Get(ctx, sk)
		if err != nil {
			e.tierError(t.ID(), "get", err)
			continue
		}
		if !ok {
			continue
		}

		v, derr := e.codec.Decode(payload)
		if derr != nil {
			// Bytes this codec cannot read; heal and keep walking.
			e.hooks.SelfHeal(key, t.ID(), "value_decode")
			e.log.Warn("self-heal: undecodable value", Fields{"key": key, "tier": t.ID(), "err": derr})
			_ = t.Delete(ctx, sk)
			continue
		}

		e.setLastUsed(t.ID())
		e.hooks.Hit(key, t.ID())
		e.promote(ctx, ts[:i], t.ID(), key, sk, payload)
		return v, true, nil
	}
	e.hooks.Miss(key)
	return zero, false, nil
}

// promote copies a hit into every tier faster than the one that served it.
// Promotions carry the default TTL; the serving entry's remaining lifetime
// is not visible through the tier contract.
func (e *engine[V]) promote(ctx context.Context, faster []tier.Tier, from tier.ID, key, sk string, payload []byte) {
	if len(faster) == 0 {
		return
	}
	exp := e.now().Add(e.defaultTTL)
	for _, t := range faster {
		if ctx.Err() != nil {
			return
		}
		ok, err := t.Put(ctx, sk, payload, exp)
		if err != nil {
			e.tierError(t.ID(), "put", err)
			continue
		}
		if !ok {
			e.hooks.PutRejected(key, t.ID())
			continue
		}
		e.hooks.Promoted(key, from, t.ID())
	}
}

func (e *engine[V]) GetMulti(ctx context.Context, keys []string) (map[string]V, error) {
	if len(keys) == 0 {
		return map[string]V{}, nil
	}
	for _, k := range keys {
		if k == "" {
			return nil, ErrEmptyKey
		}
	}
	ts, err := e.ensure(ctx)
	if err != nil {
		return nil, err
	}

	// Walk tiers with the keys still missing, preserving caller order.
	remaining := dedupe(keys)
	out := make(map[string]V, len(remaining))
	raw := make(map[string][]byte, len(remaining))
	depth := make(map[string]int, len(remaining))
	deepest := -1

	for i, t := range ts {
		if len(remaining) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		phys := make([]string, len(remaining))
		for j, k := range remaining {
			phys[j] = e.storageKey(k)
		}
		vals, err := e.tierGetMulti(ctx, t, phys)
		if err != nil {
			e.tierError(t.ID(), "get", err)
			continue
		}

		var next []string
		for j, k := range remaining {
			payload := vals[j]
			if payload == nil {
				next = append(next, k)
				continue
			}
			v, derr := e.codec.Decode(payload)
			if derr != nil {
				e.hooks.SelfHeal(k, t.ID(), "value_decode")
				e.log.Warn("self-heal: undecodable value", Fields{"key": k, "tier": t.ID(), "err": derr})
				_ = t.Delete(ctx, phys[j])
				next = append(next, k)
				continue
			}
			out[k] = v
			raw[k] = payload
			depth[k] = i
			if i > deepest {
				deepest = i
			}
			e.hooks.Hit(k, t.ID())
		}
		remaining = next
	}

	for _, k := range remaining {
		e.hooks.Miss(k)
	}
	if deepest >= 0 {
		e.setLastUsed(ts[deepest].ID())
	}
	e.promoteMulti(ctx, ts, depth, raw)
	return out, nil
}

// promoteMulti copies multi-read hits into the tiers above the ones that
// served them, one grouped write per destination.
func (e *engine[V]) promoteMulti(ctx context.Context, ts []tier.Tier, depth map[string]int, raw map[string][]byte) {
	maxIdx := 0
	for _, idx := range depth {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	if maxIdx == 0 {
		return
	}
	exp := e.now().Add(e.defaultTTL)
	for i := 0; i < maxIdx; i++ {
		if ctx.Err() != nil {
			return
		}
		dst := ts[i]

		var group []string
		for k, idx := range depth {
			if idx > i {
				group = append(group, k)
			}
		}
		if len(group) == 0 {
			continue
		}
		sort.Strings(group)

		phys := make([]string, len(group))
		payloads := make([][]byte, len(group))
		for j, k := range group {
			phys[j] = e.storageKey(k)
			payloads[j] = raw[k]
		}
		ok, err := e.tierPutMulti(ctx, dst, phys, payloads, exp)
		if err != nil {
			e.tierError(dst.ID(), "put", err)
			continue
		}
		for _, k := range group {
			if ok {
				e.hooks.Promoted(k, ts[depth[k]].ID(), dst.ID())
			} else {
				e.hooks.PutRejected(k, dst.ID())
			}
		}
	}
}

func (e *engine[V]) tierGetMulti(ctx context.Context, t tier.Tier, phys []string) ([][]byte, error) {
	if bt, ok := t.(tier.BatchTier); ok {
		return bt.GetMulti(ctx, phys)
	}
	vals := make([][]byte, len(phys))
	for i, pk := range phys {
		payload, ok, err := t.Get(ctx, pk)
		if err != nil {
			return nil, err
		}
		if ok {
			vals[i] = payload
		}
	}
	return vals, nil
}

func (e *engine[V]) tierPutMulti(ctx context.Context, t tier.Tier, phys []string, payloads [][]byte, exp time.Time) (bool, error) {
	if bt, ok := t.(tier.BatchTier); ok {
		return bt.PutMulti(ctx, phys, payloads, exp)
	}
	all := true
	for i, pk := range phys {
		ok, err := t.Put(ctx, pk, payloads[i], exp)
		if err != nil {
			return false, err
		}
		all = all && ok
	}
	return all, nil
}

func (e *engine[V]) GetOrSet(ctx context.Context, key string, ttl time.Duration, fill func(context.Context) (V, error)) (V, error) {
	var zero V
	if key == "" {
		return zero, ErrEmptyKey
	}
	if v, ok, err := e.Get(ctx, key); err != nil || ok {
		return v, err
	}

	res, err, _ := e.sf.Do(key, func() (any, error) {
		// A concurrent flight may have filled the key while this caller
		// was queueing behind it.
		if v, ok, err := e.Get(ctx, key); err != nil {
			return zero, err
		} else if ok {
			return v, nil
		}
		v, err := fill(ctx)
		if err != nil {
			return zero, err
		}
		// The fill result stands on its own; a failed write only means the
		// next caller fills again.
		if _, serr := e.Set(ctx, key, v, ttl); serr != nil {
			e.log.Warn("fill result not cached", Fields{"key": key, "err": serr})
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return res.(V), nil
}

func (e *engine[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	if isEmptyValue(value) {
		return false, ErrEmptyValue
	}
	ts, err := e.ensure(ctx)
	if err != nil {
		return false, err
	}

	payload, err := e.codec.Encode(value)
	if err != nil {
		return false, fmt.Errorf("encode %q: %w", key, err)
	}

	sk := e.storageKey(key)
	exp := e.expiry(ttl)
	var best tier.ID
	stored := false
	for _, t := range ts {
		if cerr := ctx.Err(); cerr != nil {
			if stored {
				e.setLastUsed(best)
			}
			return stored, cerr
		}
		ok, err := t.Put(ctx, sk, payload, exp)
		if err != nil {
			e.tierError(t.ID(), "put", err)
			continue
		}
		if !ok {
			e.hooks.PutRejected(key, t.ID())
			continue
		}
		if !stored {
			// Hierarchy is fastest-first; the first acceptor is the one
			// reads will come from.
			best = t.ID()
			stored = true
		}
	}
	if stored {
		e.setLastUsed(best)
	}
	return stored, nil
}

func (e *engine[V]) SetMulti(ctx context.Context, items map[string]V, ttl time.Duration) (bool, error) {
	if len(items) == 0 {
		return false, nil
	}
	keys := make([]string, 0, len(items))
	for k, v := range items {
		if k == "" {
			return false, ErrEmptyKey
		}
		if isEmptyValue(v) {
			return false, fmt.Errorf("%w: key %q", ErrEmptyValue, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ts, err := e.ensure(ctx)
	if err != nil {
		return false, err
	}

	phys := make([]string, len(keys))
	payloads := make([][]byte, len(keys))
	for i, k := range keys {
		payload, err := e.codec.Encode(items[k])
		if err != nil {
			return false, fmt.Errorf("encode %q: %w", k, err)
		}
		phys[i] = e.storageKey(k)
		payloads[i] = payload
	}

	exp := e.expiry(ttl)
	var best tier.ID
	stored := false
	for _, t := range ts {
		if cerr := ctx.Err(); cerr != nil {
			if stored {
				e.setLastUsed(best)
			}
			return stored, cerr
		}
		ok, err := e.tierPutMulti(ctx, t, phys, payloads, exp)
		if err != nil {
			e.tierError(t.ID(), "put", err)
			continue
		}
		if !ok {
			// Partial acceptance: entries that did land stay; the tier
			// just does not count as a full acceptor.
			for _, k := range keys {
				e.hooks.PutRejected(k, t.ID())
			}
			continue
		}
		if !stored {
			best = t.ID()
			stored = true
		}
	}
	if stored {
		e.setLastUsed(best)
	}
	return stored, nil
}

func (e *engine[V]) Delete(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	ts, err := e.ensure(ctx)
	if err != nil {
		return false, err
	}

	sk := e.storageKey(key)
	all := true
	for _, t := range ts {
		if cerr := ctx.Err(); cerr != nil {
			return false, cerr
		}
		if err := t.Delete(ctx, sk); err != nil {
			e.tierError(t.ID(), "delete", err)
			all = false
		}
	}
	return all, nil
}

func (e *engine[V]) DeleteMulti(ctx context.Context, keys []string) (bool, error) {
	if len(keys) == 0 {
		return true, nil
	}
	for _, k := range keys {
		if k == "" {
			return false, ErrEmptyKey
		}
	}
	ts, err := e.ensure(ctx)
	if err != nil {
		return false, err
	}

	uniq := dedupe(keys)
	phys := make([]string, len(uniq))
	for i, k := range uniq {
		phys[i] = e.storageKey(k)
	}

	all := true
	for _, t := range ts {
		if cerr := ctx.Err(); cerr != nil {
			return false, cerr
		}
		if err := e.tierDeleteMulti(ctx, t, phys); err != nil {
			e.tierError(t.ID(), "delete", err)
			all = false
		}
	}
	return all, nil
}

func (e *engine[V]) tierDeleteMulti(ctx context.Context, t tier.Tier, phys []string) error {
	if bt, ok := t.(tier.BatchTier); ok {
		return bt.DeleteMulti(ctx, phys)
	}
	for _, pk := range phys {
		if err := t.Delete(ctx, pk); err != nil {
			return err
		}
	}
	return nil
}

func (e *engine[V]) Clear(ctx context.Context) (bool, error) {
	ts, err := e.ensure(ctx)
	if err != nil {
		return false, err
	}

	all := true
	for _, t := range ts {
		if cerr := ctx.Err(); cerr != nil {
			return false, cerr
		}
		if err := t.Clear(ctx); err != nil {
			e.tierError(t.ID(), "clear", err)
			all = false
		}
	}
	return all, nil
}

func (e *engine[V]) Cleanup(ctx context.Context) (int, error) {
	ts, err := e.ensure(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, t := range ts {
		if cerr := ctx.Err(); cerr != nil {
			return total, cerr
		}
		n, err := t.Cleanup(ctx)
		if err != nil {
			e.tierError(t.ID(), "cleanup", err)
			continue
		}
		total += n
	}
	e.hooks.Swept(total)
	if total > 0 {
		e.log.Debug("cleanup removed dead entries", Fields{"removed": total})
	}
	return total, nil
}

func (e *engine[V]) AvailableTiers(ctx context.Context) []tier.ID {
	ts, err := e.ensure(ctx)
	if err != nil {
		return nil
	}
	ids := make([]tier.ID, len(ts))
	for i, t := range ts {
		ids[i] = t.ID()
	}
	return ids
}

func (e *engine[V]) LastUsedTier() tier.ID {
	if v := e.lastUsed.Load(); v != nil {
		return v.(tier.ID)
	}
	return ""
}

func (e *engine[V]) Health(ctx context.Context) map[tier.ID]bool {
	if e.closed.Load() {
		return map[tier.ID]bool{}
	}
	e.reg.discover(ctx)
	return e.reg.healthMap()
}

func (e *engine[V]) LastError() string {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.lastErr
}

func (e *engine[V]) SetCachePath(path string) bool {
	if e.closed.Load() {
		return false
	}
	return e.reg.setCachePath(path)
}

func (e *engine[V]) CachePath() string {
	return e.reg.cachePath()
}

func (e *engine[V]) ConfigureTier(id tier.ID, s Settings) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.reg.configure(id, s)
}

func (e *engine[V]) Async(s async.Scheduler) *AsyncCache[V] {
	return &AsyncCache[V]{eng: e, sched: s}
}

func (e *engine[V]) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	close(e.quit)
	return e.reg.closeAll(ctx)
}

// sweep periodically removes dead entries from every tier until Close.
func (e *engine[V]) sweep(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-e.quit:
			return
		case <-t.C:
			if _, err := e.Cleanup(context.Background()); err != nil {
				return
			}
		}
	}
}

// dedupe returns keys with later repeats dropped, order preserved.
func dedupe(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// isEmptyValue reports whether a value has nothing to store: untyped nil,
// nil pointers and interfaces, empty strings and zero-length slices, maps
// and arrays. Zero numbers and zero structs are storable.
func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return true
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Chan, reflect.Func:
		return rv.IsNil()
	case reflect.Invalid:
		return true
	}
	return false
}
