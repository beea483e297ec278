package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/tier"
)

type Options struct {
	// Sampling to avoid floods on the hot read path; 0/1 = log all.
	HitEvery  uint64
	MissEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	hitCtr  atomic.Uint64
	missCtr atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) TierProbed(id tier.ID, err error) {
	if h.l == nil {
		return
	}
	if err != nil {
		h.l.Info("tiercache.tier_probed", "tier", string(id), "err", err)
		return
	}
	h.l.Debug("tiercache.tier_probed", "tier", string(id), "ok", true)
}

func (h *Hooks) Hit(key string, id tier.ID) {
	if h.l == nil || !sample(h.opts.HitEvery, &h.hitCtr) {
		return
	}
	h.l.Debug("tiercache.hit",
		"key", h.redact(key),
		"tier", string(id))
}

func (h *Hooks) Miss(key string) {
	if h.l == nil || !sample(h.opts.MissEvery, &h.missCtr) {
		return
	}
	h.l.Debug("tiercache.miss", "key", h.redact(key))
}

func (h *Hooks) Promoted(key string, from, to tier.ID) {
	if h.l == nil {
		return
	}
	h.l.Debug("tiercache.promoted",
		"key", h.redact(key),
		"from", string(from),
		"to", string(to))
}

func (h *Hooks) PutRejected(key string, id tier.ID) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.put_rejected",
		"key", h.redact(key),
		"tier", string(id))
}

func (h *Hooks) SelfHeal(key string, id tier.ID, reason string) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.self_heal",
		"key", h.redact(key),
		"tier", string(id),
		"reason", reason)
}

func (h *Hooks) TierError(id tier.ID, op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("tiercache.tier_error",
		"tier", string(id),
		"op", op,
		"err", err)
}

func (h *Hooks) Swept(removed int) {
	if h.l == nil {
		return
	}
	h.l.Debug("tiercache.swept", "removed", removed)
}
