package tiercache

import "github.com/unkn0wn-root/tiercache/tier"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// A tier was probed during discovery. err == nil means it joined the
	// hierarchy; tier.ErrUnavailable means the backend is absent here.
	TierProbed(id tier.ID, err error)

	// A read was served, and by which tier.
	Hit(key string, id tier.ID)

	// A read missed every tier.
	Miss(key string)

	// A hit was copied into a faster tier on the way out.
	Promoted(key string, from, to tier.ID)

	// A tier declined a write without a hard error (admission, sizing).
	PutRejected(key string, id tier.ID)

	// An entry was deleted by the cache on read.
	// reason ∈ {"value_decode"}
	SelfHeal(key string, id tier.ID, reason string)

	// A tier operation failed at runtime.
	// op ∈ {"get", "put", "delete", "clear", "cleanup", "close"}
	TierError(id tier.ID, op string, err error)

	// A cleanup pass finished; removed sums the per-tier counts.
	Swept(removed int)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) TierProbed(tier.ID, error)         {}
func (NopHooks) Hit(string, tier.ID)               {}
func (NopHooks) Miss(string)                       {}
func (NopHooks) Promoted(string, tier.ID, tier.ID) {}
func (NopHooks) PutRejected(string, tier.ID)       {}
func (NopHooks) SelfHeal(string, tier.ID, string)  {}
func (NopHooks) TierError(tier.ID, string, error)  {}
func (NopHooks) Swept(int)                         {}
