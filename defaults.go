package tiercache

import "time"

// DefaultTTL applies to writes that pass ttl == 0 and to read promotions,
// which have no TTL of their own.
const DefaultTTL = time.Hour

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
