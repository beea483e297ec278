package tiercache

import "errors"

// Errors returned for invalid use of the cache. Backend failures are never
// surfaced through these; they degrade to misses and best-effort writes and
// leave a trace in LastError.
var (
	// ErrEmptyKey rejects operations with an empty key.
	ErrEmptyKey = errors.New("tiercache: empty key")

	// ErrEmptyValue rejects writes of values with nothing to store: nil
	// pointers and interfaces, empty strings and zero-length slices or maps.
	ErrEmptyValue = errors.New("tiercache: empty value")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("tiercache: cache is closed")

	// ErrNoTiers means discovery finished with no usable backend at all.
	ErrNoTiers = errors.New("tiercache: no tiers available")

	// ErrDiscovered guards configuration that must happen before the first
	// operation triggers tier discovery.
	ErrDiscovered = errors.New("tiercache: tier discovery already ran")

	// ErrUnknownTier reports a tier ID outside the built-in set.
	ErrUnknownTier = errors.New("tiercache: unknown tier")
)
