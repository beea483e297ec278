// Package keys derives the physical identifiers tiers store under.
// Logical keys are opaque caller strings; every byte-oriented backend
// addresses by a fast non-cryptographic hash of sufficient width so that
// distinct logical keys do not meaningfully collide in filename or
// segment-key space.
package keys

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

// Wide returns the 128-bit identifier for a logical key as 32 hex chars.
// Used as the filename stem by the filesystem, opcode and mmap tiers.
func Wide(key string) string {
	u := xxh3.HashString128(key)
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], u.Hi)
	binary.BigEndian.PutUint64(b[8:], u.Lo)
	return hex.EncodeToString(b[:])
}

// Sysv maps a logical key into the 31-bit System V IPC key space,
// partitioned by the configured base so two caches on one host do not
// stomp each other's segments. The result is always positive: 0 is
// IPC_PRIVATE and negative keys are rejected by shmget.
func Sysv(base int32, key string) int32 {
	h := int32(xxhash.Sum64String(key) & 0x7fffffff)
	k := (base & 0x7fffffff) ^ h
	if k == 0 {
		k = h | 1
	}
	return k
}

// Canary returns a unique probe key. The uuid keeps concurrent processes
// probing a shared backend from reading each other's canaries.
func Canary(scope string) string {
	return "__tiercache_probe:" + scope + ":" + uuid.NewString()
}
