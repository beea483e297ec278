// Package envelope encodes a cache payload together with its absolute
// expiry for tiers that persist raw bytes. Two layouts exist:
//
//   - the binary envelope (opcode, shared-memory, mmap and other tiers
//     without native per-entry expiry): fixed header followed by a
//     length-prefixed payload, so fixed-extent media can carry trailing
//     padding;
//   - the filesystem prefix layout: a 10-digit decimal unix expiry glued
//     in front of the payload, so expiry is readable with one short
//     partial read before committing to the whole file.
//
// Expiries are stored at second granularity, rounded up, so an entry is
// never reported live shorter than its TTL. A zero expiry means the entry
// never expires.
package envelope

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version byte = 1

	// HeaderLen is the fixed prefix of the binary envelope:
	// magic(4) | ver(1) | exp(u64 be) | vlen(u32 be).
	HeaderLen = 4 + 1 + 8 + 4

	// PrefixLen is the width of the decimal expiry in the filesystem
	// layout. Ten digits cover unix seconds until the year 2286.
	PrefixLen = 10
)

var (
	ErrCorrupt = errors.New("tiercache: corrupt envelope")
	magic4     = [...]byte{'T', 'C', 'E', '1'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// unixCeil rounds t up to whole seconds. Zero time maps to 0 (no expiry).
func unixCeil(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	u := t.Unix()
	if u < 0 {
		return 0
	}
	if !t.Equal(time.Unix(u, 0)) {
		u++
	}
	return uint64(u)
}

// Expired reports whether an entry stamped with expiresAt is dead at now.
// A zero expiresAt never expires.
func Expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !expiresAt.After(now)
}

// Encode produces the binary envelope.
func Encode(expiresAt time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(HeaderLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], unixCeil(expiresAt))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeHeader reads only the fixed header: the expiry and the payload
// length. Cleanup paths use it to judge an object from a 17-byte partial
// read without touching the payload.
func DecodeHeader(b []byte) (expiresAt time.Time, vlen int, err error) {
	if len(b) < HeaderLen || !hasMagic(b) || b[4] != version {
		return time.Time{}, 0, ErrCorrupt
	}
	exp := binary.BigEndian.Uint64(b[5:13])
	vlen = int(binary.BigEndian.Uint32(b[13:17]))
	if vlen < 0 {
		return time.Time{}, 0, ErrCorrupt
	}
	if exp != 0 {
		expiresAt = time.Unix(int64(exp), 0)
	}
	return expiresAt, vlen, nil
}

// Decode parses a full envelope. Trailing bytes after the payload are
// rejected; storage that read back more than was written is corrupt.
func Decode(b []byte) (expiresAt time.Time, payload []byte, err error) {
	expiresAt, vlen, err := DecodeHeader(b)
	if err != nil {
		return time.Time{}, nil, err
	}
	if vlen != len(b)-HeaderLen {
		return time.Time{}, nil, ErrCorrupt
	}
	return expiresAt, b[HeaderLen : HeaderLen+vlen], nil
}

// DecodePadded parses an envelope from fixed-extent media (mmap files,
// shared-memory segments) where the extent outlives the payload. Bytes
// past the declared length are ignored; they may be zero fill or the tail
// of a previous, longer write.
func DecodePadded(b []byte) (expiresAt time.Time, payload []byte, err error) {
	expiresAt, vlen, err := DecodeHeader(b)
	if err != nil {
		return time.Time{}, nil, err
	}
	if vlen > len(b)-HeaderLen {
		return time.Time{}, nil, ErrCorrupt
	}
	return expiresAt, b[HeaderLen : HeaderLen+vlen], nil
}

// EncodePrefixed produces the filesystem layout:
// <10-digit decimal unix expiry><payload>. A zero expiry encodes as ten
// zeros and reads back as "never expires".
func EncodePrefixed(expiresAt time.Time, payload []byte) []byte {
	out := make([]byte, PrefixLen, PrefixLen+len(payload))
	u := unixCeil(expiresAt)
	for i := PrefixLen - 1; i >= 0; i-- {
		out[i] = byte('0' + u%10)
		u /= 10
	}
	return append(out, payload...)
}

// DecodePrefix parses just the expiry from the first ten bytes of a
// filesystem object.
func DecodePrefix(b []byte) (time.Time, error) {
	if len(b) < PrefixLen {
		return time.Time{}, ErrCorrupt
	}
	var u uint64
	for i := 0; i < PrefixLen; i++ {
		c := b[i]
		if c < '0' || c > '9' {
			return time.Time{}, ErrCorrupt
		}
		u = u*10 + uint64(c-'0')
	}
	if u == 0 {
		return time.Time{}, nil
	}
	return time.Unix(int64(u), 0), nil
}

// DecodePrefixed parses a full filesystem object.
func DecodePrefixed(b []byte) (expiresAt time.Time, payload []byte, err error) {
	expiresAt, err = DecodePrefix(b)
	if err != nil {
		return time.Time{}, nil, err
	}
	return expiresAt, b[PrefixLen:], nil
}
