package envelope

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func mustDecode(t *testing.T, b []byte) (time.Time, []byte) {
	t.Helper()
	exp, p, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	return exp, p
}

func TestBinaryRoundTrip(t *testing.T) {
	exp := time.Unix(1900000000, 0)
	cases := []struct {
		exp     time.Time
		payload []byte
	}{
		{time.Time{}, nil},
		{exp, []byte("hello")},
		{exp, []byte{0, 1, 2, 3, 4}},
	}
	for _, tc := range cases {
		enc := Encode(tc.exp, tc.payload)
		got, p := mustDecode(t, enc)
		if !got.Equal(tc.exp) {
			t.Fatalf("expiry mismatch: got %v want %v", got, tc.exp)
		}
		if !bytes.Equal(p, tc.payload) {
			t.Fatalf("payload mismatch: got %x want %x", p, tc.payload)
		}
	}
}

func TestExpiryRoundsUp(t *testing.T) {
	// sub-second expiries must never come back earlier than written
	exp := time.Unix(1900000000, 1)
	got, _ := mustDecode(t, Encode(exp, []byte("x")))
	if got.Before(exp) {
		t.Fatalf("stored expiry %v is earlier than requested %v", got, exp)
	}
	if got.Sub(exp) >= time.Second {
		t.Fatalf("stored expiry %v overshoots requested %v by a full second", got, exp)
	}
}

func TestBinaryRejectsTrailingBytes(t *testing.T) {
	enc := Encode(time.Time{}, []byte("x"))
	enc = append(enc, 0xDE, 0xAD)
	if _, _, err := Decode(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
	// fixed-extent media legitimately carry padding
	if _, p, err := DecodePadded(enc); err != nil || string(p) != "x" {
		t.Fatalf("DecodePadded = %q, %v; want x, nil", p, err)
	}
}

func TestBinaryCorruptHeaders(t *testing.T) {
	enc := Encode(time.Time{}, []byte("abc"))

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, _, err := Decode(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, _, err := Decode(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	short := enc[:HeaderLen-1]
	if _, _, err := Decode(short); err == nil {
		t.Fatalf("expected error on short buffer")
	}

	// declared length beyond the buffer
	badLen := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(badLen[13:17], uint32(len(badLen)))
	if _, _, err := Decode(badLen); err == nil {
		t.Fatalf("expected error on oversized length")
	}
	if _, _, err := DecodePadded(badLen); err == nil {
		t.Fatalf("DecodePadded must also reject oversized length")
	}
}

func TestHeaderOnly(t *testing.T) {
	exp := time.Unix(1900000000, 0)
	enc := Encode(exp, []byte("payload"))
	got, vlen, err := DecodeHeader(enc[:HeaderLen])
	if err != nil {
		t.Fatalf("DecodeHeader error: %v", err)
	}
	if !got.Equal(exp) || vlen != len("payload") {
		t.Fatalf("DecodeHeader = %v, %d", got, vlen)
	}
}

func TestPrefixedRoundTrip(t *testing.T) {
	exp := time.Unix(1900000000, 0)
	enc := EncodePrefixed(exp, []byte(`{"name":"Ada"}`))

	if len(enc) != PrefixLen+len(`{"name":"Ada"}`) {
		t.Fatalf("encoded length = %d", len(enc))
	}
	if string(enc[:PrefixLen]) != "1900000000" {
		t.Fatalf("prefix = %q", enc[:PrefixLen])
	}

	got, p, err := DecodePrefixed(enc)
	if err != nil {
		t.Fatalf("DecodePrefixed error: %v", err)
	}
	if !got.Equal(exp) || string(p) != `{"name":"Ada"}` {
		t.Fatalf("DecodePrefixed = %v, %q", got, p)
	}

	// partial read path: expiry from the first ten bytes only
	got, err = DecodePrefix(enc[:PrefixLen])
	if err != nil || !got.Equal(exp) {
		t.Fatalf("DecodePrefix = %v, %v", got, err)
	}
}

func TestPrefixedNeverExpires(t *testing.T) {
	enc := EncodePrefixed(time.Time{}, []byte("v"))
	got, _, err := DecodePrefixed(enc)
	if err != nil {
		t.Fatalf("DecodePrefixed error: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("zero expiry should decode as never, got %v", got)
	}
	if Expired(got, time.Now().Add(1000*time.Hour)) {
		t.Fatalf("zero expiry reported expired")
	}
}

func TestPrefixedCorrupt(t *testing.T) {
	if _, err := DecodePrefix([]byte("12345")); err == nil {
		t.Fatalf("expected error on short prefix")
	}
	if _, err := DecodePrefix([]byte("12a4567890")); err == nil {
		t.Fatalf("expected error on non-digit prefix")
	}
}

func TestExpired(t *testing.T) {
	now := time.Unix(1900000000, 0)
	if Expired(now.Add(time.Second), now) {
		t.Fatalf("future expiry reported dead")
	}
	if !Expired(now, now) {
		t.Fatalf("expiry at now must be dead")
	}
	if !Expired(now.Add(-time.Second), now) {
		t.Fatalf("past expiry reported live")
	}
	if Expired(time.Time{}, now) {
		t.Fatalf("zero expiry must never die")
	}
}
