package codec

import "fmt"

// LimitCodec caps the payload size accepted at decode time. Bytes read
// from shared tiers are only as trustworthy as the least trusted writer;
// the cap stops an oversized entry before the inner codec allocates for
// it. Encode passes through untouched, and MaxDecode <= 0 disables the
// check.
type LimitCodec[V any] struct {
	Inner     Codec[V]
	MaxDecode int
}

func (c LimitCodec[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }

func (c LimitCodec[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("codec: payload %d bytes exceeds the %d byte decode limit", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
