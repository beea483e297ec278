// Package codec turns typed values into the byte payloads tiers store and
// back. The engine encodes once per write and decodes once per read hit;
// bytes one codec wrote are only readable through the same codec.
package codec

// Codec encodes values of V for storage and decodes stored bytes back.
// Implementations must be safe for concurrent use.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
