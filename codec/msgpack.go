package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack serializes values as MessagePack. It is the default codec: the
// zero value works, output is compact, and most struct types round-trip
// without tags. Field naming follows `msgpack:"..."` tags when present,
// which differ from json tags; tag both when the same struct crosses
// formats.
type Msgpack[V any] struct{}

func (Msgpack[V]) Encode(v V) ([]byte, error) { return msgpack.Marshal(v) }

func (Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	err := msgpack.Unmarshal(b, &v)
	return v, err
}
