package codec

import "encoding/json"

// JSON is a Codec backed by encoding/json. Slower and larger on the wire
// than Msgpack, but the stored bytes stay human-readable.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
