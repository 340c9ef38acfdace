// Package codec turns typed values into the bytes kept by a session store
// provider. The save manager uses a Codec[TimeState] for per-scene playback
// state and a Protobuf codec for export bundles.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
