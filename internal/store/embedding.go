package store

import (
	"encoding/binary"
	"math"
)

// encodeEmbedding packs a float32 vector into the opaque byte form spec.md
// §3 calls for on Entity/Fact/Preference/Event rows (little-endian IEEE 754).
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeEmbedding is the inverse of encodeEmbedding. A nil/malformed slice
// decodes to nil rather than erroring, since spec.md §8 requires the
// extraction and backfill paths to tolerate rows missing embeddings.
func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
