package sqlite

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/scrypster/cogwire/internal/storage"
)

// encodeVector serializes a vector as little-endian float32.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector reverses encodeVector; dim validates the blob size.
func decodeVector(buf []byte, dim int) ([]float32, error) {
	if dim <= 0 || len(buf) != dim*4 {
		return nil, fmt.Errorf("embedding blob size mismatch: dim=%d bytes=%d", dim, len(buf))
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

func sortHits(hits []storage.SearchHit) {
	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
}
