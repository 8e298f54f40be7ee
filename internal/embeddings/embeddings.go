// Package embeddings turns captured events into semantic vectors for
// similarity search. Vectors come from a local Ollama instance when one is
// reachable, with a deterministic hashed fallback so search stays usable
// offline.
package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/scrypster/cogwire/internal/capture"
)

// DefaultDimensions is the vector width used when the backend does not
// dictate one.
const DefaultDimensions = 384

// minEmbedText is the shortest text worth embedding; anything shorter is
// noise (bare pings, empty results).
const minEmbedText = 10

// Generator produces an embedding vector for a text.
type Generator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BuildEmbedText flattens an enriched event into the text that gets
// embedded: "{intent}: {topic} | {summary} | {concepts}". Returns "" when
// the event carries no light layer.
func BuildEmbedText(ev *capture.Event) string {
	if ev == nil || ev.LightLayer == nil {
		return ""
	}
	intent := stringField(ev.LightLayer, "intent", "explore")
	topic := stringField(ev.LightLayer, "topic", "general")
	summary := stringField(ev.LightLayer, "summary", "")
	if summary == "" && ev.DataLayer != nil {
		summary = stringField(ev.DataLayer, "content", "")
	}
	if len(summary) > 300 {
		summary = summary[:300]
	}

	parts := []string{fmt.Sprintf("%s: %s", intent, topic)}
	if summary != "" {
		parts = append(parts, summary)
	}
	if concepts := conceptList(ev.LightLayer); len(concepts) > 0 {
		parts = append(parts, strings.Join(concepts, " "))
	}
	return strings.Join(parts, " | ")
}

// ContentHash is the dedup key for an embed text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// CosineSimilarity between two vectors; 0 when either has zero norm or
// the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	norm := math.Sqrt(na) * math.Sqrt(nb)
	if norm == 0 {
		return 0
	}
	return dot / norm
}

// HashedVector is the deterministic fallback embedder: each whitespace
// token contributes weight to dimensions derived from its SHA-256 digest,
// and the result is L2-normalized. Same text, same vector, on every
// machine. Not semantically meaningful, but stable enough for exact and
// near-duplicate matching.
func HashedVector(text string, dims int) []float32 {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	vec := make([]float32, dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(tok))
		// Four dimension/sign pairs per token spread the mass around.
		for i := 0; i < 4; i++ {
			idx := binary.LittleEndian.Uint32(sum[i*8:]) % uint32(dims)
			sign := float32(1)
			if sum[i*8+4]&1 == 1 {
				sign = -1
			}
			vec[idx] += sign
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func stringField(m map[string]any, key, def string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return def
}

func conceptList(m map[string]any) []string {
	switch v := m["concepts"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, c := range v {
			if s, ok := c.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
