package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// shingleSize is the character n-gram width hashed into the stub
// vector. Trigrams keep near-identical identifiers near each other
// without any model weights.
const shingleSize = 3

// StaticEmbedder is the deterministic hash embedder: FNV-1a over token
// shingles, bucketed into a fixed-dimension vector. It exists so tests
// and embeddings-unavailable deployments still get stable, non-trivial
// vectors; it never fails and needs no runtime.
type StaticEmbedder struct{}

// NewStaticEmbedder creates the stub embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed generates the deterministic vector for text.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.generateVector(text), nil
}

// EmbedBatch generates vectors for each text.
func (e *StaticEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.generateVector(t)
	}
	return out, nil
}

// generateVector hashes every token and token shingle into buckets.
// Same input, same vector, on every platform.
func (e *StaticEmbedder) generateVector(text string) []float32 {
	vec := make([]float32, StaticDimensions)
	for _, token := range tokenizeForHash(text) {
		bump(vec, token, 1.0)
		runes := []rune(token)
		for i := 0; i+shingleSize <= len(runes); i++ {
			bump(vec, string(runes[i:i+shingleSize]), 0.5)
		}
	}
	return normalizeVector(vec)
}

// bump adds weight to the FNV-1a bucket for s, sign-split on a second
// bit of the hash so buckets cancel rather than only accumulate.
func bump(vec []float32, s string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	sum := h.Sum64()
	idx := int(sum % uint64(len(vec)))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenizeForHash(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Dimensions returns the stub vector dimension.
func (e *StaticEmbedder) Dimensions() int { return StaticDimensions }

// ModelName returns the stub model identifier.
func (e *StaticEmbedder) ModelName() string { return "static" }

// Available always reports true; the stub has no runtime to wait for.
func (e *StaticEmbedder) Available(_ context.Context) bool { return true }

// Close is a no-op.
func (e *StaticEmbedder) Close() error { return nil }
