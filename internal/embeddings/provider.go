package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Provider produces embedding vectors for text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Local is a deterministic feature-hashing embedder. Tokens are hashed
// into a fixed number of buckets and the vector is unit-normalized, so
// identical text always yields the same vector and cosine similarity
// grows with token overlap. It needs no model files or network.
type Local struct {
	dimensions int
}

// NewLocal creates a local embedder with the given dimension count.
func NewLocal(dimensions int) *Local {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &Local{dimensions: dimensions}
}

func (l *Local) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, l.dimensions)
	for _, tok := range Tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(l.dimensions))
		// Sign from a high bit keeps hash collisions from only ever
		// adding up, which would bias cosine toward 1.
		sign := float32(1)
		if sum&(1<<63) != 0 {
			sign = -1
		}
		vec[bucket] += sign
	}
	return normalize(vec), nil
}

func (l *Local) Dimensions() int {
	return l.dimensions
}

// Tokenize lower-cases and splits text on non-alphanumeric runes.
func Tokenize(text string) []string {
	var (
		terms []string
		sb    strings.Builder
	)
	flush := func() {
		if sb.Len() > 0 {
			terms = append(terms, sb.String())
			sb.Reset()
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()
	return terms
}

// Cosine returns the cosine similarity of two vectors, clamped to [0, 1].
// Mismatched lengths score zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}
