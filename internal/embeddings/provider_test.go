package embeddings

import (
	"context"
	"testing"
)

func TestEmbedDeterministic(t *testing.T) {
	t.Parallel()
	p := NewLocal(256)
	a, err := p.Embed(context.Background(), "we chose postgres for durability")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, err := p.Embed(context.Background(), "we chose postgres for durability")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if got := Cosine(a, b); got < 0.999 {
		t.Fatalf("identical text cosine = %v, want ~1", got)
	}
}

func TestCosineMonotonicWithOverlap(t *testing.T) {
	t.Parallel()
	p := NewLocal(256)
	ctx := context.Background()
	base, _ := p.Embed(ctx, "postgres chosen for transactional durability")
	near, _ := p.Embed(ctx, "postgres chosen for analytics")
	far, _ := p.Embed(ctx, "the cat sat on the mat")

	simNear := Cosine(base, near)
	simFar := Cosine(base, far)
	if simNear <= simFar {
		t.Fatalf("overlapping text should score higher: near=%v far=%v", simNear, simFar)
	}
}

func TestTokenize(t *testing.T) {
	t.Parallel()
	got := Tokenize("Why did we choose Postgres?")
	want := []string{"why", "did", "we", "choose", "postgres"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tokenize()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCosineMismatchedLengths(t *testing.T) {
	t.Parallel()
	if got := Cosine([]float32{1, 0}, []float32{1}); got != 0 {
		t.Fatalf("Cosine(mismatched) = %v, want 0", got)
	}
}
