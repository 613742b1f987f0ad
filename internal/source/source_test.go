package source

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/xiy/memgraph-mcp/internal/embeddings"
	"github.com/xiy/memgraph-mcp/internal/graph"
	"github.com/xiy/memgraph-mcp/pkg/types"
)

func discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

func TestDeriveKeyStable(t *testing.T) {
	t.Parallel()
	a := DeriveKey(types.WriteDecision, "Use Postgres for the ledger")
	b := DeriveKey(types.WriteDecision, "Use Postgres for the ledger")
	if a != b {
		t.Fatalf("derived keys differ: %q != %q", a, b)
	}
	if a != "decision:use-postgres-for-the-ledger" {
		t.Fatalf("DeriveKey() = %q", a)
	}
}

func TestGraphSource_WriteThenQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := NewGraphSource(graph.NewMemStore(embeddings.NewLocal(64)), discard())
	if !src.Initialize(ctx) {
		t.Fatal("graph source should initialize")
	}

	id, err := src.Write(ctx, types.WritePayload{
		Content: "switched the queue to NATS",
		Type:    types.WriteDecision,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if id == "" {
		t.Fatal("expected a node id")
	}

	results, err := src.Query(ctx, "queue NATS", Options{Limit: 5})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results for matching query")
	}
	if results[0].Source != NameGraph {
		t.Fatalf("source = %q, want %q", results[0].Source, NameGraph)
	}
	if results[0].Metadata["hops"] != 0 {
		t.Fatalf("hops = %v, want 0", results[0].Metadata["hops"])
	}
}

func TestGraphSource_WriteRelatesTo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := graph.NewMemStore(embeddings.NewLocal(64))
	src := NewGraphSource(st, discard())
	src.Initialize(ctx)

	targetID, err := src.Write(ctx, types.WritePayload{Content: "first fact", Type: types.WriteFact})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	id, err := src.Write(ctx, types.WritePayload{
		Content:  "second fact follows the first",
		Type:     types.WriteFact,
		Metadata: map[string]any{"relates_to": targetID, "relation": "led_to"},
	})
	if err != nil {
		t.Fatalf("Write() with relates_to error = %v", err)
	}

	related, err := st.Related(ctx, id, 1)
	if err != nil {
		t.Fatalf("Related() error = %v", err)
	}
	if len(related) != 1 || related[0].ID != targetID {
		t.Fatalf("expected edge to target, got %+v", related)
	}

	if _, err := src.Write(ctx, types.WritePayload{
		Content:  "dangling reference",
		Type:     types.WriteFact,
		Metadata: map[string]any{"relates_to": "no-such-node"},
	}); err == nil {
		t.Fatal("expected error for dangling relates_to")
	}
}

func TestPatternSource_Reinforcement(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := NewPatternSource(filepath.Join(t.TempDir(), "patterns.db"), discard())
	if !src.Initialize(ctx) {
		t.Fatal("pattern source should initialize")
	}
	defer src.Disconnect()

	payload := types.WritePayload{Content: "Always run migrations before deploy", Type: types.WriteLearning}
	first, err := src.Write(ctx, payload)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	second, err := src.Write(ctx, payload)
	if err != nil {
		t.Fatalf("Write() second error = %v", err)
	}
	if first != second {
		t.Fatalf("repeated pattern should reinforce one row: %q != %q", first, second)
	}

	st, err := src.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.Count != 1 {
		t.Fatalf("pattern count = %d, want 1", st.Count)
	}

	results, err := src.Query(ctx, "migrations deploy", Options{Limit: 5})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if occ, _ := results[0].Metadata["occurrences"].(int64); occ != 2 {
		t.Fatalf("occurrences = %v, want 2", results[0].Metadata["occurrences"])
	}
}

func TestDocSource_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := NewDocSource("", embeddings.NewLocal(64), discard())
	if !src.Initialize(ctx) {
		t.Fatal("doc source should initialize")
	}

	// Empty collection queries are a no-op, not an error.
	results, err := src.Query(ctx, "anything", Options{Limit: 3})
	if err != nil {
		t.Fatalf("Query() on empty store error = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}

	if _, err := src.Write(ctx, types.WritePayload{
		Content: "shipped the billing rewrite two weeks early",
		Type:    types.WriteWin,
	}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	results, err = src.Query(ctx, "billing rewrite shipped", Options{Limit: 3})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Source != NameDocuments {
		t.Fatalf("source = %q, want %q", results[0].Source, NameDocuments)
	}
}

func TestInitializeIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := NewPatternSource(filepath.Join(t.TempDir(), "patterns.db"), discard())
	if !src.Initialize(ctx) || !src.Initialize(ctx) {
		t.Fatal("Initialize() must be idempotent and keep reporting availability")
	}
}
