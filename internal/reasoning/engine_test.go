package reasoning

import (
	"context"
	"io"
	"math"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/memgraph-mcp/internal/embeddings"
	"github.com/xiy/memgraph-mcp/internal/graph"
	"github.com/xiy/memgraph-mcp/internal/source"
	"github.com/xiy/memgraph-mcp/pkg/types"
)

// fakeGraph hands the engine a fixed topology with controlled
// timestamps, which the real stores cannot easily produce.
type fakeGraph struct {
	nodes        map[string]types.MemoryNode
	neighbors    map[string][]string
	seeds        []graph.Match
	relatedCalls int
}

func (f *fakeGraph) Upsert(context.Context, string, string, types.NodeKind, map[string]any) (types.MemoryNode, error) {
	return types.MemoryNode{}, nil
}
func (f *fakeGraph) Link(context.Context, string, string, string, float64) (types.MemoryEdge, error) {
	return types.MemoryEdge{}, nil
}
func (f *fakeGraph) Get(_ context.Context, id string) (types.MemoryNode, error) {
	n, ok := f.nodes[id]
	if !ok {
		return types.MemoryNode{}, graph.ErrNotFound
	}
	return n, nil
}
func (f *fakeGraph) Search(context.Context, string, int) ([]graph.Match, error) {
	return f.seeds, nil
}
func (f *fakeGraph) Related(_ context.Context, nodeID string, _ int) ([]types.MemoryNode, error) {
	f.relatedCalls++
	var out []types.MemoryNode
	for _, id := range f.neighbors[nodeID] {
		out = append(out, f.nodes[id])
	}
	return out, nil
}
func (f *fakeGraph) Stats(context.Context) (graph.Stats, error) { return graph.Stats{}, nil }
func (f *fakeGraph) Close() error                               { return nil }

func node(id string, at time.Time) types.MemoryNode {
	return types.MemoryNode{ID: id, Key: "fact:" + id, Value: "node " + id, CreatedAt: at, UpdatedAt: at}
}

func newTestEngine(f *fakeGraph) *Engine {
	e := NewEngine(f, DefaultConfig(), log.NewWithOptions(io.Discard, log.Options{}))
	e.Initialize(context.Background())
	return e
}

func scoreByID(results []types.UnifiedResult, id string) (float64, bool) {
	for _, r := range results {
		if r.ID == id {
			return r.Score, true
		}
	}
	return 0, false
}

func TestDecayMonotonicity(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fakeGraph{
		nodes: map[string]types.MemoryNode{
			"a": node("a", t0),
			"b": node("b", t0.Add(1*time.Minute)),
			"c": node("c", t0.Add(2*time.Minute)),
			"d": node("d", t0.Add(3*time.Minute)),
		},
		neighbors: map[string][]string{"a": {"b"}, "b": {"c"}, "c": {"d"}},
	}
	f.seeds = []graph.Match{{Node: f.nodes["a"], Score: 1.0}}

	results, err := newTestEngine(f).Query(context.Background(), "chain", source.Options{Limit: 10, MaxHops: 5, MinScore: 0.01})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	want := map[string]float64{"a": 1.0, "b": 0.7, "c": 0.49, "d": 0.343}
	for id, expected := range want {
		got, ok := scoreByID(results, id)
		if !ok {
			t.Fatalf("node %s missing from results", id)
		}
		if math.Abs(got-expected) > 1e-9 {
			t.Fatalf("score(%s) = %v, want %v", id, got, expected)
		}
	}
	if results[0].ID != "a" {
		t.Fatalf("results not sorted by score: first = %s", results[0].ID)
	}
}

func TestTemporalValidity(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fakeGraph{
		nodes: map[string]types.MemoryNode{
			"a": node("a", t0),
			"b": node("b", t0.Add(1*time.Minute)),
			// c is backdated 20 minutes before b: outside the 5 minute window.
			"c": node("c", t0.Add(1*time.Minute).Add(-20*time.Minute)),
		},
		neighbors: map[string][]string{"a": {"b"}, "b": {"c"}},
	}
	f.seeds = []graph.Match{{Node: f.nodes["a"], Score: 1.0}}

	results, err := newTestEngine(f).Query(context.Background(), "window", source.Options{Limit: 10, MaxHops: 5, MinScore: 0.01})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if _, ok := scoreByID(results, "b"); !ok {
		t.Fatal("b is 1 minute forward of a and must be reachable")
	}
	if _, ok := scoreByID(results, "c"); ok {
		t.Fatal("c is backdated beyond the window and must not be reachable")
	}
}

func TestForwardEdgesAlwaysTraversable(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fakeGraph{
		nodes: map[string]types.MemoryNode{
			"a": node("a", t0),
			// Far in the future; forward jumps have no window limit.
			"b": node("b", t0.Add(90*24*time.Hour)),
		},
		neighbors: map[string][]string{"a": {"b"}},
	}
	f.seeds = []graph.Match{{Node: f.nodes["a"], Score: 1.0}}

	results, err := newTestEngine(f).Query(context.Background(), "forward", source.Options{Limit: 10, MaxHops: 2, MinScore: 0.01})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if _, ok := scoreByID(results, "b"); !ok {
		t.Fatal("forward edge must be traversable regardless of window")
	}
}

func TestEarlyTermination(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fakeGraph{
		nodes: map[string]types.MemoryNode{
			"a": node("a", t0),
			"b": node("b", t0.Add(time.Minute)),
		},
		neighbors: map[string][]string{"a": {"b"}, "b": {"a"}},
	}
	f.seeds = []graph.Match{{Node: f.nodes["a"], Score: 1.0}}

	_, err := newTestEngine(f).Query(context.Background(), "short chain", source.Options{Limit: 10, MaxHops: 5, MinScore: 0.01})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	// Hop 1 expands a, hop 2 expands b and finds nothing new; hops 3..5
	// must never run.
	if f.relatedCalls != 2 {
		t.Fatalf("Related() called %d times, want 2", f.relatedCalls)
	}
}

func TestMinScoreDiscardsWeakNeighbors(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fakeGraph{
		nodes: map[string]types.MemoryNode{
			"a": node("a", t0),
			"b": node("b", t0.Add(time.Minute)),
			"c": node("c", t0.Add(2*time.Minute)),
		},
		neighbors: map[string][]string{"a": {"b"}, "b": {"c"}},
	}
	f.seeds = []graph.Match{{Node: f.nodes["a"], Score: 1.0}}

	results, err := newTestEngine(f).Query(context.Background(), "cutoff", source.Options{Limit: 10, MaxHops: 5, MinScore: 0.5})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if _, ok := scoreByID(results, "b"); !ok {
		t.Fatal("b scores 0.7 and should survive minScore 0.5")
	}
	if _, ok := scoreByID(results, "c"); ok {
		t.Fatal("c scores 0.49 and should be discarded at minScore 0.5")
	}
}

func TestResultsCarryReasoningTrail(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fakeGraph{
		nodes: map[string]types.MemoryNode{
			"a": node("a", t0),
			"b": node("b", t0.Add(time.Minute)),
		},
		neighbors: map[string][]string{"a": {"b"}},
	}
	f.seeds = []graph.Match{{Node: f.nodes["a"], Score: 0.9}}

	results, err := newTestEngine(f).Query(context.Background(), "trail", source.Options{Limit: 10, MaxHops: 2, MinScore: 0.01})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	score, ok := scoreByID(results, "b")
	if !ok {
		t.Fatal("b missing")
	}
	if math.Abs(score-0.63) > 1e-9 {
		t.Fatalf("score(b) = %v, want 0.63", score)
	}
	for _, r := range results {
		if r.ID != "b" {
			continue
		}
		if r.Metadata["hops"] != 1 {
			t.Fatalf("hops = %v, want 1", r.Metadata["hops"])
		}
		trail, ok := r.Metadata["reasoning"].([]string)
		if !ok || len(trail) != 2 {
			t.Fatalf("reasoning trail = %v, want 2 entries", r.Metadata["reasoning"])
		}
	}
}

func TestEngineWriteExtractsAndLinks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := graph.NewMemStore(embeddings.NewLocal(64))
	e := NewEngine(st, DefaultConfig(), log.NewWithOptions(io.Discard, log.Options{}))
	e.Initialize(ctx)

	id, err := e.Write(ctx, types.WritePayload{
		Content: "the dns misconfiguration caused the checkout outage",
		Type:    types.WriteEpisode,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if id == "" {
		t.Fatal("expected an extracted fact id")
	}

	related, err := st.Related(ctx, id, 1)
	if err != nil {
		t.Fatalf("Related() error = %v", err)
	}
	if len(related) != 1 {
		t.Fatalf("expected relation edge to extracted effect, got %d neighbors", len(related))
	}

	stats, _ := st.Stats(ctx)
	if stats.Nodes != 2 || stats.Edges != 1 {
		t.Fatalf("graph after extraction: %d nodes %d edges, want 2/1", stats.Nodes, stats.Edges)
	}
}

func TestEngineWriteNoFactsIsNoop(t *testing.T) {
	t.Parallel()
	st := graph.NewMemStore(embeddings.NewLocal(64))
	e := NewEngine(st, DefaultConfig(), log.NewWithOptions(io.Discard, log.Options{}))
	e.Initialize(context.Background())

	id, err := e.Write(context.Background(), types.WritePayload{Content: "hello there", Type: types.WriteFact})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if id != "" {
		t.Fatalf("expected no-op for text without facts, got id %q", id)
	}
}
