package federation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/memgraph-mcp/internal/source"
	"github.com/xiy/memgraph-mcp/pkg/types"
)

type fakeSource struct {
	name       string
	initOK     bool
	initCalls  int
	results    []types.UnifiedResult
	queryErr   error
	queryCalls atomic.Int64
	delay      time.Duration
	writes     []types.WritePayload
	writeErr   error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Initialize(ctx context.Context) bool {
	f.initCalls++
	return f.initOK
}

func (f *fakeSource) Available() bool { return f.initOK }

func (f *fakeSource) Query(ctx context.Context, text string, opts source.Options) ([]types.UnifiedResult, error) {
	f.queryCalls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.results, nil
}

func (f *fakeSource) Write(ctx context.Context, payload types.WritePayload) (string, error) {
	if f.writeErr != nil {
		return "", f.writeErr
	}
	f.writes = append(f.writes, payload)
	return fmt.Sprintf("%s-%d", f.name, len(f.writes)), nil
}

func (f *fakeSource) Stats(ctx context.Context) (types.SourceStats, error) {
	return types.SourceStats{Name: f.name, Count: int64(len(f.writes))}, nil
}

func (f *fakeSource) Disconnect() error { return nil }

func quietLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

func result(src, content string, score float64) types.UnifiedResult {
	return types.UnifiedResult{ID: src + ":" + content, Source: src, Content: content, Score: score}
}

func TestQueryParallelMergesInPriorityOrder(t *testing.T) {
	t.Parallel()

	graph := &fakeSource{name: source.NameGraph, initOK: true, results: []types.UnifiedResult{
		result("graph", "postgres handles the ledger", 0.9),
	}}
	docs := &fakeSource{name: source.NameDocuments, initOK: true, results: []types.UnifiedResult{
		result("documents", "redis caches session state", 0.8),
	}}

	bus := NewBus(Options{}, quietLogger())
	bus.Register(graph)
	bus.Register(docs)
	bus.Initialize(context.Background())

	got := bus.QueryParallel(context.Background(), "ledger", []string{source.NameDocuments, source.NameGraph}, source.Options{Limit: 10})
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Source != source.NameDocuments || got[1].Source != source.NameGraph {
		t.Fatalf("caller priority order not preserved: %s, %s", got[0].Source, got[1].Source)
	}
}

func TestQueryParallelDedupFirstSeenWins(t *testing.T) {
	t.Parallel()

	shared := "We decided to   move session STATE into redis."
	graph := &fakeSource{name: source.NameGraph, initOK: true, results: []types.UnifiedResult{
		result("graph", "we decided to move session state into redis.", 0.6),
	}}
	docs := &fakeSource{name: source.NameDocuments, initOK: true, results: []types.UnifiedResult{
		result("documents", shared, 0.9),
	}}

	bus := NewBus(Options{}, quietLogger())
	bus.Register(graph)
	bus.Register(docs)
	bus.Initialize(context.Background())

	got := bus.QueryParallel(context.Background(), "redis", []string{source.NameGraph, source.NameDocuments}, source.Options{Limit: 10})
	if len(got) != 1 {
		t.Fatalf("expected duplicates collapsed to 1 result, got %d", len(got))
	}
	if got[0].Source != source.NameGraph {
		t.Fatalf("expected first-seen source graph to win, got %s", got[0].Source)
	}
}

func TestQueryParallelFailingSourceContributesNothing(t *testing.T) {
	t.Parallel()

	healthy := &fakeSource{name: source.NameGraph, initOK: true, results: []types.UnifiedResult{
		result("graph", "the deploy pipeline uses blue green", 0.7),
	}}
	broken := &fakeSource{name: source.NamePatterns, initOK: true, queryErr: errors.New("backend down")}

	bus := NewBus(Options{}, quietLogger())
	bus.Register(healthy)
	bus.Register(broken)
	bus.Initialize(context.Background())

	got := bus.QueryParallel(context.Background(), "deploy", nil, source.Options{Limit: 10})
	if len(got) != 1 || got[0].Source != source.NameGraph {
		t.Fatalf("expected only healthy source results, got %+v", got)
	}
	if bus.Failures()[source.NamePatterns] != 1 {
		t.Fatalf("expected one recorded failure for patterns, got %d", bus.Failures()[source.NamePatterns])
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	healthy := &fakeSource{name: source.NameGraph, initOK: true, results: []types.UnifiedResult{
		result("graph", "still answering", 0.6),
	}}
	broken := &fakeSource{name: source.NamePatterns, initOK: true, queryErr: errors.New("backend down")}

	bus := NewBus(Options{BreakerMinRequests: 3}, quietLogger())
	bus.Register(healthy)
	bus.Register(broken)
	bus.Initialize(context.Background())

	for i := 0; i < 10; i++ {
		got := bus.QueryParallel(context.Background(), "deploy", nil, source.Options{Limit: 10})
		if len(got) != 1 || got[0].Source != source.NameGraph {
			t.Fatalf("query %d: expected only healthy results, got %+v", i, got)
		}
	}

	// The breaker trips at the failure threshold; later fan-outs skip
	// the source entirely instead of calling it again.
	if calls := broken.queryCalls.Load(); calls != 3 {
		t.Fatalf("expected 3 calls before the breaker opened, got %d", calls)
	}
	before := broken.queryCalls.Load()
	bus.QueryParallel(context.Background(), "deploy again", nil, source.Options{Limit: 10})
	if broken.queryCalls.Load() != before {
		t.Fatal("open breaker should prevent further calls to the failing source")
	}

	var brokenStats, healthyStats *types.SourceStats
	for _, st := range bus.Stats(context.Background()) {
		st := st
		switch st.Name {
		case source.NamePatterns:
			brokenStats = &st
		case source.NameGraph:
			healthyStats = &st
		}
	}
	if brokenStats == nil || brokenStats.Breaker != "open" {
		t.Fatalf("expected open breaker reported for failing source, got %+v", brokenStats)
	}
	if healthyStats == nil || healthyStats.Breaker != "closed" {
		t.Fatalf("expected closed breaker reported for healthy source, got %+v", healthyStats)
	}
}

func TestQueryParallelTimeoutYieldsZeroResults(t *testing.T) {
	t.Parallel()

	slow := &fakeSource{name: source.NameDocuments, initOK: true, delay: 500 * time.Millisecond, results: []types.UnifiedResult{
		result("documents", "too late", 0.9),
	}}
	fast := &fakeSource{name: source.NameGraph, initOK: true, results: []types.UnifiedResult{
		result("graph", "on time", 0.5),
	}}

	bus := NewBus(Options{QueryTimeout: 50 * time.Millisecond}, quietLogger())
	bus.Register(slow)
	bus.Register(fast)
	bus.Initialize(context.Background())

	got := bus.QueryParallel(context.Background(), "latency", nil, source.Options{Limit: 10})
	if len(got) != 1 || got[0].Source != source.NameGraph {
		t.Fatalf("expected slow source dropped, got %+v", got)
	}
}

func TestUnavailableSourceExcluded(t *testing.T) {
	t.Parallel()

	down := &fakeSource{name: source.NamePatterns, initOK: false}
	up := &fakeSource{name: source.NameGraph, initOK: true, results: []types.UnifiedResult{
		result("graph", "still here", 0.4),
	}}

	bus := NewBus(Options{}, quietLogger())
	bus.Register(down)
	bus.Register(up)

	available := bus.Initialize(context.Background())
	if len(available) != 1 || available[0] != source.NameGraph {
		t.Fatalf("expected only graph available, got %v", available)
	}

	got := bus.QueryParallel(context.Background(), "anything", nil, source.Options{Limit: 10})
	if len(got) != 1 || got[0].Source != source.NameGraph {
		t.Fatalf("expected unavailable source excluded, got %+v", got)
	}
}

func TestWriteDefaultRouting(t *testing.T) {
	t.Parallel()

	graph := &fakeSource{name: source.NameGraph, initOK: true}
	patterns := &fakeSource{name: source.NamePatterns, initOK: true}
	docs := &fakeSource{name: source.NameDocuments, initOK: true}

	bus := NewBus(Options{}, quietLogger())
	bus.Register(graph)
	bus.Register(patterns)
	bus.Register(docs)
	bus.Initialize(context.Background())

	res, err := bus.Write(context.Background(), types.WritePayload{
		Content: "retrying idempotent requests avoids duplicate charges",
		Type:    types.WriteLearning,
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(res.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes for learning, got %d", len(res.Outcomes))
	}
	if res.Outcomes[0].Destination != source.NamePatterns || res.Outcomes[1].Destination != source.NameGraph {
		t.Fatalf("unexpected routing: %+v", res.Outcomes)
	}
	if !res.Succeeded() {
		t.Fatal("expected write to succeed")
	}
	if len(patterns.writes) != 1 || len(graph.writes) != 1 || len(docs.writes) != 0 {
		t.Fatalf("writes landed in wrong sources: patterns=%d graph=%d docs=%d",
			len(patterns.writes), len(graph.writes), len(docs.writes))
	}
}

func TestWritePartialFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	graph := &fakeSource{name: source.NameGraph, initOK: true}
	docs := &fakeSource{name: source.NameDocuments, initOK: true, writeErr: errors.New("disk full")}

	bus := NewBus(Options{}, quietLogger())
	bus.Register(graph)
	bus.Register(docs)
	bus.Initialize(context.Background())

	res, err := bus.Write(context.Background(), types.WritePayload{
		Content: "shipped the reconciliation job on time",
		Type:    types.WriteWin,
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !res.Succeeded() {
		t.Fatal("expected partial success")
	}
	var failed, ok int
	for _, o := range res.Outcomes {
		if o.OK {
			ok++
		} else {
			failed++
		}
	}
	if ok != 1 || failed != 1 {
		t.Fatalf("expected one success and one failure, got %+v", res.Outcomes)
	}
}

func TestWriteRejectsInvalidPayload(t *testing.T) {
	t.Parallel()

	bus := NewBus(Options{}, quietLogger())
	bus.Register(&fakeSource{name: source.NameGraph, initOK: true})
	bus.Initialize(context.Background())

	if _, err := bus.Write(context.Background(), types.WritePayload{Content: "   ", Type: types.WriteFact}); err == nil {
		t.Fatal("expected error for empty content")
	}
	if _, err := bus.Write(context.Background(), types.WritePayload{Content: "ok", Type: "rumor"}); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestWriteExplicitDestinationsOverrideRouting(t *testing.T) {
	t.Parallel()

	graph := &fakeSource{name: source.NameGraph, initOK: true}
	docs := &fakeSource{name: source.NameDocuments, initOK: true}

	bus := NewBus(Options{}, quietLogger())
	bus.Register(graph)
	bus.Register(docs)
	bus.Initialize(context.Background())

	res, err := bus.Write(context.Background(), types.WritePayload{
		Content:      "a fact that should only live in documents",
		Type:         types.WriteFact,
		Destinations: []string{source.NameDocuments},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(res.Outcomes) != 1 || res.Outcomes[0].Destination != source.NameDocuments {
		t.Fatalf("explicit destinations ignored: %+v", res.Outcomes)
	}
	if len(graph.writes) != 0 {
		t.Fatal("graph should not have been written")
	}
}

func TestFingerprintNormalization(t *testing.T) {
	t.Parallel()

	a := Fingerprint("  The   Quick\tBrown Fox ")
	b := Fingerprint("the quick brown fox")
	if a != b {
		t.Fatalf("fingerprints differ: %q vs %q", a, b)
	}

	long := Fingerprint("x" + strings.Repeat("y", 300))
	if n := len([]rune(long)); n != dedupPrefixRunes {
		t.Fatalf("expected %d rune prefix, got %d", dedupPrefixRunes, n)
	}
}
