package graph

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/xiy/memgraph-mcp/internal/embeddings"
	"github.com/xiy/memgraph-mcp/pkg/types"
)

var errBackendDown = errors.New("backend unreachable")

// downStore simulates an unreachable durable backend.
type downStore struct{}

func (downStore) Upsert(context.Context, string, string, types.NodeKind, map[string]any) (types.MemoryNode, error) {
	return types.MemoryNode{}, errBackendDown
}
func (downStore) Link(context.Context, string, string, string, float64) (types.MemoryEdge, error) {
	return types.MemoryEdge{}, errBackendDown
}
func (downStore) Get(context.Context, string) (types.MemoryNode, error) {
	return types.MemoryNode{}, errBackendDown
}
func (downStore) Search(context.Context, string, int) ([]Match, error) { return nil, errBackendDown }
func (downStore) Related(context.Context, string, int) ([]types.MemoryNode, error) {
	return nil, errBackendDown
}
func (downStore) Stats(context.Context) (Stats, error) { return Stats{}, errBackendDown }
func (downStore) Close() error                         { return nil }

func TestFailover_SwitchesToFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := log.NewWithOptions(io.Discard, log.Options{})
	f := NewFailover(downStore{}, NewMemStore(embeddings.NewLocal(64)), logger)

	node, err := f.Upsert(ctx, "fact:x", "written during outage", types.KindFact, nil)
	if err != nil {
		t.Fatalf("Upsert() error = %v, want fallback success", err)
	}
	if !f.Degraded() {
		t.Fatal("expected failover to be degraded after primary failure")
	}

	got, err := f.Get(ctx, node.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Value != "written during outage" {
		t.Fatalf("read-your-write failed: %q", got.Value)
	}
}

func TestFailover_CallerErrorsPassThrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := log.NewWithOptions(io.Discard, log.Options{})
	primary := NewMemStore(embeddings.NewLocal(64))
	f := NewFailover(primary, NewMemStore(embeddings.NewLocal(64)), logger)

	if _, err := f.Upsert(ctx, "", "v", types.KindFact, nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid passthrough, got %v", err)
	}
	if f.Degraded() {
		t.Fatal("malformed input must not trigger failover")
	}
}
