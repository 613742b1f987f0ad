package graph

import (
	"context"
	"errors"
	"time"

	"github.com/xiy/memgraph-mcp/pkg/types"
)

// ErrInvalid marks malformed input (empty key, dangling edge). These
// errors surface to callers; availability errors do not.
var ErrInvalid = errors.New("invalid input")

// ErrNotFound is returned when a node id does not exist.
var ErrNotFound = errors.New("node not found")

// Match is one scored search hit.
type Match struct {
	Node  types.MemoryNode
	Score float64
}

// Stats summarizes graph counters for telemetry and dashboards.
type Stats struct {
	Nodes  int64
	Edges  int64
	Newest *time.Time
	Oldest *time.Time
}

// Store represents temporal graph persistence. Writing the same key
// twice updates the existing node; edges are append-only history.
type Store interface {
	Upsert(ctx context.Context, key, value string, kind types.NodeKind, metadata map[string]any) (types.MemoryNode, error)
	Link(ctx context.Context, fromID, toID, relation string, weight float64) (types.MemoryEdge, error)
	Get(ctx context.Context, id string) (types.MemoryNode, error)
	Search(ctx context.Context, query string, limit int) ([]Match, error)
	Related(ctx context.Context, nodeID string, depth int) ([]types.MemoryNode, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Hybrid ranking weights shared by both store implementations.
const (
	lexicalWeight = 0.55
	vectorWeight  = 0.45
)

func clampWeight(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}
