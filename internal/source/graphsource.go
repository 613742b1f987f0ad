package source

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/xiy/memgraph-mcp/internal/graph"
	"github.com/xiy/memgraph-mcp/pkg/types"
)

// GraphSource adapts the temporal graph store to the Source interface.
type GraphSource struct {
	store     graph.Store
	logger    *log.Logger
	available atomic.Bool
}

// NewGraphSource wraps a graph store.
func NewGraphSource(store graph.Store, logger *log.Logger) *GraphSource {
	return &GraphSource{store: store, logger: logger}
}

func (s *GraphSource) Name() string { return NameGraph }

func (s *GraphSource) Initialize(ctx context.Context) bool {
	if s.available.Load() {
		return true
	}
	if _, err := s.store.Stats(ctx); err != nil {
		s.logger.Warn("graph source unavailable", "error", err)
		s.available.Store(false)
		return false
	}
	s.available.Store(true)
	return true
}

func (s *GraphSource) Available() bool { return s.available.Load() }

func (s *GraphSource) Query(ctx context.Context, text string, opts Options) ([]types.UnifiedResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	matches, err := s.store.Search(ctx, text, limit)
	if err != nil {
		return nil, err
	}
	out := make([]types.UnifiedResult, 0, len(matches))
	for _, m := range matches {
		if m.Score < opts.MinScore {
			continue
		}
		out = append(out, types.UnifiedResult{
			ID:      m.Node.ID,
			Source:  NameGraph,
			Content: m.Node.Value,
			Score:   m.Score,
			Metadata: map[string]any{
				"node_id":   m.Node.ID,
				"key":       m.Node.Key,
				"kind":      string(m.Node.Kind),
				"timestamp": m.Node.UpdatedAt,
				"hops":      0,
			},
		})
	}
	return out, nil
}

func (s *GraphSource) Write(ctx context.Context, payload types.WritePayload) (string, error) {
	key := payload.Key
	if key == "" {
		key = DeriveKey(payload.Type, payload.Content)
	}
	meta := map[string]any{"type": string(payload.Type)}
	for k, v := range payload.Metadata {
		meta[k] = v
	}

	node, err := s.store.Upsert(ctx, key, payload.Content, types.NodeKindForWrite(payload.Type), meta)
	if err != nil {
		return "", err
	}

	// An explicit relates_to reference creates the edge in the same
	// write; a missing target is a malformed write, not a warning.
	if target, ok := payload.Metadata["relates_to"].(string); ok && target != "" {
		relation, _ := payload.Metadata["relation"].(string)
		if relation == "" {
			relation = "relates_to"
		}
		if _, err := s.store.Link(ctx, node.ID, target, relation, 0.8); err != nil {
			return "", err
		}
	}
	return node.ID, nil
}

// Link exposes explicit edge creation for the tool surface.
func (s *GraphSource) Link(ctx context.Context, fromID, toID, relation string, weight float64) (types.MemoryEdge, error) {
	return s.store.Link(ctx, fromID, toID, relation, weight)
}

func (s *GraphSource) Stats(ctx context.Context) (types.SourceStats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return types.SourceStats{Name: NameGraph, Available: false}, err
	}
	return types.SourceStats{
		Name:      NameGraph,
		Available: s.available.Load(),
		Count:     st.Nodes,
		Newest:    st.Newest,
		Oldest:    st.Oldest,
	}, nil
}

func (s *GraphSource) Disconnect() error {
	s.available.Store(false)
	err := s.store.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
