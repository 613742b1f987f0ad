package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiy/memgraph-mcp/internal/embeddings"
	"github.com/xiy/memgraph-mcp/pkg/types"
)

// MemStore is the in-process fallback graph store. It mirrors the
// SQLite store's contract so higher layers cannot tell them apart.
type MemStore struct {
	mu        sync.RWMutex
	nodes     map[string]types.MemoryNode
	byKey     map[string]string
	vectors   map[string][]float32
	neighbors map[string]map[string]struct{}
	edges     []types.MemoryEdge
	embedder  embeddings.Provider
	now       func() time.Time
}

// NewMemStore creates an empty in-process store.
func NewMemStore(embedder embeddings.Provider) *MemStore {
	return &MemStore{
		nodes:     map[string]types.MemoryNode{},
		byKey:     map[string]string{},
		vectors:   map[string][]float32{},
		neighbors: map[string]map[string]struct{}{},
		embedder:  embedder,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemStore) Upsert(ctx context.Context, key, value string, kind types.NodeKind, metadata map[string]any) (types.MemoryNode, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return types.MemoryNode{}, fmt.Errorf("%w: key must not be empty", ErrInvalid)
	}
	if strings.TrimSpace(value) == "" {
		return types.MemoryNode{}, fmt.Errorf("%w: value must not be empty", ErrInvalid)
	}
	if kind == "" {
		kind = types.KindFact
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	vec, err := m.embedder.Embed(ctx, value)
	if err != nil {
		return types.MemoryNode{}, fmt.Errorf("embed value: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if id, ok := m.byKey[key]; ok {
		node := m.nodes[id]
		node.Kind = kind
		node.Value = value
		node.Metadata = metadata
		node.UpdatedAt = now
		m.nodes[id] = node
		m.vectors[id] = vec
		return node, nil
	}

	node := types.MemoryNode{
		ID:        uuid.NewString(),
		Key:       key,
		Kind:      kind,
		Value:     value,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.nodes[node.ID] = node
	m.byKey[key] = node.ID
	m.vectors[node.ID] = vec
	return node, nil
}

func (m *MemStore) Link(_ context.Context, fromID, toID, relation string, weight float64) (types.MemoryEdge, error) {
	if strings.TrimSpace(fromID) == "" || strings.TrimSpace(toID) == "" {
		return types.MemoryEdge{}, fmt.Errorf("%w: edge endpoints are required", ErrInvalid)
	}
	if strings.TrimSpace(relation) == "" {
		return types.MemoryEdge{}, fmt.Errorf("%w: relation must not be empty", ErrInvalid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[fromID]; !ok {
		return types.MemoryEdge{}, fmt.Errorf("%w: dangling edge %s -> %s", ErrInvalid, fromID, toID)
	}
	if _, ok := m.nodes[toID]; !ok {
		return types.MemoryEdge{}, fmt.Errorf("%w: dangling edge %s -> %s", ErrInvalid, fromID, toID)
	}

	edge := types.MemoryEdge{
		ID:        uuid.NewString(),
		FromID:    fromID,
		ToID:      toID,
		Relation:  relation,
		Weight:    clampWeight(weight),
		CreatedAt: m.now(),
	}
	m.edges = append(m.edges, edge)
	m.addNeighbor(fromID, toID)
	m.addNeighbor(toID, fromID)
	return edge, nil
}

func (m *MemStore) addNeighbor(a, b string) {
	set, ok := m.neighbors[a]
	if !ok {
		set = map[string]struct{}{}
		m.neighbors[a] = set
	}
	set[b] = struct{}{}
}

func (m *MemStore) Get(_ context.Context, id string) (types.MemoryNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	node, ok := m.nodes[id]
	if !ok {
		return types.MemoryNode{}, ErrNotFound
	}
	return node, nil
}

func (m *MemStore) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}
	queryVec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	terms := embeddings.Tokenize(query)

	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(m.nodes))
	for id, node := range m.nodes {
		lex := overlapScore(terms, node)
		vec := embeddings.Cosine(queryVec, m.vectors[id])
		score := lexicalWeight*lex + vectorWeight*vec
		if score <= 0 {
			continue
		}
		matches = append(matches, Match{Node: node, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Node.UpdatedAt.After(matches[j].Node.UpdatedAt)
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func overlapScore(terms []string, node types.MemoryNode) float64 {
	if len(terms) == 0 {
		return 0.25
	}
	haystack := strings.ToLower(node.Value + " " + node.Key)
	hits := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func (m *MemStore) Related(_ context.Context, nodeID string, depth int) ([]types.MemoryNode, error) {
	if depth <= 0 {
		depth = 1
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.nodes[nodeID]; !ok {
		return nil, ErrNotFound
	}

	visited := map[string]struct{}{nodeID: {}}
	frontier := []string{nodeID}
	var out []types.MemoryNode

	for step := 0; step < depth && len(frontier) > 0; step++ {
		var next []string
		for _, id := range frontier {
			for nid := range m.neighbors[id] {
				if _, ok := visited[nid]; ok {
					continue
				}
				visited[nid] = struct{}{}
				if node, ok := m.nodes[nid]; ok {
					out = append(out, node)
					next = append(next, nid)
				}
			}
		}
		frontier = next
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{Nodes: int64(len(m.nodes)), Edges: int64(len(m.edges))}
	for _, node := range m.nodes {
		created := node.CreatedAt
		updated := node.UpdatedAt
		if st.Oldest == nil || created.Before(*st.Oldest) {
			t := created
			st.Oldest = &t
		}
		if st.Newest == nil || updated.After(*st.Newest) {
			t := updated
			st.Newest = &t
		}
	}
	return st, nil
}

func (m *MemStore) Close() error {
	return nil
}
