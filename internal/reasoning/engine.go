// Package reasoning implements temporally-validated, decay-scored
// multi-hop traversal over the graph store, and fact extraction from
// free text. The engine is itself a federated source.
package reasoning

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/memgraph-mcp/internal/graph"
	"github.com/xiy/memgraph-mcp/internal/source"
	"github.com/xiy/memgraph-mcp/pkg/types"
)

// Config carries the traversal heuristics. The defaults are inherited
// constants, kept configurable on purpose.
type Config struct {
	DecayFactor    float64
	TemporalWindow time.Duration
	MinScore       float64
	MaxHopsCap     int
}

// DefaultConfig returns the stock heuristics: 0.7 decay per hop and a
// 5 minute temporal validity window.
func DefaultConfig() Config {
	return Config{
		DecayFactor:    0.7,
		TemporalWindow: 5 * time.Minute,
		MinScore:       0.1,
		MaxHopsCap:     5,
	}
}

// Engine walks relationship edges hop by hop, checking temporal
// validity between each pair and decaying scores geometrically.
type Engine struct {
	store     graph.Store
	cfg       Config
	logger    *log.Logger
	available atomic.Bool
	queries   atomic.Int64
}

// NewEngine creates a reasoning engine over the given graph store.
func NewEngine(store graph.Store, cfg Config, logger *log.Logger) *Engine {
	if cfg.DecayFactor <= 0 || cfg.DecayFactor >= 1 {
		cfg.DecayFactor = 0.7
	}
	if cfg.TemporalWindow < 0 {
		cfg.TemporalWindow = 5 * time.Minute
	}
	if cfg.MaxHopsCap <= 0 {
		cfg.MaxHopsCap = 5
	}
	return &Engine{store: store, cfg: cfg, logger: logger}
}

func (e *Engine) Name() string { return source.NameReasoner }

func (e *Engine) Initialize(ctx context.Context) bool {
	if e.available.Load() {
		return true
	}
	if _, err := e.store.Stats(ctx); err != nil {
		e.logger.Warn("reasoner unavailable: graph store unreachable", "error", err)
		return false
	}
	e.available.Store(true)
	return true
}

func (e *Engine) Available() bool { return e.available.Load() }

type frontierItem struct {
	node  types.MemoryNode
	score float64
	trail []string
	hops  int
}

// Query runs the multi-hop traversal. Hop 0 seeds from graph search;
// each later hop expands one relationship step with a temporal validity
// check and geometric score decay. A hop that adds nothing stops the
// walk early.
func (e *Engine) Query(ctx context.Context, text string, opts source.Options) ([]types.UnifiedResult, error) {
	e.queries.Add(1)

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	maxHops := opts.MaxHops
	if maxHops <= 0 {
		maxHops = 2
	}
	if maxHops > e.cfg.MaxHopsCap {
		maxHops = e.cfg.MaxHopsCap
	}
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = e.cfg.MinScore
	}

	seedLimit := limit / 2
	if seedLimit < 1 {
		seedLimit = 1
	}
	matches, err := e.store.Search(ctx, text, seedLimit)
	if err != nil {
		return nil, fmt.Errorf("seed search: %w", err)
	}

	visited := map[string]struct{}{}
	var all []frontierItem
	frontier := make([]frontierItem, 0, len(matches))
	for _, m := range matches {
		visited[m.Node.ID] = struct{}{}
		item := frontierItem{
			node:  m.Node,
			score: m.Score,
			trail: []string{fmt.Sprintf("hop 0: seeded from search match %q (score %.3f)", m.Node.Key, m.Score)},
			hops:  0,
		}
		frontier = append(frontier, item)
		all = append(all, item)
	}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []frontierItem
		for _, parent := range frontier {
			neighbors, err := e.store.Related(ctx, parent.node.ID, 1)
			if err != nil {
				e.logger.Warn("relationship lookup failed; pruning branch", "node", parent.node.ID, "error", err)
				continue
			}
			for _, nb := range neighbors {
				if _, seen := visited[nb.ID]; seen {
					continue
				}
				if !e.temporallyValid(parent.node, nb) {
					continue
				}
				score := parent.score * e.cfg.DecayFactor
				if score < minScore {
					continue
				}
				visited[nb.ID] = struct{}{}
				trail := append(append([]string{}, parent.trail...),
					fmt.Sprintf("hop %d: traversed %q -> %q within temporal window (score %.3f)",
						hop, parent.node.Key, nb.Key, score))
				item := frontierItem{node: nb, score: score, trail: trail, hops: hop}
				next = append(next, item)
				all = append(all, item)
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })
	if len(all) > limit {
		all = all[:limit]
	}

	out := make([]types.UnifiedResult, 0, len(all))
	for _, item := range all {
		out = append(out, types.UnifiedResult{
			ID:      item.node.ID,
			Source:  source.NameReasoner,
			Content: item.node.Value,
			Score:   item.score,
			Metadata: map[string]any{
				"node_id":   item.node.ID,
				"key":       item.node.Key,
				"hops":      item.hops,
				"timestamp": item.node.CreatedAt,
				"reasoning": item.trail,
			},
		})
	}
	return out, nil
}

// temporallyValid allows strictly-forward traversal and same-context
// traversal inside the window; a neighbor created earlier than the
// window allows is a coincidental co-mention, not a causal step.
func (e *Engine) temporallyValid(from, to types.MemoryNode) bool {
	return !to.CreatedAt.Before(from.CreatedAt.Add(-e.cfg.TemporalWindow))
}

// Write runs fact extraction over the payload content and feeds the
// candidates back into the graph, growing it for future traversals.
func (e *Engine) Write(ctx context.Context, payload types.WritePayload) (string, error) {
	cands := Extract(payload.Content)
	if len(cands) == 0 {
		return "", nil
	}

	var firstID string
	var prevID string
	for _, c := range cands {
		meta := map[string]any{
			"confidence": c.Confidence,
			"extraction": c.Origin,
		}
		node, err := e.store.Upsert(ctx, source.DeriveKey(types.WriteFact, c.Content), c.Content, types.KindFact, meta)
		if err != nil {
			e.logger.Warn("extracted fact write failed", "error", err)
			continue
		}
		if firstID == "" {
			firstID = node.ID
		}
		if c.RelatedContent != "" {
			relMeta := map[string]any{"confidence": c.Confidence, "extraction": "inferred"}
			related, err := e.store.Upsert(ctx, source.DeriveKey(types.WriteFact, c.RelatedContent), c.RelatedContent, types.KindFact, relMeta)
			if err == nil {
				if _, err := e.store.Link(ctx, node.ID, related.ID, c.Relation, c.Confidence); err != nil {
					e.logger.Warn("extracted relation edge failed", "error", err)
				}
			}
		}
		// Facts pulled from the same text share context.
		if prevID != "" && prevID != node.ID {
			if _, err := e.store.Link(ctx, prevID, node.ID, "co_occurs", 0.5); err != nil {
				e.logger.Warn("co-occurrence edge failed", "error", err)
			}
		}
		prevID = node.ID
	}
	return firstID, nil
}

func (e *Engine) Stats(_ context.Context) (types.SourceStats, error) {
	return types.SourceStats{
		Name:      source.NameReasoner,
		Available: e.available.Load(),
		Count:     e.queries.Load(),
	}, nil
}

func (e *Engine) Disconnect() error {
	e.available.Store(false)
	return nil
}
