// Package orchestrator is the top of the stack: it classifies incoming
// queries, fans them out through the federation bus, caches responses,
// and assembles token-bounded context bundles.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/ristretto"

	"github.com/xiy/memgraph-mcp/internal/federation"
	"github.com/xiy/memgraph-mcp/internal/governor"
	"github.com/xiy/memgraph-mcp/internal/source"
	"github.com/xiy/memgraph-mcp/pkg/types"
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
)

// priority orders sources per query intent. The reasoner leads
// wherever the intent implies traversal; direct lookups lead with the
// graph itself.
var priority = map[types.QueryAction][]string{
	types.ActionSingleHop:  {source.NameGraph, source.NameDocuments, source.NamePatterns},
	types.ActionMultiHop:   {source.NameReasoner, source.NameGraph, source.NamePatterns},
	types.ActionTemporal:   {source.NameGraph, source.NameReasoner, source.NameDocuments},
	types.ActionRelational: {source.NameReasoner, source.NameGraph, source.NameDocuments},
}

// Options tune the orchestrator.
type Options struct {
	CacheTTL        time.Duration
	CacheMaxEntries int64
	DefaultLimit    int
	DefaultTokens   int
	MinScore        float64
}

// Response is one answered query.
type Response struct {
	Plan    types.QueryPlan       `json:"plan"`
	Results []types.UnifiedResult `json:"results"`
	Cached  bool                  `json:"cached"`
	Elapsed time.Duration         `json:"-"`
}

// Orchestrator coordinates the governor, the bus and the cache.
type Orchestrator struct {
	bus    *federation.Bus
	cache  *ristretto.Cache
	opts   Options
	logger *log.Logger

	mu        sync.RWMutex
	state     State
	available []string

	statsMu   sync.Mutex
	queries   uint64
	cacheHits uint64
}

// New builds an orchestrator over an already-registered bus.
func New(bus *federation.Bus, opts Options, logger *log.Logger) (*Orchestrator, error) {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.CacheMaxEntries <= 0 {
		opts.CacheMaxEntries = 4096
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 10
	}
	if opts.DefaultTokens <= 0 {
		opts.DefaultTokens = 2000
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: opts.CacheMaxEntries * 10,
		MaxCost:     opts.CacheMaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}

	return &Orchestrator{
		bus:    bus,
		cache:  cache,
		opts:   opts,
		logger: logger,
		state:  StateUninitialized,
	}, nil
}

// Initialize brings the federation up. Safe to call more than once;
// repeat calls after the first are no-ops.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateReady {
		o.mu.Unlock()
		return nil
	}
	o.state = StateInitializing
	o.mu.Unlock()

	available := o.bus.Initialize(ctx)

	o.mu.Lock()
	o.available = available
	o.state = StateReady
	o.mu.Unlock()

	o.logger.Info("orchestrator ready", "available_sources", strings.Join(available, ","))
	return nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Query classifies text and fans it out. A non-empty force overrides
// the governor's classification. Cached responses are replayed as-is.
func (o *Orchestrator) Query(ctx context.Context, text string, force types.QueryAction, limit int) (Response, error) {
	if err := o.ensureReady(ctx); err != nil {
		return Response{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Response{}, fmt.Errorf("query text must not be empty")
	}
	if limit <= 0 {
		limit = o.opts.DefaultLimit
	}

	plan := governor.Classify(text)
	if force != "" {
		if !validAction(force) {
			return Response{}, fmt.Errorf("unknown query type %q", force)
		}
		plan.Action = force
		plan.Reasoning = "caller forced " + string(force)
		if force == types.ActionSingleHop {
			plan.MaxHops = 1
		} else if plan.MaxHops < 2 {
			plan.MaxHops = 2
		}
	}

	return o.execute(ctx, text, plan, limit)
}

// MultiHop runs an explicit traversal query with a caller-chosen hop
// cap, bypassing classification.
func (o *Orchestrator) MultiHop(ctx context.Context, text string, maxHops, limit int) (Response, error) {
	if err := o.ensureReady(ctx); err != nil {
		return Response{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Response{}, fmt.Errorf("query text must not be empty")
	}
	if limit <= 0 {
		limit = o.opts.DefaultLimit
	}
	if maxHops < 1 {
		maxHops = 3
	}
	if maxHops > 5 {
		maxHops = 5
	}
	plan := types.QueryPlan{
		Action:     types.ActionMultiHop,
		MaxHops:    maxHops,
		Confidence: 1,
		Reasoning:  "caller requested multi-hop traversal",
	}
	return o.execute(ctx, text, plan, limit)
}

func (o *Orchestrator) execute(ctx context.Context, text string, plan types.QueryPlan, limit int) (Response, error) {
	key := cacheKey(plan, text, limit)
	if cached, ok := o.cache.Get(key); ok {
		if resp, ok := cached.(Response); ok {
			o.statsMu.Lock()
			o.queries++
			o.cacheHits++
			o.statsMu.Unlock()
			resp.Cached = true
			return resp, nil
		}
	}

	start := time.Now()
	results := o.bus.QueryParallel(ctx, text, priority[plan.Action], source.Options{
		Limit:    limit,
		MaxHops:  plan.MaxHops,
		MinScore: o.opts.MinScore,
	})
	if len(results) > limit {
		results = results[:limit]
	}

	resp := Response{Plan: plan, Results: results, Elapsed: time.Since(start)}
	o.cache.SetWithTTL(key, resp, 1, o.opts.CacheTTL)

	o.statsMu.Lock()
	o.queries++
	o.statsMu.Unlock()

	o.logger.Debug("query answered",
		"action", plan.Action, "results", len(results), "elapsed", resp.Elapsed)
	return resp, nil
}

// Context assembles a prompt-ready bundle for a topic, packing results
// greedily until the token budget would overflow.
func (o *Orchestrator) Context(ctx context.Context, topic string, maxTokens int) (types.ContextBundle, error) {
	if maxTokens <= 0 {
		maxTokens = o.opts.DefaultTokens
	}
	resp, err := o.Query(ctx, topic, "", o.opts.DefaultLimit*2)
	if err != nil {
		return types.ContextBundle{}, err
	}
	ranked := make([]types.UnifiedResult, len(resp.Results))
	copy(ranked, resp.Results)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return Bundle(ranked, maxTokens), nil
}

// Write validates the payload and routes it through the bus.
func (o *Orchestrator) Write(ctx context.Context, payload types.WritePayload) (types.WriteResult, error) {
	if err := o.ensureReady(ctx); err != nil {
		return types.WriteResult{}, err
	}
	return o.bus.Write(ctx, payload)
}

// Stats reports per-source stats plus orchestrator counters.
type Stats struct {
	State      State               `json:"state"`
	Sources    []types.SourceStats `json:"sources"`
	Queries    uint64              `json:"queries"`
	CacheHits  uint64              `json:"cache_hits"`
	Failures   map[string]uint64   `json:"failures,omitempty"`
	BusQueries uint64              `json:"bus_queries"`
}

func (o *Orchestrator) Stats(ctx context.Context) Stats {
	o.statsMu.Lock()
	queries, hits := o.queries, o.cacheHits
	o.statsMu.Unlock()

	return Stats{
		State:      o.State(),
		Sources:    o.bus.Stats(ctx),
		Queries:    queries,
		CacheHits:  hits,
		Failures:   o.bus.Failures(),
		BusQueries: o.bus.Queries(),
	}
}

// Close releases the cache and disconnects all sources.
func (o *Orchestrator) Close() {
	o.cache.Close()
	o.bus.Disconnect()
	o.mu.Lock()
	o.state = StateUninitialized
	o.mu.Unlock()
}

// ensureReady lazily initializes on first use.
func (o *Orchestrator) ensureReady(ctx context.Context) error {
	if o.State() == StateReady {
		return nil
	}
	return o.Initialize(ctx)
}

func validAction(a types.QueryAction) bool {
	switch a {
	case types.ActionSingleHop, types.ActionMultiHop, types.ActionTemporal, types.ActionRelational:
		return true
	}
	return false
}

func cacheKey(plan types.QueryPlan, text string, limit int) string {
	return fmt.Sprintf("%s|%d|%s|%d", plan.Action, plan.MaxHops, strings.ToLower(strings.TrimSpace(text)), limit)
}

// EstimateTokens approximates the token cost of text as one token per
// four runes, rounded up.
func EstimateTokens(text string) int {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// Bundle packs results into a context block in order, skipping nothing:
// it stops at the first result that would overflow the budget.
func Bundle(results []types.UnifiedResult, maxTokens int) types.ContextBundle {
	var (
		sb      strings.Builder
		bundle  types.ContextBundle
		sep     = "\n\n"
		sepCost = EstimateTokens(sep)
	)
	for _, r := range results {
		line := fmt.Sprintf("[%s] %s", r.Source, r.Content)
		cost := EstimateTokens(line)
		if len(bundle.Results) > 0 {
			cost += sepCost
		}
		if bundle.EstimatedTokens+cost > maxTokens {
			break
		}
		if len(bundle.Results) > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(line)
		bundle.EstimatedTokens += cost
		bundle.Results = append(bundle.Results, r)
		if id, ok := r.Metadata["node_id"].(string); ok && id != "" {
			bundle.NodeIDs = append(bundle.NodeIDs, id)
		} else if r.ID != "" {
			bundle.NodeIDs = append(bundle.NodeIDs, r.ID)
		}
	}
	bundle.Text = sb.String()
	return bundle
}
