// Package federation fans queries out across registered memory sources
// and routes writes to their destinations. Partial results are success.
package federation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/xiy/memgraph-mcp/internal/source"
	"github.com/xiy/memgraph-mcp/pkg/types"
)

// dedupPrefixRunes is how much of the content participates in the
// duplicate fingerprint.
const dedupPrefixRunes = 100

// Routing maps a write type to its default destinations when the
// caller does not name any.
var defaultRouting = map[types.WriteType][]string{
	types.WriteFact:        {source.NameGraph},
	types.WriteEpisode:     {source.NameGraph},
	types.WriteLearning:    {source.NamePatterns, source.NameGraph},
	types.WriteWin:         {source.NameDocuments, source.NameGraph},
	types.WriteDecision:    {source.NameDocuments, source.NameGraph},
	types.WriteGoal:        {source.NameGraph, source.NamePatterns},
	types.WriteImprovement: {source.NameGraph, source.NamePatterns},
}

// DefaultDestinations returns the routing table entry for t.
func DefaultDestinations(t types.WriteType) []string {
	dests, ok := defaultRouting[t]
	if !ok {
		return []string{source.NameGraph}
	}
	out := make([]string, len(dests))
	copy(out, dests)
	return out
}

// Options tune the bus.
type Options struct {
	QueryTimeout time.Duration
	// BreakerMinRequests is how many calls a breaker sees before it may
	// trip on the failure ratio.
	BreakerMinRequests uint32
}

type registered struct {
	src       source.Source
	breaker   *gobreaker.CircuitBreaker
	available bool
}

// Bus is the federation registry and fan-out executor.
type Bus struct {
	mu      sync.RWMutex
	order   []string
	sources map[string]*registered
	opts    Options
	logger  *log.Logger

	statsMu  sync.Mutex
	queries  uint64
	failures map[string]uint64
}

// NewBus creates an empty bus.
func NewBus(opts Options, logger *log.Logger) *Bus {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 2 * time.Second
	}
	if opts.BreakerMinRequests == 0 {
		opts.BreakerMinRequests = 5
	}
	return &Bus{
		sources:  map[string]*registered{},
		opts:     opts,
		logger:   logger,
		failures: map[string]uint64{},
	}
}

// Register adds a source. Registration order is the fallback priority
// order when a caller does not name sources explicitly.
func (b *Bus) Register(src source.Source) {
	b.mu.Lock()
	defer b.mu.Unlock()

	name := src.Name()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < b.opts.BreakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= 0.8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("source breaker state changed", "source", name, "from", from.String(), "to", to.String())
		},
	})

	if _, exists := b.sources[name]; !exists {
		b.order = append(b.order, name)
	}
	b.sources[name] = &registered{src: src, breaker: breaker}
}

// Initialize calls Initialize on every registered source and records
// which became available. Unavailable sources are excluded from
// fan-out and never retried inside a single query.
func (b *Bus) Initialize(ctx context.Context) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var available []string
	for _, name := range b.order {
		reg := b.sources[name]
		reg.available = reg.src.Initialize(ctx)
		if reg.available {
			available = append(available, name)
		} else {
			b.logger.Warn("source unavailable; excluded from federation", "source", name)
		}
	}
	return available
}

// SourceNames returns registered names in priority order.
func (b *Bus) SourceNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// QueryParallel issues the query to every named, available source
// concurrently. A slow or failing source contributes zero results; the
// merged rest is still returned. Result order is deterministic: caller
// priority order, then each source's own order, deduplicated
// first-seen-wins.
func (b *Bus) QueryParallel(ctx context.Context, text string, sources []string, opts source.Options) []types.UnifiedResult {
	b.statsMu.Lock()
	b.queries++
	b.statsMu.Unlock()

	if len(sources) == 0 {
		sources = b.SourceNames()
	}

	type slot struct {
		results []types.UnifiedResult
	}
	slots := make([]slot, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range sources {
		i, name := i, name
		reg := b.lookup(name)
		if reg == nil || !reg.available {
			continue
		}
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, b.opts.QueryTimeout)
			defer cancel()

			out, err := reg.breaker.Execute(func() (any, error) {
				return reg.src.Query(callCtx, text, opts)
			})
			if err != nil {
				b.noteFailure(name, err)
				return nil
			}
			if results, ok := out.([]types.UnifiedResult); ok {
				slots[i].results = results
			}
			return nil
		})
	}
	_ = g.Wait()

	var merged []types.UnifiedResult
	for _, s := range slots {
		merged = append(merged, s.results...)
	}
	return Dedup(merged)
}

func (b *Bus) lookup(name string) *registered {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sources[name]
}

func (b *Bus) noteFailure(name string, err error) {
	b.logger.Warn("source query failed; contributing zero results", "source", name, "error", err)
	b.statsMu.Lock()
	b.failures[name]++
	b.statsMu.Unlock()
}

// Dedup collapses results whose normalized content prefix matches,
// keeping the first occurrence so declared priority order wins.
func Dedup(results []types.UnifiedResult) []types.UnifiedResult {
	seen := make(map[string]struct{}, len(results))
	out := make([]types.UnifiedResult, 0, len(results))
	for _, r := range results {
		fp := Fingerprint(r.Content)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Fingerprint normalizes content for duplicate detection: case-folded,
// whitespace-collapsed, truncated to a fixed rune prefix.
func Fingerprint(content string) string {
	folded := strings.ToLower(strings.Join(strings.Fields(content), " "))
	runes := []rune(folded)
	if len(runes) > dedupPrefixRunes {
		runes = runes[:dedupPrefixRunes]
	}
	return string(runes)
}

// Write routes the payload to its destinations. One destination's
// failure does not abort the others; the outcome records each attempt.
func (b *Bus) Write(ctx context.Context, payload types.WritePayload) (types.WriteResult, error) {
	if strings.TrimSpace(payload.Content) == "" {
		return types.WriteResult{}, fmt.Errorf("write content must not be empty")
	}
	if !types.ValidWriteType(payload.Type) {
		return types.WriteResult{}, fmt.Errorf("unknown write type %q", payload.Type)
	}

	destinations := payload.Destinations
	if len(destinations) == 0 {
		destinations = DefaultDestinations(payload.Type)
	}

	var result types.WriteResult
	for _, name := range destinations {
		outcome := types.WriteOutcome{Destination: name}
		reg := b.lookup(name)
		switch {
		case reg == nil:
			outcome.Error = "unknown destination"
		case !reg.available:
			outcome.Error = "destination unavailable"
		default:
			id, err := reg.src.Write(ctx, payload)
			if err != nil {
				outcome.Error = err.Error()
				b.logger.Warn("destination write failed", "destination", name, "error", err)
			} else {
				outcome.OK = true
				outcome.ID = id
			}
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result, nil
}

// Stats aggregates per-source stats, availability and breaker state.
func (b *Bus) Stats(ctx context.Context) []types.SourceStats {
	b.mu.RLock()
	names := make([]string, len(b.order))
	copy(names, b.order)
	b.mu.RUnlock()

	out := make([]types.SourceStats, 0, len(names))
	for _, name := range names {
		reg := b.lookup(name)
		if reg == nil {
			continue
		}
		st, err := reg.src.Stats(ctx)
		if err != nil {
			st = types.SourceStats{Name: name}
		}
		st.Name = name
		st.Available = reg.available && reg.src.Available()
		st.Breaker = reg.breaker.State().String()
		out = append(out, st)
	}
	return out
}

// Failures returns per-source failure counters since startup.
func (b *Bus) Failures() map[string]uint64 {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	out := make(map[string]uint64, len(b.failures))
	for k, v := range b.failures {
		out[k] = v
	}
	return out
}

// Queries returns the number of federated queries executed.
func (b *Bus) Queries() uint64 {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.queries
}

// Disconnect disconnects all sources.
func (b *Bus) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range b.order {
		reg := b.sources[name]
		if err := reg.src.Disconnect(); err != nil {
			b.logger.Warn("source disconnect failed", "source", name, "error", err)
		}
		reg.available = false
	}
}
