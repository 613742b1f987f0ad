package graph

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/xiy/memgraph-mcp/pkg/types"
)

// Failover wraps a durable store with an in-process fallback. When the
// primary returns an availability error the call is retried against the
// fallback and subsequent calls skip the primary, so callers only ever
// see errors for malformed input. There is no resync back to the
// primary; the system is local-first and eventually consistent.
type Failover struct {
	primary  Store
	fallback Store
	logger   *log.Logger
	degraded atomic.Bool
}

// NewFailover composes primary and fallback stores.
func NewFailover(primary, fallback Store, logger *log.Logger) *Failover {
	return &Failover{primary: primary, fallback: fallback, logger: logger}
}

// Degraded reports whether the store is running on the fallback.
func (f *Failover) Degraded() bool {
	return f.degraded.Load()
}

// Primary exposes the wrapped durable store for capabilities that only
// it provides, such as request logs.
func (f *Failover) Primary() Store {
	return f.primary
}

// callerError reports whether err should surface instead of triggering
// failover. Malformed input and missing nodes are the caller's problem
// on any backend.
func callerError(err error) bool {
	return errors.Is(err, ErrInvalid) || errors.Is(err, ErrNotFound)
}

func (f *Failover) noteDegraded(op string, err error) {
	if f.degraded.CompareAndSwap(false, true) {
		f.logger.Warn("graph primary unavailable; switching to in-process fallback", "op", op, "error", err)
	}
}

func (f *Failover) Upsert(ctx context.Context, key, value string, kind types.NodeKind, metadata map[string]any) (types.MemoryNode, error) {
	if !f.degraded.Load() {
		node, err := f.primary.Upsert(ctx, key, value, kind, metadata)
		if err == nil || callerError(err) {
			return node, err
		}
		f.noteDegraded("upsert", err)
	}
	return f.fallback.Upsert(ctx, key, value, kind, metadata)
}

func (f *Failover) Link(ctx context.Context, fromID, toID, relation string, weight float64) (types.MemoryEdge, error) {
	if !f.degraded.Load() {
		edge, err := f.primary.Link(ctx, fromID, toID, relation, weight)
		if err == nil || callerError(err) {
			return edge, err
		}
		f.noteDegraded("link", err)
	}
	return f.fallback.Link(ctx, fromID, toID, relation, weight)
}

func (f *Failover) Get(ctx context.Context, id string) (types.MemoryNode, error) {
	if !f.degraded.Load() {
		node, err := f.primary.Get(ctx, id)
		if err == nil || callerError(err) {
			return node, err
		}
		f.noteDegraded("get", err)
	}
	return f.fallback.Get(ctx, id)
}

func (f *Failover) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	if !f.degraded.Load() {
		matches, err := f.primary.Search(ctx, query, limit)
		if err == nil || callerError(err) {
			return matches, err
		}
		f.noteDegraded("search", err)
	}
	return f.fallback.Search(ctx, query, limit)
}

func (f *Failover) Related(ctx context.Context, nodeID string, depth int) ([]types.MemoryNode, error) {
	if !f.degraded.Load() {
		nodes, err := f.primary.Related(ctx, nodeID, depth)
		if err == nil || callerError(err) {
			return nodes, err
		}
		f.noteDegraded("related", err)
	}
	return f.fallback.Related(ctx, nodeID, depth)
}

func (f *Failover) Stats(ctx context.Context) (Stats, error) {
	if !f.degraded.Load() {
		st, err := f.primary.Stats(ctx)
		if err == nil {
			return st, nil
		}
		f.noteDegraded("stats", err)
	}
	return f.fallback.Stats(ctx)
}

func (f *Failover) Close() error {
	err := f.primary.Close()
	if ferr := f.fallback.Close(); err == nil {
		err = ferr
	}
	return err
}
