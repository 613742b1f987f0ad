// Package source defines the capability interface every federated
// memory source implements, plus the built-in adapters.
package source

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/xiy/memgraph-mcp/internal/embeddings"
	"github.com/xiy/memgraph-mcp/pkg/types"
)

// Well-known adapter names used by routing and priority tables.
const (
	NameGraph     = "graph"
	NamePatterns  = "patterns"
	NameDocuments = "documents"
	NameReasoner  = "reasoner"
)

// Options tune one query against a source.
type Options struct {
	Limit    int
	MaxHops  int
	MinScore float64
}

// Source is the uniform capability interface the federation bus speaks.
// A source that cannot satisfy a capability returns an empty result or
// no-op rather than an error, so the bus treats all sources alike.
type Source interface {
	Name() string
	// Initialize is idempotent and reports availability.
	Initialize(ctx context.Context) bool
	Available() bool
	Query(ctx context.Context, text string, opts Options) ([]types.UnifiedResult, error)
	// Write stores the payload and returns the new id, or "" for a no-op.
	Write(ctx context.Context, payload types.WritePayload) (string, error)
	Stats(ctx context.Context) (types.SourceStats, error)
	Disconnect() error
}

// DeriveKey builds a stable node key for a write without an explicit
// key: the write type plus a slug of the leading content words. The
// same content always derives the same key, so repeated writes upsert.
func DeriveKey(t types.WriteType, content string) string {
	toks := embeddings.Tokenize(content)
	if len(toks) > 6 {
		toks = toks[:6]
	}
	slug := strings.Join(toks, "-")
	if slug == "" {
		h := fnv.New32a()
		_, _ = h.Write([]byte(content))
		slug = fmt.Sprintf("%08x", h.Sum32())
	}
	return string(t) + ":" + slug
}
