package source

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/xiy/memgraph-mcp/internal/embeddings"
	"github.com/xiy/memgraph-mcp/pkg/types"
)

const docCollection = "documents"

// DocSource is the flat document store: vector-ranked full documents
// with no graph structure. Wins and decisions land here so they stay
// retrievable verbatim even after the graph reshapes around them.
type DocSource struct {
	path      string
	embedder  embeddings.Provider
	logger    *log.Logger
	db        *chromem.DB
	col       *chromem.Collection
	available atomic.Bool
}

// NewDocSource creates a document store persisted under path. An empty
// path keeps the store purely in memory.
func NewDocSource(path string, embedder embeddings.Provider, logger *log.Logger) *DocSource {
	return &DocSource{path: path, embedder: embedder, logger: logger}
}

func (s *DocSource) Name() string { return NameDocuments }

func (s *DocSource) Initialize(_ context.Context) bool {
	if s.available.Load() {
		return true
	}

	var err error
	if s.path == "" {
		s.db = chromem.NewDB()
	} else {
		s.db, err = chromem.NewPersistentDB(s.path, false)
		if err != nil {
			s.logger.Warn("document store unavailable", "error", err)
			return false
		}
	}

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.Embed(ctx, text)
	}
	s.col, err = s.db.GetOrCreateCollection(docCollection, nil, embed)
	if err != nil {
		s.logger.Warn("document collection unavailable", "error", err)
		return false
	}
	s.available.Store(true)
	return true
}

func (s *DocSource) Available() bool { return s.available.Load() }

func (s *DocSource) Query(ctx context.Context, text string, opts Options) ([]types.UnifiedResult, error) {
	if !s.available.Load() {
		return nil, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	// chromem rejects nResults larger than the collection.
	if n := s.col.Count(); n < limit {
		limit = n
	}
	if limit == 0 {
		return nil, nil
	}

	results, err := s.col.Query(ctx, text, limit, nil, nil)
	if err != nil {
		return nil, err
	}

	out := make([]types.UnifiedResult, 0, len(results))
	for _, r := range results {
		score := float64(r.Similarity)
		if score < 0 {
			score = 0
		}
		if score < opts.MinScore {
			continue
		}
		meta := map[string]any{"hops": 0}
		for k, v := range r.Metadata {
			meta[k] = v
		}
		if ts, ok := r.Metadata["timestamp"]; ok {
			if parsed, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
				meta["timestamp"] = parsed
			}
		}
		out = append(out, types.UnifiedResult{
			ID:       r.ID,
			Source:   NameDocuments,
			Content:  r.Content,
			Score:    score,
			Metadata: meta,
		})
	}
	return out, nil
}

func (s *DocSource) Write(ctx context.Context, payload types.WritePayload) (string, error) {
	if !s.available.Load() {
		return "", nil
	}
	content := strings.TrimSpace(payload.Content)
	if content == "" {
		return "", errors.New("document content must not be empty")
	}

	id := uuid.NewString()
	meta := map[string]string{
		"type":      string(payload.Type),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if payload.Key != "" {
		meta["key"] = payload.Key
	}

	err := s.col.AddDocument(ctx, chromem.Document{
		ID:       id,
		Content:  content,
		Metadata: meta,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *DocSource) Stats(_ context.Context) (types.SourceStats, error) {
	st := types.SourceStats{Name: NameDocuments, Available: s.available.Load()}
	if s.available.Load() {
		st.Count = int64(s.col.Count())
	}
	return st, nil
}

func (s *DocSource) Disconnect() error {
	s.available.Store(false)
	return nil
}
