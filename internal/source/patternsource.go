package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/xiy/memgraph-mcp/internal/embeddings"
	"github.com/xiy/memgraph-mcp/pkg/types"
)

const patternSchema = `CREATE TABLE IF NOT EXISTS patterns (
	id TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL UNIQUE,
	content TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT 'learning',
	occurrences INTEGER NOT NULL DEFAULT 1,
	confidence REAL NOT NULL DEFAULT 0.5,
	first_seen TEXT NOT NULL,
	last_seen TEXT NOT NULL
)`

// PatternSource is the pattern-learning store: repeated writes of the
// same normalized content reinforce one pattern instead of piling up
// duplicates. Confidence grows with occurrences.
type PatternSource struct {
	dbPath    string
	logger    *log.Logger
	db        *sql.DB
	available atomic.Bool
}

// NewPatternSource creates a pattern store backed by its own SQLite file.
func NewPatternSource(dbPath string, logger *log.Logger) *PatternSource {
	return &PatternSource{dbPath: dbPath, logger: logger}
}

func (s *PatternSource) Name() string { return NamePatterns }

func (s *PatternSource) Initialize(ctx context.Context) bool {
	if s.available.Load() {
		return true
	}
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o755); err != nil {
		s.logger.Warn("pattern store unavailable", "error", err)
		return false
	}
	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		s.logger.Warn("pattern store unavailable", "error", err)
		return false
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, patternSchema); err != nil {
		s.logger.Warn("pattern store schema failed", "error", err)
		_ = db.Close()
		return false
	}
	s.db = db
	s.available.Store(true)
	return true
}

func (s *PatternSource) Available() bool { return s.available.Load() }

func (s *PatternSource) Query(ctx context.Context, text string, opts Options) ([]types.UnifiedResult, error) {
	if !s.available.Load() {
		return nil, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	terms := embeddings.Tokenize(text)
	if len(terms) == 0 {
		return nil, nil
	}

	q := `SELECT id, content, kind, occurrences, confidence, last_seen FROM patterns WHERE `
	clauses := make([]string, 0, len(terms))
	args := make([]any, 0, len(terms)+1)
	for _, term := range terms {
		clauses = append(clauses, "content LIKE ?")
		args = append(args, "%"+term+"%")
	}
	q += "(" + strings.Join(clauses, " OR ") + ") ORDER BY confidence DESC, occurrences DESC LIMIT ?"
	args = append(args, limit*3)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	out := make([]types.UnifiedResult, 0, limit)
	for rows.Next() {
		var (
			id, content, kind, lastSeen string
			occurrences                 int64
			confidence                  float64
		)
		if err := rows.Scan(&id, &content, &kind, &occurrences, &confidence, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		score := confidence * overlap(terms, content)
		if score < opts.MinScore || score <= 0 {
			continue
		}
		meta := map[string]any{
			"kind":        kind,
			"occurrences": occurrences,
			"hops":        0,
		}
		if ts, err := time.Parse(time.RFC3339Nano, lastSeen); err == nil {
			meta["timestamp"] = ts
		}
		out = append(out, types.UnifiedResult{
			ID:       id,
			Source:   NamePatterns,
			Content:  content,
			Score:    score,
			Metadata: meta,
		})
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

func overlap(terms []string, content string) float64 {
	if len(terms) == 0 {
		return 0
	}
	folded := strings.ToLower(content)
	hits := 0
	for _, t := range terms {
		if strings.Contains(folded, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func (s *PatternSource) Write(ctx context.Context, payload types.WritePayload) (string, error) {
	if !s.available.Load() {
		return "", nil
	}
	content := strings.TrimSpace(payload.Content)
	if content == "" {
		return "", errors.New("pattern content must not be empty")
	}

	fp := fingerprint(content)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var id string
	var occurrences int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, occurrences FROM patterns WHERE fingerprint = ?`, fp).Scan(&id, &occurrences)
	switch {
	case err == nil:
		occurrences++
		_, err = s.db.ExecContext(ctx,
			`UPDATE patterns SET occurrences = ?, confidence = ?, last_seen = ? WHERE id = ?`,
			occurrences, confidenceFor(occurrences), now, id)
		if err != nil {
			return "", fmt.Errorf("reinforce pattern: %w", err)
		}
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO patterns (id, fingerprint, content, kind, occurrences, confidence, first_seen, last_seen)
			 VALUES (?, ?, ?, ?, 1, ?, ?, ?)`,
			id, fp, content, string(payload.Type), confidenceFor(1), now, now)
		if err != nil {
			return "", fmt.Errorf("insert pattern: %w", err)
		}
		return id, nil
	default:
		return "", fmt.Errorf("lookup pattern: %w", err)
	}
}

func confidenceFor(occurrences int64) float64 {
	c := 0.5 + 0.1*float64(occurrences-1)
	if c > 0.95 {
		return 0.95
	}
	return c
}

func fingerprint(content string) string {
	toks := embeddings.Tokenize(content)
	return strings.Join(toks, " ")
}

func (s *PatternSource) Stats(ctx context.Context) (types.SourceStats, error) {
	st := types.SourceStats{Name: NamePatterns, Available: s.available.Load()}
	if !s.available.Load() {
		return st, nil
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM patterns`).Scan(&st.Count); err != nil {
		return st, fmt.Errorf("count patterns: %w", err)
	}
	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT max(last_seen) FROM patterns`).Scan(&last); err == nil && last.Valid {
		if ts, perr := time.Parse(time.RFC3339Nano, last.String); perr == nil {
			st.LastSync = &ts
		}
	}
	return st, nil
}

func (s *PatternSource) Disconnect() error {
	if !s.available.Swap(false) {
		return nil
	}
	return s.db.Close()
}
