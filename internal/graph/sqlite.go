package graph

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/xiy/memgraph-mcp/internal/embeddings"
	"github.com/xiy/memgraph-mcp/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// RequestLog captures one incoming MCP request handled by the server.
type RequestLog struct {
	ID         int64
	Method     string
	ToolName   string
	Success    bool
	ErrorText  string
	DurationMS int64
	CreatedAt  time.Time
}

// RecentNode is a compact summary row for admin dashboards.
type RecentNode struct {
	ID        string
	Key       string
	Kind      string
	Value     string
	CreatedAt time.Time
}

// SQLiteGraph is a SQLite-backed temporal graph store.
type SQLiteGraph struct {
	db         *sql.DB
	embedder   embeddings.Provider
	logger     *log.Logger
	ftsEnabled bool
}

// OpenSQLite opens and initializes the SQLite graph store.
func OpenSQLite(ctx context.Context, dbPath string, embedder embeddings.Provider, logger *log.Logger) (*SQLiteGraph, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	g := &SQLiteGraph{db: db, embedder: embedder, logger: logger}
	if err := g.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return g, nil
}

func (g *SQLiteGraph) init(ctx context.Context) error {
	for _, stmt := range splitSQLStatements(schemaSQL) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := g.db.ExecContext(ctx, stmt); err != nil {
			if strings.Contains(strings.ToLower(stmt), "virtual table") {
				g.logger.Warn("FTS5 disabled; falling back to LIKE queries", "error", err)
				g.ftsEnabled = false
				continue
			}
			return fmt.Errorf("run schema stmt: %w", err)
		}
	}

	g.ftsEnabled = g.hasFTSTable(ctx)
	return nil
}

func splitSQLStatements(s string) []string {
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p+";")
	}
	return out
}

func (g *SQLiteGraph) hasFTSTable(ctx context.Context) bool {
	const q = `SELECT count(*) FROM sqlite_master WHERE type='table' AND name='nodes_fts'`
	var n int
	if err := g.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return false
	}
	return n > 0
}

// Upsert creates the node on first write of key and updates value,
// metadata and updated_at on every subsequent write with the same key.
func (g *SQLiteGraph) Upsert(ctx context.Context, key, value string, kind types.NodeKind, metadata map[string]any) (types.MemoryNode, error) {
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
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return types.MemoryNode{}, fmt.Errorf("%w: marshal metadata: %v", ErrInvalid, err)
	}

	vec, err := g.embedder.Embed(ctx, value)
	if err != nil {
		return types.MemoryNode{}, fmt.Errorf("embed value: %w", err)
	}
	blob := encodeVector(vec)

	now := time.Now().UTC()
	node := types.MemoryNode{
		Key:      key,
		Kind:     kind,
		Value:    value,
		Metadata: metadata,
	}

	var existingID, existingCreated string
	err = g.db.QueryRowContext(ctx, `SELECT id, created_at FROM nodes WHERE key = ?`, key).
		Scan(&existingID, &existingCreated)
	switch {
	case err == nil:
		node.ID = existingID
		created, perr := time.Parse(time.RFC3339Nano, existingCreated)
		if perr != nil {
			created = now
		}
		node.CreatedAt = created
		node.UpdatedAt = now
		_, err = g.db.ExecContext(ctx,
			`UPDATE nodes SET kind = ?, value = ?, metadata_json = ?, embedding = ?, updated_at = ? WHERE id = ?`,
			string(kind), value, string(metaJSON), blob, now.Format(time.RFC3339Nano), existingID)
		if err != nil {
			return types.MemoryNode{}, fmt.Errorf("update node: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		node.ID = uuid.NewString()
		node.CreatedAt = now
		node.UpdatedAt = now
		_, err = g.db.ExecContext(ctx,
			`INSERT INTO nodes (id, key, kind, value, metadata_json, embedding, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			node.ID, key, string(kind), value, string(metaJSON), blob,
			now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
		if err != nil {
			return types.MemoryNode{}, fmt.Errorf("insert node: %w", err)
		}
	default:
		return types.MemoryNode{}, fmt.Errorf("lookup node by key: %w", err)
	}

	if g.ftsEnabled {
		if _, err := g.db.ExecContext(ctx, `DELETE FROM nodes_fts WHERE id = ?`, node.ID); err != nil {
			g.logger.Warn("fts delete failed; continuing", "error", err)
		}
		if _, err := g.db.ExecContext(ctx,
			`INSERT INTO nodes_fts(id, key, value) VALUES (?, ?, ?)`,
			node.ID, key, value,
		); err != nil {
			g.logger.Warn("fts insert failed; continuing", "error", err)
		}
	}

	return node, nil
}

// Link creates a directed edge. Dangling endpoints are rejected.
func (g *SQLiteGraph) Link(ctx context.Context, fromID, toID, relation string, weight float64) (types.MemoryEdge, error) {
	if strings.TrimSpace(fromID) == "" || strings.TrimSpace(toID) == "" {
		return types.MemoryEdge{}, fmt.Errorf("%w: edge endpoints are required", ErrInvalid)
	}
	if strings.TrimSpace(relation) == "" {
		return types.MemoryEdge{}, fmt.Errorf("%w: relation must not be empty", ErrInvalid)
	}

	var n int
	err := g.db.QueryRowContext(ctx,
		`SELECT count(*) FROM nodes WHERE id IN (?, ?)`, fromID, toID).Scan(&n)
	if err != nil {
		return types.MemoryEdge{}, fmt.Errorf("check edge endpoints: %w", err)
	}
	want := 2
	if fromID == toID {
		want = 1
	}
	if n < want {
		return types.MemoryEdge{}, fmt.Errorf("%w: dangling edge %s -> %s", ErrInvalid, fromID, toID)
	}

	edge := types.MemoryEdge{
		ID:        uuid.NewString(),
		FromID:    fromID,
		ToID:      toID,
		Relation:  relation,
		Weight:    clampWeight(weight),
		CreatedAt: time.Now().UTC(),
	}
	_, err = g.db.ExecContext(ctx,
		`INSERT INTO edges (id, from_id, to_id, relation, weight, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		edge.ID, edge.FromID, edge.ToID, edge.Relation, edge.Weight, edge.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return types.MemoryEdge{}, fmt.Errorf("insert edge: %w", err)
	}
	return edge, nil
}

func (g *SQLiteGraph) Get(ctx context.Context, id string) (types.MemoryNode, error) {
	const q = `SELECT id, key, kind, value, metadata_json, created_at, updated_at FROM nodes WHERE id = ? LIMIT 1`
	node, err := scanNode(g.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return node, ErrNotFound
		}
		return node, fmt.Errorf("get node: %w", err)
	}
	return node, nil
}

// Search blends lexical relevance with embedding similarity. Ties break
// toward the more recently updated node.
func (g *SQLiteGraph) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}
	query = strings.TrimSpace(query)
	terms := embeddings.Tokenize(query)

	queryVec, err := g.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var cands []candidate
	if len(terms) > 0 && g.ftsEnabled {
		cands, err = g.searchFTS(ctx, terms, limit*3)
		if err != nil {
			g.logger.Warn("fts query failed; fallback to LIKE", "error", err)
			cands = nil
		}
	}
	if len(cands) == 0 {
		cands, err = g.searchLIKE(ctx, query, terms, limit*3)
		if err != nil {
			return nil, err
		}
	}

	matches := make([]Match, 0, len(cands))
	for _, c := range cands {
		vecScore := embeddings.Cosine(queryVec, c.embedding)
		matches = append(matches, Match{
			Node:  c.node,
			Score: lexicalWeight*c.lexical + vectorWeight*vecScore,
		})
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

type candidate struct {
	node      types.MemoryNode
	embedding []float32
	lexical   float64
}

func (g *SQLiteGraph) searchFTS(ctx context.Context, terms []string, limit int) ([]candidate, error) {
	ftsQuery := buildFTSMatchQuery(terms)
	const q = `
SELECT n.id, n.key, n.kind, n.value, n.metadata_json, n.embedding, n.created_at, n.updated_at,
       bm25(nodes_fts) AS bm
FROM nodes_fts
JOIN nodes n ON n.id = nodes_fts.id
WHERE nodes_fts MATCH ?
ORDER BY bm ASC LIMIT ?`
	rows, err := g.db.QueryContext(ctx, q, ftsQuery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]candidate, 0, limit)
	for rows.Next() {
		var (
			c    candidate
			blob []byte
			bm   float64
		)
		c.node, blob, err = scanNodeWithExtra(rows, &bm)
		if err != nil {
			return nil, err
		}
		c.embedding = decodeVector(blob)
		c.lexical = 1.0 / (1.0 + math.Abs(bm))
		items = append(items, c)
	}
	return items, rows.Err()
}

func (g *SQLiteGraph) searchLIKE(ctx context.Context, query string, terms []string, limit int) ([]candidate, error) {
	base := `
SELECT id, key, kind, value, metadata_json, embedding, created_at, updated_at
FROM nodes
WHERE 1=1
`
	args := []any{}
	if len(terms) > 0 {
		for _, term := range terms {
			base += " AND (value LIKE ? OR key LIKE ?)\n"
			needle := "%" + term + "%"
			args = append(args, needle, needle)
		}
	} else if query != "" {
		base += " AND (value LIKE ? OR key LIKE ?)\n"
		needle := "%" + query + "%"
		args = append(args, needle, needle)
	}
	base += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := g.db.QueryContext(ctx, base, args...)
	if err != nil {
		return nil, fmt.Errorf("search like: %w", err)
	}
	defer rows.Close()

	lex := 0.4
	if query == "" {
		lex = 0.25
	}
	items := make([]candidate, 0, limit)
	for rows.Next() {
		var (
			c    candidate
			blob []byte
		)
		c.node, blob, err = scanNodeWithExtra(rows, nil)
		if err != nil {
			return nil, err
		}
		c.embedding = decodeVector(blob)
		c.lexical = lex
		items = append(items, c)
	}
	return items, rows.Err()
}

func buildFTSMatchQuery(terms []string) string {
	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		escaped := strings.ReplaceAll(term, `"`, `""`)
		parts = append(parts, `"`+escaped+`"`)
	}
	return strings.Join(parts, " OR ")
}

// Related returns neighbors reachable within depth steps over edges in
// either direction. The multi-hop engine calls this with depth 1 so it
// can apply temporal checks between hops itself.
func (g *SQLiteGraph) Related(ctx context.Context, nodeID string, depth int) ([]types.MemoryNode, error) {
	if depth <= 0 {
		depth = 1
	}
	if _, err := g.Get(ctx, nodeID); err != nil {
		return nil, err
	}

	visited := map[string]struct{}{nodeID: {}}
	frontier := []string{nodeID}
	var out []types.MemoryNode

	for step := 0; step < depth && len(frontier) > 0; step++ {
		var next []string
		for _, id := range frontier {
			ids, err := g.neighborIDs(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, nid := range ids {
				if _, ok := visited[nid]; ok {
					continue
				}
				visited[nid] = struct{}{}
				node, err := g.Get(ctx, nid)
				if err != nil {
					if errors.Is(err, ErrNotFound) {
						continue
					}
					return nil, err
				}
				out = append(out, node)
				next = append(next, nid)
			}
		}
		frontier = next
	}
	return out, nil
}

func (g *SQLiteGraph) neighborIDs(ctx context.Context, id string) ([]string, error) {
	const q = `SELECT to_id FROM edges WHERE from_id = ?
UNION
SELECT from_id FROM edges WHERE to_id = ?`
	rows, err := g.db.QueryContext(ctx, q, id, id)
	if err != nil {
		return nil, fmt.Errorf("list neighbors: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var nid string
		if err := rows.Scan(&nid); err != nil {
			return nil, err
		}
		ids = append(ids, nid)
	}
	return ids, rows.Err()
}

func (g *SQLiteGraph) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := g.db.QueryRowContext(ctx, `SELECT count(*) FROM nodes`).Scan(&st.Nodes); err != nil {
		return st, err
	}
	if err := g.db.QueryRowContext(ctx, `SELECT count(*) FROM edges`).Scan(&st.Edges); err != nil {
		return st, err
	}
	if st.Nodes == 0 {
		return st, nil
	}
	var newest, oldest string
	if err := g.db.QueryRowContext(ctx, `SELECT max(updated_at), min(created_at) FROM nodes`).Scan(&newest, &oldest); err != nil {
		return st, err
	}
	if t, err := time.Parse(time.RFC3339Nano, newest); err == nil {
		st.Newest = &t
	}
	if t, err := time.Parse(time.RFC3339Nano, oldest); err == nil {
		st.Oldest = &t
	}
	return st, nil
}

// InsertRequestLog stores one request event for admin observability.
func (g *SQLiteGraph) InsertRequestLog(ctx context.Context, rec RequestLog) error {
	ts := rec.CreatedAt.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	success := 0
	if rec.Success {
		success = 1
	}
	_, err := g.db.ExecContext(ctx, `INSERT INTO mcp_requests (
		method, tool_name, success, error_text, duration_ms, created_at
	) VALUES (?, ?, ?, ?, ?, ?)`,
		strings.TrimSpace(rec.Method),
		strings.TrimSpace(rec.ToolName),
		success,
		strings.TrimSpace(rec.ErrorText),
		rec.DurationMS,
		ts.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	return nil
}

// RecentRequestLogs returns most recent request events in newest-first order.
func (g *SQLiteGraph) RecentRequestLogs(ctx context.Context, limit int) ([]RequestLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := g.db.QueryContext(ctx, `SELECT id, method, tool_name, success, error_text, duration_ms, created_at
FROM mcp_requests
ORDER BY created_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list request logs: %w", err)
	}
	defer rows.Close()

	items := make([]RequestLog, 0, limit)
	for rows.Next() {
		var (
			row          RequestLog
			successAsInt int
			createdAt    string
		)
		if err := rows.Scan(&row.ID, &row.Method, &row.ToolName, &successAsInt, &row.ErrorText, &row.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan request log: %w", err)
		}
		row.Success = successAsInt == 1
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			row.CreatedAt = ts
		}
		items = append(items, row)
	}
	return items, rows.Err()
}

// RecentNodes returns compact node rows in newest-first order.
func (g *SQLiteGraph) RecentNodes(ctx context.Context, limit int) ([]RecentNode, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := g.db.QueryContext(ctx, `SELECT id, key, kind, value, created_at
FROM nodes
ORDER BY updated_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent nodes: %w", err)
	}
	defer rows.Close()

	items := make([]RecentNode, 0, limit)
	for rows.Next() {
		var (
			row       RecentNode
			createdAt string
		)
		if err := rows.Scan(&row.ID, &row.Key, &row.Kind, &row.Value, &createdAt); err != nil {
			return nil, fmt.Errorf("scan recent node: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			row.CreatedAt = ts
		}
		items = append(items, row)
	}
	return items, rows.Err()
}

func (g *SQLiteGraph) Close() error {
	return g.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(sc scanner) (types.MemoryNode, error) {
	var (
		node      types.MemoryNode
		kind      string
		metaJSON  string
		createdAt string
		updatedAt string
	)
	if err := sc.Scan(&node.ID, &node.Key, &kind, &node.Value, &metaJSON, &createdAt, &updatedAt); err != nil {
		return node, err
	}
	node.Kind = types.NodeKind(kind)
	fillNodeTimes(&node, metaJSON, createdAt, updatedAt)
	return node, nil
}

func scanNodeWithExtra(sc scanner, bm *float64) (types.MemoryNode, []byte, error) {
	var (
		node      types.MemoryNode
		kind      string
		metaJSON  string
		blob      []byte
		createdAt string
		updatedAt string
	)
	dest := []any{&node.ID, &node.Key, &kind, &node.Value, &metaJSON, &blob, &createdAt, &updatedAt}
	if bm != nil {
		dest = append(dest, bm)
	}
	if err := sc.Scan(dest...); err != nil {
		return node, nil, err
	}
	node.Kind = types.NodeKind(kind)
	fillNodeTimes(&node, metaJSON, createdAt, updatedAt)
	return node, blob, nil
}

func fillNodeTimes(node *types.MemoryNode, metaJSON, createdAt, updatedAt string) {
	if err := json.Unmarshal([]byte(metaJSON), &node.Metadata); err != nil {
		node.Metadata = map[string]any{}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		node.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		node.UpdatedAt = t
	}
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}
