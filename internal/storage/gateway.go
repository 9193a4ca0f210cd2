package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"docuretrieve/internal/apperr"
)

// Gateway is the concrete C1 Storage Gateway implementation over Postgres with
// a pgvector-style vector column. It degrades to a bounded sequential scan
// when the configured dimension cannot be indexed (see DESIGN.md open question 3).
type Gateway struct {
	pool         *pgxpool.Pool
	dimensions   int
	metric       string // cosine | l2 | ip
	indexEnabled bool
	maxCandidates int
}

// Option configures a Gateway at construction time.
type Option func(*Gateway)

func WithMetric(metric string) Option       { return func(g *Gateway) { g.metric = metric } }
func WithIndexEnabled(v bool) Option        { return func(g *Gateway) { g.indexEnabled = v } }
func WithMaxCandidates(n int) Option        { return func(g *Gateway) { g.maxCandidates = n } }

// New constructs a Gateway and bootstraps the schema (extensions, tables,
// indexes) if they do not already exist.
func New(ctx context.Context, pool *pgxpool.Pool, dimensions int, opts ...Option) (*Gateway, error) {
	g := &Gateway{pool: pool, dimensions: dimensions, metric: "cosine", maxCandidates: 2000}
	for _, o := range opts {
		o(g)
	}
	if err := g.bootstrap(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// VectorIndexStatus reports "index" or "scan" for /health, per §9's open question 3.
func (g *Gateway) VectorIndexStatus() string {
	if g.indexEnabled {
		return "index"
	}
	return "scan"
}

func (g *Gateway) bootstrap(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			corpus TEXT NOT NULL,
			source_name TEXT NOT NULL,
			path TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d),
			token_count INT NOT NULL DEFAULT 0,
			tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (corpus, source_name, path)
		)`, g.dimensions),
		`CREATE INDEX IF NOT EXISTS documents_tsv_idx ON documents USING GIN (tsv)`,
		`CREATE TABLE IF NOT EXISTS document_sources (
			corpus TEXT NOT NULL,
			source_name TEXT NOT NULL,
			version TEXT NOT NULL DEFAULT '',
			configuration JSONB NOT NULL DEFAULT '{}',
			enabled BOOLEAN NOT NULL DEFAULT true,
			doc_count INT NOT NULL DEFAULT 0,
			token_sum BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (corpus, source_name)
		)`,
	}
	for _, s := range stmts {
		if _, err := g.pool.Exec(ctx, s); err != nil {
			return apperr.Wrap(apperr.Internal, err, "storage: bootstrap schema")
		}
	}
	if g.indexEnabled {
		op := "vector_cosine_ops"
		switch g.metric {
		case "l2":
			op = "vector_l2_ops"
		case "ip":
			op = "vector_ip_ops"
		}
		idxSQL := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS documents_embedding_idx ON documents USING hnsw (embedding %s)`, op)
		if _, err := g.pool.Exec(ctx, idxSQL); err != nil {
			// Indexing the configured dimension may not be supported by the
			// installed extension version; fall back to the sequential scan
			// rather than failing startup (§9 "graceful degradation").
			g.indexEnabled = false
		}
	}
	return nil
}

// InsertOrUpdateChunk upserts keyed by (corpus, source, path). On conflict it
// overwrites content, metadata, and token_count, replaces the embedding only
// when c.Embedding is non-nil, and bumps updated_at.
func (g *Gateway) InsertOrUpdateChunk(ctx context.Context, c Chunk) error {
	if c.Content == "" {
		return apperr.New(apperr.BadRequest, "chunk content must not be empty")
	}
	md, err := json.Marshal(c.Metadata)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "storage: marshal metadata")
	}
	var vecLiteral any
	if c.Embedding != nil {
		if len(c.Embedding) != g.dimensions {
			return apperr.New(apperr.Permanent, fmt.Sprintf("embedding dimension %d != configured %d", len(c.Embedding), g.dimensions))
		}
		vecLiteral = toVectorLiteral(c.Embedding)
	}
	const q = `
		INSERT INTO documents (id, corpus, source_name, path, content, metadata, embedding, token_count, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())
		ON CONFLICT (corpus, source_name, path) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = COALESCE(EXCLUDED.embedding, documents.embedding),
			token_count = EXCLUDED.token_count,
			updated_at = now()`
	_, err = g.pool.Exec(ctx, q, c.ID, c.Corpus, c.Source, c.Path, c.Content, md, vecLiteral, c.TokenCount)
	if err != nil {
		return apperr.Wrap(apperr.Transient, err, "storage: insert_or_update_chunk")
	}
	return nil
}

// DeleteSource implements soft/hard deletion. Hard delete refuses when
// force is false and docs still reference the source.
func (g *Gateway) DeleteSource(ctx context.Context, corpus, sourceName string, mode DeleteMode, force bool) error {
	if mode == DeleteSoft {
		_, err := g.pool.Exec(ctx, `UPDATE document_sources SET enabled=false, updated_at=now() WHERE corpus=$1 AND source_name=$2`, corpus, sourceName)
		if err != nil {
			return apperr.Wrap(apperr.Transient, err, "storage: soft delete_source")
		}
		return nil
	}

	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Transient, err, "storage: begin tx")
	}
	defer tx.Rollback(ctx)

	if !force {
		var count int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM documents WHERE corpus=$1 AND source_name=$2`, corpus, sourceName).Scan(&count); err != nil {
			return apperr.Wrap(apperr.Transient, err, "storage: count inbound docs")
		}
		if count > 0 {
			return apperr.New(apperr.Conflict, fmt.Sprintf("source %s/%s has %d chunks; pass force=true to hard delete", corpus, sourceName, count))
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE corpus=$1 AND source_name=$2`, corpus, sourceName); err != nil {
		return apperr.Wrap(apperr.Transient, err, "storage: delete docs")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM document_sources WHERE corpus=$1 AND source_name=$2`, corpus, sourceName); err != nil {
		return apperr.Wrap(apperr.Transient, err, "storage: delete source row")
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.Transient, err, "storage: commit delete_source")
	}
	return nil
}

// ListSources returns sources ordered deterministically by (corpus, source_name).
func (g *Gateway) ListSources(ctx context.Context, corpus string, page, size int) ([]Source, error) {
	if size <= 0 {
		size = 50
	}
	if page < 0 {
		page = 0
	}
	q := `SELECT corpus, source_name, version, configuration, enabled, doc_count, token_sum, created_at, updated_at
		FROM document_sources WHERE ($1 = '' OR corpus = $1) ORDER BY corpus, source_name LIMIT $2 OFFSET $3`
	rows, err := g.pool.Query(ctx, q, corpus, size, page*size)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, err, "storage: list_sources")
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		var s Source
		var cfg []byte
		if err := rows.Scan(&s.Corpus, &s.SourceName, &s.Version, &cfg, &s.Enabled, &s.DocCount, &s.TokenSum, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "storage: scan source")
		}
		_ = json.Unmarshal(cfg, &s.Configuration)
		out = append(out, s)
	}
	return out, rows.Err()
}

// VectorSearch returns the k nearest chunks by configured distance metric,
// honoring corpus/metadata filters, with the candidate pool M computed by the
// caller (typically C6) and passed in as poolSize.
func (g *Gateway) VectorSearch(ctx context.Context, corpus string, metadataPredicate map[string]string, queryEmbedding []float32, k, poolSize int) ([]VectorHit, error) {
	if len(queryEmbedding) != g.dimensions {
		return nil, apperr.New(apperr.Permanent, fmt.Sprintf("query embedding dimension %d != configured %d", len(queryEmbedding), g.dimensions))
	}
	if poolSize < k {
		poolSize = k
	}
	if g.maxCandidates > 0 && poolSize > g.maxCandidates {
		poolSize = g.maxCandidates
	}

	op, scoreExpr := distanceOperator(g.metric)
	vecLit := toVectorLiteral(queryEmbedding)

	q := fmt.Sprintf(`
		SELECT id, corpus, source_name, path, content, metadata, token_count, created_at, updated_at,
		       embedding %s $1::vector AS dist
		FROM documents
		WHERE embedding IS NOT NULL AND ($2 = '' OR corpus = $2)
		ORDER BY embedding %s $1::vector
		LIMIT $3`, op, op)

	rows, err := g.pool.Query(ctx, q, vecLit, corpus, poolSize)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, err, "storage: vector_search")
	}
	defer rows.Close()

	var candidates []VectorHit
	for rows.Next() {
		var c Chunk
		var md []byte
		var dist float64
		if err := rows.Scan(&c.ID, &c.Corpus, &c.Source, &c.Path, &c.Content, &md, &c.TokenCount, &c.CreatedAt, &c.UpdatedAt, &dist); err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "storage: scan vector hit")
		}
		_ = json.Unmarshal(md, &c.Metadata)
		candidates = append(candidates, VectorHit{Chunk: c, Distance: dist, Similarity: similarity(g.metric, scoreExpr, dist)})
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Transient, err, "storage: vector_search rows")
	}

	filtered := applyMetadataPredicate(candidates, metadataPredicate)
	sortByTieBreak(filtered)
	if len(filtered) > k {
		filtered = filtered[:k]
	}
	return filtered, nil
}

// FetchChunkByID returns a single chunk by its globally unique id.
func (g *Gateway) FetchChunkByID(ctx context.Context, id string) (Chunk, bool, error) {
	var c Chunk
	var md []byte
	err := g.pool.QueryRow(ctx, `SELECT id, corpus, source_name, path, content, metadata, token_count, created_at, updated_at FROM documents WHERE id=$1`, id).
		Scan(&c.ID, &c.Corpus, &c.Source, &c.Path, &c.Content, &md, &c.TokenCount, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return Chunk{}, false, nil
	}
	if err != nil {
		return Chunk{}, false, apperr.Wrap(apperr.Transient, err, "storage: fetch_chunk_by_id")
	}
	_ = json.Unmarshal(md, &c.Metadata)
	return c, true, nil
}

// ScanChunksForSource paginates all chunks for (corpus, source) ordered by id,
// using id as an opaque cursor (exclusive lower bound).
func (g *Gateway) ScanChunksForSource(ctx context.Context, corpus, source, cursor string, limit int) (Page[Chunk], error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, corpus, source_name, path, content, metadata, token_count, created_at, updated_at
		FROM documents WHERE corpus=$1 AND source_name=$2 AND id > $3 ORDER BY id LIMIT $4`
	rows, err := g.pool.Query(ctx, q, corpus, source, cursor, limit)
	if err != nil {
		return Page[Chunk]{}, apperr.Wrap(apperr.Transient, err, "storage: scan_chunks_for_source")
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var md []byte
		if err := rows.Scan(&c.ID, &c.Corpus, &c.Source, &c.Path, &c.Content, &md, &c.TokenCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return Page[Chunk]{}, apperr.Wrap(apperr.Internal, err, "storage: scan chunk row")
		}
		_ = json.Unmarshal(md, &c.Metadata)
		out = append(out, c)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return Page[Chunk]{Items: out, NextCursor: next}, rows.Err()
}

// RefreshSourceStats recomputes doc_count/token_sum for a source from the
// documents table; called by the ingestion finalize stage.
func (g *Gateway) RefreshSourceStats(ctx context.Context, corpus, sourceName string) error {
	const q = `
		INSERT INTO document_sources (corpus, source_name, doc_count, token_sum, updated_at)
		SELECT $1, $2, count(*), COALESCE(sum(token_count),0), now() FROM documents WHERE corpus=$1 AND source_name=$2
		ON CONFLICT (corpus, source_name) DO UPDATE SET
			doc_count = EXCLUDED.doc_count, token_sum = EXCLUDED.token_sum, updated_at = now()`
	if _, err := g.pool.Exec(ctx, q, corpus, sourceName); err != nil {
		return apperr.Wrap(apperr.Transient, err, "storage: refresh_source_stats")
	}
	return nil
}

func distanceOperator(metric string) (op string, scoreKind string) {
	switch metric {
	case "l2":
		return "<->", "l2"
	case "ip":
		return "<#>", "ip"
	default:
		return "<=>", "cosine"
	}
}

func similarity(metric, scoreKind string, dist float64) float64 {
	switch scoreKind {
	case "l2", "ip":
		return -dist
	default:
		return 1 - dist
	}
}

func applyMetadataPredicate(hits []VectorHit, predicate map[string]string) []VectorHit {
	if len(predicate) == 0 {
		return hits
	}
	out := hits[:0]
	for _, h := range hits {
		matched := true
		for k, v := range predicate {
			mv, ok := h.Chunk.Metadata[k]
			if !ok || fmt.Sprintf("%v", mv) != v {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, h)
		}
	}
	return out
}

// sortByTieBreak orders by similarity desc, then updated_at desc, then id asc,
// the deterministic tie-break rule required by §4.1 and testable property 10.
func sortByTieBreak(hits []VectorHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		if !hits[i].Chunk.UpdatedAt.Equal(hits[j].Chunk.UpdatedAt) {
			return hits[i].Chunk.UpdatedAt.After(hits[j].Chunk.UpdatedAt)
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
}

// toVectorLiteral formats a float32 slice as a Postgres pgvector literal.
func toVectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", f)
	}
	b.WriteByte(']')
	return b.String()
}

