package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tkubica12/scalable-ai-chat/internal/config"
)

// PgVectorIndex implements VectorIndex against the pgvector extension. Unlike
// a generic vector store, the table carries user_id/session_id as their own
// columns (user_id indexed) rather than an opaque metadata blob, since every
// conversation-memory embedding this system writes has exactly those two
// owning keys and similarity search is always scoped to one user.
type PgVectorIndex struct {
	pool       *pgxpool.Pool
	dimensions int
	metric     string
}

func NewPgVectorIndex(ctx context.Context, pool *pgxpool.Pool, dimensions int, metric string) (*PgVectorIndex, error) {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return nil, fmt.Errorf("store: enable pgvector: %w", err)
	}
	vecType := "vector"
	if dimensions > 0 {
		vecType = fmt.Sprintf("vector(%d)", dimensions)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS conversation_embeddings (
  id TEXT PRIMARY KEY,
  vec %s,
  user_id TEXT NOT NULL,
  session_id TEXT NOT NULL
)`, vecType)); err != nil {
		return nil, fmt.Errorf("store: create embeddings table: %w", err)
	}
	if _, err := pool.Exec(ctx, `
CREATE INDEX IF NOT EXISTS conversation_embeddings_user_id_idx ON conversation_embeddings(user_id)
`); err != nil {
		return nil, fmt.Errorf("store: create embeddings user_id index: %w", err)
	}
	return &PgVectorIndex{pool: pool, dimensions: dimensions, metric: strings.ToLower(strings.TrimSpace(metric))}, nil
}

// NewPgVectorIndexFromConfig is a convenience constructor reading the
// embedding dimensionality from the same LLM config the embeddings call
// itself uses, so the column width always matches what gets written to it.
func NewPgVectorIndexFromConfig(ctx context.Context, pool *pgxpool.Pool, llm config.LLMConfig) (*PgVectorIndex, error) {
	return NewPgVectorIndex(ctx, pool, llm.EmbeddingDimensions, "cosine")
}

func (p *PgVectorIndex) Upsert(ctx context.Context, id string, vector []float32, userID, sessionID string) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO conversation_embeddings(id, vec, user_id, session_id) VALUES($1, $2::vector, $3, $4)
ON CONFLICT (id) DO UPDATE SET vec=EXCLUDED.vec, user_id=EXCLUDED.user_id, session_id=EXCLUDED.session_id
`, id, toVectorLiteral(vector), userID, sessionID)
	if err != nil {
		return fmt.Errorf("store: pgvector upsert %s: %w", id, err)
	}
	return nil
}

// SimilaritySearch is always scoped to one user's own conversation history —
// the Memory API backing search_conversation_history never searches across
// users — so the WHERE clause on user_id is unconditional, not an optional
// generic filter.
func (p *PgVectorIndex) SimilaritySearch(ctx context.Context, vector []float32, k int, userID string) ([]VectorResult, error) {
	if k <= 0 {
		k = 10
	}
	vecLit := toVectorLiteral(vector)
	op, scoreExpr := "<=>", "1 - (vec <=> $1::vector)"
	switch p.metric {
	case "l2", "euclidean":
		op, scoreExpr = "<->", "-(vec <-> $1::vector)"
	case "ip", "dot":
		op, scoreExpr = "<#>", "-(vec <#> $1::vector)"
	}
	query := fmt.Sprintf(`SELECT id, %s AS score, session_id FROM conversation_embeddings WHERE user_id = $3 ORDER BY vec %s $1::vector LIMIT $2`, scoreExpr, op)
	rows, err := p.pool.Query(ctx, query, vecLit, k, userID)
	if err != nil {
		return nil, fmt.Errorf("store: pgvector search: %w", err)
	}
	defer rows.Close()

	out := make([]VectorResult, 0, k)
	for rows.Next() {
		var r VectorResult
		if err := rows.Scan(&r.ID, &r.Score, &r.SessionID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PgVectorIndex) Dimension() int { return p.dimensions }

func (p *PgVectorIndex) Close() error { return nil } // pool lifecycle owned by PostgresStore

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}
