package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/ragstack/ragstack/internal/log"
)

// Pg is a PostgreSQL + pgvector backed Index over the chunk_vectors
// table. Cosine distance is computed by the <=> operator; similarity is
// reported as 1 - distance. The seq column (bigserial) provides the
// stable insertion-order tie-break.
//
// Pg is safe for concurrent use; the pool handles connection sharing and
// dimension is atomic so Reset can run alongside searches.
type Pg struct {
	pool      *pgxpool.Pool
	dimension atomic.Int64
	logger    log.Logger
}

// NewPg creates a pgvector index over the given pool. dimension must
// match the chunk_vectors.embedding column; use Reset to change it.
func NewPg(pool *pgxpool.Pool, dimension int, logger log.Logger) *Pg {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pg{pool: pool, logger: logger}
	p.dimension.Store(int64(dimension))
	return p
}

// Upsert implements Index.
func (p *Pg) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	dim := int(p.dimension.Load())
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			return fmt.Errorf("chunk %s: %w", e.ChunkID, ErrEmptyVector)
		}
		if len(e.Embedding) != dim {
			return fmt.Errorf("chunk %s has dimension %d, index has %d: %w",
				e.ChunkID, len(e.Embedding), dim, ErrDimensionMismatch)
		}
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		embedding := pgvector.NewVector(e.Embedding)
		batch.Queue(`
			INSERT INTO chunk_vectors (chunk_id, document_id, owner_id, embedding, provider)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (chunk_id) DO UPDATE
			SET embedding = EXCLUDED.embedding, provider = EXCLUDED.provider`,
			e.ChunkID, e.DocumentID, e.OwnerID, embedding, e.Provider)
	}

	results := p.pool.SendBatch(ctx, batch)
	defer func() {
		if err := results.Close(); err != nil {
			p.logger.Warn("closing upsert batch", "error", err)
		}
	}()

	for range entries {
		if _, err := results.Exec(); err != nil {
			return classifyPgError(err)
		}
	}
	return nil
}

// Delete implements Index. Deletion is synchronous: the rows are gone
// before Delete returns, so no later search can surface them.
func (p *Pg) Delete(ctx context.Context, chunkIDs []uuid.UUID) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM chunk_vectors WHERE chunk_id = ANY($1)`, chunkIDs)
	if err != nil {
		return fmt.Errorf("deleting chunk vectors: %w", err)
	}
	return nil
}

// DeleteDocument implements Index.
func (p *Pg) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM chunk_vectors WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("deleting document vectors: %w", err)
	}
	return nil
}

// Search implements Index.
func (p *Pg) Search(ctx context.Context, q Query) ([]Match, error) {
	if len(q.Embedding) == 0 {
		return nil, ErrEmptyVector
	}
	if dim := int(p.dimension.Load()); len(q.Embedding) != dim {
		return nil, fmt.Errorf("query dimension %d, index has %d: %w",
			len(q.Embedding), dim, ErrDimensionMismatch)
	}

	k := q.TopK
	if k <= 0 {
		k = 10
	}
	embedding := pgvector.NewVector(q.Embedding)

	rows, err := p.pool.Query(ctx, `
		SELECT chunk_id, document_id, 1 - (embedding <=> $1) AS similarity
		FROM chunk_vectors
		WHERE ($2 = '' OR owner_id = $2)
		  AND ($3 = '' OR provider = $3)
		  AND 1 - (embedding <=> $1) >= $4
		ORDER BY embedding <=> $1 ASC, seq ASC
		LIMIT $5`,
		embedding, q.OwnerID, q.Provider, q.MinScore, k)
	if err != nil {
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var similarity float64
		if err := rows.Scan(&m.ChunkID, &m.DocumentID, &similarity); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		m.Score = float32(similarity)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading matches: %w", err)
	}
	return matches, nil
}

// Dimension implements Index. It reports the live column dimensionality
// so drift between configuration and schema is detectable.
func (p *Pg) Dimension(ctx context.Context) (int, error) {
	var typmod int
	err := p.pool.QueryRow(ctx, `
		SELECT atttypmod
		FROM pg_attribute
		WHERE attrelid = 'chunk_vectors'::regclass AND attname = 'embedding'`).Scan(&typmod)
	if err != nil {
		return 0, fmt.Errorf("reading embedding column dimension: %w", err)
	}
	return typmod, nil
}

// Reset implements Index: truncates the table and re-dimensions the
// embedding column. The HNSW index is dropped and recreated because an
// ALTER COLUMN TYPE invalidates it.
func (p *Pg) Reset(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d: %w", dimension, ErrDimensionMismatch)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting reset transaction: %w", err)
	}
	defer func() {
		// Rollback is a no-op after commit.
		_ = tx.Rollback(ctx)
	}()

	statements := []string{
		`TRUNCATE chunk_vectors`,
		`DROP INDEX IF EXISTS chunk_vectors_embedding_idx`,
		fmt.Sprintf(`ALTER TABLE chunk_vectors ALTER COLUMN embedding TYPE vector(%d)`, dimension),
		`CREATE INDEX chunk_vectors_embedding_idx ON chunk_vectors USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("reset statement %q: %w", stmt, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing reset: %w", err)
	}

	p.dimension.Store(int64(dimension))
	p.logger.Info("vector index reset", "dimension", dimension)
	return nil
}

// Count implements Index.
func (p *Pg) Count(ctx context.Context) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunk_vectors`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting vectors: %w", err)
	}
	return count, nil
}

// classifyPgError maps pgvector dimension errors onto
// ErrDimensionMismatch so callers trigger a rebuild instead of treating
// the failure as transient.
func classifyPgError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "different vector dimensions") ||
		strings.Contains(err.Error(), "expected") && strings.Contains(err.Error(), "dimensions") {
		return fmt.Errorf("%v: %w", err, ErrDimensionMismatch)
	}
	return err
}
