package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx the store depends on. Both *pgxpool.Pool and
// pgx.Tx satisfy it; interfaces live with the consumer.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store persists documents and chunks. Safe for concurrent use.
type Store struct {
	db Querier
}

func NewStore(db Querier) *Store {
	return &Store{db: db}
}

const documentColumns = `id, owner_id, name, content_type, size_bytes, sha256, status,
	error, chunk_count, failed_chunks, embedding_provider, embedding_dim, created_at, updated_at`

// Create inserts a new document in pending state and fills in the generated
// fields on doc.
func (s *Store) Create(ctx context.Context, doc *Document) error {
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO documents (owner_id, name, content_type, size_bytes, sha256, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		doc.OwnerID, doc.Name, doc.ContentType, doc.SizeBytes, doc.SHA256, doc.Status,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// Get fetches one document scoped to its owner. An empty ownerID skips the
// ownership check; a document belonging to someone else reads as not found.
func (s *Store) Get(ctx context.Context, id uuid.UUID, ownerID string) (*Document, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id = $1 AND ($2 = '' OR owner_id = $2)`, id, ownerID)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching document: %w", err)
	}
	return doc, nil
}

// List returns the owner's documents, newest first. An empty ownerID lists
// everything.
func (s *Store) List(ctx context.Context, ownerID string) ([]Document, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE $1 = '' OR owner_id = $1
		ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// Delete removes an owner's document; chunks and vectors follow via
// ON DELETE CASCADE. Someone else's document deletes as not found.
func (s *Store) Delete(ctx context.Context, id uuid.UUID, ownerID string) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM documents
		WHERE id = $1 AND ($2 = '' OR owner_id = $2)`, id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus transitions the document's lifecycle state.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status Status, errMsg string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE documents
		SET status = $2, error = $3, updated_at = now()
		WHERE id = $1`, id, status, errMsg)
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishIngestion records the ingestion outcome in one update, pinning the
// embedding provider and dimension the document was indexed with.
func (s *Store) FinishIngestion(ctx context.Context, id uuid.UUID, status Status, chunkCount, failedChunks int, provider string, dimension int, errMsg string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE documents
		SET status = $2, chunk_count = $3, failed_chunks = $4,
		    embedding_provider = $5, embedding_dim = $6, error = $7, updated_at = now()
		WHERE id = $1`, id, status, chunkCount, failedChunks, provider, dimension, errMsg)
	if err != nil {
		return fmt.Errorf("recording ingestion result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceChunks removes any previous chunks for the document and inserts the
// new set. Re-ingestion reuses this; vector rows cascade from the delete.
func (s *Store) ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []Chunk) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clearing previous chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range chunks {
		chunks[i].DocumentID = documentID
		batch.Queue(`
			INSERT INTO chunks (id, document_id, chunk_index, start_offset, end_offset, content, embedded)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			chunks[i].ID, documentID, chunks[i].Index, chunks[i].Start, chunks[i].End,
			chunks[i].Content, chunks[i].Embedded)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()
	for range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("inserting chunk: %w", err)
		}
	}
	return nil
}

// MarkEmbedded flags chunks whose vectors made it into the index.
func (s *Store) MarkEmbedded(ctx context.Context, chunkIDs []uuid.UUID) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx,
		`UPDATE chunks SET embedded = TRUE WHERE id = ANY($1)`, chunkIDs); err != nil {
		return fmt.Errorf("marking chunks embedded: %w", err)
	}
	return nil
}

// Chunks returns a document's chunks in index order.
func (s *Store) Chunks(ctx context.Context, documentID uuid.UUID) ([]Chunk, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, document_id, chunk_index, start_offset, end_offset, content, embedded
		FROM chunks
		WHERE document_id = $1
		ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Start, &c.End, &c.Content, &c.Embedded); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ChunkRefs resolves chunk IDs to their content and parent document,
// preserving the input order. Missing IDs are silently skipped; the caller
// reconciles against the index.
func (s *Store) ChunkRefs(ctx context.Context, chunkIDs []uuid.UUID) ([]ChunkRef, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT c.id, c.document_id, d.name, d.owner_id, c.content
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.id = ANY($1)`, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("resolving chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]ChunkRef, len(chunkIDs))
	for rows.Next() {
		var ref ChunkRef
		if err := rows.Scan(&ref.ChunkID, &ref.DocumentID, &ref.DocumentName, &ref.OwnerID, &ref.Content); err != nil {
			return nil, fmt.Errorf("scanning chunk ref: %w", err)
		}
		byID[ref.ChunkID] = ref
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	refs := make([]ChunkRef, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if ref, ok := byID[id]; ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// AllEmbedded streams every embedded chunk with its owner, for index
// rebuilds after a provider or dimension change.
func (s *Store) AllEmbedded(ctx context.Context) ([]ChunkRef, error) {
	rows, err := s.db.Query(ctx, `
		SELECT c.id, c.document_id, d.name, d.owner_id, c.content
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.embedded
		ORDER BY c.document_id, c.chunk_index`)
	if err != nil {
		return nil, fmt.Errorf("listing embedded chunks: %w", err)
	}
	defer rows.Close()

	var refs []ChunkRef
	for rows.Next() {
		var ref ChunkRef
		if err := rows.Scan(&ref.ChunkID, &ref.DocumentID, &ref.DocumentName, &ref.OwnerID, &ref.Content); err != nil {
			return nil, fmt.Errorf("scanning chunk ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func scanDocument(row pgx.Row) (*Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.OwnerID, &doc.Name, &doc.ContentType, &doc.SizeBytes,
		&doc.SHA256, &doc.Status, &doc.Error, &doc.ChunkCount, &doc.FailedChunks,
		&doc.EmbeddingProvider, &doc.EmbeddingDim, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}
