// Package vector provides the similarity index over chunk embeddings.
//
// The index is a derived structure: authoritative chunk content lives in
// the relational store, and the index only holds (vector, chunk reference)
// pairs keyed by chunk ID. It can always be rebuilt from chunk storage,
// which is the mandated recovery path for dimensionality changes.
//
// Two implementations exist: a PostgreSQL/pgvector index for production
// and an in-memory index for tests and single-process deployments.
package vector

import (
	"context"
	"errors"
	"math"

	"github.com/google/uuid"
)

var (
	// ErrDimensionMismatch indicates a vector whose dimensionality does
	// not match the index. This is an index-consistency error: the caller
	// must rebuild the index, never write the vector.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrEmptyVector indicates a query or upsert with a zero-length vector.
	ErrEmptyVector = errors.New("empty vector")
)

// Entry is one indexed chunk embedding.
type Entry struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	OwnerID    string
	Embedding  []float32
	Provider   string // embedding provider that produced the vector
}

// Match is one similarity search hit.
type Match struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	Score      float32 // cosine similarity, 1.0 = identical direction
}

// Query describes a similarity search.
type Query struct {
	Embedding []float32
	TopK      int
	MinScore  float32
	OwnerID   string // empty = no owner filter
	Provider  string // empty = no provider filter; set to exclude vectors from other embedders
}

// Index stores chunk embeddings and answers nearest-neighbor queries.
//
// Implementations must be safe for concurrent use. Deletion is
// synchronous: once Delete or DeleteDocument returns, subsequent searches
// never return the removed chunk IDs. Ties on equal score are broken by
// insertion order (earlier first).
type Index interface {
	// Upsert inserts or replaces entries. All vectors must match the
	// index dimension; a mismatch fails the whole batch with
	// ErrDimensionMismatch and writes nothing.
	Upsert(ctx context.Context, entries []Entry) error

	// Delete removes the given chunk IDs. Unknown IDs are ignored.
	Delete(ctx context.Context, chunkIDs []uuid.UUID) error

	// DeleteDocument removes every entry belonging to the document.
	DeleteDocument(ctx context.Context, documentID uuid.UUID) error

	// Search returns up to TopK matches with Score >= MinScore, ordered
	// by descending score.
	Search(ctx context.Context, q Query) ([]Match, error)

	// Dimension reports the current index dimensionality.
	Dimension(ctx context.Context) (int, error)

	// Reset clears the index and re-dimensions it. Used by the rebuild
	// path when the embedding provider (and thus dimensionality) changes.
	Reset(ctx context.Context, dimension int) error

	// Count reports the number of indexed entries.
	Count(ctx context.Context) (int, error)
}

// CosineSimilarity computes the cosine similarity of two equal-length
// vectors. A zero vector yields similarity 0 rather than NaN.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
