// Package document persists uploaded documents and their chunks.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the requested document does not exist.
var ErrNotFound = errors.New("document not found")

// Hash returns the hex SHA-256 of the document text, the dedup hint stored
// alongside each document. Content is immutable; identical re-uploads share
// a hash but remain separate documents.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Status tracks a document through the ingestion lifecycle.
type Status string

const (
	// StatusPending means the document is stored but not yet chunked.
	StatusPending Status = "pending"

	// StatusProcessing means ingestion is running.
	StatusProcessing Status = "processing"

	// StatusReady means every chunk embedded and upserted successfully.
	StatusReady Status = "ready"

	// StatusPartial means some chunks failed; the rest are searchable.
	StatusPartial Status = "partial"

	// StatusFailed means no chunk made it into the index.
	StatusFailed Status = "failed"
)

// Document is one uploaded source text.
type Document struct {
	ID                uuid.UUID `json:"id"`
	OwnerID           string    `json:"owner_id"`
	Name              string    `json:"name"`
	ContentType       string    `json:"content_type"`
	SizeBytes         int64     `json:"size_bytes"`
	SHA256            string    `json:"sha256,omitempty"`
	Status            Status    `json:"status"`
	Error             string    `json:"error,omitempty"`
	ChunkCount        int       `json:"chunk_count"`
	FailedChunks      int       `json:"failed_chunks"`
	EmbeddingProvider string    `json:"embedding_provider,omitempty"`
	EmbeddingDim      int       `json:"embedding_dim,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Chunk is one stored slice of a document's text.
type Chunk struct {
	ID         uuid.UUID `json:"id"`
	DocumentID uuid.UUID `json:"document_id"`
	Index      int       `json:"index"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	Content    string    `json:"content"`
	Embedded   bool      `json:"embedded"`
}

// ChunkRef joins a chunk with its parent document, as needed for search
// results and index rebuilds.
type ChunkRef struct {
	ChunkID      uuid.UUID
	DocumentID   uuid.UUID
	DocumentName string
	OwnerID      string
	Content      string
}
