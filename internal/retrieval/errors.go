package retrieval

import (
	"fmt"

	"github.com/google/uuid"
)

// PartialIngestionError reports that some chunks of a document failed to
// embed or upsert while the rest became searchable. The document ends up in
// partial status and a re-ingestion can repair it.
type PartialIngestionError struct {
	DocumentID uuid.UUID
	Failed     int
	Total      int
	First      error // first underlying failure, for diagnostics
}

func (e *PartialIngestionError) Error() string {
	return fmt.Sprintf("document %s: %d of %d chunks failed to ingest: %v",
		e.DocumentID, e.Failed, e.Total, e.First)
}

func (e *PartialIngestionError) Unwrap() error { return e.First }

// IndexConsistencyError reports that the vector index dimension no longer
// matches the configured embedder. The index must be rebuilt before further
// ingestion or retrieval.
type IndexConsistencyError struct {
	IndexDimension    int
	EmbedderDimension int
}

func (e *IndexConsistencyError) Error() string {
	return fmt.Sprintf("vector index dimension %d does not match embedder dimension %d; rebuild required",
		e.IndexDimension, e.EmbedderDimension)
}
