// Package retrieval runs the ingestion and retrieval pipeline: chunk, embed,
// index, search.
//
// Ingestion of a single document fans chunk batches out to the embedder with
// bounded concurrency and tracks failures per chunk, so one bad chunk never
// blocks its siblings. Ingestions of the same document are serialized;
// unrelated documents proceed independently.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/ragstack/ragstack/internal/chunker"
	"github.com/ragstack/ragstack/internal/config"
	"github.com/ragstack/ragstack/internal/document"
	"github.com/ragstack/ragstack/internal/embedding"
	"github.com/ragstack/ragstack/internal/log"
	"github.com/ragstack/ragstack/internal/vector"
)

var tracer = otel.Tracer("ragstack/retrieval")

// Store is the document persistence the retriever depends on.
type Store interface {
	SetStatus(ctx context.Context, id uuid.UUID, status document.Status, errMsg string) error
	FinishIngestion(ctx context.Context, id uuid.UUID, status document.Status, chunkCount, failedChunks int, provider string, dimension int, errMsg string) error
	ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []document.Chunk) error
	MarkEmbedded(ctx context.Context, chunkIDs []uuid.UUID) error
	ChunkRefs(ctx context.Context, chunkIDs []uuid.UUID) ([]document.ChunkRef, error)
	AllEmbedded(ctx context.Context) ([]document.ChunkRef, error)
}

// Result is one scored retrieval hit with its source resolved.
type Result struct {
	ChunkID      uuid.UUID `json:"chunk_id"`
	DocumentID   uuid.UUID `json:"document_id"`
	DocumentName string    `json:"document_name"`
	Content      string    `json:"content"`
	Score        float32   `json:"score"`
}

// SearchOption overrides retrieval defaults per call.
type SearchOption func(*searchOptions)

type searchOptions struct {
	topK      int
	minScore  float32
	ownerID   string
	useVector *bool
}

// WithTopK caps the number of results.
func WithTopK(k int) SearchOption {
	return func(o *searchOptions) {
		if k > 0 {
			o.topK = k
		}
	}
}

// WithMinScore overrides the similarity floor.
func WithMinScore(score float32) SearchOption {
	return func(o *searchOptions) { o.minScore = score }
}

// WithOwner restricts results to one owner's documents.
func WithOwner(ownerID string) SearchOption {
	return func(o *searchOptions) { o.ownerID = ownerID }
}

// WithVectorSearch overrides the configured vector search toggle for one
// call. Disabling it short-circuits retrieval entirely.
func WithVectorSearch(enabled bool) SearchOption {
	return func(o *searchOptions) { o.useVector = &enabled }
}

// Retriever executes the pipeline against a store, an index and an embedder.
// Safe for concurrent use.
type Retriever struct {
	store    Store
	index    vector.Index
	embedder embedding.Embedder
	chunker  *chunker.Chunker
	logger   log.Logger

	useVectorSearch bool
	topK            int
	minScore        float32
	batchSize       int
	concurrency     int

	locks     docLocks
	rebuildMu sync.Mutex
}

// New builds a Retriever from configuration.
func New(cfg *config.Config, store Store, index vector.Index, embedder embedding.Embedder, logger log.Logger) (*Retriever, error) {
	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	batchSize := cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	concurrency := cfg.IngestConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Retriever{
		store:           store,
		index:           index,
		embedder:        embedder,
		chunker:         ch,
		logger:          logger,
		useVectorSearch: cfg.UseVectorSearch,
		topK:            cfg.MaxChunksReturned,
		minScore:        cfg.SimilarityThreshold,
		batchSize:       batchSize,
		concurrency:     concurrency,
	}, nil
}

// Ingest chunks, embeds and indexes a document's text, then records the
// outcome on the document. A failed chunk does not block the others: the
// document lands in partial status and the error is a *PartialIngestionError.
// Concurrent ingestion of the same document is serialized.
func (r *Retriever) Ingest(ctx context.Context, doc *document.Document, text string) error {
	ctx, span := tracer.Start(ctx, "retrieval.Ingest")
	span.SetAttributes(attribute.String("document.id", doc.ID.String()))
	defer span.End()

	r.locks.acquire(doc.ID)
	defer r.locks.release(doc.ID)

	if err := r.checkDimension(ctx); err != nil {
		return err
	}

	if err := r.store.SetStatus(ctx, doc.ID, document.StatusProcessing, ""); err != nil {
		return err
	}

	chunks := r.buildChunks(doc.ID, text)
	if err := r.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return r.fail(ctx, doc.ID, fmt.Errorf("storing chunks: %w", err))
	}
	if err := r.index.DeleteDocument(ctx, doc.ID); err != nil {
		return r.fail(ctx, doc.ID, fmt.Errorf("clearing stale vectors: %w", err))
	}

	if len(chunks) == 0 {
		return r.store.FinishIngestion(ctx, doc.ID, document.StatusReady, 0, 0, r.embedder.Provider(), r.embedder.Dimension(), "")
	}

	embedded, firstErr := r.embedAndUpsert(ctx, doc, chunks)

	if err := r.store.MarkEmbedded(ctx, embedded); err != nil {
		return r.fail(ctx, doc.ID, fmt.Errorf("marking chunks embedded: %w", err))
	}

	failed := len(chunks) - len(embedded)
	switch {
	case failed == 0:
		return r.store.FinishIngestion(ctx, doc.ID, document.StatusReady,
			len(chunks), 0, r.embedder.Provider(), r.embedder.Dimension(), "")

	case failed == len(chunks):
		err := fmt.Errorf("all %d chunks failed to ingest: %w", len(chunks), firstErr)
		if ferr := r.store.FinishIngestion(ctx, doc.ID, document.StatusFailed,
			len(chunks), failed, r.embedder.Provider(), r.embedder.Dimension(), err.Error()); ferr != nil {
			return ferr
		}
		return err

	default:
		perr := &PartialIngestionError{
			DocumentID: doc.ID,
			Failed:     failed,
			Total:      len(chunks),
			First:      firstErr,
		}
		if ferr := r.store.FinishIngestion(ctx, doc.ID, document.StatusPartial,
			len(chunks), failed, r.embedder.Provider(), r.embedder.Dimension(), perr.Error()); ferr != nil {
			return ferr
		}
		return perr
	}
}

func (r *Retriever) buildChunks(documentID uuid.UUID, text string) []document.Chunk {
	var chunks []document.Chunk
	for c := range r.chunker.Chunks(text) {
		chunks = append(chunks, document.Chunk{
			ID:         uuid.New(),
			DocumentID: documentID,
			Index:      c.Index,
			Start:      c.Start,
			End:        c.End,
			Content:    c.Text,
		})
	}
	return chunks
}

// embedAndUpsert fans batches out to the embedder and upserts each batch's
// vectors as it completes. Batch failures are recorded, not propagated, so
// sibling batches keep going; only context cancellation stops the group.
func (r *Retriever) embedAndUpsert(ctx context.Context, doc *document.Document, chunks []document.Chunk) (embedded []uuid.UUID, firstErr error) {
	var (
		mu   sync.Mutex
		done []uuid.UUID
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for start := 0; start < len(chunks); start += r.batchSize {
		batch := chunks[start:min(start+r.batchSize, len(chunks))]

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			ids, err := r.embedBatch(gctx, doc, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				r.logger.Warn("chunk batch failed",
					"document_id", doc.ID,
					"chunks", len(batch),
					"error", err,
				)
				return nil
			}
			done = append(done, ids...)
			return nil
		})
	}

	if err := g.Wait(); err != nil && firstErr == nil {
		firstErr = err
	}
	return done, firstErr
}

func (r *Retriever) embedBatch(ctx context.Context, doc *document.Document, batch []document.Chunk) ([]uuid.UUID, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Content
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	entries := make([]vector.Entry, len(batch))
	ids := make([]uuid.UUID, len(batch))
	for i, c := range batch {
		entries[i] = vector.Entry{
			ChunkID:    c.ID,
			DocumentID: doc.ID,
			OwnerID:    doc.OwnerID,
			Embedding:  vectors[i],
			Provider:   r.embedder.Provider(),
		}
		ids[i] = c.ID
	}
	if err := r.index.Upsert(ctx, entries); err != nil {
		return nil, err
	}
	return ids, nil
}

// Retrieve embeds the query and returns the best-matching chunks with their
// sources resolved. When vector search is disabled it returns no results
// without calling the embedder.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()

	options := searchOptions{topK: r.topK, minScore: r.minScore}
	for _, opt := range opts {
		opt(&options)
	}

	enabled := r.useVectorSearch
	if options.useVector != nil {
		enabled = *options.useVector
	}
	if !enabled {
		return nil, nil
	}
	if err := r.checkDimension(ctx); err != nil {
		return nil, err
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// Vectors from other embedders are not comparable; filter them out
	// so a provider switch degrades to fewer hits instead of garbage
	// rankings until the index is rebuilt.
	matches, err := r.index.Search(ctx, vector.Query{
		Embedding: queryVec,
		TopK:      options.topK,
		MinScore:  options.minScore,
		OwnerID:   options.ownerID,
		Provider:  r.embedder.Provider(),
	})
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(matches))
	for i, m := range matches {
		ids[i] = m.ChunkID
	}
	refs, err := r.store.ChunkRefs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolving chunks: %w", err)
	}

	byID := make(map[uuid.UUID]document.ChunkRef, len(refs))
	for _, ref := range refs {
		byID[ref.ChunkID] = ref
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		ref, ok := byID[m.ChunkID]
		if !ok {
			// Index entry without a backing chunk; drop it here, the next
			// rebuild reconciles the index with storage.
			r.logger.Warn("index entry has no stored chunk", "chunk_id", m.ChunkID)
			continue
		}
		results = append(results, Result{
			ChunkID:      m.ChunkID,
			DocumentID:   m.DocumentID,
			DocumentName: ref.DocumentName,
			Content:      ref.Content,
			Score:        m.Score,
		})
	}
	return results, nil
}

// Delete removes a document's vectors from the index. Callers remove the
// document row separately; vectors go first so a crash in between leaves no
// orphaned index entries.
func (r *Retriever) Delete(ctx context.Context, documentID uuid.UUID) error {
	return r.index.DeleteDocument(ctx, documentID)
}

// RebuildIndex re-embeds every stored chunk into a fresh index sized for the
// current embedder. Used after a provider or dimension change. Chunks that
// fail to embed are logged and skipped.
func (r *Retriever) RebuildIndex(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "retrieval.RebuildIndex")
	defer span.End()

	r.rebuildMu.Lock()
	defer r.rebuildMu.Unlock()

	refs, err := r.store.AllEmbedded(ctx)
	if err != nil {
		return fmt.Errorf("loading chunks for rebuild: %w", err)
	}

	if err := r.index.Reset(ctx, r.embedder.Dimension()); err != nil {
		return fmt.Errorf("resetting index: %w", err)
	}

	rebuilt, skipped := 0, 0
	for start := 0; start < len(refs); start += r.batchSize {
		batch := refs[start:min(start+r.batchSize, len(refs))]

		texts := make([]string, len(batch))
		for i, ref := range batch {
			texts[i] = ref.Content
		}
		vectors, err := r.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			skipped += len(batch)
			r.logger.Warn("rebuild batch failed", "chunks", len(batch), "error", err)
			continue
		}

		entries := make([]vector.Entry, len(batch))
		for i, ref := range batch {
			entries[i] = vector.Entry{
				ChunkID:    ref.ChunkID,
				DocumentID: ref.DocumentID,
				OwnerID:    ref.OwnerID,
				Embedding:  vectors[i],
				Provider:   r.embedder.Provider(),
			}
		}
		if err := r.index.Upsert(ctx, entries); err != nil {
			skipped += len(batch)
			r.logger.Warn("rebuild upsert failed", "chunks", len(batch), "error", err)
			continue
		}
		rebuilt += len(batch)
	}

	r.logger.Info("index rebuilt",
		"dimension", r.embedder.Dimension(),
		"chunks", rebuilt,
		"skipped", skipped,
	)
	return nil
}

// EnsureIndex verifies the index dimension and rebuilds when it drifted from
// the embedder. Called at startup.
func (r *Retriever) EnsureIndex(ctx context.Context) error {
	err := r.checkDimension(ctx)
	if err == nil {
		return nil
	}
	var ice *IndexConsistencyError
	if !errors.As(err, &ice) {
		return err
	}
	r.logger.Warn("index dimension drifted, rebuilding",
		"index", ice.IndexDimension,
		"embedder", ice.EmbedderDimension,
	)
	return r.RebuildIndex(ctx)
}

func (r *Retriever) checkDimension(ctx context.Context) error {
	dim, err := r.index.Dimension(ctx)
	if err != nil {
		return fmt.Errorf("reading index dimension: %w", err)
	}
	if dim != r.embedder.Dimension() {
		return &IndexConsistencyError{
			IndexDimension:    dim,
			EmbedderDimension: r.embedder.Dimension(),
		}
	}
	return nil
}

// fail marks the document failed, preferring the original error over the
// bookkeeping one.
func (r *Retriever) fail(ctx context.Context, id uuid.UUID, err error) error {
	if serr := r.store.SetStatus(ctx, id, document.StatusFailed, err.Error()); serr != nil {
		r.logger.Error("recording ingestion failure", "document_id", id, "error", serr)
	}
	return err
}

// docLocks serializes ingestion per document ID.
type docLocks struct {
	mu sync.Mutex
	m  map[uuid.UUID]*docLock
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

func (l *docLocks) acquire(id uuid.UUID) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[uuid.UUID]*docLock)
	}
	entry, ok := l.m[id]
	if !ok {
		entry = &docLock{}
		l.m[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

func (l *docLocks) release(id uuid.UUID) {
	l.mu.Lock()
	entry := l.m[id]
	entry.refs--
	if entry.refs == 0 {
		delete(l.m, id)
	}
	l.mu.Unlock()

	entry.mu.Unlock()
}
