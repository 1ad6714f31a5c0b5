package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragstack/ragstack/internal/config"
	"github.com/ragstack/ragstack/internal/document"
	"github.com/ragstack/ragstack/internal/log"
	"github.com/ragstack/ragstack/internal/provider"
	"github.com/ragstack/ragstack/internal/vector"
)

// mockStore keeps documents and chunks in memory and records lifecycle
// transitions. Safe for concurrent use.
type mockStore struct {
	mu        sync.Mutex
	names     map[uuid.UUID]string
	chunks    map[uuid.UUID][]document.Chunk
	embedded  map[uuid.UUID]bool
	statuses  []document.Status
	finishes  []document.Status
	lastError string
}

func newMockStore() *mockStore {
	return &mockStore{
		names:    make(map[uuid.UUID]string),
		chunks:   make(map[uuid.UUID][]document.Chunk),
		embedded: make(map[uuid.UUID]bool),
	}
}

func (s *mockStore) SetStatus(_ context.Context, _ uuid.UUID, status document.Status, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *mockStore) FinishIngestion(_ context.Context, _ uuid.UUID, status document.Status, _, _ int, _ string, _ int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishes = append(s.finishes, status)
	s.lastError = errMsg
	return nil
}

func (s *mockStore) ReplaceChunks(_ context.Context, documentID uuid.UUID, chunks []document.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[documentID] = chunks
	return nil
}

func (s *mockStore) MarkEmbedded(_ context.Context, chunkIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range chunkIDs {
		s.embedded[id] = true
	}
	return nil
}

func (s *mockStore) ChunkRefs(_ context.Context, chunkIDs []uuid.UUID) ([]document.ChunkRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := make(map[uuid.UUID]document.ChunkRef)
	for docID, chunks := range s.chunks {
		for _, c := range chunks {
			byID[c.ID] = document.ChunkRef{
				ChunkID:      c.ID,
				DocumentID:   docID,
				DocumentName: s.names[docID],
				Content:      c.Content,
			}
		}
	}

	var refs []document.ChunkRef
	for _, id := range chunkIDs {
		if ref, ok := byID[id]; ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func (s *mockStore) AllEmbedded(_ context.Context) ([]document.ChunkRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var refs []document.ChunkRef
	for docID, chunks := range s.chunks {
		for _, c := range chunks {
			if s.embedded[c.ID] {
				refs = append(refs, document.ChunkRef{
					ChunkID:      c.ID,
					DocumentID:   docID,
					DocumentName: s.names[docID],
					Content:      c.Content,
				})
			}
		}
	}
	return refs, nil
}

// textEmbedder derives a deterministic vector from the text bytes, so equal
// texts always produce identical vectors. Texts containing failOn error out.
type textEmbedder struct {
	dim    int
	failOn string

	calls  atomic.Int32
	active atomic.Int32
	peak   atomic.Int32
	delay  time.Duration
}

func (e *textEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *textEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	active := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		peak := e.peak.Load()
		if active <= peak || e.peak.CompareAndSwap(peak, active) {
			break
		}
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if e.failOn != "" && strings.Contains(text, e.failOn) {
			return nil, provider.Errorf("mock", provider.KindUnavailable, "poisoned text")
		}
		vec := make([]float32, e.dim)
		for j := range vec {
			vec[j] = float32(text[j%len(text)])
		}
		out[i] = vec
	}
	return out, nil
}

func (e *textEmbedder) Dimension() int { return e.dim }

func (e *textEmbedder) Provider() string { return "mock" }

func testConfig() *config.Config {
	return &config.Config{
		ChunkSize:           100,
		ChunkOverlap:        10,
		EmbedBatchSize:      1,
		IngestConcurrency:   4,
		UseVectorSearch:     true,
		MaxChunksReturned:   5,
		SimilarityThreshold: 0,
	}
}

func newTestRetriever(t *testing.T, cfg *config.Config, store Store, emb *textEmbedder) (*Retriever, *vector.Memory) {
	t.Helper()
	idx := vector.NewMemory(emb.dim)
	r, err := New(cfg, store, idx, emb, log.NewNop())
	require.NoError(t, err)
	return r, idx
}

func newDoc(store *mockStore, name string) *document.Document {
	doc := &document.Document{ID: uuid.New(), Name: name, OwnerID: "alice"}
	store.mu.Lock()
	store.names[doc.ID] = name
	store.mu.Unlock()
	return doc
}

func TestIngestSuccess(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	emb := &textEmbedder{dim: 4}
	r, idx := newTestRetriever(t, testConfig(), store, emb)

	doc := newDoc(store, "notes.txt")
	require.NoError(t, r.Ingest(ctx, doc, "a short note about embeddings"))

	assert.Equal(t, []document.Status{document.StatusProcessing}, store.statuses)
	assert.Equal(t, []document.Status{document.StatusReady}, store.finishes)

	chunks := store.chunks[doc.ID]
	require.Len(t, chunks, 1)
	assert.True(t, store.embedded[chunks[0].ID])

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	emb := &textEmbedder{dim: 4}
	r, idx := newTestRetriever(t, testConfig(), store, emb)

	doc := newDoc(store, "notes.txt")
	text := strings.Repeat("same content. ", 20)
	require.NoError(t, r.Ingest(ctx, doc, text))
	firstChunks := len(store.chunks[doc.ID])

	// Re-ingesting identical content replaces, never accumulates.
	require.NoError(t, r.Ingest(ctx, doc, text))
	assert.Equal(t, firstChunks, len(store.chunks[doc.ID]))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, firstChunks, count)
}

func TestIngestEmptyTextIsReadyWithNoChunks(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	emb := &textEmbedder{dim: 4}
	r, idx := newTestRetriever(t, testConfig(), store, emb)

	doc := newDoc(store, "empty.txt")
	require.NoError(t, r.Ingest(ctx, doc, ""))

	assert.Equal(t, []document.Status{document.StatusReady}, store.finishes)
	assert.Zero(t, emb.calls.Load())

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIngestPartialFailure(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	emb := &textEmbedder{dim: 4, failOn: "POISON"}

	cfg := testConfig()
	cfg.ChunkSize = 20
	cfg.ChunkOverlap = 0
	r, idx := newTestRetriever(t, cfg, store, emb)

	// Two hard-cut chunks of 20 characters; the second is poisoned.
	text := strings.Repeat("a", 20) + "bbbbbbbPOISONbbbbbbb"
	doc := newDoc(store, "mixed.txt")

	err := r.Ingest(ctx, doc, text)
	var perr *PartialIngestionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Failed)
	assert.Equal(t, 2, perr.Total)

	assert.Equal(t, []document.Status{document.StatusPartial}, store.finishes)

	// The healthy chunk is searchable.
	count, cerr := idx.Count(ctx)
	require.NoError(t, cerr)
	assert.Equal(t, 1, count)
}

func TestIngestTotalFailure(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	emb := &textEmbedder{dim: 4, failOn: "POISON"}
	r, idx := newTestRetriever(t, testConfig(), store, emb)

	doc := newDoc(store, "bad.txt")
	err := r.Ingest(ctx, doc, "POISON only")
	require.Error(t, err)
	var perr *PartialIngestionError
	assert.False(t, errors.As(err, &perr), "total failure is not partial")

	assert.Equal(t, []document.Status{document.StatusFailed}, store.finishes)

	count, cerr := idx.Count(ctx)
	require.NoError(t, cerr)
	assert.Zero(t, count)
}

func TestRetrieveFindsIngestedChunks(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	emb := &textEmbedder{dim: 8}
	r, _ := newTestRetriever(t, testConfig(), store, emb)

	first := newDoc(store, "install.md")
	second := newDoc(store, "faq.md")
	require.NoError(t, r.Ingest(ctx, first, "install the package with apt"))
	require.NoError(t, r.Ingest(ctx, second, "restart the daemon afterwards"))

	results, err := r.Retrieve(ctx, "install the package with apt")
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, first.ID, results[0].DocumentID)
	assert.Equal(t, "install.md", results[0].DocumentName)
	assert.Equal(t, "install the package with apt", results[0].Content)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)

	// Results come back best first.
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestRetrieveDisabledSkipsEmbedder(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	emb := &textEmbedder{dim: 4}

	cfg := testConfig()
	cfg.UseVectorSearch = false
	r, _ := newTestRetriever(t, cfg, store, emb)

	results, err := r.Retrieve(ctx, "anything")
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, emb.calls.Load(), "embedder must not be called when disabled")
}

func TestRetrievePerCallOverride(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	emb := &textEmbedder{dim: 4}
	r, _ := newTestRetriever(t, testConfig(), store, emb)

	results, err := r.Retrieve(ctx, "anything", WithVectorSearch(false))
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, emb.calls.Load())
}

func TestDimensionMismatchSurfacesAndRebuilds(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	emb := &textEmbedder{dim: 4}
	r, idx := newTestRetriever(t, testConfig(), store, emb)

	doc := newDoc(store, "notes.txt")
	require.NoError(t, r.Ingest(ctx, doc, "some text to index"))

	// Simulate a configured dimension change under the retriever.
	require.NoError(t, idx.Reset(ctx, 7))

	_, err := r.Retrieve(ctx, "some text to index")
	var ice *IndexConsistencyError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, 7, ice.IndexDimension)
	assert.Equal(t, 4, ice.EmbedderDimension)

	require.NoError(t, r.EnsureIndex(ctx))

	dim, derr := idx.Dimension(ctx)
	require.NoError(t, derr)
	assert.Equal(t, 4, dim)

	results, err := r.Retrieve(ctx, "some text to index")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, doc.ID, results[0].DocumentID)
}

func TestIngestSameDocumentIsSerialized(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	emb := &textEmbedder{dim: 4, delay: 20 * time.Millisecond}
	r, _ := newTestRetriever(t, testConfig(), store, emb)

	doc := newDoc(store, "contended.txt")

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Ingest(ctx, doc, "the same document text"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), emb.peak.Load(), "same-document ingestions must not overlap")
}

func TestIngestDifferentDocumentsRunConcurrently(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	emb := &textEmbedder{dim: 4, delay: 30 * time.Millisecond}
	r, _ := newTestRetriever(t, testConfig(), store, emb)

	var wg sync.WaitGroup
	for _, name := range []string{"one.txt", "two.txt", "three.txt"} {
		doc := newDoc(store, name)
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Ingest(ctx, doc, "text for "+doc.Name))
		}()
	}
	wg.Wait()

	assert.Greater(t, emb.peak.Load(), int32(1), "unrelated documents should ingest in parallel")
}
