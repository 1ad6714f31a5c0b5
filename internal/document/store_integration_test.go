package document_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragstack/ragstack/internal/document"
	"github.com/ragstack/ragstack/internal/testutil"
)

func TestStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	store := document.NewStore(db.Pool)

	doc := &document.Document{
		OwnerID:     "alice",
		Name:        "notes.txt",
		ContentType: "text/plain",
		SizeBytes:   42,
	}
	require.NoError(t, store.Create(ctx, doc))
	require.NotEqual(t, uuid.Nil, doc.ID)
	assert.Equal(t, document.StatusPending, doc.Status)

	t.Run("get", func(t *testing.T) {
		got, err := store.Get(ctx, doc.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, "notes.txt", got.Name)
		assert.Equal(t, document.StatusPending, got.Status)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.New(), "alice")
		assert.ErrorIs(t, err, document.ErrNotFound)
	})

	t.Run("get foreign owner", func(t *testing.T) {
		_, err := store.Get(ctx, doc.ID, "bob")
		assert.ErrorIs(t, err, document.ErrNotFound)

		got, err := store.Get(ctx, doc.ID, "")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.OwnerID)
	})

	t.Run("list by owner", func(t *testing.T) {
		other := &document.Document{OwnerID: "bob", Name: "other.txt"}
		require.NoError(t, store.Create(ctx, other))

		docs, err := store.List(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, doc.ID, docs[0].ID)

		all, err := store.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("chunk lifecycle", func(t *testing.T) {
		chunks := []document.Chunk{
			{ID: uuid.New(), Index: 0, Start: 0, End: 20, Content: "first chunk content"},
			{ID: uuid.New(), Index: 1, Start: 15, End: 42, Content: "second chunk content"},
		}
		require.NoError(t, store.ReplaceChunks(ctx, doc.ID, chunks))

		stored, err := store.Chunks(ctx, doc.ID)
		require.NoError(t, err)
		require.Len(t, stored, 2)
		assert.Equal(t, "first chunk content", stored[0].Content)
		assert.False(t, stored[0].Embedded)

		require.NoError(t, store.MarkEmbedded(ctx, []uuid.UUID{chunks[0].ID}))

		refs, err := store.ChunkRefs(ctx, []uuid.UUID{chunks[1].ID, chunks[0].ID})
		require.NoError(t, err)
		require.Len(t, refs, 2)
		// Input order is preserved.
		assert.Equal(t, chunks[1].ID, refs[0].ChunkID)
		assert.Equal(t, "notes.txt", refs[0].DocumentName)
		assert.Equal(t, "alice", refs[0].OwnerID)

		embedded, err := store.AllEmbedded(ctx)
		require.NoError(t, err)
		require.Len(t, embedded, 1)
		assert.Equal(t, chunks[0].ID, embedded[0].ChunkID)

		// Replacement clears the previous set.
		require.NoError(t, store.ReplaceChunks(ctx, doc.ID, []document.Chunk{
			{ID: uuid.New(), Index: 0, Start: 0, End: 10, Content: "fresh"},
		}))
		stored, err = store.Chunks(ctx, doc.ID)
		require.NoError(t, err)
		assert.Len(t, stored, 1)
	})

	t.Run("ingestion outcome", func(t *testing.T) {
		require.NoError(t, store.FinishIngestion(ctx, doc.ID, document.StatusPartial, 10, 2, "openai", 1536, "2 chunks failed"))

		got, err := store.Get(ctx, doc.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, document.StatusPartial, got.Status)
		assert.Equal(t, 10, got.ChunkCount)
		assert.Equal(t, 2, got.FailedChunks)
		assert.Equal(t, "openai", got.EmbeddingProvider)
		assert.Equal(t, 1536, got.EmbeddingDim)
	})

	t.Run("delete cascades", func(t *testing.T) {
		assert.ErrorIs(t, store.Delete(ctx, doc.ID, "bob"), document.ErrNotFound)
		require.NoError(t, store.Delete(ctx, doc.ID, "alice"))

		_, err := store.Get(ctx, doc.ID, "alice")
		assert.ErrorIs(t, err, document.ErrNotFound)

		var count int
		require.NoError(t, db.Pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM chunks WHERE document_id = $1`, doc.ID).Scan(&count))
		assert.Zero(t, count)

		assert.ErrorIs(t, store.Delete(ctx, doc.ID, "alice"), document.ErrNotFound)
	})
}
