package chat_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragstack/ragstack/internal/chat"
	"github.com/ragstack/ragstack/internal/llm"
	"github.com/ragstack/ragstack/internal/prompt"
	"github.com/ragstack/ragstack/internal/testutil"
)

func TestConversationStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	store := chat.NewStore(db.Pool)

	conv, err := store.GetOrCreate(ctx, nil, "alice")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, conv.ID)
	assert.Empty(t, conv.Title)

	t.Run("get existing", func(t *testing.T) {
		again, err := store.GetOrCreate(ctx, &conv.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, conv.ID, again.ID)
	})

	t.Run("foreign owner cannot fetch", func(t *testing.T) {
		_, err := store.GetOrCreate(ctx, &conv.ID, "mallory")
		assert.ErrorIs(t, err, chat.ErrConversationNotFound)
	})

	t.Run("messages round trip with sources", func(t *testing.T) {
		user := &chat.Message{
			ConversationID: conv.ID,
			Role:           llm.RoleUser,
			Content:        "how do I install the package?",
		}
		require.NoError(t, store.Append(ctx, user))

		sources := []prompt.Source{{Ref: 1, ChunkID: uuid.New(), DocumentID: uuid.New(), Score: 0.92}}
		assistant := &chat.Message{
			ConversationID: conv.ID,
			Role:           llm.RoleAssistant,
			Content:        "Use apt install.",
			Sources:        sources,
		}
		require.NoError(t, store.Append(ctx, assistant))

		msgs, err := store.Messages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, llm.RoleUser, msgs[0].Role)
		assert.Empty(t, msgs[0].Sources)
		assert.Equal(t, sources, msgs[1].Sources)

		got, err := store.GetOrCreate(ctx, &conv.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, got.MessageCount)
	})

	t.Run("first user message titles the conversation", func(t *testing.T) {
		got, err := store.GetOrCreate(ctx, &conv.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, "how do I install the package?", got.Title)
	})

	t.Run("long titles are truncated", func(t *testing.T) {
		fresh, err := store.GetOrCreate(ctx, nil, "alice")
		require.NoError(t, err)

		long := strings.Repeat("question ", 30)
		require.NoError(t, store.Append(ctx, &chat.Message{
			ConversationID: fresh.ID,
			Role:           llm.RoleUser,
			Content:        long,
		}))

		got, err := store.GetOrCreate(ctx, &fresh.ID, "alice")
		require.NoError(t, err)
		assert.Less(t, len([]rune(got.Title)), len([]rune(long)))
	})

	t.Run("list newest activity first", func(t *testing.T) {
		convs, err := store.List(ctx, "alice", 0, 0)
		require.NoError(t, err)
		require.Len(t, convs, 2)
		assert.NotEqual(t, conv.ID, convs[0].ID, "recently touched conversation sorts first")
	})

	t.Run("list pagination", func(t *testing.T) {
		first, err := store.List(ctx, "alice", 1, 0)
		require.NoError(t, err)
		require.Len(t, first, 1)

		second, err := store.List(ctx, "alice", 1, 1)
		require.NoError(t, err)
		require.Len(t, second, 1)
		assert.NotEqual(t, first[0].ID, second[0].ID)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, conv.ID, "alice"))
		_, err := store.GetOrCreate(ctx, &conv.ID, "alice")
		assert.ErrorIs(t, err, chat.ErrConversationNotFound)

		assert.ErrorIs(t, store.Delete(ctx, conv.ID, "alice"), chat.ErrConversationNotFound)
	})
}
