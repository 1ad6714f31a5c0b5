package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragstack/ragstack/internal/chat"
	"github.com/ragstack/ragstack/internal/log"
)

func TestListConversationsScopedToOwner(t *testing.T) {
	store := newStubConvStore()
	mine := chat.Conversation{ID: uuid.New(), OwnerID: "alice", Title: "go questions"}
	other := chat.Conversation{ID: uuid.New(), OwnerID: "bob"}
	store.convs[mine.ID] = mine
	store.convs[other.ID] = other

	handler := NewConversationHandler(store, log.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("X-User-ID", "alice")
	rec := serve(handler.RegisterRoutes, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var convs []chat.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convs))
	require.Len(t, convs, 1)
	assert.Equal(t, mine.ID, convs[0].ID)
}

func TestListConversationsPassesPagination(t *testing.T) {
	store := newStubConvStore()
	handler := NewConversationHandler(store, log.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/conversations?limit=5&offset=10", nil)
	rec := serve(handler.RegisterRoutes, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, store.lastLimit)
	assert.Equal(t, 10, store.lastOffset)
}

func TestConversationMessages(t *testing.T) {
	store := newStubConvStore()
	conv := chat.Conversation{ID: uuid.New(), OwnerID: "alice"}
	store.convs[conv.ID] = conv
	store.messages[conv.ID] = []chat.Message{
		{ID: uuid.New(), ConversationID: conv.ID, Role: "user", Content: "hi"},
		{ID: uuid.New(), ConversationID: conv.ID, Role: "assistant", Content: "hello"},
	}

	handler := NewConversationHandler(store, log.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/"+conv.ID.String()+"/messages", nil)
	req.Header.Set("X-User-ID", "alice")
	rec := serve(handler.RegisterRoutes, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var msgs []chat.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "assistant", msgs[1].Role)
}

func TestConversationMessagesForeignOwnerIsNotFound(t *testing.T) {
	store := newStubConvStore()
	conv := chat.Conversation{ID: uuid.New(), OwnerID: "alice"}
	store.convs[conv.ID] = conv

	handler := NewConversationHandler(store, log.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/"+conv.ID.String()+"/messages", nil)
	req.Header.Set("X-User-ID", "mallory")
	rec := serve(handler.RegisterRoutes, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteConversation(t *testing.T) {
	store := newStubConvStore()
	conv := chat.Conversation{ID: uuid.New(), OwnerID: "alice"}
	store.convs[conv.ID] = conv

	handler := NewConversationHandler(store, log.NewNop())

	req := httptest.NewRequest(http.MethodDelete, "/api/conversations/"+conv.ID.String(), nil)
	req.Header.Set("X-User-ID", "alice")
	rec := serve(handler.RegisterRoutes, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uuid.UUID{conv.ID}, store.deleted)
}

func TestDeleteConversationInvalidID(t *testing.T) {
	handler := NewConversationHandler(newStubConvStore(), log.NewNop())

	rec := serve(handler.RegisterRoutes,
		httptest.NewRequest(http.MethodDelete, "/api/conversations/nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
