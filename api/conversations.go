package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ragstack/ragstack/internal/chat"
	"github.com/ragstack/ragstack/internal/log"
)

// ConversationStore is the conversation persistence the handler needs.
// Lookups are owner-scoped; a foreign conversation reads as not found.
type ConversationStore interface {
	GetOrCreate(ctx context.Context, id *uuid.UUID, ownerID string) (*chat.Conversation, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]chat.Conversation, error)
	Messages(ctx context.Context, conversationID uuid.UUID) ([]chat.Message, error)
	Delete(ctx context.Context, id uuid.UUID, ownerID string) error
}

// ConversationHandler serves conversation history endpoints.
type ConversationHandler struct {
	convs  ConversationStore
	logger log.Logger
}

func NewConversationHandler(convs ConversationStore, logger log.Logger) *ConversationHandler {
	return &ConversationHandler{convs: convs, logger: logger}
}

func (h *ConversationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/conversations", h.list)
	mux.HandleFunc("GET /api/conversations/{id}/messages", h.messages)
	mux.HandleFunc("DELETE /api/conversations/{id}", h.delete)
}

func (h *ConversationHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit")
	offset := queryInt(r, "offset")
	convs, err := h.convs.List(r.Context(), ownerID(r), limit, offset)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	writeJSON(w, h.logger, http.StatusOK, convs)
}

// queryInt reads a non-negative integer query parameter; absent or invalid
// values read as zero, which the store treats as its default.
func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (h *ConversationHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", "invalid conversation id")
		return
	}

	// Ownership check before reading messages.
	if _, err := h.convs.GetOrCreate(r.Context(), &id, ownerID(r)); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	msgs, err := h.convs.Messages(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, h.logger, http.StatusOK, msgs)
}

func (h *ConversationHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", "invalid conversation id")
		return
	}

	if err := h.convs.Delete(r.Context(), id, ownerID(r)); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
