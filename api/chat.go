package api

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/ragstack/ragstack/internal/chat"
	"github.com/ragstack/ragstack/internal/log"
)

// ChatService produces grounded replies, synchronously or as a stream.
type ChatService interface {
	Respond(ctx context.Context, req chat.Request) (*chat.Reply, error)
	Stream(ctx context.Context, req chat.Request) iter.Seq2[chat.Event, error]
}

// ChatHandler serves the chat endpoints.
type ChatHandler struct {
	svc    ChatService
	logger log.Logger
}

func NewChatHandler(svc ChatService, logger log.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, logger: logger}
}

func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.respond)
	mux.HandleFunc("POST /api/chat/stream", h.stream)
}

func (h *ChatHandler) decodeRequest(r *http.Request) (chat.Request, error) {
	var req chat.Request
	if err := readJSON(r, &req); err != nil {
		return chat.Request{}, err
	}
	if strings.TrimSpace(req.Message) == "" {
		return chat.Request{}, fmt.Errorf("message must not be empty")
	}
	req.OwnerID = ownerID(r)
	return req, nil
}

func (h *ChatHandler) respond(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeRequest(r)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	reply, err := h.svc.Respond(r.Context(), req)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, reply)
}

// stream answers over server-sent events. Each chat event becomes one SSE
// message whose event name is the event type and whose data is the event
// encoded as JSON.
func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeRequest(r)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event, err := range h.svc.Stream(r.Context(), req) {
		if err != nil {
			h.logger.Error("chat stream failed", "error", err)
			writeSSE(w, "error", ErrorResponse{Error: "stream_error", Message: err.Error()})
			flusher.Flush()
			return
		}
		if writeErr := writeSSE(w, event.Type, event); writeErr != nil {
			// Client went away; the service sees the cancelled context.
			return
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
