package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ragstack/ragstack/internal/chat"
	"github.com/ragstack/ragstack/internal/document"
	"github.com/ragstack/ragstack/internal/extract"
	"github.com/ragstack/ragstack/internal/log"
	"github.com/ragstack/ragstack/internal/provider"
	"github.com/ragstack/ragstack/internal/retrieval"
)

// maxRequestBody caps JSON request bodies. File uploads have their own
// limit enforced by the document handler.
const maxRequestBody = 1 << 20

// readJSON decodes a JSON request body into dst.
func readJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(dst); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

// writeJSON writes a JSON response with the given status code.
// Encoding failures after WriteHeader cannot reach the client; they are only
// logged.
func writeJSON(w http.ResponseWriter, logger log.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("encoding JSON response failed", "error", err)
	}
}

// ErrorResponse is the JSON error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, logger log.Logger, status int, err string, message string) {
	writeJSON(w, logger, status, ErrorResponse{Error: err, Message: message})
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, logger log.Logger, err error) {
	var (
		perr *provider.Error
		ice  *retrieval.IndexConsistencyError
	)
	switch {
	case errors.Is(err, document.ErrNotFound),
		errors.Is(err, chat.ErrConversationNotFound):
		writeError(w, logger, http.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, extract.ErrTooLarge):
		writeError(w, logger, http.StatusRequestEntityTooLarge, "file_too_large", err.Error())

	case errors.Is(err, extract.ErrUnsupportedExtension):
		writeError(w, logger, http.StatusUnsupportedMediaType, "unsupported_file_type", err.Error())

	case errors.As(err, &ice):
		logger.Error("vector index inconsistent", "error", err)
		writeError(w, logger, http.StatusServiceUnavailable, "index_rebuilding", err.Error())

	case errors.As(err, &perr):
		logger.Error("provider call failed", "provider", perr.Provider, "kind", perr.Kind, "error", err)
		writeError(w, logger, http.StatusBadGateway, "provider_error", err.Error())

	default:
		logger.Error("request failed", "error", err)
		writeError(w, logger, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
