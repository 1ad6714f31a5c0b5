package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/ragstack/ragstack/internal/log"
	"github.com/ragstack/ragstack/internal/retrieval"
)

// Searcher answers similarity queries against the vector index.
type Searcher interface {
	Retrieve(ctx context.Context, query string, opts ...retrieval.SearchOption) ([]retrieval.Result, error)
}

// SearchHandler serves standalone similarity search.
type SearchHandler struct {
	searcher Searcher
	logger   log.Logger
}

func NewSearchHandler(searcher Searcher, logger log.Logger) *SearchHandler {
	return &SearchHandler{searcher: searcher, logger: logger}
}

func (h *SearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/search", h.search)
}

type searchRequest struct {
	Query           string   `json:"query"`
	TopK            int      `json:"top_k,omitempty"`
	MinScore        *float64 `json:"min_score,omitempty"`
	UseVectorSearch *bool    `json:"use_vector_search,omitempty"`
}

type searchResponse struct {
	Results []retrieval.Result `json:"results"`
}

func (h *SearchHandler) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", "query must not be empty")
		return
	}

	opts := []retrieval.SearchOption{retrieval.WithOwner(ownerID(r))}
	if req.TopK > 0 {
		opts = append(opts, retrieval.WithTopK(req.TopK))
	}
	if req.MinScore != nil {
		opts = append(opts, retrieval.WithMinScore(float32(*req.MinScore)))
	}
	if req.UseVectorSearch != nil {
		opts = append(opts, retrieval.WithVectorSearch(*req.UseVectorSearch))
	}

	results, err := h.searcher.Retrieve(r.Context(), req.Query, opts...)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if results == nil {
		results = []retrieval.Result{}
	}
	writeJSON(w, h.logger, http.StatusOK, searchResponse{Results: results})
}
