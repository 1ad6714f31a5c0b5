package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragstack/ragstack/internal/log"
	"github.com/ragstack/ragstack/internal/retrieval"
)

func TestSearchReturnsResults(t *testing.T) {
	searcher := &stubSearcher{results: []retrieval.Result{
		{ChunkID: uuid.New(), DocumentID: uuid.New(), Content: "go is a language", Score: 0.91},
	}}
	handler := NewSearchHandler(searcher, log.NewNop())

	body := `{"query": "what is go", "top_k": 3, "min_score": 0.5}`
	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(body))
	req.Header.Set("X-User-ID", "alice")

	rec := serve(handler.RegisterRoutes, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "go is a language", resp.Results[0].Content)

	assert.Equal(t, "what is go", searcher.query)
	// Owner scope plus the two overrides from the request body.
	assert.Len(t, searcher.opts, 3)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	searcher := &stubSearcher{}
	handler := NewSearchHandler(searcher, log.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query": "  "}`))
	rec := serve(handler.RegisterRoutes, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, searcher.query)
}

func TestSearchEmptyResultsIsArray(t *testing.T) {
	handler := NewSearchHandler(&stubSearcher{}, log.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query": "anything"}`))
	rec := serve(handler.RegisterRoutes, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []retrieval.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotNil(t, rec.Body)
	assert.Contains(t, rec.Body.String(), `"results":[]`)
}
