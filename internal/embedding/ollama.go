package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ragstack/ragstack/internal/config"
	"github.com/ragstack/ragstack/internal/provider"
)

// ollamaEmbedder talks to an Ollama-compatible /api/embed endpoint.
type ollamaEmbedder struct {
	endpoint  string
	model     string
	dimension int
	client    *http.Client
}

func newOllama(endpoint, model string, dimension int) *ollamaEmbedder {
	return &ollamaEmbedder{
		endpoint:  strings.TrimRight(endpoint, "/"),
		model:     model,
		dimension: dimension,
		client:    &http.Client{Timeout: 2 * time.Minute},
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func (e *ollamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *ollamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedFiltered(ctx, config.ProviderLocal, texts, e.dimension, e.embed)
}

func (e *ollamaEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("encoding embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, provider.Classify(config.ProviderLocal, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.Classify(config.ProviderLocal, err)
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, provider.Errorf(config.ProviderLocal, provider.KindBadResponse,
			"decoding embed response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		kind := provider.KindUnavailable
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			kind = provider.KindRateLimited
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			kind = provider.KindAuth
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			kind = provider.KindBadResponse
		}
		return nil, provider.Errorf(config.ProviderLocal, kind,
			"embed request failed with status %d: %s", resp.StatusCode, parsed.Error)
	}

	if len(parsed.Embeddings) != len(texts) {
		return nil, provider.Errorf(config.ProviderLocal, provider.KindBadResponse,
			"expected %d embeddings, got %d", len(texts), len(parsed.Embeddings))
	}
	return parsed.Embeddings, nil
}

func (e *ollamaEmbedder) Dimension() int { return e.dimension }

func (e *ollamaEmbedder) Provider() string { return config.ProviderLocal }
