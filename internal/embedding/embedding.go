// Package embedding turns text into vectors.
//
// An Embedder wraps one upstream provider (OpenAI, Azure OpenAI, Gemini or an
// Ollama-compatible local endpoint). Decorators add caching and rate limiting
// on top without the callers knowing. All providers report failures as
// *provider.Error so retry decisions stay uniform.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/ragstack/ragstack/internal/config"
	"github.com/ragstack/ragstack/internal/log"
	"github.com/ragstack/ragstack/internal/provider"
)

// Embedder converts text into dense vectors.
//
// EmbedBatch preserves order: the i-th vector corresponds to the i-th input.
// Empty or whitespace-only text yields a zero vector of Dimension() length
// without touching the upstream provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector length this embedder produces.
	Dimension() int

	// Provider returns the provider identifier, e.g. "openai".
	Provider() string
}

// New builds the configured embedder, wrapped with rate limiting and, when a
// Redis URL is configured, a cache.
func New(cfg *config.Config, logger log.Logger) (Embedder, error) {
	var (
		base Embedder
		err  error
	)

	switch cfg.EmbeddingProvider {
	case config.ProviderOpenAI:
		base = newOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIEmbeddingModel, cfg.EmbeddingDimension)
	case config.ProviderAzure:
		base = newAzure(cfg.AzureAPIKey, cfg.AzureEndpoint, cfg.AzureAPIVersion, cfg.AzureEmbeddingDeployment, cfg.EmbeddingDimension)
	case config.ProviderGemini:
		base, err = newGemini(cfg.GoogleAPIKey, cfg.GeminiEmbeddingModel, cfg.EmbeddingDimension)
	case config.ProviderLocal:
		base = newOllama(cfg.LocalEndpoint, cfg.LocalEmbeddingModel, cfg.EmbeddingDimension)
	default:
		return nil, fmt.Errorf("%w: embedding provider %q", config.ErrInvalidProvider, cfg.EmbeddingProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s embedder: %w", cfg.EmbeddingProvider, err)
	}

	if cfg.RequestsPerSecond > 0 {
		base = newLimited(base, cfg.RequestsPerSecond)
	}

	if cfg.RedisURL != "" {
		cached, err := newCache(cfg.RedisURL, base, modelFor(cfg), logger)
		if err != nil {
			return nil, fmt.Errorf("creating embedding cache: %w", err)
		}
		base = cached
	}

	return base, nil
}

// modelFor returns the embedding model name for cache key construction.
func modelFor(cfg *config.Config) string {
	switch cfg.EmbeddingProvider {
	case config.ProviderAzure:
		return cfg.AzureEmbeddingDeployment
	case config.ProviderGemini:
		return cfg.GeminiEmbeddingModel
	case config.ProviderLocal:
		return cfg.LocalEmbeddingModel
	default:
		return cfg.OpenAIEmbeddingModel
	}
}

func zeroVector(dim int) []float32 {
	return make([]float32, dim)
}

// embedFiltered applies the empty-text policy around a provider call.
// Whitespace-only inputs get zero vectors; only the remaining texts reach fn,
// and fn must return one vector per input it received.
func embedFiltered(ctx context.Context, name string, texts []string, dim int, fn func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	out := make([][]float32, len(texts))

	indexes := make([]int, 0, len(texts))
	filtered := make([]string, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			out[i] = zeroVector(dim)
			continue
		}
		indexes = append(indexes, i)
		filtered = append(filtered, text)
	}

	if len(filtered) == 0 {
		return out, nil
	}

	vectors, err := fn(ctx, filtered)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(filtered) {
		return nil, provider.Errorf(name, provider.KindBadResponse,
			"embedding count mismatch: got %d vectors for %d texts", len(vectors), len(filtered))
	}

	for i, vec := range vectors {
		out[indexes[i]] = vec
	}
	return out, nil
}
