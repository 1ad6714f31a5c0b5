package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for errors that would make the process
// unusable. Called once at startup; any failure is fatal.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateRetrieval(); err != nil {
		return err
	}
	if err := c.validateLLMProvider(); err != nil {
		return err
	}
	return c.validateEmbeddingProvider()
}

func (c *Config) validateStorage() error {
	switch c.VectorStore {
	case VectorStorePgvector, VectorStoreMemory:
	default:
		return fmt.Errorf("%w: %q (expected %q or %q)",
			ErrInvalidVectorStore, c.VectorStore, VectorStorePgvector, VectorStoreMemory)
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("%w: database_url is empty", ErrInvalidDatabaseURL)
	}
	if !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		return fmt.Errorf("%w: expected postgres:// or postgresql:// scheme", ErrInvalidDatabaseURL)
	}
	return nil
}

func (c *Config) validateRetrieval() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk_overlap must be non-negative, got %d", ErrInvalidChunking, c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap (%d) must be smaller than chunk_size (%d)",
			ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}

	for name, threshold := range map[string]float32{
		"similarity_threshold":      c.SimilarityThreshold,
		"chat_similarity_threshold": c.ChatSimilarityThreshold,
	} {
		if threshold < 0 || threshold > 1 {
			return fmt.Errorf("%w: %s must be in [0, 1], got %g", ErrInvalidThreshold, name, threshold)
		}
	}

	if c.MaxChunksReturned <= 0 {
		return fmt.Errorf("%w: max_chunks_returned must be positive, got %d", ErrInvalidMaxChunks, c.MaxChunksReturned)
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("%w: embedding_dimension must be positive, got %d", ErrInvalidDimension, c.EmbeddingDimension)
	}
	if c.PromptBudget <= 0 {
		return fmt.Errorf("%w: prompt_budget must be positive, got %d", ErrInvalidBudget, c.PromptBudget)
	}
	return nil
}

func (c *Config) validateLLMProvider() error {
	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY required for llm_provider=openai", ErrMissingAPIKey)
		}
	case ProviderAzure:
		if c.AzureAPIKey == "" {
			return fmt.Errorf("%w: AZURE_OPENAI_API_KEY required for llm_provider=azure", ErrMissingAPIKey)
		}
		if c.AzureEndpoint == "" {
			return fmt.Errorf("%w: AZURE_OPENAI_ENDPOINT required for llm_provider=azure", ErrMissingEndpoint)
		}
		if c.AzureDeployment == "" {
			return fmt.Errorf("%w: AZURE_OPENAI_DEPLOYMENT_NAME required for llm_provider=azure", ErrMissingEndpoint)
		}
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("%w: ANTHROPIC_API_KEY required for llm_provider=anthropic", ErrMissingAPIKey)
		}
	case ProviderGemini:
		if c.GoogleAPIKey == "" {
			return fmt.Errorf("%w: GOOGLE_API_KEY required for llm_provider=gemini", ErrMissingAPIKey)
		}
	case ProviderLocal:
		if c.LocalEndpoint == "" {
			return fmt.Errorf("%w: LOCAL_ENDPOINT required for llm_provider=local", ErrMissingEndpoint)
		}
	default:
		return fmt.Errorf("%w: llm_provider %q (expected openai, azure, anthropic, gemini or local)",
			ErrInvalidProvider, c.LLMProvider)
	}
	return nil
}

func (c *Config) validateEmbeddingProvider() error {
	switch c.EmbeddingProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY required for embedding_provider=openai", ErrMissingAPIKey)
		}
	case ProviderAzure:
		if c.AzureAPIKey == "" {
			return fmt.Errorf("%w: AZURE_OPENAI_API_KEY required for embedding_provider=azure", ErrMissingAPIKey)
		}
		if c.AzureEndpoint == "" {
			return fmt.Errorf("%w: AZURE_OPENAI_ENDPOINT required for embedding_provider=azure", ErrMissingEndpoint)
		}
		if c.AzureEmbeddingDeployment == "" {
			return fmt.Errorf("%w: AZURE_EMBEDDING_DEPLOYMENT_NAME required for embedding_provider=azure", ErrMissingEndpoint)
		}
	case ProviderGemini:
		if c.GoogleAPIKey == "" {
			return fmt.Errorf("%w: GOOGLE_API_KEY required for embedding_provider=gemini", ErrMissingAPIKey)
		}
	case ProviderLocal:
		if c.LocalEndpoint == "" {
			return fmt.Errorf("%w: LOCAL_ENDPOINT required for embedding_provider=local", ErrMissingEndpoint)
		}
	case ProviderAnthropic:
		// Anthropic does not expose an embeddings API.
		return fmt.Errorf("%w: embedding_provider %q has no embedding support", ErrInvalidProvider, c.EmbeddingProvider)
	default:
		return fmt.Errorf("%w: embedding_provider %q (expected openai, azure, gemini or local)",
			ErrInvalidProvider, c.EmbeddingProvider)
	}
	return nil
}
