// Package llm generates chat completions.
//
// A Generator wraps one upstream provider behind a uniform request shape
// with both synchronous and streaming modes. Streams are iter.Seq2 sequences
// that stop when the consumer breaks out or the context is cancelled.
// The factory wraps every provider in retry with exponential backoff and,
// when configured, a client-side rate limiter.
package llm

import (
	"context"
	"fmt"
	"iter"

	"github.com/ragstack/ragstack/internal/config"
	"github.com/ragstack/ragstack/internal/log"
)

// Message roles. Only user and assistant turns appear in history; the system
// prompt travels separately in Request.System.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single generation request. The provider renders System,
// History and UserMessage into its native wire format.
type Request struct {
	System      string
	History     []Message
	UserMessage string
	MaxTokens   int
	Temperature float32
}

// Response is a completed generation.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Chunk is one streamed fragment of assistant text.
type Chunk struct {
	Text string `json:"text"`
}

// Generator produces completions from an LLM provider.
//
// Stream yields chunks in order; a non-nil error is terminal and is always
// the last element yielded. Abandoning the iterator releases the underlying
// connection.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error]

	// Provider returns the provider identifier, e.g. "anthropic".
	Provider() string
}

// New builds the configured generator wrapped with retry.
func New(cfg *config.Config, logger log.Logger) (Generator, error) {
	var (
		base Generator
		err  error
	)

	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		base = newOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	case config.ProviderAzure:
		base = newAzure(cfg.AzureAPIKey, cfg.AzureEndpoint, cfg.AzureAPIVersion, cfg.AzureDeployment)
	case config.ProviderAnthropic:
		base = newAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	case config.ProviderGemini:
		base, err = newGemini(cfg.GoogleAPIKey, cfg.GeminiModel)
	case config.ProviderLocal:
		base = newOllama(cfg.LocalEndpoint, cfg.LocalModel)
	default:
		return nil, fmt.Errorf("%w: llm provider %q", config.ErrInvalidProvider, cfg.LLMProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s generator: %w", cfg.LLMProvider, err)
	}

	if cfg.RequestsPerSecond > 0 {
		base = newLimited(base, cfg.RequestsPerSecond)
	}
	return newRetryer(base, cfg.MaxRetries, logger), nil
}
