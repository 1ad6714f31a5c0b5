package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/ragstack/ragstack/internal/config"
	"github.com/ragstack/ragstack/internal/provider"
)

// ollamaGenerator talks to an Ollama-compatible /api/chat endpoint.
// Streaming responses arrive as newline-delimited JSON objects.
type ollamaGenerator struct {
	endpoint string
	model    string
	client   *http.Client
}

func newOllama(endpoint, model string) *ollamaGenerator {
	return &ollamaGenerator{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		// No client timeout; generation can be slow and streams are
		// bounded by the request context.
		client: &http.Client{},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

func (g *ollamaGenerator) request(req Request, stream bool) ollamaChatRequest {
	messages := make([]ollamaMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.History {
		messages = append(messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, ollamaMessage{Role: RoleUser, Content: req.UserMessage})

	options := map[string]any{}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}

	return ollamaChatRequest{
		Model:    g.model,
		Messages: messages,
		Stream:   stream,
		Options:  options,
	}
}

func (g *ollamaGenerator) send(ctx context.Context, body ollamaChatRequest) (*http.Response, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/chat", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, provider.Classify(config.ProviderLocal, err)
	}

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		kind := provider.KindUnavailable
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			kind = provider.KindRateLimited
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			kind = provider.KindBadResponse
		}
		return nil, provider.Errorf(config.ProviderLocal, kind,
			"chat request failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	return resp, nil
}

func (g *ollamaGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	resp, err := g.send(ctx, g.request(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, provider.Errorf(config.ProviderLocal, provider.KindBadResponse,
			"decoding chat response: %v", err)
	}
	if parsed.Error != "" {
		return nil, provider.Errorf(config.ProviderLocal, provider.KindBadResponse, "%s", parsed.Error)
	}

	return &Response{
		Text:         parsed.Message.Content,
		Model:        g.model,
		InputTokens:  parsed.PromptEvalCount,
		OutputTokens: parsed.EvalCount,
	}, nil
}

func (g *ollamaGenerator) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		resp, err := g.send(ctx, g.request(req, true))
		if err != nil {
			yield(Chunk{}, err)
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var parsed ollamaChatResponse
			if err := json.Unmarshal(line, &parsed); err != nil {
				yield(Chunk{}, provider.Errorf(config.ProviderLocal, provider.KindBadResponse,
					"decoding stream line: %v", err))
				return
			}
			if parsed.Error != "" {
				yield(Chunk{}, provider.Errorf(config.ProviderLocal, provider.KindBadResponse, "%s", parsed.Error))
				return
			}
			if parsed.Message.Content != "" {
				if !yield(Chunk{Text: parsed.Message.Content}, nil) {
					return
				}
			}
			if parsed.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(Chunk{}, provider.Classify(config.ProviderLocal, err))
		}
	}
}

func (g *ollamaGenerator) Provider() string { return config.ProviderLocal }
