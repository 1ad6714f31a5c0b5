package llm

import (
	"context"
	"iter"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ragstack/ragstack/internal/config"
	"github.com/ragstack/ragstack/internal/provider"
)

// anthropicGenerator calls the Anthropic messages API.
type anthropicGenerator struct {
	client anthropic.Client
	model  string
}

func newAnthropic(apiKey, model string) *anthropicGenerator {
	return &anthropicGenerator{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// defaultMaxTokens applies when the request does not set one; the messages
// API requires max_tokens.
const defaultMaxTokens = 2048

func (g *anthropicGenerator) params(req Request) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, m := range req.History {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserMessage)))

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	return params
}

func (g *anthropicGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	msg, err := g.client.Messages.New(ctx, g.params(req))
	if err != nil {
		return nil, provider.Classify(config.ProviderAnthropic, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Response{
		Text:         text.String(),
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

func (g *anthropicGenerator) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		stream := g.client.Messages.NewStreaming(ctx, g.params(req))
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if ev.Delta.Text == "" {
					continue
				}
				if !yield(Chunk{Text: ev.Delta.Text}, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield(Chunk{}, provider.Classify(config.ProviderAnthropic, err))
		}
	}
}

func (g *anthropicGenerator) Provider() string { return config.ProviderAnthropic }
