package llm

import (
	"context"
	"iter"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"github.com/ragstack/ragstack/internal/config"
	"github.com/ragstack/ragstack/internal/provider"
)

// openAIGenerator calls the OpenAI chat completions API. Azure OpenAI shares
// the implementation; only client options and the model name differ.
type openAIGenerator struct {
	client openai.Client
	name   string
	model  string
}

func newOpenAI(apiKey, model string) *openAIGenerator {
	return &openAIGenerator{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		name:   config.ProviderOpenAI,
		model:  model,
	}
}

func newAzure(apiKey, endpoint, apiVersion, deployment string) *openAIGenerator {
	return &openAIGenerator{
		client: openai.NewClient(
			azure.WithEndpoint(endpoint, apiVersion),
			azure.WithAPIKey(apiKey),
		),
		name:  config.ProviderAzure,
		model: deployment,
	}
}

func (g *openAIGenerator) params(req Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.History {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.UserMessage))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(g.model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	return params
}

func (g *openAIGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	resp, err := g.client.Chat.Completions.New(ctx, g.params(req))
	if err != nil {
		return nil, provider.Classify(g.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, provider.Errorf(g.name, provider.KindBadResponse, "no choices in response")
	}

	return &Response{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func (g *openAIGenerator) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		stream := g.client.Chat.Completions.NewStreaming(ctx, g.params(req))
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !yield(Chunk{Text: delta}, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(Chunk{}, provider.Classify(g.name, err))
		}
	}
}

func (g *openAIGenerator) Provider() string { return g.name }
