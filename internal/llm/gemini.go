package llm

import (
	"context"
	"iter"

	"google.golang.org/genai"

	"github.com/ragstack/ragstack/internal/config"
	"github.com/ragstack/ragstack/internal/provider"
)

// geminiGenerator calls the Gemini API via the google genai SDK.
type geminiGenerator struct {
	client *genai.Client
	model  string
}

func newGemini(apiKey, model string) (*geminiGenerator, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &geminiGenerator{client: client, model: model}, nil
}

func (g *geminiGenerator) contents(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(req.UserMessage, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Temperature)
	}
	return contents, cfg
}

func (g *geminiGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	contents, cfg := g.contents(req)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, provider.Classify(config.ProviderGemini, err)
	}

	out := &Response{
		Text:  resp.Text(),
		Model: g.model,
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func (g *geminiGenerator) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		contents, cfg := g.contents(req)
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
			if err != nil {
				yield(Chunk{}, provider.Classify(config.ProviderGemini, err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(Chunk{Text: text}, nil) {
				return
			}
		}
	}
}

func (g *geminiGenerator) Provider() string { return config.ProviderGemini }
