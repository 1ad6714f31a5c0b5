package embedding

import (
	"context"

	"google.golang.org/genai"

	"github.com/ragstack/ragstack/internal/config"
	"github.com/ragstack/ragstack/internal/provider"
)

// geminiEmbedder calls the Gemini embedding API via the google genai SDK.
type geminiEmbedder struct {
	client    *genai.Client
	model     string
	dimension int
}

func newGemini(apiKey, model string, dimension int) (*geminiEmbedder, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &geminiEmbedder{client: client, model: model, dimension: dimension}, nil
}

func (e *geminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *geminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedFiltered(ctx, config.ProviderGemini, texts, e.dimension, e.embed)
}

func (e *geminiEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(int32(e.dimension)),
	})
	if err != nil {
		return nil, provider.Classify(config.ProviderGemini, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, provider.Errorf(config.ProviderGemini, provider.KindBadResponse,
			"expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, provider.Errorf(config.ProviderGemini, provider.KindBadResponse,
				"empty embedding at index %d", i)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

func (e *geminiEmbedder) Dimension() int { return e.dimension }

func (e *geminiEmbedder) Provider() string { return config.ProviderGemini }
