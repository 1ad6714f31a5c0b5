package embedding

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"github.com/ragstack/ragstack/internal/config"
	"github.com/ragstack/ragstack/internal/provider"
)

// openAIEmbedder calls the OpenAI embeddings API. The same implementation
// serves Azure OpenAI, which differs only in client options and model naming.
type openAIEmbedder struct {
	client    openai.Client
	name      string
	model     string
	dimension int
}

func newOpenAI(apiKey, model string, dimension int) *openAIEmbedder {
	return &openAIEmbedder{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		name:      config.ProviderOpenAI,
		model:     model,
		dimension: dimension,
	}
}

// newAzure uses the deployment name in place of a model name, per the Azure
// OpenAI API contract.
func newAzure(apiKey, endpoint, apiVersion, deployment string, dimension int) *openAIEmbedder {
	return &openAIEmbedder{
		client: openai.NewClient(
			azure.WithEndpoint(endpoint, apiVersion),
			azure.WithAPIKey(apiKey),
		),
		name:      config.ProviderAzure,
		model:     deployment,
		dimension: dimension,
	}
}

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *openAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedFiltered(ctx, e.name, texts, e.dimension, e.embed)
}

func (e *openAIEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: openai.Int(int64(e.dimension)),
	})
	if err != nil {
		return nil, provider.Classify(e.name, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, provider.Errorf(e.name, provider.KindBadResponse,
			"expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || int(item.Index) >= len(vectors) {
			return nil, provider.Errorf(e.name, provider.KindBadResponse,
				"embedding index %d out of range", item.Index)
		}
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		vectors[item.Index] = vec
	}
	return vectors, nil
}

func (e *openAIEmbedder) Dimension() int { return e.dimension }

func (e *openAIEmbedder) Provider() string { return e.name }
