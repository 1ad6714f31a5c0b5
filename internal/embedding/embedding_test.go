package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragstack/ragstack/internal/config"
	"github.com/ragstack/ragstack/internal/log"
	"github.com/ragstack/ragstack/internal/provider"
)

// mockEmbedder returns deterministic vectors derived from the input text and
// counts upstream calls.
type mockEmbedder struct {
	dim        int
	batchCalls int
	lastBatch  []string
	err        error
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.batchCalls++
	m.lastBatch = texts
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, m.dim)
		for j := range vec {
			vec[j] = float32(len(text) + j)
		}
		out[i] = vec
	}
	return out, nil
}

func (m *mockEmbedder) Dimension() int { return m.dim }

func (m *mockEmbedder) Provider() string { return "mock" }

func TestEmbedFiltered(t *testing.T) {
	ctx := context.Background()

	t.Run("empty texts get zero vectors without upstream call", func(t *testing.T) {
		calls := 0
		vectors, err := embedFiltered(ctx, "mock", []string{"", "   ", "\n\t"}, 3,
			func(context.Context, []string) ([][]float32, error) {
				calls++
				return nil, nil
			})
		require.NoError(t, err)
		assert.Zero(t, calls, "provider should not be called for empty input")
		require.Len(t, vectors, 3)
		for _, vec := range vectors {
			assert.Equal(t, []float32{0, 0, 0}, vec)
		}
	})

	t.Run("mixed input preserves order", func(t *testing.T) {
		vectors, err := embedFiltered(ctx, "mock", []string{"a", "", "b"}, 2,
			func(_ context.Context, texts []string) ([][]float32, error) {
				require.Equal(t, []string{"a", "b"}, texts)
				return [][]float32{{1, 1}, {2, 2}}, nil
			})
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 1}, vectors[0])
		assert.Equal(t, []float32{0, 0}, vectors[1])
		assert.Equal(t, []float32{2, 2}, vectors[2])
	})

	t.Run("count mismatch is a bad response", func(t *testing.T) {
		_, err := embedFiltered(ctx, "mock", []string{"a", "b"}, 2,
			func(context.Context, []string) ([][]float32, error) {
				return [][]float32{{1, 1}}, nil
			})
		var perr *provider.Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, provider.KindBadResponse, perr.Kind)
	})

	t.Run("provider error passes through", func(t *testing.T) {
		want := errors.New("boom")
		_, err := embedFiltered(ctx, "mock", []string{"a"}, 2,
			func(context.Context, []string) ([][]float32, error) {
				return nil, want
			})
		assert.ErrorIs(t, err, want)
	})
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := &config.Config{EmbeddingProvider: "carrier-pigeon"}
	_, err := New(cfg, log.NewNop())
	assert.ErrorIs(t, err, config.ErrInvalidProvider)
}

func TestLimitedDelegates(t *testing.T) {
	mock := &mockEmbedder{dim: 4}
	limited := newLimited(mock, 100)

	vec, err := limited.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, 1, mock.batchCalls)
	assert.Equal(t, 4, limited.Dimension())
	assert.Equal(t, "mock", limited.Provider())
}

func TestLimitedHonorsCancellation(t *testing.T) {
	mock := &mockEmbedder{dim: 2}
	// A tiny rate with a drained burst forces Wait to block.
	limited := newLimited(mock, 0.001)
	require.NoError(t, limited.limiter.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := limited.Embed(ctx, "hello")
	assert.Error(t, err)
	assert.Zero(t, mock.batchCalls)
}
