package embedding

import (
	"context"

	"golang.org/x/time/rate"
)

// limited throttles upstream requests. One embedding call, single or batch,
// consumes one token.
type limited struct {
	inner   Embedder
	limiter *rate.Limiter
}

func newLimited(inner Embedder, requestsPerSecond float64) *limited {
	return &limited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

func (l *limited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.inner.Embed(ctx, text)
}

func (l *limited) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.inner.EmbedBatch(ctx, texts)
}

func (l *limited) Dimension() int { return l.inner.Dimension() }

func (l *limited) Provider() string { return l.inner.Provider() }
