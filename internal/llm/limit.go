package llm

import (
	"context"
	"iter"

	"golang.org/x/time/rate"
)

// limited throttles generation requests. One turn, sync or streamed,
// consumes one token; retries inside the retryer count separately because
// the limiter wraps the provider, not the retry loop.
type limited struct {
	inner   Generator
	limiter *rate.Limiter
}

func newLimited(inner Generator, requestsPerSecond float64) *limited {
	return &limited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

func (l *limited) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.inner.Generate(ctx, req)
}

func (l *limited) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		if err := l.limiter.Wait(ctx); err != nil {
			yield(Chunk{}, err)
			return
		}
		for chunk, err := range l.inner.Stream(ctx, req) {
			if !yield(chunk, err) {
				return
			}
		}
	}
}

func (l *limited) Provider() string { return l.inner.Provider() }
