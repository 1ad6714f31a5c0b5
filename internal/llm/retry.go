package llm

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ragstack/ragstack/internal/log"
	"github.com/ragstack/ragstack/internal/provider"
)

// Backoff bounds for provider retries.
const (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 10 * time.Second
)

// retryer wraps a Generator with exponential backoff on transient provider
// failures. maxRetries counts retries after the first attempt, so a request
// is tried at most maxRetries+1 times.
type retryer struct {
	inner      Generator
	maxRetries int
	logger     log.Logger
}

func newRetryer(inner Generator, maxRetries int, logger log.Logger) *retryer {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &retryer{inner: inner, maxRetries: maxRetries, logger: logger}
}

func (r *retryer) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.maxRetries)), ctx)
}

func (r *retryer) Generate(ctx context.Context, req Request) (*Response, error) {
	var (
		resp    *Response
		attempt int
	)
	start := time.Now()

	err := backoff.Retry(func() error {
		attempt++
		out, err := r.inner.Generate(ctx, req)
		if err != nil {
			if !provider.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			r.logger.Debug("generation failed, retrying",
				"provider", r.inner.Provider(),
				"attempt", attempt,
				"elapsed", time.Since(start),
				"error", err,
			)
			return err
		}
		if strings.TrimSpace(out.Text) == "" {
			return backoff.Permanent(provider.Errorf(r.inner.Provider(),
				provider.KindBadResponse, "empty completion"))
		}
		resp = out
		return nil
	}, r.policy(ctx))
	if err != nil {
		return nil, err
	}

	r.logger.Debug("generation succeeded",
		"provider", r.inner.Provider(),
		"attempts", attempt,
		"elapsed", time.Since(start),
	)
	return resp, nil
}

// Stream retries only until the first chunk has been delivered. Once any
// output reached the consumer a retry would duplicate text, so later
// failures surface as the terminal error.
func (r *retryer) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		policy := r.policy(ctx)

		for attempt := 0; ; attempt++ {
			delivered := false
			var streamErr error

			for chunk, err := range r.inner.Stream(ctx, req) {
				if err != nil {
					streamErr = err
					break
				}
				delivered = true
				if !yield(chunk, nil) {
					return
				}
			}
			if streamErr == nil {
				return
			}

			if delivered || !provider.IsRetryable(streamErr) {
				yield(Chunk{}, streamErr)
				return
			}

			wait := policy.NextBackOff()
			if wait == backoff.Stop {
				yield(Chunk{}, streamErr)
				return
			}
			r.logger.Debug("stream failed before output, retrying",
				"provider", r.inner.Provider(),
				"attempt", attempt+1,
				"delay", wait,
				"error", streamErr,
			)
			select {
			case <-ctx.Done():
				yield(Chunk{}, ctx.Err())
				return
			case <-time.After(wait):
			}
		}
	}
}

func (r *retryer) Provider() string { return r.inner.Provider() }
