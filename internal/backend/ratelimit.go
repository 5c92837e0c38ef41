package backend

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

type rateLimited struct {
	next    Backend
	limiter *rate.Limiter
}

// WithRateLimit throttles b to requestsPerMinute using a token bucket. Calls
// wait for a token; they are never dropped or retried. A non-positive rate
// returns b unchanged.
func WithRateLimit(b Backend, requestsPerMinute float64) Backend {
	if requestsPerMinute <= 0 {
		return b
	}
	burst := int(requestsPerMinute / 60.0 * 2)
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{
		next:    b,
		limiter: rate.NewLimiter(rate.Limit(requestsPerMinute/60.0), burst),
	}
}

func (r *rateLimited) Name() string { return r.next.Name() }

func (r *rateLimited) Complete(ctx context.Context, messages []Message) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("backend rate limit wait: %w", err)
	}
	return r.next.Complete(ctx, messages)
}

func (r *rateLimited) Summarize(ctx context.Context, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("backend rate limit wait: %w", err)
	}
	return r.next.Summarize(ctx, prompt)
}
