package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/akhi19-dev/incident-agent/internal/config"
	"github.com/akhi19-dev/incident-agent/internal/metrics"
	"github.com/akhi19-dev/incident-agent/internal/utils"
)

// RetryPolicy bounds provider retries and request rate.
type RetryPolicy struct {
	Initial           time.Duration
	Max               time.Duration
	Attempts          uint
	RequestsPerSecond float64
}

// PolicyFromConfig extracts the retry policy from the LLM config.
func PolicyFromConfig(cfg config.LLMConfig) RetryPolicy {
	return RetryPolicy{
		Initial:           cfg.RetryInitial,
		Max:               cfg.RetryMax,
		Attempts:          cfg.RetryAttempts,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}
}

type retrier struct {
	policy  RetryPolicy
	limiter *rate.Limiter
}

func newRetrier(policy RetryPolicy) *retrier {
	if policy.Attempts == 0 {
		policy.Attempts = 1
	}
	if policy.Initial <= 0 {
		policy.Initial = time.Second
	}
	if policy.Max < policy.Initial {
		policy.Max = policy.Initial
	}
	r := &retrier{policy: policy}
	if policy.RequestsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(policy.RequestsPerSecond), 1)
	}
	return r
}

// retry runs op with randomised exponential backoff, waiting on the rate limiter before every attempt.
func retry[T any](ctx context.Context, r *retrier, op func(context.Context) (T, error)) (T, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.policy.Initial
	exp.MaxInterval = r.policy.Max

	return backoff.Retry(ctx, func() (T, error) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				var zero T
				return zero, backoff.Permanent(err)
			}
		}
		return op(ctx)
	}, backoff.WithBackOff(exp), backoff.WithMaxTries(r.policy.Attempts), backoff.WithMaxElapsedTime(0))
}

// RetryingEmbedder retries an Embedder under a RetryPolicy.
type RetryingEmbedder struct {
	inner  Embedder
	retry  *retrier
	logger *slog.Logger
}

// NewRetryingEmbedder wraps inner.
func NewRetryingEmbedder(inner Embedder, policy RetryPolicy, logger *slog.Logger) *RetryingEmbedder {
	return &RetryingEmbedder{inner: inner, retry: newRetrier(policy), logger: utils.Component(logger, "llm")}
}

// Embed returns the embedding or the last error once attempts are exhausted.
func (e *RetryingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := retry(ctx, e.retry, func(ctx context.Context) ([]float32, error) {
		return e.inner.Embed(ctx, text)
	})
	metrics.ObserveLLM("embed", err)
	if err != nil {
		e.logger.Warn("embedding failed", slog.Any("error", err))
		return nil, err
	}
	return vec, nil
}
