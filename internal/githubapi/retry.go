package githubapi

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy decides how often and how patiently a request is retried.
type RetryPolicy struct {
	// Retryable reports whether a failed attempt may be retried.
	// Defaults to IsRetryable.
	Retryable       func(error) bool
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the backoff randomization factor, 0 for none.
	Jitter float64
}

// DefaultRetryPolicy: three attempts, waiting 1s then 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		Retryable:       IsRetryable,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Retryable == nil {
		p.Retryable = d.Retryable
	}
	return p
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
	}
}

// Execute runs op until it succeeds, fails permanently, or the attempt budget
// is spent. It returns the number of attempts made.
func Execute[T any](ctx context.Context, policy RetryPolicy, op func(attempt int) (T, error)) (T, int, error) {
	p := policy.withDefaults()
	attempts := 0

	result, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := op(attempts)
		if err != nil && !p.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "retrying github request",
				"attempt", attempts,
				"max_attempts", p.MaxAttempts,
				"backoff", next,
				"error", err)
		}),
	)

	// Retry leaves the wrapper in place when the last allowed attempt was permanent.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		apiErr.Attempts = attempts
	}
	return result, attempts, err
}
