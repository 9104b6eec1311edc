package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy configures retry behavior for calls to external collaborators.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the starting backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// Retryable optionally overrides the default retryability check.
	Retryable func(error) bool

	// OnRetry is called before sleeping between attempts.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy is the standard retry policy for reasoning and search calls.
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry disables retries.
var NoRetry = Policy{
	MaxAttempts: 1,
}

// Do executes fn until it succeeds, returns a non-retryable error, the
// attempts are exhausted, or ctx is done. The returned error is always a
// *CategorizedError carrying the attempt count.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	backoff := p.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, &CategorizedError{Err: err, Category: CategoryPermanent, Attempts: attempt - 1, Context: "context done"}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable(err) {
			return zero, &CategorizedError{Err: err, Category: Categorize(err), Attempts: attempt}
		}

		if attempt == attempts {
			break
		}

		wait := withJitter(backoff, p.Jitter)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &CategorizedError{Err: ctx.Err(), Category: CategoryPermanent, Attempts: attempt, Context: "context done during backoff"}
		case <-timer.C:
		}

		backoff = nextBackoff(backoff, p.BackoffFactor, p.MaxBackoff)
	}

	return zero, &CategorizedError{
		Err:      lastErr,
		Category: Categorize(lastErr),
		Attempts: attempts,
		Context:  "max attempts exceeded",
	}
}

func nextBackoff(current time.Duration, factor float64, limit time.Duration) time.Duration {
	if factor <= 0 {
		factor = 1
	}
	next := time.Duration(float64(current) * factor)
	if limit > 0 && next > limit {
		return limit
	}
	return next
}

// withJitter returns base +/- (base * jitter * random).
func withJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || base <= 0 {
		return base
	}
	delta := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + delta)
}
