package framework

import (
	"context"
	"time"
)

// DefaultMaxAttempts is the reference attempt budget for a tool call.
const DefaultMaxAttempts = 3

// DefaultBackoffStep is the linear backoff unit between attempts.
const DefaultBackoffStep = 800 * time.Millisecond

// RetryPolicy is the single retry component applied to every tool call.
// The zero value retries retryable ToolErrors up to DefaultMaxAttempts with
// linear backoff.
type RetryPolicy struct {
	MaxAttempts int
	Retryable   func(error) bool
	// Backoff returns the pause after the given failed attempt (1-based).
	Backoff func(attempt int) time.Duration
}

// LinearBackoff waits step*attempt after each failure.
func LinearBackoff(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt)
	}
}

// NoBackoff retries immediately.
func NoBackoff(int) time.Duration { return 0 }

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsRetryable(err)
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.Backoff != nil {
		return p.Backoff(attempt)
	}
	return LinearBackoff(DefaultBackoffStep)(attempt)
}

// Do invokes fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. It reports how many attempts were made. fn must
// not mutate shared state; each attempt is independent.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	limit := p.maxAttempts()
	var err error
	for attempt := 1; attempt <= limit; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if !p.retryable(err) || attempt == limit {
			return attempt, err
		}
		if wait := p.backoff(attempt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, err
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return attempt, err
		}
	}
	return limit, err
}
