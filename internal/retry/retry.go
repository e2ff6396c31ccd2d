package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Policy configures exponential backoff between attempts.
type Policy struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultPolicy is the upload policy: three attempts, 500ms doubling to at most 4s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     4 * time.Second,
		Multiplier:  2,
	}
}

// Classifier reports whether an error is worth another attempt.
type Classifier func(error) bool

// Operation is one attempt. attempt starts at 1.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Hook runs after a failed attempt, before the wait that precedes the next one.
type Hook func(next, max int, err error, wait time.Duration)

// Option customises a single Do call.
type Option func(*settings)

type settings struct {
	beforeRetry Hook
	jitter      bool
}

// BeforeRetry registers a hook invoked ahead of every retry.
func BeforeRetry(h Hook) Option {
	return func(s *settings) { s.beforeRetry = h }
}

// WithoutJitter disables the ±20% randomisation.
func WithoutJitter() Option {
	return func(s *settings) { s.jitter = false }
}

// Do runs op until it succeeds, returns a non-retryable error, or the policy
// runs out of attempts. The last error is returned unchanged.
func Do[T any](ctx context.Context, policy Policy, retryable Classifier, op Operation[T], opts ...Option) (T, int, error) {
	cfg := settings{jitter: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := op(ctx, attempt)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if !shouldRetry(err, retryable) {
			return zero, attempt, err
		}

		// No wait after the final attempt.
		if attempt == maxAttempts {
			break
		}

		wait := policy.backoff(attempt-1, cfg.jitter)
		if cfg.beforeRetry != nil {
			cfg.beforeRetry(attempt+1, maxAttempts, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, attempt, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, maxAttempts, lastErr
}

func shouldRetry(err error, retryable Classifier) bool {
	// Context errors are never retried.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if retryable == nil {
		return true
	}
	return retryable(err)
}

func (p Policy) backoff(retry int, jitter bool) time.Duration {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}

	wait := float64(p.InitialWait) * math.Pow(multiplier, float64(retry))
	if p.MaxWait > 0 && wait > float64(p.MaxWait) {
		wait = float64(p.MaxWait)
	}

	if jitter {
		wait += wait * 0.2 * (2*rand.Float64() - 1)
	}
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}
