// Package retry centralizes exponential-backoff retry so call sites never
// sprinkle their own sleep/attempt loops. Grounded on the teacher's
// v2/rag/retry.Retryer, generalized from substring-matched errors to an
// explicit Classifier so the migration engine (spec.md §4.4.5) can retry
// on a fixed error-code catalog instead of string sniffing.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy configures one retry run.
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// Classifier decides whether an error returned by the wrapped function is
// worth retrying at all. When nil, every error is considered retryable
// until attempts are exhausted.
type Classifier func(err error) bool

// OnAttempt is called after each failed attempt, before the delay sleep,
// so callers can log "attempt N, delay D" without embedding logging here.
type OnAttempt func(attempt int, delay time.Duration, err error)

// Do runs fn, retrying per policy. It returns the error unchanged once
// the classifier rejects it, and an *ExhaustedError wrapping the last
// error once attempts are exhausted.
func Do(ctx context.Context, policy Policy, classify Classifier, onAttempt OnAttempt, fn func() error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 5 * time.Minute
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if classify != nil && !classify(err) {
			return err
		}
		if attempt == policy.MaxAttempts-1 {
			return &ExhaustedError{Attempts: attempt + 1, LastError: lastErr}
		}

		delay := calculateDelay(policy, attempt)
		if onAttempt != nil {
			onAttempt(attempt+1, delay, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func calculateDelay(policy Policy, attempt int) time.Duration {
	delay := time.Duration(math.Pow(2, float64(attempt))) * policy.BaseDelay
	jitterFactor := policy.JitterFactor
	if jitterFactor <= 0 {
		jitterFactor = 0.1
	}
	jitter := time.Duration(rand.Float64() * float64(delay) * jitterFactor)
	if rand.Float64() < 0.5 {
		delay -= jitter
	} else {
		delay += jitter
	}
	if delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// ExhaustedError wraps the last error once a retry budget runs out.
type ExhaustedError struct {
	Attempts  int
	LastError error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastError)
}

func (e *ExhaustedError) Unwrap() error { return e.LastError }
