// Package retry provides a reusable retry combinator whose classification and
// backoff are supplied by the caller.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Decision tells Do what to do after a failed attempt.
type Decision struct {
	// Retry is false for errors that must not be retried in place.
	Retry bool
	// Wait is the delay before the next attempt. Zero means retry immediately.
	Wait time.Duration
}

// Stop is the decision for permanent errors.
var Stop = Decision{}

// Classifier inspects an error from attempt n (0-based) and decides whether to retry.
type Classifier func(err error, attempt int) Decision

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy parameterizes Do.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Classify decides retry and wait per error. Nil means never retry.
	Classify Classifier
	// Sleep defaults to SleepContext. Tests inject a recorder here.
	Sleep SleepFunc
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// ExhaustedError is returned when every allowed attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retries exceeded after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Do runs op until it succeeds, the classifier stops it, the retry ceiling is hit
// or ctx is canceled. Permanent errors are returned unwrapped.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if p.Classify == nil {
			return zero, err
		}
		decision := p.Classify(err, attempt)
		if !decision.Retry {
			return zero, err
		}
		if attempt == p.MaxRetries {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, decision.Wait)
		}
		if decision.Wait > 0 {
			if err := sleep(ctx, decision.Wait); err != nil {
				return zero, err
			}
		}
	}

	return zero, &ExhaustedError{Attempts: p.MaxRetries + 1, Last: lastErr}
}

// SleepContext sleeps for d or returns ctx.Err() if ctx finishes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff computes an exponential delay for a 0-based attempt number.
type Backoff struct {
	Initial        time.Duration
	Max            time.Duration
	Multiplier     float64
	JitterFraction float64
}

// DefaultBackoff returns the backoff used for transient extraction failures.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:        1 * time.Second,
		Max:            15 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

// Delay returns the wait before retry number attempt+1.
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Initial)
	for i := 0; i < attempt; i++ {
		d *= b.Multiplier
		if b.Max > 0 && d > float64(b.Max) {
			d = float64(b.Max)
			break
		}
	}
	wait := time.Duration(d) + jitter(time.Duration(d), b.JitterFraction)
	if b.Max > 0 && wait > b.Max {
		wait = b.Max
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// jitter returns a random duration in range [-fraction*d, +fraction*d].
func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return 0
	}
	r := float64(d) * fraction
	return time.Duration((rand.Float64() - 0.5) * 2 * r)
}
