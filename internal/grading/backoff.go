package grading

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/gema-grader/pkg/ai"
)

// Clock abstracts time so waits can be faked in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Sleep blocks for d or until ctx is done.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BackoffPolicy decides whether and how long an agent waits before retrying.
type BackoffPolicy struct {
	Base        time.Duration
	MaxAttempts int
	Clock       Clock
}

// NewBackoffPolicy builds the exponential policy used by agent clients.
func NewBackoffPolicy(base time.Duration, maxAttempts int, clock Clock) BackoffPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAgentRetries
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return BackoffPolicy{Base: base, MaxAttempts: maxAttempts, Clock: clock}
}

// Delay returns Base * 2^(attempt-1) for a 1-based attempt number.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.Base * time.Duration(1<<uint(attempt-1))
}

// Wait sleeps for the delay that follows the given failed attempt.
func (p BackoffPolicy) Wait(ctx context.Context, attempt int) error {
	clock := p.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return clock.Sleep(ctx, p.Delay(attempt))
}

// Retryable reports whether err is transient enough to retry on the same model.
func (p BackoffPolicy) Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ai.ErrRateLimited) || errors.Is(err, ai.ErrTransport) || errors.Is(err, ai.ErrEmptyResponse)
}
