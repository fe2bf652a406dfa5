// Package retry provides the bounded exponential backoff policy shared by
// every external call in the pipeline.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/zero-day-ai/responder/responderr"
)

// Policy describes how a failing operation is retried.
// The zero value is usable and resolves to DefaultPolicy's settings.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// BaseDelay is the wait before the second attempt.
	// Default: 200ms
	BaseDelay time.Duration

	// MaxDelay caps the wait between attempts.
	// Default: 2s
	MaxDelay time.Duration

	// Multiplier grows the delay after every failed attempt.
	// Default: 2
	Multiplier float64

	// Retryable classifies errors. Defaults to responderr.IsRetryable.
	Retryable func(error) bool
}

// DefaultPolicy returns the pipeline default: 3 attempts, 200ms doubling to at most 2s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2,
		Retryable:   responderr.IsRetryable,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.Retryable == nil {
		p.Retryable = def.Retryable
	}
	return p
}

// Delay returns the wait that follows the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. It returns the number of attempts made and the
// last error.
//
// Cancellation of ctx stops further attempts; the returned error is then a
// responderr CANCELLED error wrapping ctx.Err().
//
// Example:
//
//	attempts, err := retry.DefaultPolicy().Do(ctx, func(ctx context.Context, attempt int) error {
//	    return store.Upsert(ctx, id, fields)
//	})
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	p = p.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, cancelled(err, lastErr)
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}

		if ctx.Err() != nil {
			return attempt, cancelled(ctx.Err(), lastErr)
		}

		if !p.Retryable(lastErr) || attempt == p.MaxAttempts {
			return attempt, lastErr
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempt, cancelled(ctx.Err(), lastErr)
		}
	}

	return p.MaxAttempts, lastErr
}

func cancelled(ctxErr, lastErr error) error {
	msg := "cancelled before completion"
	if lastErr != nil {
		msg = fmt.Sprintf("cancelled after error: %v", lastErr)
	}
	return responderr.New("", "", responderr.CodeCancelled, msg).WithCause(ctxErr)
}
