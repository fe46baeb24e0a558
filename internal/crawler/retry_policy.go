package crawler

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"
)

// RetryPolicy retries transient failures with a fixed or growing delay.
// Multiplier <= 1 keeps the delay constant.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	// Jitter spreads each delay across [delay/2, delay).
	Jitter bool
}

// RetryEvent describes a failed attempt that will be retried after Delay.
type RetryEvent struct {
	Attempt int
	Err     error
	Delay   time.Duration
}

// ExhaustedError is returned once every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// DefaultRetryPolicy returns three attempts with a doubling 2s delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       2 * time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
	}
}

// ShouldRetry decides whether the error is retryable after attempt attempts.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.attempts() {
		return false
	}
	if IsPermanent(err) {
		return false
	}
	switch KindOf(err) {
	case KindChallenge, KindValidation, KindCanceled:
		return false
	default:
		return true
	}
}

// Backoff returns the wait duration after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.Delay)
	if p.Multiplier > 1 {
		delay *= math.Pow(p.Multiplier, float64(attempt-1))
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if !p.Jitter {
		return time.Duration(delay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

// Do runs op until it succeeds, returns a non-retryable error, or exhausts
// MaxAttempts. The attempt counter is local to each call.
func (p RetryPolicy) Do(
	ctx context.Context,
	clock Clock,
	op func(ctx context.Context, attempt int) error,
	onRetry func(RetryEvent),
) error {
	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				return fmt.Errorf("retry canceled: %w", ctxErr)
			}
			return err
		}
		err = op(ctx, attempt)
		if err == nil {
			return nil
		}
		if !p.ShouldRetry(err, attempt) {
			if attempt >= p.attempts() {
				return &ExhaustedError{Attempts: attempt, Err: err}
			}
			return err
		}
		delay := p.Backoff(attempt)
		if onRetry != nil {
			onRetry(RetryEvent{Attempt: attempt, Err: err, Delay: delay})
		}
		if delay > 0 {
			if sleepErr := clock.Sleep(ctx, delay); sleepErr != nil {
				return err
			}
		}
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
