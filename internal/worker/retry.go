package worker

import (
	"context"
	"math"
	"time"
)

// RetryPolicy is the exponential backoff shared by the expiry sweeper and
// the redis lot locker.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns the delay before attempt (1-based), clamped to MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := r.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	d := time.Duration(float64(initial) * math.Pow(factor, float64(attempt-1)))
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// Exhausted reports whether attempt has used up MaxRetries.
func (r RetryPolicy) Exhausted(attempt int) bool {
	return attempt > r.MaxRetries
}

// Sleep waits out the delay before attempt or returns ctx.Err() if ctx ends first.
func (r RetryPolicy) Sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(r.NextDelay(attempt))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
