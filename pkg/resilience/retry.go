package resilience

import (
	"context"
	"time"
)

// RetryPolicy defines how often and how far apart an operation is re-attempted.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff, MaxBackoff: 8 * backoff}
}

// Do runs fn until it succeeds, attempts run out or ctx ends.
// Each wait doubles, capped at MaxBackoff when set.
func (r RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	wait := r.Backoff
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		err = fn(i)
		if err == nil {
			return nil
		}
		if i == r.MaxRetries {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait *= 2
		if r.MaxBackoff > 0 && wait > r.MaxBackoff {
			wait = r.MaxBackoff
		}
	}
	return err
}
