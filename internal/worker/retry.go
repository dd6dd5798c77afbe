package worker

import (
	"time"

	"calsync/internal/models"
)

// RetryPolicy defines capped exponential backoff parameters.
type RetryPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy doubles from 15s and caps at 6h.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay: models.BackoffBase,
		MaxDelay:     models.BackoffCap,
	}
}

// Backoff returns the delay before the next attempt given the number of
// attempts already made: initial * 2^attempts, clamped to MaxDelay.
func (r RetryPolicy) Backoff(attempts int) time.Duration {
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if attempts < 0 {
		attempts = 0
	}

	delay := r.InitialDelay
	for i := 0; i < attempts; i++ {
		delay *= 2
		if r.MaxDelay > 0 && delay >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	return delay
}
