package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesFromBase(t *testing.T) {
	policy := DefaultRetryPolicy()

	assert.Equal(t, 15*time.Second, policy.Backoff(0))
	assert.Equal(t, 30*time.Second, policy.Backoff(1))
	assert.Equal(t, time.Minute, policy.Backoff(2))
	assert.Equal(t, 8*time.Minute, policy.Backoff(5))
}

func TestBackoffCapped(t *testing.T) {
	policy := DefaultRetryPolicy()

	assert.Equal(t, 6*time.Hour, policy.Backoff(11))
	assert.Equal(t, 6*time.Hour, policy.Backoff(50))
}

func TestBackoffMonotonic(t *testing.T) {
	policy := DefaultRetryPolicy()
	prev := time.Duration(0)
	for attempts := 0; attempts < 20; attempts++ {
		delay := policy.Backoff(attempts)
		assert.GreaterOrEqual(t, delay, prev, "attempts=%d", attempts)
		prev = delay
	}
}

func TestBackoffNegativeAttempts(t *testing.T) {
	policy := DefaultRetryPolicy()
	assert.Equal(t, policy.Backoff(0), policy.Backoff(-3))
}

func TestBackoffZeroPolicy(t *testing.T) {
	var policy RetryPolicy
	assert.Equal(t, time.Second, policy.Backoff(0))
	assert.Equal(t, 2*time.Second, policy.Backoff(1))
}
