package models

import "time"

const (
	// DefaultMaxAttempts before a job settles to dead.
	DefaultMaxAttempts = 7

	// BackoffBase is the first retry delay, doubled per attempt.
	BackoffBase = 15 * time.Second

	// BackoffCap bounds the exponential retry delay.
	BackoffCap = 6 * time.Hour

	// DefaultClaimBatch jobs per worker claim cycle.
	DefaultClaimBatch = 20

	// SyncNowBatch bounds a user-triggered inline sync.
	SyncNowBatch = 50

	// AccessTokenSafetyMargin refreshes tokens that expire within this window.
	AccessTokenSafetyMargin = 60 * time.Second

	// WatchRenewalWindow renews channels expiring within this window.
	WatchRenewalWindow = 24 * time.Hour

	// DeltaLookbackDays is the time_min window when no sync token is usable.
	DeltaLookbackDays = 365

	// ConflictSkewTolerance absorbs clock skew between the provider and the
	// task store when comparing modification timestamps.
	ConflictSkewTolerance = 2 * time.Second

	// TimedEventDuration for tasks due at a specific time.
	TimedEventDuration = 30 * time.Minute

	// StateTTL bounds the OAuth anti-forgery state lifetime.
	StateTTL = 10 * time.Minute

	// WebhookDedupeBucket collapses bursts of notifications per channel.
	WebhookDedupeBucket = time.Minute

	// JobRetentionDays before done/dead jobs are purged.
	JobRetentionDays = 30
)
