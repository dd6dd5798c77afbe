package models

import "time"

// Job types routed by the sync worker.
const (
	JobTaskUpsert   = "task_upsert"
	JobTaskDelete   = "task_delete"
	JobInboundDelta = "inbound_delta"
	JobFullBackfill = "full_backfill"
	JobRenewWatch   = "renew_watch"
)

// Job statuses.
const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
	JobStatusDead    = "dead"
)

// Priorities; higher claims first.
const (
	PriorityLow    = 0
	PriorityNormal = 5
	PriorityHigh   = 10
)

// Job represents a queued synchronization job.
type Job struct {
	ID           int64      `json:"id"`
	UserID       string     `json:"user_id"`
	TaskID       *string    `json:"task_id"`
	ListID       *string    `json:"list_id"`
	JobType      string     `json:"job_type"`
	Priority     int        `json:"priority"`
	Payload      string     `json:"payload"`
	DedupeKey    *string    `json:"dedupe_key"`
	Status       string     `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	MaxAttempts  int        `json:"max_attempts"`
	RunAfter     time.Time  `json:"run_after"`
	LastError    *string    `json:"last_error"`
	LockedAt     *time.Time `json:"locked_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
