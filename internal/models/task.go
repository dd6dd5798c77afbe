package models

import "time"

// Recurrence kinds understood by the translator.
const (
	RecurrenceNone     = "none"
	RecurrenceDaily    = "daily"
	RecurrenceWeekly   = "weekly"
	RecurrenceBiweekly = "biweekly"
	RecurrenceCustom   = "custom"
)

// DateOnlyMarkerMillis flags a due date as date-only (all-day). A task due
// "sometime on the 14th" is stored as midnight with this millisecond value,
// distinguishing it from a task genuinely due at 00:00:00.000.
const DateOnlyMarkerMillis = 777

// Task is the sync engine's view of a task owned by the task store.
type Task struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	ListID             string     `json:"list_id"`
	ParentTaskID       *string    `json:"parent_task_id"`
	Title              string     `json:"title"`
	Details            string     `json:"details"`
	DueAt              *time.Time `json:"due_at"`
	Recurrence         string     `json:"recurrence"`
	RecurrenceUnit     string     `json:"recurrence_unit"`
	RecurrenceInterval int        `json:"recurrence_interval"`
	RecurrenceUntil    *time.Time `json:"recurrence_until"`
	CompletedAt        *time.Time `json:"completed_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsDateOnly reports whether the due date carries the date-only marker.
func (t *Task) IsDateOnly() bool {
	if t.DueAt == nil {
		return false
	}
	return t.DueAt.Nanosecond()/int(time.Millisecond) == DateOnlyMarkerMillis
}

// SyncEligible reports whether the task should have a mirrored event:
// open and carrying a due date.
func (t *Task) SyncEligible() bool {
	return t.CompletedAt == nil && t.DueAt != nil
}

// TaskList is a list grouping tasks; sync is opt-in per list.
type TaskList struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ListSyncSetting records the per-list opt-in. Absence of a row means
// sync is disabled for that list.
type ListSyncSetting struct {
	UserID      string    `json:"user_id"`
	ListID      string    `json:"list_id"`
	SyncEnabled bool      `json:"sync_enabled"`
	UpdatedAt   time.Time `json:"updated_at"`
}
