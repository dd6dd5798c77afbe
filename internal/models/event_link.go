package models

import "time"

// Sources of the last write recorded on an event link.
const (
	SyncSourceApp    = "app"
	SyncSourceGoogle = "google"
	SyncSourceSystem = "system"
)

// EventLink correlates one internal task with its mirrored calendar event.
// A soft tombstone (IsDeleted) keeps the correlation around so a task that
// becomes eligible again re-creates its event instead of orphaning it.
type EventLink struct {
	UserID                string     `json:"user_id"`
	TaskID                string     `json:"task_id"`
	CalendarID            string     `json:"calendar_id"`
	GoogleEventID         string     `json:"google_event_id"`
	GoogleEventEtag       *string    `json:"google_event_etag"`
	GoogleEventUpdated    *time.Time `json:"google_event_updated_at"`
	LastSyncedTaskUpdated *time.Time `json:"last_synced_task_updated_at"`
	LastSyncSource        string     `json:"last_sync_source"`
	IsDeleted             bool       `json:"is_deleted"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}
