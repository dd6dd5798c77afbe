package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"calsync/internal/models"
)

const linkColumns = `user_id, task_id, calendar_id, google_event_id, google_event_etag,
        google_event_updated_at, last_synced_task_updated_at, last_sync_source, is_deleted,
        created_at, updated_at`

// UpsertLink creates or replaces the task↔event correlation. The conflict
// target on task_id makes concurrent writers last-write-wins at the storage
// layer, which is the race resolution the queue relies on.
func (db *DB) UpsertLink(ctx context.Context, link *models.EventLink) error {
	now := time.Now().UTC()
	query := `INSERT INTO event_links
                (user_id, task_id, calendar_id, google_event_id, google_event_etag,
                 google_event_updated_at, last_synced_task_updated_at, last_sync_source,
                 is_deleted, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(task_id) DO UPDATE SET
                calendar_id = excluded.calendar_id,
                google_event_id = excluded.google_event_id,
                google_event_etag = excluded.google_event_etag,
                google_event_updated_at = excluded.google_event_updated_at,
                last_synced_task_updated_at = excluded.last_synced_task_updated_at,
                last_sync_source = excluded.last_sync_source,
                is_deleted = excluded.is_deleted,
                updated_at = excluded.updated_at`

	_, err := db.db.ExecContext(ctx, query,
		link.UserID,
		link.TaskID,
		link.CalendarID,
		link.GoogleEventID,
		link.GoogleEventEtag,
		link.GoogleEventUpdated,
		link.LastSyncedTaskUpdated,
		link.LastSyncSource,
		link.IsDeleted,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert event link: %w", err)
	}
	return nil
}

// GetLinkByTask returns the link for a task, deleted or not.
func (db *DB) GetLinkByTask(ctx context.Context, taskID string) (*models.EventLink, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM event_links WHERE task_id = ?`, taskID)
	return scanLink(row)
}

// GetLinkByEvent resolves a provider event id back to its link.
func (db *DB) GetLinkByEvent(ctx context.Context, userID, googleEventID string) (*models.EventLink, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM event_links WHERE user_id = ? AND google_event_id = ?`,
		userID, googleEventID)
	return scanLink(row)
}

// MarkLinkDeleted soft-tombstones the link, keeping the correlation for
// future re-creation.
func (db *DB) MarkLinkDeleted(ctx context.Context, taskID, source string) error {
	_, err := db.db.ExecContext(ctx,
		`UPDATE event_links SET is_deleted = 1, last_sync_source = ?, updated_at = ? WHERE task_id = ?`,
		source, time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("failed to mark link deleted: %w", err)
	}
	return nil
}

func scanLink(row *sql.Row) (*models.EventLink, error) {
	var (
		link          models.EventLink
		etag          sql.NullString
		eventUpdated  sql.NullTime
		syncedUpdated sql.NullTime
	)
	err := row.Scan(
		&link.UserID,
		&link.TaskID,
		&link.CalendarID,
		&link.GoogleEventID,
		&etag,
		&eventUpdated,
		&syncedUpdated,
		&link.LastSyncSource,
		&link.IsDeleted,
		&link.CreatedAt,
		&link.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan event link: %w", err)
	}

	if etag.Valid {
		link.GoogleEventEtag = &etag.String
	}
	if eventUpdated.Valid {
		link.GoogleEventUpdated = &eventUpdated.Time
	}
	if syncedUpdated.Valid {
		link.LastSyncedTaskUpdated = &syncedUpdated.Time
	}
	return &link, nil
}
