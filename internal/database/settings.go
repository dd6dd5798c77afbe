package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"calsync/internal/models"
)

// SetListSync records the per-list opt-in.
func (db *DB) SetListSync(ctx context.Context, userID, listID string, enabled bool) error {
	query := `INSERT INTO list_sync_settings (user_id, list_id, sync_enabled, updated_at)
              VALUES (?, ?, ?, ?)
              ON CONFLICT(user_id, list_id) DO UPDATE SET
                sync_enabled = excluded.sync_enabled,
                updated_at = excluded.updated_at`
	_, err := db.db.ExecContext(ctx, query, userID, listID, enabled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set list sync: %w", err)
	}
	return nil
}

// ListSyncEnabled reports whether sync is on for a list. Absence of a row
// means disabled.
func (db *DB) ListSyncEnabled(ctx context.Context, userID, listID string) (bool, error) {
	var enabled bool
	err := db.db.QueryRowContext(ctx,
		`SELECT sync_enabled FROM list_sync_settings WHERE user_id = ? AND list_id = ?`,
		userID, listID).Scan(&enabled)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to get list sync setting: %w", err)
	}
	return enabled, nil
}

// ListSyncSettings returns all settings rows for a user.
func (db *DB) ListSyncSettings(ctx context.Context, userID string) ([]models.ListSyncSetting, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT user_id, list_id, sync_enabled, updated_at FROM list_sync_settings WHERE user_id = ? ORDER BY list_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get list sync settings: %w", err)
	}
	defer rows.Close()

	var settings []models.ListSyncSetting
	for rows.Next() {
		var s models.ListSyncSetting
		if err := rows.Scan(&s.UserID, &s.ListID, &s.SyncEnabled, &s.UpdatedAt); err != nil {
			return nil, err
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

// EnabledListIDs returns the lists a user has opted in for sync.
func (db *DB) EnabledListIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT list_id FROM list_sync_settings WHERE user_id = ? AND sync_enabled = 1 ORDER BY list_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get enabled lists: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
