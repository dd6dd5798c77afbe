package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"calsync/internal/models"
)

const connectionColumns = `user_id, status, provider_email, calendar_id, calendar_summary,
        last_full_sync_at, last_incremental_sync_at, last_error, created_at, updated_at`

const secretsColumns = `user_id, refresh_token_enc, access_token_enc, access_token_expires_at,
        sync_token, cursor_state, channel_id, channel_resource_id, channel_token_hash,
        channel_expiration, updated_at`

// UpsertConnection creates or refreshes the public connection record.
func (db *DB) UpsertConnection(ctx context.Context, conn *models.Connection) error {
	now := time.Now().UTC()
	query := `INSERT INTO calendar_connections
                (user_id, status, provider_email, calendar_id, calendar_summary, last_error, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(user_id) DO UPDATE SET
                status = excluded.status,
                provider_email = COALESCE(excluded.provider_email, provider_email),
                calendar_id = COALESCE(excluded.calendar_id, calendar_id),
                calendar_summary = COALESCE(excluded.calendar_summary, calendar_summary),
                last_error = excluded.last_error,
                updated_at = excluded.updated_at`

	_, err := db.db.ExecContext(ctx, query,
		conn.UserID,
		conn.Status,
		conn.ProviderEmail,
		conn.CalendarID,
		conn.CalendarSummary,
		conn.LastError,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}
	return nil
}

// GetConnection returns the public connection record for a user.
func (db *DB) GetConnection(ctx context.Context, userID string) (*models.Connection, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM calendar_connections WHERE user_id = ?`, userID)

	var (
		conn            models.Connection
		providerEmail   sql.NullString
		calendarID      sql.NullString
		calendarSummary sql.NullString
		lastFull        sql.NullTime
		lastIncremental sql.NullTime
		lastError       sql.NullString
	)
	err := row.Scan(
		&conn.UserID,
		&conn.Status,
		&providerEmail,
		&calendarID,
		&calendarSummary,
		&lastFull,
		&lastIncremental,
		&lastError,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	if providerEmail.Valid {
		conn.ProviderEmail = &providerEmail.String
	}
	if calendarID.Valid {
		conn.CalendarID = &calendarID.String
	}
	if calendarSummary.Valid {
		conn.CalendarSummary = &calendarSummary.String
	}
	if lastFull.Valid {
		conn.LastFullSyncAt = &lastFull.Time
	}
	if lastIncremental.Valid {
		conn.LastIncrementalSyncAt = &lastIncremental.Time
	}
	if lastError.Valid {
		conn.LastError = &lastError.String
	}
	return &conn, nil
}

// SetConnectionStatus updates status and last_error on the health record.
func (db *DB) SetConnectionStatus(ctx context.Context, userID, status string, lastError *string) error {
	_, err := db.db.ExecContext(ctx,
		`UPDATE calendar_connections SET status = ?, last_error = ?, updated_at = ? WHERE user_id = ?`,
		status, lastError, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to set connection status: %w", err)
	}
	return nil
}

// MarkFullSync records a completed backfill and clears any stale error.
func (db *DB) MarkFullSync(ctx context.Context, userID string, at time.Time) error {
	_, err := db.db.ExecContext(ctx,
		`UPDATE calendar_connections
         SET last_full_sync_at = ?, status = 'connected', last_error = NULL, updated_at = ?
         WHERE user_id = ?`,
		at, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to mark full sync: %w", err)
	}
	return nil
}

// MarkIncrementalSync records a completed delta run and clears any stale error.
func (db *DB) MarkIncrementalSync(ctx context.Context, userID string, at time.Time) error {
	_, err := db.db.ExecContext(ctx,
		`UPDATE calendar_connections
         SET last_incremental_sync_at = ?, status = 'connected', last_error = NULL, updated_at = ?
         WHERE user_id = ?`,
		at, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to mark incremental sync: %w", err)
	}
	return nil
}

// SelectCalendar persists the user's target calendar.
func (db *DB) SelectCalendar(ctx context.Context, userID, calendarID, summary string) error {
	_, err := db.db.ExecContext(ctx,
		`UPDATE calendar_connections SET calendar_id = ?, calendar_summary = ?, updated_at = ? WHERE user_id = ?`,
		calendarID, summary, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to select calendar: %w", err)
	}
	return nil
}

// Disconnect deletes the secrets row and soft-updates the public record.
// The public row survives so status history and email remain visible.
func (db *DB) Disconnect(ctx context.Context, userID string) error {
	if _, err := db.db.ExecContext(ctx,
		`DELETE FROM calendar_secrets WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete secrets: %w", err)
	}
	_, err := db.db.ExecContext(ctx,
		`UPDATE calendar_connections SET status = 'disconnected', last_error = NULL, updated_at = ? WHERE user_id = ?`,
		time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	return nil
}

// UpsertSecrets creates or replaces the OAuth material for a user.
func (db *DB) UpsertSecrets(ctx context.Context, s *models.ConnectionSecrets) error {
	if s.CursorState == "" {
		s.CursorState = models.CursorNone
	}
	query := `INSERT INTO calendar_secrets
                (user_id, refresh_token_enc, access_token_enc, access_token_expires_at,
                 sync_token, cursor_state, channel_id, channel_resource_id, channel_token_hash,
                 channel_expiration, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(user_id) DO UPDATE SET
                refresh_token_enc = excluded.refresh_token_enc,
                access_token_enc = excluded.access_token_enc,
                access_token_expires_at = excluded.access_token_expires_at,
                sync_token = excluded.sync_token,
                cursor_state = excluded.cursor_state,
                channel_id = excluded.channel_id,
                channel_resource_id = excluded.channel_resource_id,
                channel_token_hash = excluded.channel_token_hash,
                channel_expiration = excluded.channel_expiration,
                updated_at = excluded.updated_at`

	_, err := db.db.ExecContext(ctx, query,
		s.UserID,
		s.RefreshTokenEnc,
		s.AccessTokenEnc,
		s.AccessTokenExpiresAt,
		s.SyncToken,
		s.CursorState,
		s.ChannelID,
		s.ChannelResourceID,
		s.ChannelTokenHash,
		s.ChannelExpiration,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert secrets: %w", err)
	}
	return nil
}

// GetSecrets returns the secrets row for a user.
func (db *DB) GetSecrets(ctx context.Context, userID string) (*models.ConnectionSecrets, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+secretsColumns+` FROM calendar_secrets WHERE user_id = ?`, userID)
	return scanSecrets(row)
}

// GetSecretsByChannel resolves a webhook notification to its owning user.
func (db *DB) GetSecretsByChannel(ctx context.Context, channelID, resourceID string) (*models.ConnectionSecrets, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+secretsColumns+` FROM calendar_secrets WHERE channel_id = ? AND channel_resource_id = ?`,
		channelID, resourceID)
	return scanSecrets(row)
}

// UpdateAccessToken stores a freshly minted (encrypted) access token.
func (db *DB) UpdateAccessToken(ctx context.Context, userID, accessTokenEnc string, expiresAt time.Time) error {
	_, err := db.db.ExecContext(ctx,
		`UPDATE calendar_secrets SET access_token_enc = ?, access_token_expires_at = ?, updated_at = ? WHERE user_id = ?`,
		accessTokenEnc, expiresAt, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}
	return nil
}

// UpdateSyncCursor stores the delta cursor and its explicit state.
func (db *DB) UpdateSyncCursor(ctx context.Context, userID string, syncToken *string, state string) error {
	_, err := db.db.ExecContext(ctx,
		`UPDATE calendar_secrets SET sync_token = ?, cursor_state = ?, updated_at = ? WHERE user_id = ?`,
		syncToken, state, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update sync cursor: %w", err)
	}
	return nil
}

// UpdateWatchChannel replaces the watch-channel fields after a renewal.
func (db *DB) UpdateWatchChannel(ctx context.Context, userID string, channelID, resourceID, tokenHash string, expiration time.Time) error {
	_, err := db.db.ExecContext(ctx,
		`UPDATE calendar_secrets
         SET channel_id = ?, channel_resource_id = ?, channel_token_hash = ?, channel_expiration = ?, updated_at = ?
         WHERE user_id = ?`,
		channelID, resourceID, tokenHash, expiration, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update watch channel: %w", err)
	}
	return nil
}

// ConnectedUserIDs returns users whose connection is currently usable.
func (db *DB) ConnectedUserIDs(ctx context.Context) ([]string, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT user_id FROM calendar_connections WHERE status IN ('connected', 'error') ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list connected users: %w", err)
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

// ExpiringWatchUserIDs returns users whose watch channel expires before the
// cutoff, or who have a connection but no channel at all.
func (db *DB) ExpiringWatchUserIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT s.user_id FROM calendar_secrets s
         JOIN calendar_connections c ON c.user_id = s.user_id
         WHERE c.status = 'connected'
           AND (s.channel_expiration IS NULL OR s.channel_expiration <= ?)
         ORDER BY s.user_id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring watches: %w", err)
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

func scanSecrets(row *sql.Row) (*models.ConnectionSecrets, error) {
	var (
		s                 models.ConnectionSecrets
		accessTokenEnc    sql.NullString
		accessExpires     sql.NullTime
		syncToken         sql.NullString
		channelID         sql.NullString
		channelResourceID sql.NullString
		channelTokenHash  sql.NullString
		channelExpiration sql.NullTime
	)
	err := row.Scan(
		&s.UserID,
		&s.RefreshTokenEnc,
		&accessTokenEnc,
		&accessExpires,
		&syncToken,
		&s.CursorState,
		&channelID,
		&channelResourceID,
		&channelTokenHash,
		&channelExpiration,
		&s.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan secrets: %w", err)
	}

	if accessTokenEnc.Valid {
		s.AccessTokenEnc = &accessTokenEnc.String
	}
	if accessExpires.Valid {
		s.AccessTokenExpiresAt = &accessExpires.Time
	}
	if syncToken.Valid {
		s.SyncToken = &syncToken.String
	}
	if channelID.Valid {
		s.ChannelID = &channelID.String
	}
	if channelResourceID.Valid {
		s.ChannelResourceID = &channelResourceID.String
	}
	if channelTokenHash.Valid {
		s.ChannelTokenHash = &channelTokenHash.String
	}
	if channelExpiration.Valid {
		s.ChannelExpiration = &channelExpiration.Time
	}
	return &s, nil
}
