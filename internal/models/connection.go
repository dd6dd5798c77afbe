package models

import "time"

// Connection statuses.
const (
	ConnectionConnected    = "connected"
	ConnectionError        = "error"
	ConnectionDisconnected = "disconnected"
)

// Sync cursor states. "fresh" means the stored sync token is usable,
// "invalidated" means the provider rejected it (410) and the next delta
// run must use a full lookback window, "none" means no token was ever stored.
const (
	CursorFresh       = "fresh"
	CursorInvalidated = "invalidated"
	CursorNone        = "none"
)

// Connection is the public half of a user's calendar connection.
// It never carries tokens; those live in ConnectionSecrets.
type Connection struct {
	UserID                string     `json:"user_id"`
	Status                string     `json:"status"`
	ProviderEmail         *string    `json:"provider_email"`
	CalendarID            *string    `json:"selected_calendar_id"`
	CalendarSummary       *string    `json:"selected_calendar_summary"`
	LastFullSyncAt        *time.Time `json:"last_full_sync_at"`
	LastIncrementalSyncAt *time.Time `json:"last_incremental_sync_at"`
	LastError             *string    `json:"last_error"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// ConnectionSecrets is the private half: encrypted OAuth material and
// watch-channel state. Deleted entirely on disconnect.
type ConnectionSecrets struct {
	UserID               string     `json:"user_id"`
	RefreshTokenEnc      string     `json:"-"`
	AccessTokenEnc       *string    `json:"-"`
	AccessTokenExpiresAt *time.Time `json:"access_token_expires_at"`
	SyncToken            *string    `json:"-"`
	CursorState          string     `json:"cursor_state"`
	ChannelID            *string    `json:"channel_id"`
	ChannelResourceID    *string    `json:"channel_resource_id"`
	ChannelTokenHash     *string    `json:"-"`
	ChannelExpiration    *time.Time `json:"channel_expiration"`
	UpdatedAt            time.Time  `json:"updated_at"`
}
