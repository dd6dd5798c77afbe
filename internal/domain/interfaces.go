package domain

import (
	"context"
	"time"

	"calsync/internal/google"
	"calsync/internal/models"

	"google.golang.org/api/calendar/v3"
)

// Queue is the durable job queue contract.
type Queue interface {
	Enqueue(ctx context.Context, job *models.Job) error
	Claim(ctx context.Context, batch int, userID string) ([]models.Job, error)
	Complete(ctx context.Context, jobID int64) error
	Fail(ctx context.Context, jobID int64, errMsg string, retryDelay time.Duration) error
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	DeadJobs(ctx context.Context) ([]models.Job, error)
	FailedJobs(ctx context.Context) ([]models.Job, error)
	PurgeJobs(ctx context.Context, olderThan time.Time) (int64, error)
}

// ConnectionRepository persists connection health and secrets.
type ConnectionRepository interface {
	UpsertConnection(ctx context.Context, conn *models.Connection) error
	GetConnection(ctx context.Context, userID string) (*models.Connection, error)
	SetConnectionStatus(ctx context.Context, userID, status string, lastError *string) error
	MarkFullSync(ctx context.Context, userID string, at time.Time) error
	MarkIncrementalSync(ctx context.Context, userID string, at time.Time) error
	SelectCalendar(ctx context.Context, userID, calendarID, summary string) error
	Disconnect(ctx context.Context, userID string) error
	UpsertSecrets(ctx context.Context, s *models.ConnectionSecrets) error
	GetSecrets(ctx context.Context, userID string) (*models.ConnectionSecrets, error)
	GetSecretsByChannel(ctx context.Context, channelID, resourceID string) (*models.ConnectionSecrets, error)
	UpdateAccessToken(ctx context.Context, userID, accessTokenEnc string, expiresAt time.Time) error
	UpdateSyncCursor(ctx context.Context, userID string, syncToken *string, state string) error
	UpdateWatchChannel(ctx context.Context, userID, channelID, resourceID, tokenHash string, expiration time.Time) error
	ConnectedUserIDs(ctx context.Context) ([]string, error)
	ExpiringWatchUserIDs(ctx context.Context, cutoff time.Time) ([]string, error)
}

// EventLinkRepository persists task↔event correlations.
type EventLinkRepository interface {
	UpsertLink(ctx context.Context, link *models.EventLink) error
	GetLinkByTask(ctx context.Context, taskID string) (*models.EventLink, error)
	GetLinkByEvent(ctx context.Context, userID, googleEventID string) (*models.EventLink, error)
	MarkLinkDeleted(ctx context.Context, taskID, source string) error
}

// ListSettingsRepository persists the per-list sync opt-in.
type ListSettingsRepository interface {
	SetListSync(ctx context.Context, userID, listID string, enabled bool) error
	ListSyncEnabled(ctx context.Context, userID, listID string) (bool, error)
	ListSyncSettings(ctx context.Context, userID string) ([]models.ListSyncSetting, error)
	EnabledListIDs(ctx context.Context, userID string) ([]string, error)
}

// TaskStore is the engine's view of the task subsystem. It owns task CRUD;
// the sync engine only reads tasks and applies inbound field changes.
type TaskStore interface {
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	ApplyEventToTask(ctx context.Context, taskID, title, details string, dueAt *time.Time, eventUpdated time.Time) error
	OpenTasksWithDueDate(ctx context.Context, userID string, listIDs []string) ([]models.Task, error)
}

// CalendarAPI is the typed wrapper over the provider's REST surface.
type CalendarAPI interface {
	ListCalendars(ctx context.Context) ([]google.CalendarInfo, error)
	CreateCalendar(ctx context.Context, summary string) (*google.CalendarInfo, error)
	EnsureNamedCalendar(ctx context.Context, name string) (*google.CalendarInfo, error)
	InsertEvent(ctx context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error)
	PatchEvent(ctx context.Context, calendarID, eventID string, event *calendar.Event) (*calendar.Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
	ListEventsDelta(ctx context.Context, calendarID, syncToken, pageToken string, timeMin *time.Time) (*google.DeltaPage, error)
	UpsertWatchChannel(ctx context.Context, calendarID, channelID, webhookURL, channelSecret string) (*google.WatchChannel, error)
	StopWatchChannel(ctx context.Context, channelID, resourceID string) error
}

// CalendarClientFactory builds a CalendarAPI for one access token.
type CalendarClientFactory func(ctx context.Context, accessToken string) (CalendarAPI, error)
