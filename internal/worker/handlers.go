package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calsync/internal/crypto"
	"calsync/internal/database"
	"calsync/internal/google"
	"calsync/internal/models"
	"calsync/internal/translate"

	"github.com/google/uuid"
	"google.golang.org/api/calendar/v3"
)

// handleTaskUpsert pushes one task's state out to the calendar, or removes
// the mirrored event when the task stopped qualifying for sync.
func (w *Worker) handleTaskUpsert(ctx context.Context, job *models.Job) error {
	if job.TaskID == nil {
		return errors.New("task_upsert job without task id")
	}
	taskID := *job.TaskID

	task, err := w.tasks.GetTask(ctx, taskID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("load task: %w", err)
	}

	// A disabled list is a no-op before anything else, including the delete
	// path for completed tasks. Only a task that no longer exists at all
	// bypasses the list check.
	if task != nil {
		enabled, err := w.store.ListSyncEnabled(ctx, job.UserID, task.ListID)
		if err != nil {
			return fmt.Errorf("check list sync: %w", err)
		}
		if !enabled {
			return nil
		}
	}

	link, lerr := w.store.GetLinkByTask(ctx, taskID)
	if lerr != nil && !errors.Is(lerr, database.ErrNotFound) {
		return fmt.Errorf("load link: %w", lerr)
	}
	hasLiveLink := lerr == nil && !link.IsDeleted

	// A deleted task or one that stopped qualifying takes the delete path.
	if task == nil || !task.SyncEligible() {
		if !hasLiveLink {
			return nil
		}
		w.removeRemoteEvent(ctx, job.UserID, link)
		if err := w.store.MarkLinkDeleted(ctx, taskID, models.SyncSourceApp); err != nil {
			return fmt.Errorf("tombstone link: %w", err)
		}
		return nil
	}

	// Skip when the provider's write is at least as recent as the task's
	// own edit; pushing now would overwrite a fresher inbound change.
	if hasLiveLink && link.LastSyncSource == models.SyncSourceGoogle &&
		link.GoogleEventUpdated != nil && !link.GoogleEventUpdated.Before(task.UpdatedAt) {
		return nil
	}

	payload, err := translate.TaskToEvent(task)
	if err != nil {
		return fmt.Errorf("translate task: %w", err)
	}

	client, err := w.calendarClient(ctx, job.UserID)
	if err != nil {
		return err
	}

	var remote *calendar.Event
	if hasLiveLink {
		remote, err = client.api.PatchEvent(ctx, client.calendarID, link.GoogleEventID, payload)
		if errors.Is(err, google.ErrEventGone) {
			remote, err = client.api.InsertEvent(ctx, client.calendarID, payload)
		}
	} else {
		remote, err = client.api.InsertEvent(ctx, client.calendarID, payload)
	}
	if err != nil {
		return err
	}

	return w.store.UpsertLink(ctx, &models.EventLink{
		UserID:                job.UserID,
		TaskID:                taskID,
		CalendarID:            client.calendarID,
		GoogleEventID:         remote.Id,
		GoogleEventEtag:       optional(remote.Etag),
		GoogleEventUpdated:    parseEventTime(remote.Updated),
		LastSyncedTaskUpdated: &task.UpdatedAt,
		LastSyncSource:        models.SyncSourceApp,
		IsDeleted:             false,
	})
}

// handleTaskDelete best-effort deletes the remote event and always commits
// the local tombstone.
func (w *Worker) handleTaskDelete(ctx context.Context, job *models.Job) error {
	if job.TaskID == nil {
		return errors.New("task_delete job without task id")
	}

	link, err := w.store.GetLinkByTask(ctx, *job.TaskID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load link: %w", err)
	}

	if !link.IsDeleted {
		w.removeRemoteEvent(ctx, job.UserID, link)
	}
	return w.store.MarkLinkDeleted(ctx, *job.TaskID, models.SyncSourceApp)
}

// removeRemoteEvent is the remote half of a two-phase delete: the outcome is
// recorded in logs and metrics but never blocks the local tombstone.
func (w *Worker) removeRemoteEvent(ctx context.Context, userID string, link *models.EventLink) {
	client, err := w.calendarClient(ctx, userID)
	if err == nil {
		err = client.api.DeleteEvent(ctx, link.CalendarID, link.GoogleEventID)
		if errors.Is(err, google.ErrEventGone) {
			err = nil
		}
	}
	if err != nil {
		w.logger.Warn().Err(err).
			Str("user_id", userID).
			Str("task_id", link.TaskID).
			Str("event_id", link.GoogleEventID).
			Msg("remote event delete failed, committing tombstone anyway")
		return
	}
}

// handleFullBackfill enqueues a task_upsert for every open, due-dated task in
// the sync-enabled lists, optionally scoped to one list.
func (w *Worker) handleFullBackfill(ctx context.Context, job *models.Job) error {
	var listIDs []string
	if job.ListID != nil {
		enabled, err := w.store.ListSyncEnabled(ctx, job.UserID, *job.ListID)
		if err != nil {
			return fmt.Errorf("check list sync: %w", err)
		}
		if enabled {
			listIDs = []string{*job.ListID}
		}
	} else {
		ids, err := w.store.EnabledListIDs(ctx, job.UserID)
		if err != nil {
			return fmt.Errorf("list enabled lists: %w", err)
		}
		listIDs = ids
	}

	tasks, err := w.tasks.OpenTasksWithDueDate(ctx, job.UserID, listIDs)
	if err != nil {
		return fmt.Errorf("enumerate tasks: %w", err)
	}

	for i := range tasks {
		task := tasks[i]
		upsert := &models.Job{
			UserID:    job.UserID,
			TaskID:    &task.ID,
			ListID:    &task.ListID,
			JobType:   models.JobTaskUpsert,
			Priority:  models.PriorityNormal,
			DedupeKey: dedupeKey(models.JobTaskUpsert, task.ID, "backfill", fmt.Sprintf("%d", job.ID)),
		}
		if err := w.EnqueueJob(ctx, upsert); err != nil {
			return fmt.Errorf("enqueue upsert for task %s: %w", task.ID, err)
		}
	}

	return w.store.MarkFullSync(ctx, job.UserID, time.Now().UTC())
}

// handleInboundDelta pulls changed events with the stored sync token (or a
// full lookback window) and reconciles each against the task store.
func (w *Worker) handleInboundDelta(ctx context.Context, job *models.Job) error {
	client, err := w.calendarClient(ctx, job.UserID)
	if err != nil {
		return err
	}

	secrets, err := w.store.GetSecrets(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	syncToken := ""
	var timeMin *time.Time
	if secrets.CursorState == models.CursorFresh && secrets.SyncToken != nil {
		syncToken = *secrets.SyncToken
	} else {
		lookback := time.Now().UTC().AddDate(0, 0, -models.DeltaLookbackDays)
		timeMin = &lookback
	}

	pageToken := ""
	finalSyncToken := ""
	for {
		page, err := client.api.ListEventsDelta(ctx, client.calendarID, syncToken, pageToken, timeMin)
		if errors.Is(err, google.ErrSyncTokenExpired) {
			return w.resetSyncCursor(ctx, job)
		}
		if err != nil {
			return err
		}

		for _, event := range page.Items {
			if aerr := w.applyInboundEvent(ctx, client, job.UserID, event); aerr != nil {
				return fmt.Errorf("apply event %s: %w", event.Id, aerr)
			}
		}

		if page.NextSyncToken != "" {
			finalSyncToken = page.NextSyncToken
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	// Persist the new cursor; retain the prior token when none came back.
	if finalSyncToken != "" {
		if err := w.store.UpdateSyncCursor(ctx, job.UserID, &finalSyncToken, models.CursorFresh); err != nil {
			return fmt.Errorf("store sync token: %w", err)
		}
	}

	return w.store.MarkIncrementalSync(ctx, job.UserID, time.Now().UTC())
}

// resetSyncCursor invalidates the stored token and schedules one fresh
// full-lookback delta run instead of retrying the dead cursor.
func (w *Worker) resetSyncCursor(ctx context.Context, job *models.Job) error {
	if err := w.store.UpdateSyncCursor(ctx, job.UserID, nil, models.CursorInvalidated); err != nil {
		return fmt.Errorf("invalidate sync cursor: %w", err)
	}

	fresh := &models.Job{
		UserID:    job.UserID,
		JobType:   models.JobInboundDelta,
		Priority:  models.PriorityHigh,
		DedupeKey: dedupeKey(models.JobInboundDelta, job.UserID, "reset", time.Now().UTC().Format("200601021504")),
	}
	return w.EnqueueJob(ctx, fresh)
}

func (w *Worker) applyInboundEvent(ctx context.Context, client clientWithCalendar, userID string, event *calendar.Event) error {
	// Resolve the owning task via the link or the embedded task id.
	taskID := ""
	link, err := w.store.GetLinkByEvent(ctx, userID, event.Id)
	switch {
	case err == nil:
		taskID = link.TaskID
	case errors.Is(err, database.ErrNotFound):
		taskID = translate.TaskIDFromEvent(event)
		link = nil
	default:
		return fmt.Errorf("load link: %w", err)
	}
	if taskID == "" {
		return nil
	}

	task, err := w.tasks.GetTask(ctx, taskID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}

	enabled, err := w.store.ListSyncEnabled(ctx, userID, task.ListID)
	if err != nil {
		return fmt.Errorf("check list sync: %w", err)
	}
	if !enabled {
		return nil
	}

	if event.Status == "cancelled" {
		return w.handleCancelledEvent(ctx, userID, task, link)
	}

	eventUpdated := parseEventTime(event.Updated)
	if eventUpdated == nil {
		eventUpdated = parseEventTime(event.Created)
	}
	if eventUpdated == nil {
		now := time.Now().UTC()
		eventUpdated = &now
	}

	// Last-writer-wins with a skew tolerance: the provider's edit must be
	// clearly newer than the task's to win.
	if eventUpdated.After(task.UpdatedAt.Add(models.ConflictSkewTolerance)) {
		dueAt, err := translate.EventDueAt(event)
		if err != nil {
			return fmt.Errorf("translate due date: %w", err)
		}
		if dueAt == nil {
			dueAt = task.DueAt
		}
		if err := w.tasks.ApplyEventToTask(ctx, taskID, event.Summary, event.Description, dueAt, *eventUpdated); err != nil {
			return err
		}
		return w.store.UpsertLink(ctx, &models.EventLink{
			UserID:                userID,
			TaskID:                taskID,
			CalendarID:            client.calendarID,
			GoogleEventID:         event.Id,
			GoogleEventEtag:       optional(event.Etag),
			GoogleEventUpdated:    eventUpdated,
			LastSyncedTaskUpdated: eventUpdated,
			LastSyncSource:        models.SyncSourceGoogle,
			IsDeleted:             false,
		})
	}

	// App wins: push the authoritative task state back out at a higher
	// priority; the task itself stays untouched.
	outbound := &models.Job{
		UserID:    userID,
		TaskID:    &taskID,
		ListID:    &task.ListID,
		JobType:   models.JobTaskUpsert,
		Priority:  models.PriorityHigh,
		DedupeKey: dedupeKey(models.JobTaskUpsert, taskID, "conflict", time.Now().UTC().Format("200601021504")),
	}
	return w.EnqueueJob(ctx, outbound)
}

// handleCancelledEvent reacts to a provider-side cancellation. Deleting an
// event on the calendar does not delete the task; a still-eligible task gets
// its event restored by a fresh outbound upsert.
func (w *Worker) handleCancelledEvent(ctx context.Context, userID string, task *models.Task, link *models.EventLink) error {
	if task.SyncEligible() {
		restore := &models.Job{
			UserID:    userID,
			TaskID:    &task.ID,
			ListID:    &task.ListID,
			JobType:   models.JobTaskUpsert,
			Priority:  models.PriorityHigh,
			DedupeKey: dedupeKey(models.JobTaskUpsert, task.ID, "restore", time.Now().UTC().Format("200601021504")),
		}
		return w.EnqueueJob(ctx, restore)
	}

	if link != nil && !link.IsDeleted {
		return w.store.MarkLinkDeleted(ctx, task.ID, models.SyncSourceGoogle)
	}
	return nil
}

// handleRenewWatch rotates the webhook subscription: stop the old channel
// best effort, create a new one with a fresh random secret, persist the
// hashed token.
func (w *Worker) handleRenewWatch(ctx context.Context, job *models.Job) error {
	client, err := w.calendarClient(ctx, job.UserID)
	if err != nil {
		return err
	}

	secrets, err := w.store.GetSecrets(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	if secrets.ChannelID != nil && secrets.ChannelResourceID != nil {
		if serr := client.api.StopWatchChannel(ctx, *secrets.ChannelID, *secrets.ChannelResourceID); serr != nil {
			w.logger.Warn().Err(serr).
				Str("user_id", job.UserID).
				Str("channel_id", *secrets.ChannelID).
				Msg("stop previous watch channel failed")
		}
	}

	channelSecret := uuid.NewString()
	watch, err := client.api.UpsertWatchChannel(ctx, client.calendarID, uuid.NewString(), w.webhookURL, channelSecret)
	if err != nil {
		return fmt.Errorf("create watch channel: %w", err)
	}

	return w.store.UpdateWatchChannel(ctx, job.UserID,
		watch.ChannelID, watch.ResourceID, crypto.HashToken(channelSecret), watch.Expiration)
}

func parseEventTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
