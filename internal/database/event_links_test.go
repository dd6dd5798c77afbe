package database

import (
	"context"
	"testing"
	"time"

	"calsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLinkUpsertAndLookup(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	updated := time.Now().UTC().Truncate(time.Second)
	link := &models.EventLink{
		UserID:             "u1",
		TaskID:             "task-1",
		CalendarID:         "cal-1",
		GoogleEventID:      "ev-1",
		GoogleEventUpdated: &updated,
		LastSyncSource:     models.SyncSourceApp,
	}
	require.NoError(t, db.UpsertLink(ctx, link))

	byTask, err := db.GetLinkByTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "ev-1", byTask.GoogleEventID)
	assert.Equal(t, models.SyncSourceApp, byTask.LastSyncSource)
	assert.False(t, byTask.IsDeleted)

	byEvent, err := db.GetLinkByEvent(ctx, "u1", "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", byEvent.TaskID)

	_, err = db.GetLinkByEvent(ctx, "other-user", "ev-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEventLinkUpsertLastWriteWins(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.UpsertLink(ctx, &models.EventLink{
		UserID: "u1", TaskID: "task-1", CalendarID: "cal-1",
		GoogleEventID: "ev-1", LastSyncSource: models.SyncSourceApp,
	}))

	// A second writer on the same task replaces the row.
	require.NoError(t, db.UpsertLink(ctx, &models.EventLink{
		UserID: "u1", TaskID: "task-1", CalendarID: "cal-2",
		GoogleEventID: "ev-2", LastSyncSource: models.SyncSourceGoogle,
	}))

	link, err := db.GetLinkByTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "ev-2", link.GoogleEventID)
	assert.Equal(t, "cal-2", link.CalendarID)
	assert.Equal(t, models.SyncSourceGoogle, link.LastSyncSource)
}

func TestMarkLinkDeleted(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.UpsertLink(ctx, &models.EventLink{
		UserID: "u1", TaskID: "task-1", CalendarID: "cal-1",
		GoogleEventID: "ev-1", LastSyncSource: models.SyncSourceApp,
	}))

	require.NoError(t, db.MarkLinkDeleted(ctx, "task-1", models.SyncSourceGoogle))

	link, err := db.GetLinkByTask(ctx, "task-1")
	require.NoError(t, err)
	assert.True(t, link.IsDeleted)
	assert.Equal(t, models.SyncSourceGoogle, link.LastSyncSource)
	// The correlation itself survives the tombstone.
	assert.Equal(t, "ev-1", link.GoogleEventID)
}

func TestListSyncSettings(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	// Absence of a row means disabled.
	enabled, err := db.ListSyncEnabled(ctx, "u1", "list-1")
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, db.SetListSync(ctx, "u1", "list-1", true))
	require.NoError(t, db.SetListSync(ctx, "u1", "list-2", false))

	enabled, err = db.ListSyncEnabled(ctx, "u1", "list-1")
	require.NoError(t, err)
	assert.True(t, enabled)

	ids, err := db.EnabledListIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"list-1"}, ids)

	// Toggling off wins over the earlier insert.
	require.NoError(t, db.SetListSync(ctx, "u1", "list-1", false))
	ids, err = db.EnabledListIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	settings, err := db.ListSyncSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, settings, 2)
}
