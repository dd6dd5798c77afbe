package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"calsync/internal/database"
	"calsync/internal/domain"
	"calsync/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newRedisEnv(t *testing.T) (*testEnv, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cal := newFakeCalendar()
	broker := &fakeBroker{token: &oauth2.Token{AccessToken: "fresh-token", Expiry: time.Now().Add(time.Hour)}}
	factory := func(_ context.Context, _ string) (domain.CalendarAPI, error) {
		return cal, nil
	}

	w := New(db, db, fakeVault{}, broker, factory, client, Options{}, nil)
	return &testEnv{worker: w, db: db, cal: cal, broker: broker, ctx: context.Background()}, mr
}

func TestEnqueueJobPushesWakeHint(t *testing.T) {
	e, mr := newRedisEnv(t)

	job := &models.Job{UserID: "u1", JobType: models.JobInboundDelta}
	require.NoError(t, e.worker.EnqueueJob(e.ctx, job))
	require.NotZero(t, job.ID)

	hints, err := mr.List("calsync:wake")
	require.NoError(t, err)
	require.Len(t, hints, 1)

	// A deduplicated enqueue leaves no second hint.
	key := "dupe-key"
	for i := 0; i < 2; i++ {
		dup := &models.Job{UserID: "u1", JobType: models.JobFullBackfill, DedupeKey: &key}
		require.NoError(t, e.worker.EnqueueJob(e.ctx, dup))
	}
	hints, err = mr.List("calsync:wake")
	require.NoError(t, err)
	assert.Len(t, hints, 2)
}

func TestDeadJobMirroredToDeadLetter(t *testing.T) {
	e, mr := newRedisEnv(t)
	e.connectUser(t, "u1")
	e.createTask(t, &models.Task{ID: "task-1", Title: "Doomed", DueAt: dueIn(time.Hour)})
	e.cal.insertErr = errors.New("permanent failure")

	taskID := "task-1"
	job := &models.Job{UserID: "u1", TaskID: &taskID, JobType: models.JobTaskUpsert, MaxAttempts: 1}
	require.NoError(t, e.worker.EnqueueJob(e.ctx, job))

	jobs, err := e.db.Claim(e.ctx, 1, "u1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	e.worker.Process(e.ctx, &jobs[0])

	stored, err := e.db.GetJob(e.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDead, stored.Status)

	letters, err := mr.List("calsync:deadletter")
	require.NoError(t, err)
	require.Len(t, letters, 1)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(letters[0]), &payload))
	assert.Equal(t, float64(job.ID), payload["job_id"])
	assert.Equal(t, models.JobTaskUpsert, payload["job_type"])
	assert.Contains(t, payload["error"], "permanent failure")
}
