package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"calsync/internal/models"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDefaults(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	job := &models.Job{UserID: "u1", JobType: models.JobInboundDelta}
	require.NoError(t, db.Enqueue(ctx, job))
	require.NotZero(t, job.ID)

	stored, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, stored.Status)
	assert.Equal(t, models.DefaultMaxAttempts, stored.MaxAttempts)
	assert.Equal(t, "{}", stored.Payload)
	assert.False(t, stored.RunAfter.IsZero())
}

func TestEnqueueIdempotentDedupe(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	key := DedupeKey("webhook_delta", "u1", "2026-09-01T10:00")
	first := &models.Job{UserID: "u1", JobType: models.JobInboundDelta, DedupeKey: key}
	require.NoError(t, db.Enqueue(ctx, first))

	// Same type and key again: dropped without error.
	second := &models.Job{UserID: "u1", JobType: models.JobInboundDelta, DedupeKey: key}
	require.NoError(t, db.Enqueue(ctx, second))

	jobs, err := db.Claim(ctx, 10, "u1")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	// Different job type may reuse the key.
	third := &models.Job{UserID: "u1", JobType: models.JobFullBackfill, DedupeKey: key}
	require.NoError(t, db.Enqueue(ctx, third))
	jobs, err = db.Claim(ctx, 10, "u1")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.Equal(t, models.JobFullBackfill, jobs[0].JobType)
}

func TestEnqueueNilDedupeNotUnique(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, db.Enqueue(ctx, &models.Job{UserID: "u1", JobType: models.JobTaskUpsert}))
	}
	jobs, err := db.Claim(ctx, 10, "u1")
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}

func TestUniqueViolationDetection(t *testing.T) {
	// Only a unique-index conflict counts as an idempotent drop; any other
	// constraint class must surface as an error.
	unique := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}
	assert.True(t, isUniqueViolation(unique))

	notNull := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}
	assert.False(t, isUniqueViolation(notNull))

	check := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintCheck}
	assert.False(t, isUniqueViolation(check))

	assert.False(t, isUniqueViolation(context.DeadlineExceeded))
}

func TestClaimOrderAndDueFilter(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	future := &models.Job{UserID: "u1", JobType: models.JobTaskUpsert, RunAfter: time.Now().Add(time.Hour)}
	require.NoError(t, db.Enqueue(ctx, future))

	low := &models.Job{UserID: "u1", JobType: models.JobTaskUpsert, Priority: models.PriorityLow}
	require.NoError(t, db.Enqueue(ctx, low))
	high := &models.Job{UserID: "u1", JobType: models.JobInboundDelta, Priority: models.PriorityHigh}
	require.NoError(t, db.Enqueue(ctx, high))

	jobs, err := db.Claim(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, high.ID, jobs[0].ID)
	assert.Equal(t, low.ID, jobs[1].ID)
	for _, j := range jobs {
		assert.Equal(t, models.JobStatusRunning, j.Status)
		assert.NotNil(t, j.LockedAt)
	}
}

func TestClaimExclusive(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, db.Enqueue(ctx, &models.Job{UserID: "u1", JobType: models.JobTaskUpsert}))
	}

	var (
		mu    sync.Mutex
		seen  = make(map[int64]int)
		wg    sync.WaitGroup
		total = 0
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs, err := db.Claim(ctx, 20, "")
			assert.NoError(t, err)
			mu.Lock()
			for _, j := range jobs {
				seen[j.ID]++
				total++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, total)
	for id, count := range seen {
		assert.Equalf(t, 1, count, "job %d claimed %d times", id, count)
	}
}

func TestFailRetryThenDead(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	job := &models.Job{UserID: "u1", JobType: models.JobTaskUpsert, MaxAttempts: 2}
	require.NoError(t, db.Enqueue(ctx, job))

	claimed, err := db.Claim(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, db.Fail(ctx, job.ID, "boom", time.Minute))
	stored, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.Equal(t, "boom", *stored.LastError)
	assert.Nil(t, stored.LockedAt)
	assert.True(t, stored.RunAfter.After(time.Now().UTC().Add(30*time.Second)))

	// Not claimable until run_after passes.
	claimed, err = db.Claim(ctx, 10, "")
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// Second failure exhausts the budget.
	require.NoError(t, db.Fail(ctx, job.ID, "boom again", time.Minute))
	stored, err = db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDead, stored.Status)
	assert.Equal(t, 2, stored.AttemptCount)

	dead, err := db.DeadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, job.ID, dead[0].ID)
}

func TestCompleteReleasesJob(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	job := &models.Job{UserID: "u1", JobType: models.JobTaskUpsert}
	require.NoError(t, db.Enqueue(ctx, job))

	claimed, err := db.Claim(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, db.Complete(ctx, job.ID))
	stored, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, stored.Status)
	assert.Nil(t, stored.LockedAt)

	claimed, err = db.Claim(ctx, 10, "")
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaimScopedToUser(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.Enqueue(ctx, &models.Job{UserID: "u1", JobType: models.JobTaskUpsert}))
	require.NoError(t, db.Enqueue(ctx, &models.Job{UserID: "u2", JobType: models.JobTaskUpsert}))

	jobs, err := db.Claim(ctx, 10, "u2")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "u2", jobs[0].UserID)
}

func TestPurgeJobs(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	done := &models.Job{UserID: "u1", JobType: models.JobTaskUpsert}
	require.NoError(t, db.Enqueue(ctx, done))
	_, err := db.Claim(ctx, 1, "")
	require.NoError(t, err)
	require.NoError(t, db.Complete(ctx, done.ID))

	pending := &models.Job{UserID: "u1", JobType: models.JobInboundDelta}
	require.NoError(t, db.Enqueue(ctx, pending))

	purged, err := db.PurgeJobs(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = db.GetJob(ctx, done.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.GetJob(ctx, pending.ID)
	assert.NoError(t, err)
}
