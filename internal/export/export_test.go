package export

import (
	"path/filepath"
	"testing"
	"time"

	"calsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleJob(id int64, status string, lastError string) models.Job {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	var errPtr *string
	if lastError != "" {
		errPtr = &lastError
	}
	return models.Job{
		ID:           id,
		UserID:       "u1",
		JobType:      models.JobTaskUpsert,
		Priority:     models.PriorityNormal,
		Status:       status,
		AttemptCount: 3,
		MaxAttempts:  7,
		RunAfter:     now,
		LastError:    errPtr,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestQueueReportLayout(t *testing.T) {
	dead := []models.Job{sampleJob(1, models.JobStatusDead, "rate limited")}
	failed := []models.Job{
		sampleJob(2, models.JobStatusFailed, "timeout"),
		sampleJob(3, models.JobStatusFailed, ""),
	}

	f, err := QueueReport(dead, failed)
	require.NoError(t, err)
	defer f.Close()

	header, err := f.GetCellValue(sheetName, "A1")
	require.NoError(t, err)
	assert.Equal(t, "ID", header)

	// Dead jobs come first, failed jobs after.
	firstID, err := f.GetCellValue(sheetName, "A2")
	require.NoError(t, err)
	assert.Equal(t, "1", firstID)

	lastErr, err := f.GetCellValue(sheetName, "I3")
	require.NoError(t, err)
	assert.Equal(t, "timeout", lastErr)

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	// The default sheet is dropped so the report opens on the queue.
	assert.NotContains(t, f.GetSheetList(), "Sheet1")
}

func TestSaveQueueReportCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")

	path, err := SaveQueueReport(dir, []models.Job{sampleJob(1, models.JobStatusDead, "boom")}, nil)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Contains(t, filepath.Base(path), "queue_report_")
}
