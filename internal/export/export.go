// Package export builds operator-facing xlsx reports of the job queue.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"calsync/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Queue"

var reportHeaders = []string{
	"ID", "User", "Type", "Status", "Priority", "Attempts", "Max attempts",
	"Run after", "Last error", "Created", "Updated",
}

// QueueReport renders dead and failed jobs into a single worksheet, dead
// jobs first. The caller owns closing the returned file.
func QueueReport(dead, failed []models.Job) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, header := range reportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	deadStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
	})
	failedStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFEB9C"}, Pattern: 1},
	})

	row := 2
	row = writeJobs(f, dead, row, deadStyle)
	writeJobs(f, failed, row, failedStyle)

	_ = f.SetColWidth(sheetName, "A", "A", 8)
	_ = f.SetColWidth(sheetName, "B", "D", 18)
	_ = f.SetColWidth(sheetName, "E", "G", 12)
	_ = f.SetColWidth(sheetName, "H", "H", 20)
	_ = f.SetColWidth(sheetName, "I", "I", 50)
	_ = f.SetColWidth(sheetName, "J", "K", 20)

	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

// SaveQueueReport writes the report into dir and returns the file path.
func SaveQueueReport(dir string, dead, failed []models.Job) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	f, err := QueueReport(dead, failed)
	if err != nil {
		return "", err
	}
	defer f.Close()

	fileName := fmt.Sprintf("queue_report_%s.xlsx", time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}
	return filePath, nil
}

func writeJobs(f *excelize.File, jobs []models.Job, row, style int) int {
	for _, job := range jobs {
		lastError := ""
		if job.LastError != nil {
			lastError = *job.LastError
		}
		values := []any{
			job.ID,
			job.UserID,
			job.JobType,
			job.Status,
			job.Priority,
			job.AttemptCount,
			job.MaxAttempts,
			job.RunAfter.Format("02.01.2006 15:04"),
			lastError,
			job.CreatedAt.Format("02.01.2006 15:04"),
			job.UpdatedAt.Format("02.01.2006 15:04"),
		}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
		first, _ := excelize.CoordinatesToCellName(1, row)
		last, _ := excelize.CoordinatesToCellName(len(values), row)
		_ = f.SetCellStyle(sheetName, first, last, style)
		row++
	}
	return row
}
