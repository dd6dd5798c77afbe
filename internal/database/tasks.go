package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"calsync/internal/models"
)

const taskColumns = `id, user_id, list_id, parent_task_id, title, details, due_at,
        recurrence, recurrence_unit, recurrence_interval, recurrence_until, completed_at,
        created_at, updated_at`

// CreateTask inserts a task row. The sync engine does not own task CRUD in
// production; this exists for the embedded store used in development and tests.
func (db *DB) CreateTask(ctx context.Context, task *models.Task) error {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = now
	}
	if task.Recurrence == "" {
		task.Recurrence = models.RecurrenceNone
	}

	query := `INSERT INTO tasks (id, user_id, list_id, parent_task_id, title, details, due_at,
                recurrence, recurrence_unit, recurrence_interval, recurrence_until, completed_at,
                created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.db.ExecContext(ctx, query,
		task.ID,
		task.UserID,
		task.ListID,
		task.ParentTaskID,
		task.Title,
		task.Details,
		task.DueAt,
		task.Recurrence,
		task.RecurrenceUnit,
		task.RecurrenceInterval,
		task.RecurrenceUntil,
		task.CompletedAt,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// CreateTaskList inserts a list row.
func (db *DB) CreateTaskList(ctx context.Context, list *models.TaskList) error {
	if list.CreatedAt.IsZero() {
		list.CreatedAt = time.Now().UTC()
	}
	_, err := db.db.ExecContext(ctx,
		`INSERT INTO task_lists (id, user_id, name, created_at) VALUES (?, ?, ?, ?)`,
		list.ID, list.UserID, list.Name, list.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task list: %w", err)
	}
	return nil
}

// GetTask returns a task by id.
func (db *DB) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	return scanTask(row)
}

// ApplyEventToTask writes title/details/due-date changes decided by inbound
// conflict resolution. The task's updated_at is advanced to the provider's
// edit time so a later comparison does not see the write as a local edit.
func (db *DB) ApplyEventToTask(ctx context.Context, taskID, title, details string, dueAt *time.Time, eventUpdated time.Time) error {
	_, err := db.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, details = ?, due_at = ?, updated_at = ? WHERE id = ?`,
		title, details, dueAt, eventUpdated.UTC(), taskID)
	if err != nil {
		return fmt.Errorf("failed to apply event to task: %w", err)
	}
	return nil
}

// OpenTasksWithDueDate returns sync-eligible tasks in the given lists:
// not completed and carrying a due date.
func (db *DB) OpenTasksWithDueDate(ctx context.Context, userID string, listIDs []string) ([]models.Task, error) {
	if len(listIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(listIDs)), ",")
	query := `SELECT ` + taskColumns + ` FROM tasks
              WHERE user_id = ? AND completed_at IS NULL AND due_at IS NOT NULL
                AND list_id IN (` + placeholders + `)
              ORDER BY due_at ASC`

	args := make([]interface{}, 0, len(listIDs)+1)
	args = append(args, userID)
	for _, id := range listIDs {
		args = append(args, id)
	}

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get open tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func scanTask(row *sql.Row) (*models.Task, error) {
	task, err := scanTaskFrom(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return task, err
}

func scanTaskRows(rows *sql.Rows) (*models.Task, error) {
	return scanTaskFrom(rows)
}

func scanTaskFrom(row rowScanner) (*models.Task, error) {
	var (
		task            models.Task
		parentTaskID    sql.NullString
		dueAt           sql.NullTime
		recurrenceUntil sql.NullTime
		completedAt     sql.NullTime
	)
	err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.ListID,
		&parentTaskID,
		&task.Title,
		&task.Details,
		&dueAt,
		&task.Recurrence,
		&task.RecurrenceUnit,
		&task.RecurrenceInterval,
		&recurrenceUntil,
		&completedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	if parentTaskID.Valid {
		task.ParentTaskID = &parentTaskID.String
	}
	if dueAt.Valid {
		t := dueAt.Time.UTC()
		task.DueAt = &t
	}
	if recurrenceUntil.Valid {
		task.RecurrenceUntil = &recurrenceUntil.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return &task, nil
}
