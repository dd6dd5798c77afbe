package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by all lookups that match no row.
var ErrNotFound = errors.New("not found")

type DB struct {
	db *sql.DB
}

func NewDB(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &DB{db: db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id TEXT NOT NULL,
            task_id TEXT,
            list_id TEXT,
            job_type TEXT NOT NULL,
            priority INTEGER NOT NULL DEFAULT 0,
            payload TEXT NOT NULL DEFAULT '{}',
            dedupe_key TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            attempt_count INTEGER NOT NULL DEFAULT 0,
            max_attempts INTEGER NOT NULL DEFAULT 7,
            run_after DATETIME NOT NULL,
            last_error TEXT,
            locked_at DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS calendar_connections (
            user_id TEXT PRIMARY KEY,
            status TEXT NOT NULL DEFAULT 'disconnected',
            provider_email TEXT,
            calendar_id TEXT,
            calendar_summary TEXT,
            last_full_sync_at DATETIME,
            last_incremental_sync_at DATETIME,
            last_error TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS calendar_secrets (
            user_id TEXT PRIMARY KEY,
            refresh_token_enc TEXT NOT NULL,
            access_token_enc TEXT,
            access_token_expires_at DATETIME,
            sync_token TEXT,
            cursor_state TEXT NOT NULL DEFAULT 'none',
            channel_id TEXT,
            channel_resource_id TEXT,
            channel_token_hash TEXT,
            channel_expiration DATETIME,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS event_links (
            user_id TEXT NOT NULL,
            task_id TEXT PRIMARY KEY,
            calendar_id TEXT NOT NULL,
            google_event_id TEXT NOT NULL,
            google_event_etag TEXT,
            google_event_updated_at DATETIME,
            last_synced_task_updated_at DATETIME,
            last_sync_source TEXT NOT NULL DEFAULT 'system',
            is_deleted BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS list_sync_settings (
            user_id TEXT NOT NULL,
            list_id TEXT NOT NULL,
            sync_enabled BOOLEAN NOT NULL DEFAULT 0,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (user_id, list_id)
        )`,

		`CREATE TABLE IF NOT EXISTS task_lists (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            name TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS tasks (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            list_id TEXT NOT NULL,
            parent_task_id TEXT,
            title TEXT NOT NULL,
            details TEXT NOT NULL DEFAULT '',
            due_at DATETIME,
            recurrence TEXT NOT NULL DEFAULT 'none',
            recurrence_unit TEXT NOT NULL DEFAULT '',
            recurrence_interval INTEGER NOT NULL DEFAULT 0,
            recurrence_until DATETIME,
            completed_at DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		// Idempotent enqueue: duplicate (job_type, dedupe_key) inserts are ignored.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_dedupe
            ON jobs(job_type, dedupe_key) WHERE dedupe_key IS NOT NULL`,

		`CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(status, run_after, priority)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_event_links_user ON event_links(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_event_links_event ON event_links(google_event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_secrets_channel ON calendar_secrets(channel_id, channel_resource_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_list ON tasks(user_id, list_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}
