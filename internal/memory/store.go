// Package memory handles persistent storage using SQLite: tasks, timer
// sessions, the interaction log and the logging config.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// SQLite driver (required for database/sql registration).
	_ "github.com/mattn/go-sqlite3"
)

// Store is the application database. It implements executor.Repository
// and interaction.Store.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens the SQLite database at path, creating it and its tables if
// they don't exist. ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// openDB opens a single SQLite database with optimal settings.
func openDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serializes writes anyway and an in-memory
	// database is per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Size returns the database file size in bytes, or 0 when unknown.
func (s *Store) Size() int64 {
	fi, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// ============================================================
// SCHEMA
// ============================================================

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		description TEXT
	);

	-- ============================================================
	-- TASKS & TIMER SESSIONS
	-- ============================================================

	CREATE TABLE IF NOT EXISTS tasks (
		id              TEXT PRIMARY KEY,
		title           TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL DEFAULT 'pending',
		priority        TEXT NOT NULL DEFAULT 'medium',
		due_date        TEXT NOT NULL DEFAULT '',
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL,
		completed_at    INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(due_date);
	CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at);

	CREATE TABLE IF NOT EXISTS time_sessions (
		id              TEXT PRIMARY KEY,
		task_id         TEXT NOT NULL,
		start_time      INTEGER NOT NULL,
		end_time        INTEGER,
		notes           TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_task ON time_sessions(task_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_start ON time_sessions(start_time);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_running ON time_sessions((end_time IS NULL)) WHERE end_time IS NULL;

	-- ============================================================
	-- INTERACTION LOG
	-- ============================================================

	CREATE TABLE IF NOT EXISTS interaction_logs (
		id                  TEXT PRIMARY KEY,
		session_id          TEXT NOT NULL,
		timestamp           INTEGER NOT NULL,
		user_message        TEXT NOT NULL,
		system_prompt       TEXT,
		context_json        TEXT,
		ai_response         TEXT NOT NULL,
		model_info_json     TEXT NOT NULL,
		performance_json    TEXT NOT NULL,
		error               TEXT,
		data_classification TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_interaction_time ON interaction_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_interaction_session ON interaction_logs(session_id);

	CREATE TABLE IF NOT EXISTS tool_execution_logs (
		id                  TEXT PRIMARY KEY,
		interaction_log_id  TEXT NOT NULL,
		tool_name           TEXT NOT NULL,
		arguments_json      TEXT,
		result_json         TEXT,
		success             INTEGER NOT NULL,
		error               TEXT,
		execution_time_ms   INTEGER NOT NULL DEFAULT 0,
		timestamp           INTEGER NOT NULL,
		FOREIGN KEY (interaction_log_id) REFERENCES interaction_logs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tool_exec_interaction ON tool_execution_logs(interaction_log_id);
	CREATE INDEX IF NOT EXISTS idx_tool_exec_name ON tool_execution_logs(tool_name);

	CREATE TABLE IF NOT EXISTS logging_config (
		id                  INTEGER PRIMARY KEY CHECK (id = 1),
		config_json         TEXT NOT NULL,
		updated_at          INTEGER NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return ensureSchemaVersion(s.db, 1, "Initial schema")
}

func ensureSchemaVersion(db *sql.DB, version int, description string) error {
	var current sql.NullInt64
	if err := db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&current); err != nil {
		return err
	}

	if !current.Valid || int(current.Int64) < version {
		_, err := db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			version,
			description,
		)
		return err
	}
	return nil
}

// withTx runs fn in a transaction, committing when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Timestamps are stored as Unix milliseconds.
func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
