package memory

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/errors"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/tools/executor"
)

var _ executor.Repository = (*Store)(nil)

const taskColumns = `id, title, description, status, priority, due_date, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*executor.Task, error) {
	var (
		t                executor.Task
		created, updated int64
		completed        sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.DueDate,
		&created, &updated, &completed); err != nil {
		return nil, err
	}
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	t.CompletedAt = timePtr(completed)
	return &t, nil
}

// FindTasks returns matching tasks in creation order and the total match
// count before Limit.
func (s *Store) FindTasks(ctx context.Context, filter executor.TaskFilter) ([]executor.Task, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, filter.Priority)
	}

	query := "SELECT " + taskColumns + " FROM tasks"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, ioError(err, "query tasks")
	}
	defer rows.Close()

	// The date filter depends on the local calendar day, so it is applied
	// in Go with the same rule as the in-memory repository.
	var out []executor.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, ioError(err, "scan task")
		}
		if executor.MatchesFilter(t, filter) {
			out = append(out, *t)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, ioError(err, "query tasks")
	}

	total := len(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

// GetTask returns a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*executor.Task, error) {
	return getTask(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTask(ctx context.Context, q queryer, id string) (*executor.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("task", id)
	}
	if err != nil {
		return nil, ioError(err, "get task")
	}
	return t, nil
}

// CreateTask stores a new task, filling id, status, priority and
// timestamps when unset.
func (s *Store) CreateTask(ctx context.Context, task executor.Task) (*executor.Task, error) {
	now := s.now()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = executor.StatusPending
	}
	if task.Priority == "" {
		task.Priority = "medium"
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.Status == executor.StatusCompleted && task.CompletedAt == nil {
		task.CompletedAt = &now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Title, task.Description, task.Status, task.Priority, task.DueDate,
		toMillis(task.CreatedAt), toMillis(task.UpdatedAt), nullMillis(task.CompletedAt))
	if err != nil {
		return nil, ioError(err, "create task")
	}
	return &task, nil
}

// UpdateTask applies patch inside a transaction.
func (s *Store) UpdateTask(ctx context.Context, id string, patch executor.TaskPatch) (*executor.Task, error) {
	var out *executor.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		executor.ApplyPatch(t, patch, s.now())
		if err := writeTask(ctx, tx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CompleteTask closes the task's running session and marks it completed
// in one transaction.
func (s *Store) CompleteTask(ctx context.Context, id string, at time.Time) (*executor.Task, error) {
	var out *executor.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "UPDATE time_sessions SET end_time = ? WHERE task_id = ? AND end_time IS NULL",
			toMillis(at), id)
		if err != nil {
			return ioError(err, "stop timer")
		}

		status := executor.StatusCompleted
		executor.ApplyPatch(t, executor.TaskPatch{Status: &status}, at)
		if err := writeTask(ctx, tx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func writeTask(ctx context.Context, tx *sql.Tx, t *executor.Task) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET title = ?, description = ?, status = ?, priority = ?, updated_at = ?, completed_at = ?
		WHERE id = ?
	`, t.Title, t.Description, t.Status, t.Priority, toMillis(t.UpdatedAt), nullMillis(t.CompletedAt), t.ID)
	if err != nil {
		return ioError(err, "update task")
	}
	return nil
}

// DeleteTask removes a task; its sessions cascade.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return ioError(err, "delete task")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("task", id)
	}
	return nil
}

// ============================================================
// TIMER SESSIONS
// ============================================================

const sessionColumns = `s.id, s.task_id, t.title, s.start_time, s.end_time, s.notes`

func scanSession(row rowScanner) (*executor.TimerSession, error) {
	var (
		ts    executor.TimerSession
		start int64
		end   sql.NullInt64
	)
	if err := row.Scan(&ts.ID, &ts.TaskID, &ts.TaskTitle, &start, &end, &ts.Notes); err != nil {
		return nil, err
	}
	ts.StartTime = fromMillis(start)
	ts.EndTime = timePtr(end)
	return &ts, nil
}

func activeSession(ctx context.Context, q queryer) (*executor.TimerSession, error) {
	ts, err := scanSession(q.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM time_sessions s JOIN tasks t ON t.id = s.task_id
		WHERE s.end_time IS NULL
		LIMIT 1
	`))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ioError(err, "query active timer")
	}
	return ts, nil
}

// StartTimer opens a session on taskID. Only one session may run at a
// time.
func (s *Store) StartTimer(ctx context.Context, taskID, notes string, at time.Time) (*executor.TimerSession, error) {
	var out *executor.TimerSession
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		running, err := activeSession(ctx, tx)
		if err != nil {
			return err
		}
		if running != nil {
			return errors.NewBuilder(errors.KindValidation, "a timer is already running for "+running.TaskTitle).
				WithContext("session_id", running.ID).
				WithSuggestion("Stop the running timer first").
				Build()
		}

		ts := &executor.TimerSession{ID: uuid.NewString(), TaskID: taskID, TaskTitle: t.Title, StartTime: at, Notes: notes}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO time_sessions (id, task_id, start_time, notes) VALUES (?, ?, ?, ?)
		`, ts.ID, ts.TaskID, toMillis(ts.StartTime), ts.Notes)
		if err != nil {
			return ioError(err, "start timer")
		}
		out = ts
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StopTimer closes a running session.
func (s *Store) StopTimer(ctx context.Context, sessionID, notes string, at time.Time) (*executor.TimerSession, error) {
	var out *executor.TimerSession
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ts, err := scanSession(tx.QueryRowContext(ctx, `
			SELECT `+sessionColumns+`
			FROM time_sessions s JOIN tasks t ON t.id = s.task_id
			WHERE s.id = ?
		`, sessionID))
		if stderrors.Is(err, sql.ErrNoRows) {
			return errors.NotFound("timer session", sessionID)
		}
		if err != nil {
			return ioError(err, "get timer session")
		}
		if !ts.Running() {
			return errors.Validation("timer session " + sessionID + " is not running")
		}

		end := at
		ts.EndTime = &end
		if notes != "" {
			ts.Notes = notes
		}
		_, err = tx.ExecContext(ctx, "UPDATE time_sessions SET end_time = ?, notes = ? WHERE id = ?",
			toMillis(end), ts.Notes, sessionID)
		if err != nil {
			return ioError(err, "stop timer")
		}
		out = ts
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveTimer returns the running session or nil.
func (s *Store) ActiveTimer(ctx context.Context) (*executor.TimerSession, error) {
	return activeSession(ctx, s.db)
}

// TimeStats sums sessions whose local start date lies within [start, end].
func (s *Store) TimeStats(ctx context.Context, start, end string, now time.Time) (*executor.TimeStats, error) {
	from, err := time.ParseInLocation(executor.DateLayout, start, time.Local)
	if err != nil {
		return nil, errors.Validation("invalid start_date " + start)
	}
	to, err := time.ParseInLocation(executor.DateLayout, end, time.Local)
	if err != nil {
		return nil, errors.Validation("invalid end_date " + end)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM time_sessions s JOIN tasks t ON t.id = s.task_id
		WHERE s.start_time >= ? AND s.start_time < ?
		ORDER BY s.start_time
	`, toMillis(from), toMillis(to.AddDate(0, 0, 1)))
	if err != nil {
		return nil, ioError(err, "query timer sessions")
	}
	defer rows.Close()

	var sessions []executor.TimerSession
	for rows.Next() {
		ts, err := scanSession(rows)
		if err != nil {
			return nil, ioError(err, "scan timer session")
		}
		sessions = append(sessions, *ts)
	}
	if err := rows.Err(); err != nil {
		return nil, ioError(err, "query timer sessions")
	}
	return executor.SummariseSessions(sessions, start, end, now), nil
}

func ioError(err error, op string) error {
	if ctxErr := errors.FromContext(err); ctxErr != nil {
		return ctxErr
	}
	return errors.Wrap(err, errors.KindInternal, op)
}
