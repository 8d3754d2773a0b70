package executor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/errors"
)

// Task statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// DateLayout is the format of due dates and stats ranges.
const DateLayout = "2006-01-02"

// Task represents a task in the task list.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`   // pending, in_progress, completed
	Priority    string     `json:"priority"` // low, medium, high, urgent
	DueDate     string     `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TaskList is the result of get_tasks.
type TaskList struct {
	Tasks []Task `json:"tasks"`
	Total int    `json:"total"` // matches before the limit
}

// DeletedTask is the result of delete_task.
type DeletedTask struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// TaskFilter narrows FindTasks. Empty fields match everything.
type TaskFilter struct {
	Status   string
	Priority string
	// Date matches tasks due that day, or created that day when they
	// have no due date.
	Date  string
	Limit int
}

// TaskPatch holds the fields to change; nil means unchanged.
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *string
	Priority    *string
}

// TimerSession is one stretch of tracked time.
type TimerSession struct {
	ID        string     `json:"id"`
	TaskID    string     `json:"task_id"`
	TaskTitle string     `json:"task_title,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

// Running reports whether the session is still open.
func (s *TimerSession) Running() bool { return s.EndTime == nil }

// Duration returns the tracked time, measured to now while running.
func (s *TimerSession) Duration(now time.Time) time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return now.Sub(s.StartTime)
}

// ActiveTimer is the result of get_active_timer.
type ActiveTimer struct {
	Running        bool          `json:"running"`
	Session        *TimerSession `json:"session,omitempty"`
	ElapsedSeconds int64         `json:"elapsed_seconds"`
}

// TaskTime is tracked time for one task.
type TaskTime struct {
	TaskID  string `json:"task_id"`
	Title   string `json:"title"`
	Seconds int64  `json:"seconds"`
}

// TimeStats summarises tracked time over a date range.
type TimeStats struct {
	StartDate    string     `json:"start_date"`
	EndDate      string     `json:"end_date"`
	TotalSeconds int64      `json:"total_seconds"`
	SessionCount int        `json:"session_count"`
	ByTask       []TaskTime `json:"by_task"`
}

// Repository is the task and timer storage the tools run against.
type Repository interface {
	FindTasks(ctx context.Context, filter TaskFilter) ([]Task, int, error)
	GetTask(ctx context.Context, id string) (*Task, error)
	CreateTask(ctx context.Context, task Task) (*Task, error)
	UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error)
	// CompleteTask stops the task's running session, if any, and marks
	// the task completed in one step.
	CompleteTask(ctx context.Context, id string, at time.Time) (*Task, error)
	DeleteTask(ctx context.Context, id string) error

	// StartTimer fails with ValidationError while another session runs.
	StartTimer(ctx context.Context, taskID, notes string, at time.Time) (*TimerSession, error)
	StopTimer(ctx context.Context, sessionID, notes string, at time.Time) (*TimerSession, error)
	// ActiveTimer returns nil when nothing is running.
	ActiveTimer(ctx context.Context) (*TimerSession, error)
	// TimeStats covers sessions started between start and end, inclusive.
	TimeStats(ctx context.Context, start, end string, now time.Time) (*TimeStats, error)
}

// MemRepository is an in-memory Repository.
type MemRepository struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	order    []string
	sessions []*TimerSession
	now      func() time.Time
}

// NewMemRepository creates an empty in-memory repository.
func NewMemRepository() *MemRepository {
	return &MemRepository{
		tasks: make(map[string]*Task),
		now:   time.Now,
	}
}

// FindTasks returns matching tasks in creation order and the total match
// count before Limit.
func (m *MemRepository) FindTasks(ctx context.Context, filter TaskFilter) ([]Task, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Task
	for _, id := range m.order {
		t := m.tasks[id]
		if MatchesFilter(t, filter) {
			out = append(out, *t)
		}
	}
	total := len(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

// MatchesFilter reports whether t passes filter.
func MatchesFilter(t *Task, filter TaskFilter) bool {
	if filter.Status != "" && t.Status != filter.Status {
		return false
	}
	if filter.Priority != "" && t.Priority != filter.Priority {
		return false
	}
	if filter.Date != "" {
		if t.DueDate != "" {
			return t.DueDate == filter.Date
		}
		return t.CreatedAt.Local().Format(DateLayout) == filter.Date
	}
	return true
}

// GetTask returns a task by id.
func (m *MemRepository) GetTask(ctx context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, errors.NotFound("task", id)
	}
	cp := *t
	return &cp, nil
}

// CreateTask stores a new task, filling id, status, priority and
// timestamps when unset.
func (m *MemRepository) CreateTask(ctx context.Context, task Task) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.Priority == "" {
		task.Priority = "medium"
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	m.tasks[task.ID] = &task
	m.order = append(m.order, task.ID)
	cp := task
	return &cp, nil
}

// UpdateTask applies patch. Moving to completed stamps CompletedAt;
// moving away clears it.
func (m *MemRepository) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, errors.NotFound("task", id)
	}
	ApplyPatch(t, patch, m.now())
	cp := *t
	return &cp, nil
}

// CompleteTask stops id's running session and marks it completed.
func (m *MemRepository) CompleteTask(ctx context.Context, id string, at time.Time) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, errors.NotFound("task", id)
	}
	for _, s := range m.sessions {
		if s.TaskID == id && s.Running() {
			end := at
			s.EndTime = &end
		}
	}
	status := StatusCompleted
	ApplyPatch(t, TaskPatch{Status: &status}, at)
	cp := *t
	return &cp, nil
}

// ApplyPatch applies patch to t at now.
func ApplyPatch(t *Task, patch TaskPatch, now time.Time) {
	if patch.Title != nil && *patch.Title != "" {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Priority != nil && *patch.Priority != "" {
		t.Priority = *patch.Priority
	}
	if patch.Status != nil && *patch.Status != "" && *patch.Status != t.Status {
		t.Status = *patch.Status
		if t.Status == StatusCompleted {
			done := now
			t.CompletedAt = &done
		} else {
			t.CompletedAt = nil
		}
	}
	t.UpdatedAt = now
}

// DeleteTask removes a task and its sessions.
func (m *MemRepository) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[id]; !ok {
		return errors.NotFound("task", id)
	}
	delete(m.tasks, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	kept := m.sessions[:0]
	for _, s := range m.sessions {
		if s.TaskID != id {
			kept = append(kept, s)
		}
	}
	m.sessions = kept
	return nil
}

// StartTimer opens a session on taskID.
func (m *MemRepository) StartTimer(ctx context.Context, taskID, notes string, at time.Time) (*TimerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return nil, errors.NotFound("task", taskID)
	}
	for _, s := range m.sessions {
		if s.Running() {
			return nil, errors.NewBuilder(errors.KindValidation, "a timer is already running for "+s.TaskTitle).
				WithContext("session_id", s.ID).
				WithSuggestion("Stop the running timer first").
				Build()
		}
	}

	s := &TimerSession{ID: uuid.NewString(), TaskID: taskID, TaskTitle: t.Title, StartTime: at, Notes: notes}
	m.sessions = append(m.sessions, s)
	cp := *s
	return &cp, nil
}

// StopTimer closes a running session.
func (m *MemRepository) StopTimer(ctx context.Context, sessionID, notes string, at time.Time) (*TimerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.ID != sessionID {
			continue
		}
		if !s.Running() {
			return nil, errors.Validation("timer session " + sessionID + " is not running")
		}
		end := at
		s.EndTime = &end
		if notes != "" {
			s.Notes = notes
		}
		cp := *s
		return &cp, nil
	}
	return nil, errors.NotFound("timer session", sessionID)
}

// ActiveTimer returns the running session or nil.
func (m *MemRepository) ActiveTimer(ctx context.Context) (*TimerSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		if s.Running() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

// TimeStats sums sessions started within [start, end].
func (m *MemRepository) TimeStats(ctx context.Context, start, end string, now time.Time) (*TimeStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]TimerSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, *s)
	}
	return SummariseSessions(sessions, start, end, now), nil
}

// SummariseSessions builds TimeStats from sessions whose local start date
// lies within [start, end]. Tasks are ordered by time spent, descending.
func SummariseSessions(sessions []TimerSession, start, end string, now time.Time) *TimeStats {
	stats := &TimeStats{StartDate: start, EndDate: end, ByTask: []TaskTime{}}
	byTask := make(map[string]*TaskTime)

	for i := range sessions {
		s := &sessions[i]
		day := s.StartTime.Local().Format(DateLayout)
		if day < start || day > end {
			continue
		}
		secs := int64(s.Duration(now).Seconds())
		stats.TotalSeconds += secs
		stats.SessionCount++

		tt, ok := byTask[s.TaskID]
		if !ok {
			tt = &TaskTime{TaskID: s.TaskID, Title: s.TaskTitle}
			byTask[s.TaskID] = tt
		}
		tt.Seconds += secs
	}

	for _, tt := range byTask {
		stats.ByTask = append(stats.ByTask, *tt)
	}
	sort.Slice(stats.ByTask, func(i, j int) bool {
		if stats.ByTask[i].Seconds != stats.ByTask[j].Seconds {
			return stats.ByTask[i].Seconds > stats.ByTask[j].Seconds
		}
		return stats.ByTask[i].TaskID < stats.ByTask[j].TaskID
	})
	return stats
}
