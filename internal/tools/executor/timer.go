package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/errors"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/tools/schemas"
	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

var timerControl = protocol.Permissions(protocol.TimerControl)

// StartTimer starts tracking time on a task.
type StartTimer struct {
	repo Repository
	now  func() time.Time
}

func (t *StartTimer) Name() string                        { return "start_timer" }
func (t *StartTimer) Description() string                 { return "Start tracking time on a task" }
func (t *StartTimer) Schema() *schemas.Schema             { return schemas.StartTimer() }
func (t *StartTimer) Permissions() protocol.PermissionSet { return timerControl }

func (t *StartTimer) Execute(ctx context.Context, input map[string]any) (*Result, error) {
	start := time.Now()

	s, err := t.repo.StartTimer(ctx, stringArg(input, "task_id"), stringArg(input, "notes"), t.now())
	if err != nil {
		return nil, err
	}
	return TimedResult(NewSuccessResult(s, fmt.Sprintf("Started timer for %q", s.TaskTitle)), start), nil
}

// StopTimer stops a running session; without session_id it stops
// whichever session is running.
type StopTimer struct {
	repo Repository
	now  func() time.Time
}

func (t *StopTimer) Name() string                        { return "stop_timer" }
func (t *StopTimer) Description() string                 { return "Stop the running timer" }
func (t *StopTimer) Schema() *schemas.Schema             { return schemas.StopTimer() }
func (t *StopTimer) Permissions() protocol.PermissionSet { return timerControl }

func (t *StopTimer) Execute(ctx context.Context, input map[string]any) (*Result, error) {
	start := time.Now()

	id := stringArg(input, "session_id")
	if id == "" {
		active, err := t.repo.ActiveTimer(ctx)
		if err != nil {
			return nil, err
		}
		if active == nil {
			return nil, errors.Validation("no timer is running")
		}
		id = active.ID
	}

	s, err := t.repo.StopTimer(ctx, id, stringArg(input, "notes"), t.now())
	if err != nil {
		return nil, err
	}
	return TimedResult(NewSuccessResult(s, fmt.Sprintf("Stopped timer for %q after %s",
		s.TaskTitle, FormatDuration(s.Duration(t.now())))), start), nil
}

// GetActiveTimer reports the running session.
type GetActiveTimer struct {
	repo Repository
	now  func() time.Time
}

func (t *GetActiveTimer) Name() string                        { return "get_active_timer" }
func (t *GetActiveTimer) Description() string                 { return "Show the running timer, if any" }
func (t *GetActiveTimer) Schema() *schemas.Schema             { return schemas.GetActiveTimer() }
func (t *GetActiveTimer) Permissions() protocol.PermissionSet { return readOnly }

func (t *GetActiveTimer) Execute(ctx context.Context, input map[string]any) (*Result, error) {
	start := time.Now()

	s, err := t.repo.ActiveTimer(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return TimedResult(NewSuccessResult(ActiveTimer{}, "No timer is running"), start), nil
	}

	elapsed := s.Duration(t.now())
	return TimedResult(NewSuccessResult(ActiveTimer{
		Running:        true,
		Session:        s,
		ElapsedSeconds: int64(elapsed.Seconds()),
	}, fmt.Sprintf("Timer running for %q (%s)", s.TaskTitle, FormatDuration(elapsed))), start), nil
}

// GetTimeStats summarises tracked time.
type GetTimeStats struct {
	repo Repository
	now  func() time.Time
}

func (t *GetTimeStats) Name() string                        { return "get_time_stats" }
func (t *GetTimeStats) Description() string                 { return "Summarise tracked time between two dates" }
func (t *GetTimeStats) Schema() *schemas.Schema             { return schemas.GetTimeStats() }
func (t *GetTimeStats) Permissions() protocol.PermissionSet { return readOnly }

func (t *GetTimeStats) Execute(ctx context.Context, input map[string]any) (*Result, error) {
	start := time.Now()
	now := t.now()

	from := stringArg(input, "start_date")
	if from == "" {
		from = now.Format(DateLayout)
	}
	to := stringArg(input, "end_date")
	if to == "" {
		to = from
	}
	if to < from {
		return nil, errors.Validation(fmt.Sprintf("end_date %s is before start_date %s", to, from))
	}

	stats, err := t.repo.TimeStats(ctx, from, to, now)
	if err != nil {
		return nil, err
	}
	return TimedResult(NewSuccessResult(stats, fmt.Sprintf("Tracked %s across %d session(s)",
		FormatDuration(time.Duration(stats.TotalSeconds)*time.Second), stats.SessionCount)), start), nil
}

// FormatDuration renders d as "1h 5m", "12m" or "40s".
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
