package agent

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/tools/executor"
	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

func threeTasks() executor.TaskList {
	return executor.TaskList{Total: 3, Tasks: []executor.Task{
		{ID: "1", Title: "Write report", Status: executor.StatusPending},
		{ID: "2", Title: "Review PR", Status: executor.StatusInProgress},
		{ID: "3", Title: "Send invoice", Status: executor.StatusCompleted},
	}}
}

func TestFormatObservationTaskList(t *testing.T) {
	obs := FormatObservation(protocol.ToolResult{Success: true, Data: threeTasks()})
	assert.Equal(t, `Found 3 tasks: Pending (1): "Write report"; In Progress (1): "Review PR"; Completed (1): "Send invoice"`, obs)

	assert.Equal(t, "Found 0 tasks", FormatObservation(protocol.ToolResult{Success: true, Data: executor.TaskList{Tasks: []executor.Task{}}}))
}

func TestFormatObservationCapsList(t *testing.T) {
	var list executor.TaskList
	for i := 0; i < 25; i++ {
		list.Tasks = append(list.Tasks, executor.Task{ID: fmt.Sprint(i), Title: fmt.Sprintf("Task %02d", i), Status: executor.StatusPending})
	}
	list.Total = 30

	obs := FormatObservation(protocol.ToolResult{Success: true, Data: list})
	assert.True(t, strings.HasPrefix(obs, "Found 30 tasks (showing first 20): Pending (20): "))
	assert.Contains(t, obs, `"Task 19"`)
	assert.NotContains(t, obs, `"Task 20"`)
}

func TestFormatObservationEntities(t *testing.T) {
	end := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	start := end.Add(-90 * time.Minute)

	tests := []struct {
		name string
		data any
		want string
	}{
		{"task", &executor.Task{ID: "t1", Title: "Review PR", Status: "pending", Priority: "high", DueDate: "2026-03-05"},
			`Task "Review PR" (id t1, status pending, priority high, due 2026-03-05)`},
		{"deleted", executor.DeletedTask{ID: "t1", Title: "Review PR"}, `Deleted task "Review PR" (id t1)`},
		{"started", &executor.TimerSession{ID: "s1", TaskID: "t1", TaskTitle: "Review PR", StartTime: start},
			`Timer started for "Review PR" (session s1, task t1)`},
		{"stopped", &executor.TimerSession{ID: "s1", TaskID: "t1", TaskTitle: "Review PR", StartTime: start, EndTime: &end},
			`Timer stopped for "Review PR" after 1h 30m (session s1)`},
		{"idle timer", executor.ActiveTimer{}, "No timer is running"},
		{"stats", &executor.TimeStats{StartDate: "2026-03-04", EndDate: "2026-03-04", TotalSeconds: 5400, SessionCount: 2,
			ByTask: []executor.TaskTime{{TaskID: "t1", Title: "Review PR", Seconds: 5400}}},
			`Tracked 1h 30m across 2 sessions from 2026-03-04 to 2026-03-04: "Review PR" 1h 30m`},
		{"other", map[string]any{"n": 1}, `ok: {"n":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ""
			if tt.name == "other" {
				msg = "ok"
			}
			assert.Equal(t, tt.want, FormatObservation(protocol.ToolResult{Success: true, Data: tt.data, Message: msg}))
		})
	}
}

func TestFormatObservationError(t *testing.T) {
	obs := FormatObservation(protocol.ToolResult{Success: false, Error: "[PermissionDenied] tool create_task requires modify_tasks"})
	assert.Equal(t, "Error: [PermissionDenied] tool create_task requires modify_tasks", obs)

	obs = FormatObservation(protocol.ToolResult{Success: false, Message: "no timer is running"})
	assert.Equal(t, "Error: no timer is running", obs)
}

func TestFormatAnswerTasks(t *testing.T) {
	call := protocol.ToolCall{Name: "get_tasks", Args: map[string]any{}}

	answer, ok := FormatAnswer(call, protocol.ToolResult{Success: true, Data: threeTasks()})
	assert.True(t, ok)
	assert.Equal(t, "Here are your tasks:\nPending:\n- Write report\nIn Progress:\n- Review PR\nCompleted:\n- Send invoice", answer)

	call.Args["date"] = "2026-03-04"
	answer, ok = FormatAnswer(call, protocol.ToolResult{Success: true, Data: executor.TaskList{}})
	assert.True(t, ok)
	assert.Equal(t, "You have no tasks for 2026-03-04.", answer)
}

func TestFormatAnswerCapsList(t *testing.T) {
	var list executor.TaskList
	for i := 0; i < 40; i++ {
		list.Tasks = append(list.Tasks, executor.Task{Title: fmt.Sprintf("Task %02d", i), Status: executor.StatusInProgress})
	}
	list.Total = 40

	answer, ok := FormatAnswer(protocol.ToolCall{Name: "get_tasks"}, protocol.ToolResult{Success: true, Data: list})
	assert.True(t, ok)
	assert.True(t, strings.HasPrefix(answer, "Here are your tasks (showing first 20 of 40):\nIn Progress:"))
	assert.Equal(t, MaxListed, strings.Count(answer, "\n- "))
}

func TestFormatAnswerEntities(t *testing.T) {
	end := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	start := end.Add(-25 * time.Minute)
	task := &executor.Task{ID: "t1", Title: "Review PR", Status: "in_progress", Priority: "high", DueDate: "2026-03-05"}

	tests := []struct {
		tool string
		data any
		want string
	}{
		{"create_task", task, `Created task "Review PR" (high priority, due 2026-03-05).`},
		{"update_task", task, `Updated task "Review PR" (status: in progress, priority: high).`},
		{"complete_task", task, `Completed task "Review PR".`},
		{"delete_task", executor.DeletedTask{ID: "t1", Title: "Review PR"}, `Deleted task "Review PR".`},
		{"start_timer", &executor.TimerSession{TaskTitle: "Review PR", StartTime: start}, `Started timer for "Review PR".`},
		{"stop_timer", &executor.TimerSession{TaskTitle: "Review PR", StartTime: start, EndTime: &end}, `Stopped timer for "Review PR" after 25m.`},
		{"get_active_timer", executor.ActiveTimer{}, "No timer is running."},
		{"get_active_timer", executor.ActiveTimer{Running: true, ElapsedSeconds: 600,
			Session: &executor.TimerSession{TaskTitle: "Review PR"}}, `Timer running for "Review PR" (10m).`},
		{"get_time_stats", &executor.TimeStats{StartDate: "2026-03-02", EndDate: "2026-03-04"}, "No time tracked for 2026-03-02 to 2026-03-04."},
		{"get_time_stats", &executor.TimeStats{StartDate: "2026-03-04", EndDate: "2026-03-04", TotalSeconds: 3600, SessionCount: 1,
			ByTask: []executor.TaskTime{{Title: "Review PR", Seconds: 3600}}}, "You tracked 1h 0m across 1 session for 2026-03-04.\n- Review PR: 1h 0m"},
	}
	for _, tt := range tests {
		answer, ok := FormatAnswer(protocol.ToolCall{Name: tt.tool}, protocol.ToolResult{Success: true, Data: tt.data})
		assert.True(t, ok, tt.tool)
		assert.Equal(t, tt.want, answer, tt.tool)
	}
}

func TestFormatAnswerFallsBack(t *testing.T) {
	_, ok := FormatAnswer(protocol.ToolCall{Name: "create_task"}, protocol.ToolResult{Success: false, Error: "boom"})
	assert.False(t, ok)

	_, ok = FormatAnswer(protocol.ToolCall{Name: "custom_tool"}, protocol.ToolResult{Success: true})
	assert.False(t, ok)

	_, ok = FormatAnswer(protocol.ToolCall{Name: "get_tasks"}, protocol.ToolResult{Success: true, Data: "unexpected"})
	assert.False(t, ok)
}

func TestAnswersStayShort(t *testing.T) {
	long := strings.Repeat("x", 500)
	answer, ok := FormatAnswer(protocol.ToolCall{Name: "create_task"}, protocol.ToolResult{Success: true,
		Data: &executor.Task{Title: long, Priority: "medium"}})
	assert.True(t, ok)
	assert.Less(t, len([]rune(answer)), 200)
}
