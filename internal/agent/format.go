package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/tools/executor"
	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

// MaxListed caps the tasks named in observations and answers.
const MaxListed = 20

const maxTitle = 120

// FormatObservation summarises a tool result for the model.
func FormatObservation(res protocol.ToolResult) string {
	if !res.Success {
		cause := res.Error
		if cause == "" {
			cause = res.Message
		}
		return "Error: " + cause
	}

	switch data := res.Data.(type) {
	case executor.TaskList:
		return taskListObservation(data)
	case *executor.TaskList:
		return taskListObservation(*data)
	case *executor.Task:
		return taskSummary(data)
	case executor.DeletedTask:
		return fmt.Sprintf("Deleted task %q (id %s)", data.Title, data.ID)
	case *executor.TimerSession:
		return sessionSummary(data)
	case executor.ActiveTimer:
		if !data.Running || data.Session == nil {
			return "No timer is running"
		}
		return fmt.Sprintf("Timer running for %q (session %s, task %s, %s elapsed)",
			data.Session.TaskTitle, data.Session.ID, data.Session.TaskID,
			executor.FormatDuration(time.Duration(data.ElapsedSeconds)*time.Second))
	case *executor.TimeStats:
		return statsSummary(data)
	case nil:
		return nonEmpty(res.Message, "Done")
	default:
		raw, err := json.Marshal(data)
		if err != nil {
			return nonEmpty(res.Message, "Done")
		}
		if res.Message != "" {
			return res.Message + ": " + string(raw)
		}
		return string(raw)
	}
}

type taskGroup struct {
	label  string
	status string
}

var taskGroups = []taskGroup{
	{"Pending", executor.StatusPending},
	{"In Progress", executor.StatusInProgress},
	{"Completed", executor.StatusCompleted},
}

func taskListObservation(list executor.TaskList) string {
	total := list.Total
	if total < len(list.Tasks) {
		total = len(list.Tasks)
	}
	if total == 0 {
		return "Found 0 tasks"
	}

	header := fmt.Sprintf("Found %d %s", total, plural(total, "task", "tasks"))
	shown := list.Tasks
	if len(shown) > MaxListed {
		shown = shown[:MaxListed]
	}
	if len(shown) < total {
		header += fmt.Sprintf(" (showing first %d)", len(shown))
	}

	var groups []string
	for _, g := range taskGroups {
		titles := titlesWithStatus(shown, g.status)
		if len(titles) == 0 {
			continue
		}
		quoted := make([]string, len(titles))
		for i, t := range titles {
			quoted[i] = fmt.Sprintf("%q", t)
		}
		groups = append(groups, fmt.Sprintf("%s (%d): %s", g.label, len(titles), strings.Join(quoted, ", ")))
	}
	return header + ": " + strings.Join(groups, "; ")
}

func taskSummary(t *executor.Task) string {
	parts := []string{"id " + t.ID, "status " + t.Status}
	if t.Priority != "" {
		parts = append(parts, "priority "+t.Priority)
	}
	if t.DueDate != "" {
		parts = append(parts, "due "+t.DueDate)
	}
	return fmt.Sprintf("Task %q (%s)", clip(t.Title), strings.Join(parts, ", "))
}

func sessionSummary(s *executor.TimerSession) string {
	if s.Running() {
		return fmt.Sprintf("Timer started for %q (session %s, task %s)", s.TaskTitle, s.ID, s.TaskID)
	}
	return fmt.Sprintf("Timer stopped for %q after %s (session %s)",
		s.TaskTitle, executor.FormatDuration(s.Duration(time.Time{})), s.ID)
}

func statsSummary(st *executor.TimeStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tracked %s across %d %s from %s to %s",
		executor.FormatDuration(time.Duration(st.TotalSeconds)*time.Second),
		st.SessionCount, plural(st.SessionCount, "session", "sessions"), st.StartDate, st.EndDate)
	for i, tt := range st.ByTask {
		if i == MaxListed {
			break
		}
		sep := "; "
		if i == 0 {
			sep = ": "
		}
		fmt.Fprintf(&b, "%s%q %s", sep, tt.Title, executor.FormatDuration(time.Duration(tt.Seconds)*time.Second))
	}
	return b.String()
}

// FormatAnswer renders a concise final answer for a successful tool
// result. It reports false when the tool has no answer formatter or the
// call failed.
func FormatAnswer(call protocol.ToolCall, res protocol.ToolResult) (string, bool) {
	if !res.Success {
		return "", false
	}

	switch call.Name {
	case "get_tasks":
		list, ok := asTaskList(res.Data)
		if !ok {
			return "", false
		}
		return tasksAnswer(list, call.Args), true

	case "create_task", "update_task", "complete_task":
		t, ok := res.Data.(*executor.Task)
		if !ok {
			return "", false
		}
		switch call.Name {
		case "create_task":
			return createdAnswer(t), true
		case "complete_task":
			return fmt.Sprintf("Completed task %q.", clip(t.Title)), true
		default:
			return fmt.Sprintf("Updated task %q (status: %s, priority: %s).",
				clip(t.Title), humanStatus(t.Status), nonEmpty(t.Priority, "none")), true
		}

	case "delete_task":
		d, ok := res.Data.(executor.DeletedTask)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("Deleted task %q.", clip(d.Title)), true

	case "start_timer", "stop_timer":
		s, ok := res.Data.(*executor.TimerSession)
		if !ok {
			return "", false
		}
		if s.Running() {
			return fmt.Sprintf("Started timer for %q.", clip(s.TaskTitle)), true
		}
		return fmt.Sprintf("Stopped timer for %q after %s.", clip(s.TaskTitle),
			executor.FormatDuration(s.Duration(time.Time{}))), true

	case "get_active_timer":
		a, ok := res.Data.(executor.ActiveTimer)
		if !ok {
			return "", false
		}
		if !a.Running || a.Session == nil {
			return "No timer is running.", true
		}
		return fmt.Sprintf("Timer running for %q (%s).", clip(a.Session.TaskTitle),
			executor.FormatDuration(time.Duration(a.ElapsedSeconds)*time.Second)), true

	case "get_time_stats":
		st, ok := res.Data.(*executor.TimeStats)
		if !ok {
			return "", false
		}
		return statsAnswer(st), true
	}
	return "", false
}

func asTaskList(data any) (executor.TaskList, bool) {
	switch v := data.(type) {
	case executor.TaskList:
		return v, true
	case *executor.TaskList:
		if v != nil {
			return *v, true
		}
	}
	return executor.TaskList{}, false
}

func tasksAnswer(list executor.TaskList, args map[string]any) string {
	scope := ""
	if date, _ := args["date"].(string); date != "" {
		scope = " for " + date
	}
	if len(list.Tasks) == 0 {
		return "You have no tasks" + scope + "."
	}

	shown := list.Tasks
	if len(shown) > MaxListed {
		shown = shown[:MaxListed]
	}
	total := list.Total
	if total < len(list.Tasks) {
		total = len(list.Tasks)
	}

	var b strings.Builder
	b.WriteString("Here are your tasks" + scope)
	if len(shown) < total {
		fmt.Fprintf(&b, " (showing first %d of %d)", len(shown), total)
	}
	b.WriteString(":")
	for _, g := range taskGroups {
		titles := titlesWithStatus(shown, g.status)
		if len(titles) == 0 {
			continue
		}
		b.WriteString("\n" + g.label + ":")
		for _, t := range titles {
			b.WriteString("\n- " + clip(t))
		}
	}
	return b.String()
}

func createdAnswer(t *executor.Task) string {
	var extra []string
	if t.Priority != "" {
		extra = append(extra, t.Priority+" priority")
	}
	if t.DueDate != "" {
		extra = append(extra, "due "+t.DueDate)
	}
	s := fmt.Sprintf("Created task %q", clip(t.Title))
	if len(extra) > 0 {
		s += " (" + strings.Join(extra, ", ") + ")"
	}
	return s + "."
}

func statsAnswer(st *executor.TimeStats) string {
	span := st.StartDate
	if st.EndDate != "" && st.EndDate != st.StartDate {
		span = st.StartDate + " to " + st.EndDate
	}
	if st.SessionCount == 0 {
		return "No time tracked for " + span + "."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You tracked %s across %d %s for %s.",
		executor.FormatDuration(time.Duration(st.TotalSeconds)*time.Second),
		st.SessionCount, plural(st.SessionCount, "session", "sessions"), span)
	for i, tt := range st.ByTask {
		if i == MaxListed {
			break
		}
		fmt.Fprintf(&b, "\n- %s: %s", clip(tt.Title), executor.FormatDuration(time.Duration(tt.Seconds)*time.Second))
	}
	return b.String()
}

func titlesWithStatus(tasks []executor.Task, status string) []string {
	var out []string
	for _, t := range tasks {
		s := t.Status
		if s == "" {
			s = executor.StatusPending
		}
		if s == status {
			out = append(out, t.Title)
		}
	}
	return out
}

func humanStatus(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxTitle {
		return s
	}
	return string(r[:maxTitle-1]) + "…"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func nonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
