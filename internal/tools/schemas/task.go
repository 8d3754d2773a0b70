package schemas

import "github.com/vietanhdev/kirapilot-app-sub001/internal/classifier"

// Task field values.
var (
	Statuses   = []string{"pending", "in_progress", "completed"}
	Priorities = []string{"low", "medium", "high", "urgent"}
)

// GetTasks lists tasks with optional filters.
func GetTasks() *Schema {
	return NewSchema("get_tasks", "List tasks, optionally filtered by status, priority or due date").
		AddParamWithEnum("status", TypeString, "Only tasks with this status", Statuses, false, Inferred(InferStatus), Filter()).
		AddParamWithEnum("priority", TypeString, "Only tasks with this priority", Priorities, false, Inferred(InferPriority), Filter()).
		AddParam("date", TypeString, "Only tasks due or scheduled on this date (YYYY-MM-DD)", false, DateFormat(), Inferred(InferDate), Filter()).
		AddParam("limit", TypeInteger, "Maximum number of tasks to return", false, Range(1, 100)).
		Build()
}

// CreateTask creates a task.
func CreateTask() *Schema {
	return NewSchema("create_task", "Create a new task").
		AddParam("title", TypeString, "Task title", true, Pattern(classifier.TitlePattern), Inferred(InferText)).
		AddParam("description", TypeString, "Task description", false).
		AddParamWithEnum("priority", TypeString, "Priority level", Priorities, false).
		AddParam("due_date", TypeString, "Due date (YYYY-MM-DD)", false, DateFormat()).
		Build()
}

// UpdateTask edits task fields.
func UpdateTask() *Schema {
	return NewSchema("update_task", "Update the title, description, status or priority of a task").
		AddParam("task_id", TypeString, "Task ID to update", true, Inferred(InferTaskID)).
		AddParam("title", TypeString, "New task title", false).
		AddParam("description", TypeString, "New task description", false).
		AddParamWithEnum("status", TypeString, "New status", Statuses, false).
		AddParamWithEnum("priority", TypeString, "New priority level", Priorities, false).
		Build()
}

// CompleteTask marks a task completed.
func CompleteTask() *Schema {
	return NewSchema("complete_task", "Mark a task as completed").
		AddParam("task_id", TypeString, "Task ID to complete", true, Inferred(InferTaskID)).
		Build()
}

// DeleteTask deletes a task.
func DeleteTask() *Schema {
	return NewSchema("delete_task", "Delete a task").
		AddParam("task_id", TypeString, "Task ID to delete", true, Inferred(InferTaskID)).
		Build()
}

// StartTimer starts a time-tracking session.
func StartTimer() *Schema {
	return NewSchema("start_timer", "Start tracking time on a task").
		AddParam("task_id", TypeString, "Task ID to track", true, Inferred(InferTaskID)).
		AddParam("notes", TypeString, "Session notes", false).
		Build()
}

// StopTimer stops a time-tracking session.
func StopTimer() *Schema {
	return NewSchema("stop_timer", "Stop the running timer").
		AddParam("session_id", TypeString, "Session ID to stop (defaults to the running session)", false, Inferred(InferActiveSession)).
		AddParam("notes", TypeString, "Session notes", false).
		Build()
}

// GetActiveTimer reports the running session.
func GetActiveTimer() *Schema {
	return NewSchema("get_active_timer", "Show the running timer, if any").
		Build()
}

// GetTimeStats summarises tracked time.
func GetTimeStats() *Schema {
	return NewSchema("get_time_stats", "Summarise tracked time between two dates").
		AddParam("start_date", TypeString, "First day (YYYY-MM-DD, default today)", false, DateFormat(), Inferred(InferDate), Filter()).
		AddParam("end_date", TypeString, "Last day (YYYY-MM-DD, default start_date)", false, DateFormat()).
		Build()
}
