package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/tools/schemas"
	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

var (
	readOnly    = protocol.Permissions(protocol.ReadOnly)
	modifyTasks = protocol.Permissions(protocol.ModifyTasks)
)

// GetTasks lists tasks.
type GetTasks struct{ repo Repository }

func (t *GetTasks) Name() string                        { return "get_tasks" }
func (t *GetTasks) Description() string                 { return "List tasks, optionally filtered by status, priority or date" }
func (t *GetTasks) Schema() *schemas.Schema             { return schemas.GetTasks() }
func (t *GetTasks) Permissions() protocol.PermissionSet { return readOnly }

func (t *GetTasks) Execute(ctx context.Context, input map[string]any) (*Result, error) {
	start := time.Now()

	filter := TaskFilter{
		Status:   stringArg(input, "status"),
		Priority: stringArg(input, "priority"),
		Date:     stringArg(input, "date"),
		Limit:    intArg(input, "limit", 50),
	}
	tasks, total, err := t.repo.FindTasks(ctx, filter)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []Task{}
	}

	msg := fmt.Sprintf("Found %d task(s)", total)
	if len(tasks) < total {
		msg = fmt.Sprintf("Found %d task(s), returning %d", total, len(tasks))
	}
	return TimedResult(NewSuccessResult(TaskList{Tasks: tasks, Total: total}, msg), start), nil
}

// CreateTask creates a task.
type CreateTask struct{ repo Repository }

func (t *CreateTask) Name() string                        { return "create_task" }
func (t *CreateTask) Description() string                 { return "Create a new task" }
func (t *CreateTask) Schema() *schemas.Schema             { return schemas.CreateTask() }
func (t *CreateTask) Permissions() protocol.PermissionSet { return modifyTasks }

func (t *CreateTask) Execute(ctx context.Context, input map[string]any) (*Result, error) {
	start := time.Now()

	task, err := t.repo.CreateTask(ctx, Task{
		Title:       stringArg(input, "title"),
		Description: stringArg(input, "description"),
		Priority:    stringArg(input, "priority"),
		DueDate:     stringArg(input, "due_date"),
	})
	if err != nil {
		return nil, err
	}
	return TimedResult(NewSuccessResult(task, fmt.Sprintf("Created task %q", task.Title)), start), nil
}

// UpdateTask edits a task.
type UpdateTask struct{ repo Repository }

func (t *UpdateTask) Name() string                        { return "update_task" }
func (t *UpdateTask) Description() string                 { return "Update a task's title, description, status or priority" }
func (t *UpdateTask) Schema() *schemas.Schema             { return schemas.UpdateTask() }
func (t *UpdateTask) Permissions() protocol.PermissionSet { return modifyTasks }

func (t *UpdateTask) Execute(ctx context.Context, input map[string]any) (*Result, error) {
	start := time.Now()

	task, err := t.repo.UpdateTask(ctx, stringArg(input, "task_id"), TaskPatch{
		Title:       optionalString(input, "title"),
		Description: optionalString(input, "description"),
		Status:      optionalString(input, "status"),
		Priority:    optionalString(input, "priority"),
	})
	if err != nil {
		return nil, err
	}
	return TimedResult(NewSuccessResult(task, fmt.Sprintf("Updated task %q", task.Title)), start), nil
}

// CompleteTask marks a task completed.
type CompleteTask struct {
	repo Repository
	now  func() time.Time
}

func (t *CompleteTask) Name() string                        { return "complete_task" }
func (t *CompleteTask) Description() string                 { return "Mark a task as completed" }
func (t *CompleteTask) Schema() *schemas.Schema             { return schemas.CompleteTask() }
func (t *CompleteTask) Permissions() protocol.PermissionSet { return modifyTasks }

func (t *CompleteTask) Execute(ctx context.Context, input map[string]any) (*Result, error) {
	start := time.Now()
	id := stringArg(input, "task_id")

	task, err := t.repo.CompleteTask(ctx, id, t.now())
	if err != nil {
		return nil, err
	}
	return TimedResult(NewSuccessResult(task, fmt.Sprintf("Completed task %q", task.Title)), start), nil
}

// DeleteTask deletes a task.
type DeleteTask struct{ repo Repository }

func (t *DeleteTask) Name() string                        { return "delete_task" }
func (t *DeleteTask) Description() string                 { return "Delete a task" }
func (t *DeleteTask) Schema() *schemas.Schema             { return schemas.DeleteTask() }
func (t *DeleteTask) Permissions() protocol.PermissionSet { return modifyTasks }

func (t *DeleteTask) Execute(ctx context.Context, input map[string]any) (*Result, error) {
	start := time.Now()
	id := stringArg(input, "task_id")

	task, err := t.repo.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := t.repo.DeleteTask(ctx, id); err != nil {
		return nil, err
	}
	return TimedResult(NewSuccessResult(DeletedTask{ID: task.ID, Title: task.Title},
		fmt.Sprintf("Deleted task %q", task.Title)), start), nil
}
