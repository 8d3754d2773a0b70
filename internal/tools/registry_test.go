package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/errors"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/tools/executor"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/tools/schemas"
	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

var (
	allPerms = protocol.Permissions(protocol.FullAccess)
	testNow  = time.Date(2026, 3, 4, 9, 0, 0, 0, time.Local) // Wednesday
)

func newTestRegistry(perms protocol.PermissionSet) (*Registry, *executor.MemRepository) {
	repo := executor.NewMemRepository()
	r := NewTaskRegistry(repo, Config{Permissions: perms})
	r.now = func() time.Time { return testNow }
	return r, repo
}

func toolCtx(msg string) protocol.ToolContext {
	return protocol.ToolContext{UserMessage: msg, CurrentTime: testNow}
}

func TestAvailableToolsFiltersByPermission(t *testing.T) {
	r, _ := newTestRegistry(protocol.Permissions(protocol.ReadOnly))

	assert.Equal(t, []string{"get_tasks", "get_active_timer", "get_time_stats"}, r.AvailableTools())
	assert.True(t, r.HasTool("get_tasks"))
	assert.False(t, r.HasTool("create_task"))
	assert.False(t, r.HasTool("nope"))
	assert.Len(t, r.Definitions(), 3)

	full := r.WithPermissions(allPerms)
	assert.Len(t, full.AvailableTools(), 9)
	assert.Len(t, r.AvailableTools(), 3, "the original view keeps its grant")

	def, ok := full.Definition("create_task")
	require.True(t, ok)
	assert.True(t, def.RequiredPermissions.Has(protocol.ModifyTasks))
	assert.NotEmpty(t, def.Examples)
}

func TestExecuteToolPermissionDenied(t *testing.T) {
	r, repo := newTestRegistry(protocol.Permissions(protocol.ReadOnly))

	res := r.ExecuteTool(context.Background(), "create_task", map[string]any{"title": "Review PR"}, toolCtx("create task: Review PR"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "PermissionDenied")
	assert.Contains(t, res.Error, "modify_tasks")

	tasks, _, _ := repo.FindTasks(context.Background(), executor.TaskFilter{})
	assert.Empty(t, tasks)
}

func TestExecuteToolUnknown(t *testing.T) {
	r, _ := newTestRegistry(allPerms)
	res := r.ExecuteTool(context.Background(), "launch_rocket", nil, toolCtx(""))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, string(errors.KindNotFound))
}

func TestExecuteToolInfersArguments(t *testing.T) {
	r, repo := newTestRegistry(allPerms)
	ctx := context.Background()

	res := r.ExecuteTool(ctx, "create_task", map[string]any{"due_date": "2026-03-04"}, toolCtx("create task: Review PR"))
	require.True(t, res.Success, res.Error)
	created := res.Data.(*executor.Task)
	assert.Equal(t, "Review PR", created.Title)

	_, _ = repo.CreateTask(ctx, executor.Task{Title: "Later", DueDate: "2026-03-06"})

	res = r.ExecuteTool(ctx, "get_tasks", map[string]any{}, toolCtx("list tasks for today"))
	require.True(t, res.Success, res.Error)
	list := res.Data.(executor.TaskList)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "Review PR", list.Tasks[0].Title)

	res = r.ExecuteTool(ctx, "get_tasks", map[string]any{}, toolCtx("what's due friday"))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Later", res.Data.(executor.TaskList).Tasks[0].Title)

	tc := toolCtx("mark it done")
	tc.RecentTaskIDs = []string{created.ID, "older"}
	res = r.ExecuteTool(ctx, "complete_task", map[string]any{}, tc)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, executor.StatusCompleted, res.Data.(*executor.Task).Status)
}

func TestInferArgs(t *testing.T) {
	r, _ := newTestRegistry(allPerms)

	tc := toolCtx("show high priority tasks in progress for tomorrow")
	args := r.InferArgs(schemas.GetTasks(), map[string]any{"priority": "low"}, tc)
	assert.Equal(t, "low", args["priority"], "explicit arguments win")
	assert.Equal(t, "in_progress", args["status"])
	assert.Equal(t, "2026-03-05", args["date"])

	tc = toolCtx("start the timer")
	tc.ActiveTaskID = "active"
	tc.RecentTaskIDs = []string{"recent"}
	assert.Equal(t, "active", r.InferArgs(schemas.StartTimer(), nil, tc)["task_id"])

	tc.ActiveTaskID = ""
	assert.Equal(t, "recent", r.InferArgs(schemas.StartTimer(), nil, tc)["task_id"])

	tc.UserMessage = "start task 42"
	assert.Equal(t, "42", r.InferArgs(schemas.StartTimer(), nil, tc)["task_id"])

	tc = toolCtx("stop")
	tc.ActiveTimerSessionID = "s1"
	_, ok := r.InferArgs(schemas.StopTimer(), nil, tc)["session_id"]
	assert.False(t, ok, "optional session id is resolved by the tool")

	tc = toolCtx("from 2026-03-01 show stats")
	assert.Equal(t, "2026-03-01", r.InferArgs(schemas.GetTimeStats(), nil, tc)["start_date"])

	_, ok = r.InferArgs(schemas.CompleteTask(), nil, toolCtx("finish it"))["task_id"]
	assert.False(t, ok)
}

func TestInferArgsLeavesOptionalWriteFieldsAlone(t *testing.T) {
	r, repo := newTestRegistry(allPerms)
	ctx := context.Background()

	title := "Review high availability PR for Friday demo"
	tc := toolCtx("create task: " + title)

	args := r.InferArgs(schemas.CreateTask(), map[string]any{"title": title}, tc)
	assert.NotContains(t, args, "priority")
	assert.NotContains(t, args, "due_date")

	res := r.ExecuteTool(ctx, "create_task", map[string]any{"title": title}, tc)
	require.True(t, res.Success, res.Error)
	created := res.Data.(*executor.Task)
	assert.Equal(t, title, created.Title)
	assert.Equal(t, "medium", created.Priority)
	assert.Empty(t, created.DueDate)

	stored, err := repo.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "medium", stored.Priority)
	assert.Empty(t, stored.DueDate)

	args = r.InferArgs(schemas.UpdateTask(), map[string]any{"task_id": created.ID}, toolCtx("make it urgent and in progress"))
	assert.NotContains(t, args, "priority")
	assert.NotContains(t, args, "status")
}

func TestExecuteToolMissingRequiredField(t *testing.T) {
	r, _ := newTestRegistry(allPerms)

	res := r.ExecuteTool(context.Background(), "complete_task", nil, toolCtx("finish it"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "ValidationError")
	assert.Contains(t, res.Error, "task_id")
}

func TestExecuteToolInvalidArgs(t *testing.T) {
	r, _ := newTestRegistry(allPerms)

	res := r.ExecuteTool(context.Background(), "get_tasks", map[string]any{"limit": 1000.0}, toolCtx("list"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "limit")
}

type panickyTool struct{}

func (panickyTool) Name() string                        { return "explode" }
func (panickyTool) Description() string                 { return "always panics" }
func (panickyTool) Schema() *schemas.Schema             { return schemas.NewSchema("explode", "").Build() }
func (panickyTool) Permissions() protocol.PermissionSet { return protocol.Permissions(protocol.ReadOnly) }
func (panickyTool) Execute(ctx context.Context, input map[string]any) (*executor.Result, error) {
	panic("boom")
}

func TestExecuteToolRecoversPanics(t *testing.T) {
	r, _ := newTestRegistry(allPerms)
	r.Register(panickyTool{})

	res := r.ExecuteTool(context.Background(), "explode", nil, toolCtx(""))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "boom")
	assert.Contains(t, res.Error, string(errors.KindInternal))
}

func TestExecuteToolCancelled(t *testing.T) {
	r, _ := newTestRegistry(allPerms)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.ExecuteTool(ctx, "get_tasks", nil, toolCtx("list"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, string(errors.KindAborted))
}

func TestSuggestTools(t *testing.T) {
	r, _ := newTestRegistry(allPerms)

	suggestions := r.SuggestTools(toolCtx("list tasks for today"))
	require.NotEmpty(t, suggestions)
	assert.Equal(t, "get_tasks", suggestions[0].ToolName)
	assert.Equal(t, "2026-03-04", suggestions[0].InferredArgs["date"])
	for _, s := range suggestions {
		assert.GreaterOrEqual(t, s.Score, 0.0)
		assert.LessOrEqual(t, s.Score, 1.0)
	}

	tc := toolCtx("start the timer")
	tc.ActiveTaskID = "t1"
	suggestions = r.SuggestTools(tc)
	require.NotEmpty(t, suggestions)
	assert.Equal(t, "start_timer", suggestions[0].ToolName)
	assert.Contains(t, suggestions[0].Reason, "active task")
	assert.Equal(t, "t1", suggestions[0].InferredArgs["task_id"])

	assert.Empty(t, r.SuggestTools(toolCtx("")))
	assert.Empty(t, r.SuggestTools(toolCtx("zzz qqq")))

	readOnly := r.WithPermissions(protocol.Permissions(protocol.ReadOnly))
	for _, s := range readOnly.SuggestTools(toolCtx("create task: Review PR")) {
		assert.NotEqual(t, "create_task", s.ToolName)
	}
}

func TestSuggestToolsCustomWeights(t *testing.T) {
	repo := executor.NewMemRepository()
	r := NewTaskRegistry(repo, Config{
		Permissions:   allPerms,
		Weights:       Weights{Keyword: 1, Static: 1},
		StaticWeights: map[string]float64{"delete_task": 1},
	})

	s := r.SuggestTools(toolCtx("delete the task"))
	require.NotEmpty(t, s)
	assert.Equal(t, "delete_task", s[0].ToolName)
	assert.InDelta(t, 1.0, s[0].Score, 1e-9)
}

// Every tool, given arguments that satisfy its schema, yields a result.
func TestExecuteToolAlwaysReturnsResult(t *testing.T) {
	r, repo := newTestRegistry(allPerms)
	task, _ := repo.CreateTask(context.Background(), executor.Task{Title: "seed"})

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 150
	properties := gopter.NewProperties(params)

	toolNames := r.AvailableTools()
	properties.Property("execute_tool never panics", prop.ForAll(
		func(i int, status, priority, text string, limit int, useSeed bool) bool {
			name := toolNames[i%len(toolNames)]
			args := map[string]any{
				"status":     status,
				"priority":   priority,
				"title":      "t" + text,
				"task_id":    "x" + text,
				"limit":      limit,
				"date":       "2026-03-04",
				"due_date":   "2026-03-05",
				"start_date": "2026-03-01",
				"end_date":   "2026-03-04",
			}
			if useSeed {
				args["task_id"] = task.ID
			}

			res := r.ExecuteTool(context.Background(), name, args, toolCtx(text))
			return res.Success || strings.TrimSpace(res.Error) != ""
		},
		gen.IntRange(0, 100),
		gen.OneConstOf("pending", "in_progress", "completed"),
		gen.OneConstOf("low", "medium", "high", "urgent"),
		gen.AlphaString(),
		gen.IntRange(1, 100),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
