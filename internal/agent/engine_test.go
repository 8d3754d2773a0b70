package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/errors"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/model"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/stats"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/tools"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/tools/executor"
	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedLLM replays responses in order, repeating the last one.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	prompts   []string
	opts      []*model.GenerationOptions
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, opts *model.GenerationOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := len(s.prompts)
	s.prompts = append(s.prompts, prompt)
	s.opts = append(s.opts, opts)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if len(s.responses) == 0 {
		return "", nil
	}
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

func (s *scriptedLLM) ModelInfo() model.ModelInfo {
	return model.ModelInfo{ID: "scripted", Name: "Scripted", Provider: "test"}
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

// recordingLogger counts logger calls.
type recordingLogger struct {
	mu     sync.Mutex
	chains []*protocol.ReActChain
	steps  int
	perf   int
	raw    []int
}

func (l *recordingLogger) LogReActChain(_ context.Context, chain *protocol.ReActChain, _ model.ModelInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chains = append(l.chains, chain)
	return nil
}

func (l *recordingLogger) LogReActStep(context.Context, string, protocol.ReActStep, model.ModelInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps++
	return nil
}

func (l *recordingLogger) LogReActPerformance(context.Context, *protocol.ReActChain, model.ModelInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perf++
	return nil
}

func (l *recordingLogger) LogRawLLMInteraction(_ context.Context, _ string, turn int, _, _ string, _ model.ModelInfo, _ int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.raw = append(l.raw, turn)
	return nil
}

func fastRetry() *errors.Policy {
	return &errors.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 1}
}

func newTaskTools(perms protocol.PermissionSet) (*tools.Registry, *executor.MemRepository) {
	repo := executor.NewMemRepository()
	return tools.NewTaskRegistry(repo, tools.Config{Permissions: perms}), repo
}

var fullAccess = protocol.Permissions(protocol.FullAccess)

func actionSteps(chain *protocol.ReActChain) []protocol.ReActStep {
	var out []protocol.ReActStep
	for _, s := range chain.Steps {
		if s.Type == protocol.StepAction {
			out = append(out, s)
		}
	}
	return out
}

func assertNoFiller(t *testing.T, text string) {
	t.Helper()
	lower := strings.ToLower(text)
	for _, word := range []string{"analysis", "recommendations", "workflow"} {
		assert.NotContains(t, lower, word)
	}
}

func TestListTodayEmpty(t *testing.T) {
	reg, _ := newTaskTools(fullAccess)
	today := time.Now().Format(executor.DateLayout)
	llm := &scriptedLLM{responses: []string{
		"Thought: I should list today's tasks.\nAction: get_tasks: {\"date\": \"" + today + "\"}",
		"Answer: You have no tasks today. Here is an analysis of your workflow with recommendations.",
	}}
	logger := &recordingLogger{}

	chain := ProcessRequest(context.Background(), "list tasks for today", llm, reg, logger)

	assert.True(t, chain.Completed)
	actions := actionSteps(chain)
	require.Len(t, actions, 1)
	assert.Equal(t, "get_tasks", actions[0].ToolCall.Name)

	assert.Equal(t, "You have no tasks for "+today+".", chain.FinalResponse)
	assert.Less(t, len(chain.FinalResponse), 300)
	assertNoFiller(t, chain.FinalResponse)

	final := chain.LastStep()
	assert.Equal(t, protocol.StepFinalAnswer, final.Type)
	assert.Contains(t, final.Metadata["model_answer"], "analysis")

	assert.Len(t, logger.chains, 1)
	assert.Equal(t, 1, logger.perf)
	assert.Equal(t, []int{1, 2}, logger.raw)
	assert.Equal(t, 2, logger.steps)
	assert.Contains(t, chain.Metadata, "llm_time_ms")
}

func TestListTasksGrouped(t *testing.T) {
	reg, repo := newTaskTools(fullAccess)
	ctx := context.Background()
	for _, tt := range []struct{ title, status string }{
		{"Write report", executor.StatusPending},
		{"Review PR", executor.StatusInProgress},
		{"Send invoice", executor.StatusCompleted},
	} {
		task, err := repo.CreateTask(ctx, executor.Task{Title: tt.title})
		require.NoError(t, err)
		status := tt.status
		_, err = repo.UpdateTask(ctx, task.ID, executor.TaskPatch{Status: &status})
		require.NoError(t, err)
	}

	llm := &scriptedLLM{responses: []string{
		"Thought: list them.\nAction: get_tasks: {}\nPAUSE",
		"Answer: You have three tasks.",
	}}
	chain := NewEngine(llm, reg, nil, Config{}).ProcessRequest(ctx, "show my tasks")

	assert.True(t, chain.Completed)
	assert.LessOrEqual(t, chain.Iterations, 2)
	for _, want := range []string{"Write report", "Review PR", "Send invoice", "Pending:", "In Progress:", "Completed:"} {
		assert.Contains(t, chain.FinalResponse, want)
	}
	assert.Less(t, strings.Index(chain.FinalResponse, "Pending:"), strings.Index(chain.FinalResponse, "In Progress:"))

	// The observation fed back to the model is the grouped summary.
	require.Len(t, llm.prompts, 2)
	assert.Contains(t, llm.prompts[1], `Observation: Found 3 tasks: Pending (1): "Write report"`)
}

func TestCreateTask(t *testing.T) {
	reg, repo := newTaskTools(fullAccess)
	llm := &scriptedLLM{responses: []string{
		`Action: create_task: {"title":"Review PR"}`,
		"Answer: I've created the task Review PR for you and added it to your workflow.",
	}}

	chain := ProcessRequest(context.Background(), "create task: Review PR", llm, reg, nil)

	assert.True(t, strings.HasPrefix(chain.FinalResponse, "Created task"))
	assert.Contains(t, chain.FinalResponse, "Review PR")
	assert.Less(t, len(chain.FinalResponse), 200)
	actions := actionSteps(chain)
	require.Len(t, actions, 1)
	assert.Equal(t, "create_task", actions[0].ToolCall.Name)

	tasks, total, err := repo.FindTasks(context.Background(), executor.TaskFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "Review PR", tasks[0].Title)
}

func TestIterationCapDegrades(t *testing.T) {
	reg, _ := newTaskTools(fullAccess)
	llm := &scriptedLLM{responses: []string{"Thought: I am still considering this."}}
	st := stats.NewCollector()

	e := NewEngine(llm, reg, nil, Config{MaxIterations: 5, Stats: st})
	chain := e.ProcessRequest(context.Background(), "what should I do?")

	assert.Equal(t, 5, chain.Iterations)
	assert.Equal(t, 5, llm.calls())
	assert.True(t, chain.Completed)
	assert.NotEmpty(t, chain.FinalResponse)
	assert.Equal(t, true, chain.Metadata["degraded"])
	assert.Equal(t, 5, chain.CountSteps()[protocol.StepThought])

	snap := st.Collect(0, "")
	assert.EqualValues(t, 1, snap.ChainCount)
	assert.EqualValues(t, 1, snap.DegradedChains)
}

func TestDegradedAnswerUsesLastObservation(t *testing.T) {
	reg, _ := newTaskTools(fullAccess)
	llm := &scriptedLLM{responses: []string{
		`Action: create_task: {"title": "Plan sprint"}`,
		"Thought: let me think more",
	}}

	chain := NewEngine(llm, reg, nil, Config{MaxIterations: 2}).ProcessRequest(context.Background(), "add plan sprint")

	assert.Equal(t, 2, chain.Iterations)
	assert.True(t, chain.Completed)
	assert.Equal(t, `Created task "Plan sprint" (medium priority).`, chain.FinalResponse)
	assert.Equal(t, true, chain.LastStep().Metadata["degraded"])
}

func TestMaxIterationsIsCapped(t *testing.T) {
	e := NewEngine(&scriptedLLM{}, nil, nil, Config{MaxIterations: 50, Temperature: 1.5, MaxTokens: 100000})
	cfg := e.Config()
	assert.Equal(t, MaxIterationsLimit, cfg.MaxIterations)
	assert.Equal(t, MaxTemperature, cfg.Temperature)
	assert.Equal(t, MaxTokens, cfg.MaxTokens)
}

func TestGenerationOptions(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"Answer: hi"}}
	ProcessRequest(context.Background(), "hello", llm, nil, nil)

	require.Len(t, llm.opts, 1)
	opts := llm.opts[0]
	assert.LessOrEqual(t, opts.Temperature, MaxTemperature)
	assert.LessOrEqual(t, opts.MaxTokens, MaxTokens)
	assert.Equal(t, []string{"PAUSE", "\nObservation:"}, opts.StopSequences)
}

func TestPermissionDeniedObservation(t *testing.T) {
	reg, _ := newTaskTools(protocol.Permissions(protocol.ReadOnly))
	llm := &scriptedLLM{responses: []string{
		`Action: create_task: {"title": "Review PR"}`,
		"Answer: I don't have permission to create tasks.",
	}}

	chain := NewEngine(llm, reg, nil, Config{MaxIterations: 3}).ProcessRequest(context.Background(), "create task: Review PR")

	var observations []protocol.ReActStep
	for _, s := range chain.Steps {
		if s.Type == protocol.StepObservation {
			observations = append(observations, s)
		}
	}
	require.Len(t, observations, 1)
	res := observations[0].ToolResult
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "PermissionDenied")
	assert.True(t, strings.HasPrefix(observations[0].Content, "Error: "))

	assert.True(t, chain.Completed)
	assert.LessOrEqual(t, chain.Iterations, 3)
	assert.Equal(t, "I don't have permission to create tasks.", chain.FinalResponse)
}

func TestMalformedActionGetsOneRepairTurn(t *testing.T) {
	reg, _ := newTaskTools(fullAccess)
	llm := &scriptedLLM{responses: []string{
		"Action: create_task: {title",
		`Action: create_task: {'title': 'Review PR',}`,
		"Answer: done",
	}}

	chain := NewEngine(llm, reg, nil, Config{}).ProcessRequest(context.Background(), "create task: Review PR")

	require.GreaterOrEqual(t, len(chain.Steps), 3)
	assert.Equal(t, protocol.StepError, chain.Steps[0].Type)
	assert.Equal(t, "malformed action", chain.Steps[0].Content)
	assert.Contains(t, llm.prompts[1], "Observation: Error: malformed action")

	actions := actionSteps(chain)
	require.Len(t, actions, 1)
	assert.Equal(t, true, actions[0].Metadata["repaired"])
	assert.Equal(t, "Review PR", actions[0].ToolCall.Args["title"])
	assert.Equal(t, `Created task "Review PR" (medium priority).`, chain.FinalResponse)
	assert.False(t, chain.Failed())
}

func TestSecondMalformedActionIsThought(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"Action: create_task: {title",
		"Action: create_task: {title again",
		"Answer: sorry",
	}}

	chain := NewEngine(llm, nil, nil, Config{}).ProcessRequest(context.Background(), "create a task")

	counts := chain.CountSteps()
	assert.Equal(t, 1, counts[protocol.StepError])
	assert.Equal(t, 1, counts[protocol.StepThought])
	assert.Equal(t, "sorry", chain.FinalResponse)
}

func TestActionWithoutRegistry(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"Action: get_tasks: {}", "Answer: none"}}

	chain := ProcessRequest(context.Background(), "list tasks", llm, nil, nil)

	require.Len(t, chain.ToolResults(), 1)
	assert.False(t, chain.ToolResults()[0].Success)
	assert.Contains(t, chain.ToolResults()[0].Error, "NotFound")
	assert.Equal(t, "none", chain.FinalResponse)
}

func TestRecentTaskCarriesToNextAction(t *testing.T) {
	reg, _ := newTaskTools(fullAccess)
	llm := &scriptedLLM{responses: []string{
		`Action: create_task: {"title": "Deep work"}`,
		`Action: start_timer: {}`,
		"Answer: started",
	}}

	chain := NewEngine(llm, reg, nil, Config{}).ProcessRequest(context.Background(), "add deep work and start the timer")

	results := chain.ToolResults()
	require.Len(t, results, 2)
	assert.True(t, results[1].Success, results[1].Error)
	assert.Equal(t, `Started timer for "Deep work".`, chain.FinalResponse)
}

func TestNonRecoverableErrorApologises(t *testing.T) {
	llm := &scriptedLLM{errs: []error{errors.New(errors.KindInvalidRequest, "prompt rejected")}}
	logger := &recordingLogger{}

	chain := NewEngine(llm, nil, logger, Config{Retry: fastRetry()}).ProcessRequest(context.Background(), "hello")

	assert.Equal(t, 1, llm.calls())
	assert.True(t, chain.Failed())
	assert.False(t, chain.Completed)
	assert.True(t, strings.HasPrefix(chain.FinalResponse, "Sorry"))
	assert.Contains(t, chain.LastStep().Content, "prompt rejected")
	require.Len(t, logger.chains, 1, "failed chains are logged")
}

func TestRecoverableErrorIsRetried(t *testing.T) {
	netErr := errors.Network(context.DeadlineExceeded)
	llm := &scriptedLLM{
		errs:      []error{netErr, netErr},
		responses: []string{"", "", "Answer: hello there"},
	}

	chain := NewEngine(llm, nil, nil, Config{Retry: fastRetry()}).ProcessRequest(context.Background(), "hi")

	assert.Equal(t, 3, llm.calls())
	assert.True(t, chain.Completed)
	assert.Equal(t, "hello there", chain.FinalResponse)
}

func TestRetriesExhausted(t *testing.T) {
	netErr := errors.Network(context.DeadlineExceeded)
	llm := &scriptedLLM{errs: []error{netErr, netErr, netErr, netErr}}

	chain := NewEngine(llm, nil, nil, Config{Retry: fastRetry()}).ProcessRequest(context.Background(), "hi")

	assert.Equal(t, 3, llm.calls())
	assert.True(t, chain.Failed())
	assert.Equal(t, "NetworkError", chain.Metadata["error_kind"])
	assert.Contains(t, chain.FinalResponse, "couldn't reach")
}

// blockingLLM waits for its context.
type blockingLLM struct{}

func (blockingLLM) Generate(ctx context.Context, _ string, _ *model.GenerationOptions) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (blockingLLM) ModelInfo() model.ModelInfo { return model.ModelInfo{ID: "blocking"} }

func TestTurnTimeout(t *testing.T) {
	e := NewEngine(blockingLLM{}, nil, nil, Config{TurnTimeout: 20 * time.Millisecond, Retry: errors.NoRetry()})

	chain := e.ProcessRequest(context.Background(), "hi")

	assert.True(t, chain.Failed())
	assert.Contains(t, chain.LastStep().Content, "TimeoutError")
	assert.Contains(t, chain.FinalResponse, "took too long")
}

func TestCancelledRequestIsNotLogged(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := &recordingLogger{}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	chain := NewEngine(blockingLLM{}, nil, logger, Config{}).ProcessRequest(ctx, "hi")

	assert.True(t, chain.Failed())
	assert.Contains(t, chain.LastStep().Content, "Aborted")
	assert.Equal(t, "The request was cancelled.", chain.FinalResponse)
	assert.Equal(t, true, chain.Metadata["aborted"])
	assert.Empty(t, logger.chains)
	assert.Zero(t, logger.perf)
}

func TestCallerDeadlineIsAnAbort(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	logger := &recordingLogger{}

	chain := NewEngine(blockingLLM{}, nil, logger, Config{}).ProcessRequest(ctx, "hi")

	assert.True(t, chain.Failed())
	assert.Contains(t, chain.LastStep().Content, "[Aborted]")
	assert.NotContains(t, chain.LastStep().Content, "[Timeout]")
	assert.Equal(t, "The request was cancelled.", chain.FinalResponse)
	assert.Equal(t, true, chain.Metadata["aborted"])
	assert.Empty(t, logger.chains)
}

func TestRunCarriesRequestContext(t *testing.T) {
	reg, repo := newTaskTools(fullAccess)
	task, err := repo.CreateTask(context.Background(), executor.Task{Title: "Inbox zero"})
	require.NoError(t, err)

	llm := &scriptedLLM{responses: []string{"Action: complete_task: {}", "Answer: ok"}}
	chain := NewEngine(llm, reg, nil, Config{}).Run(context.Background(), Request{
		Message:       "mark it done",
		History:       []string{"User: what's next?", "Kira: Inbox zero"},
		RecentTaskIDs: []string{task.ID},
	})

	assert.Equal(t, `Completed task "Inbox zero".`, chain.FinalResponse)
	assert.Contains(t, llm.prompts[0], "Conversation so far:\nUser: what's next?")
}

func TestDebugInfo(t *testing.T) {
	reg, _ := newTaskTools(fullAccess)
	llm := &scriptedLLM{responses: []string{
		"Thought: create it\nAction: create_task: {\"title\": \"A\"}",
		"Answer: done",
	}}
	chain := ProcessRequest(context.Background(), "add A", llm, reg, nil)

	info := Debug(chain, DefaultMaxIterations)
	assert.Equal(t, chain.ID, info.ChainID)
	assert.Equal(t, []string{"create_task"}, info.ToolsUsed)
	assert.Equal(t, 1, info.ToolExecutions)
	assert.InDelta(t, 1.0, info.ToolSuccessRate, 1e-9)
	assert.True(t, info.Completed)
	assert.InDelta(t, 100.0, info.QualityScore, 1e-9)

	degraded := ProcessRequest(context.Background(), "?", &scriptedLLM{responses: []string{"hmm"}}, nil, nil)
	low := Debug(degraded, DefaultMaxIterations)
	assert.True(t, low.Degraded)
	assert.Less(t, low.QualityScore, info.QualityScore)
	assert.GreaterOrEqual(t, low.QualityScore, 0.0)
}

var responsePool = []string{
	"Thought: thinking",
	"Action: get_tasks: {}",
	`Action: create_task: {"title": "Generated"}`,
	`Action: complete_task: {"task_id": "missing"}`,
	"Action: delete_task: {broken",
	`Action: start_timer: {'task_id': 'x',}`,
	"Action: no_such_tool: {}",
	"Answer: done",
	"",
	"random words without structure",
}

func TestChainInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("steps are ordered, iterations bounded, actions observed", prop.ForAll(
		func(picks []int, maxIter int) bool {
			responses := make([]string, len(picks))
			for i, p := range picks {
				responses[i] = responsePool[p]
			}
			reg, _ := newTaskTools(fullAccess)
			llm := &scriptedLLM{responses: responses}
			chain := NewEngine(llm, reg, nil, Config{MaxIterations: maxIter}).ProcessRequest(context.Background(), "do something")

			if chain.Iterations > maxIter || chain.FinalResponse == "" {
				return false
			}
			for i := 0; i+1 < len(chain.Steps); i++ {
				if chain.Steps[i+1].Timestamp.Before(chain.Steps[i].Timestamp) {
					return false
				}
			}
			for i, s := range chain.Steps {
				if s.ToolCall == nil || i+1 >= len(chain.Steps) {
					continue
				}
				next := chain.Steps[i+1]
				if next.Type != protocol.StepObservation || next.ToolResult == nil {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(responsePool)-1)),
		gen.IntRange(1, MaxIterationsLimit),
	))

	properties.TestingRun(t)
}
