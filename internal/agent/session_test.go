package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/prompt"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/tools/executor"
	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

func TestSessionCarriesTimerAcrossChains(t *testing.T) {
	reg, _ := newTaskTools(fullAccess)
	llm := &scriptedLLM{responses: []string{
		`Action: create_task: {"title": "Deep work"}`,
		`Action: start_timer: {}`,
		"Answer: started",
		`Action: stop_timer: {}`,
		"Answer: stopped",
	}}
	s := NewEngine(llm, reg, nil, Config{}).NewSession()

	first := s.Ask(context.Background(), "add deep work and start the timer")
	assert.Equal(t, `Started timer for "Deep work".`, first.FinalResponse)
	require.Len(t, s.RecentTaskIDs(), 1)
	assert.NotEmpty(t, s.ActiveTimerSessionID())

	second := s.Ask(context.Background(), "stop it")
	results := second.ToolResults()
	require.Len(t, results, 1)
	assert.True(t, results[0].Success, results[0].Error)
	assert.True(t, strings.HasPrefix(second.FinalResponse, `Stopped timer for "Deep work"`), second.FinalResponse)
	assert.Empty(t, s.ActiveTimerSessionID())

	assert.Contains(t, llm.prompts[3], "User: add deep work and start the timer")
	assert.Equal(t, []string{
		"User: add deep work and start the timer",
		"Assistant: " + first.FinalResponse,
		"User: stop it",
		"Assistant: " + second.FinalResponse,
	}, s.History())
}

func TestSessionHistoryIsBounded(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"Answer: ok"}}
	s := NewEngine(llm, nil, nil, Config{}).NewSession()

	for i := 0; i < prompt.MaxHistory; i++ {
		s.Ask(context.Background(), "hello")
	}
	assert.Len(t, s.History(), prompt.MaxHistory)

	s.Reset()
	assert.Empty(t, s.History())
	assert.Empty(t, s.RecentTaskIDs())
}

func TestSessionIgnoresAbortedChains(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"Answer: ok"}}
	s := NewEngine(llm, nil, nil, Config{}).NewSession()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chain := s.Ask(ctx, "hello")

	assert.Equal(t, true, chain.Metadata["aborted"])
	assert.Empty(t, s.History())
}

func TestSessionForgetsDeletedTasks(t *testing.T) {
	reg, repo := newTaskTools(fullAccess)
	llm := &scriptedLLM{responses: []string{
		`Action: create_task: {"title": "Alpha"}`,
		`Action: create_task: {"title": "Beta"}`,
		`Action: delete_task: {}`,
		"Answer: done",
		`Action: complete_task: {}`,
		"Answer: done",
	}}
	s := NewEngine(llm, reg, nil, Config{}).NewSession()

	first := s.Ask(context.Background(), "add alpha and beta, then delete beta")
	results := first.ToolResults()
	require.Len(t, results, 3)
	for _, res := range results {
		require.True(t, res.Success, res.Error)
	}
	require.Len(t, s.RecentTaskIDs(), 1)
	alpha := s.RecentTaskIDs()[0]

	second := s.Ask(context.Background(), "mark it done")
	results = second.ToolResults()
	require.Len(t, results, 1)
	require.True(t, results[0].Success, results[0].Error)

	task, err := repo.GetTask(context.Background(), alpha)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", task.Title)
	assert.Equal(t, "completed", task.Status)
}

func TestForgetTaskClearsActiveTask(t *testing.T) {
	tc := protocol.ToolContext{ActiveTaskID: "b", RecentTaskIDs: []string{"b", "a"}}
	noteTask(&tc, protocol.ToolResult{Success: true, Data: executor.DeletedTask{ID: "b"}})
	assert.Empty(t, tc.ActiveTaskID)
	assert.Equal(t, []string{"a"}, tc.RecentTaskIDs)

	noteTask(&tc, protocol.ToolResult{Success: false, Data: executor.DeletedTask{ID: "a"}})
	assert.Equal(t, []string{"a"}, tc.RecentTaskIDs)
}
