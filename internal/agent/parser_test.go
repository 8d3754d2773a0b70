package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	p := ParseResponse("Thought: I should list today's tasks.\nAction: get_tasks: {\"date\": \"2026-03-04\"}\nPAUSE")

	require.NotNil(t, p.Action)
	assert.Equal(t, "I should list today's tasks.", p.Thought)
	assert.Equal(t, "get_tasks", p.Action.Name)
	assert.Equal(t, map[string]any{"date": "2026-03-04"}, p.Action.Args)
	assert.False(t, p.Action.Repaired)
	assert.False(t, p.HasAnswer)
}

func TestParseActionVariants(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		tool     string
		args     map[string]any
		repaired bool
	}{
		{"no arguments", "Action: get_active_timer", "get_active_timer", map[string]any{}, false},
		{"empty object", "Action: get_tasks: {}", "get_tasks", map[string]any{}, false},
		{"no colon before json", `Action: create_task {"title": "A"}`, "create_task", map[string]any{"title": "A"}, false},
		{"lowercase label", `action: create_task: {"title": "A"}`, "create_task", map[string]any{"title": "A"}, false},
		{"single quotes", `Action: create_task: {'title': 'Review PR'}`, "create_task", map[string]any{"title": "Review PR"}, true},
		{"trailing comma", `Action: create_task: {"title": "Review PR",}`, "create_task", map[string]any{"title": "Review PR"}, true},
		{"trailing comma with apostrophe", `Action: create_task: {"title": "Bob's PR",}`, "create_task", map[string]any{"title": "Bob's PR"}, true},
		{"single quotes and trailing comma", `Action: create_task: {'title': 'Review PR', }`, "create_task", map[string]any{"title": "Review PR"}, true},
		{"multi-line json", "Action: create_task: {\n\"title\": \"Review PR\"\n}\nPAUSE", "create_task", map[string]any{"title": "Review PR"}, false},
		{"first action wins", "Action: get_tasks: {}\nAction: delete_task: {\"task_id\": \"1\"}", "get_tasks", map[string]any{}, false},
		{"code fence", "Action: get_tasks: `{}`", "get_tasks", map[string]any{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParseResponse(tt.text)
			require.NotNil(t, p.Action)
			assert.Equal(t, tt.tool, p.Action.Name)
			assert.Equal(t, tt.args, p.Action.Args)
			assert.Equal(t, tt.repaired, p.Action.Repaired)
		})
	}
}

func TestParseMalformedAction(t *testing.T) {
	for _, text := range []string{
		"Action: create_task: {title",
		"Action: create_task: [1, 2]",
		"Action: {\"title\": \"x\"}",
		"Action: create_task: \"just a string\"",
	} {
		p := ParseResponse(text)
		assert.Nil(t, p.Action, text)
		assert.True(t, p.Malformed, text)
	}
}

func TestParseAnswer(t *testing.T) {
	p := ParseResponse("Thought: I have what I need.\nAnswer: You have two tasks.\nBoth are pending.\n\nExtra trailing text")

	assert.True(t, p.HasAnswer)
	assert.Equal(t, "You have two tasks.\nBoth are pending.", p.Answer)
	assert.Equal(t, "I have what I need.", p.Thought)
	assert.Nil(t, p.Action)
}

func TestParseAnswerBeforeAction(t *testing.T) {
	p := ParseResponse("Answer: done\nAction: get_tasks: {}")
	assert.True(t, p.HasAnswer)
	assert.Nil(t, p.Action)
}

func TestParseEmptyAnswerIsThought(t *testing.T) {
	p := ParseResponse("Answer:")
	assert.False(t, p.HasAnswer)
	assert.Equal(t, "Answer:", p.Thought)
}

func TestParseThoughtOnly(t *testing.T) {
	p := ParseResponse("I am thinking about it.\nThought: still thinking")
	assert.Nil(t, p.Action)
	assert.False(t, p.HasAnswer)
	assert.False(t, p.Malformed)
	assert.Equal(t, "I am thinking about it.\nstill thinking", p.Thought)
}

func TestParseStopsAtImaginedObservation(t *testing.T) {
	p := ParseResponse("Thought: hmm\nObservation: Found 3 tasks\nAnswer: invented")
	assert.False(t, p.HasAnswer)
	assert.Equal(t, "hmm", p.Thought)
}

func TestParseEmpty(t *testing.T) {
	p := ParseResponse("   \n\n")
	assert.Empty(t, p.Thought)
	assert.Nil(t, p.Action)
	assert.False(t, p.HasAnswer)
}
