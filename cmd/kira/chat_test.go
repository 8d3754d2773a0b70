package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/agent"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/cost"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/interaction"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/memory"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/model"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/stats"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/tools"
	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

// scriptGen is a local runtime that replays responses.
type scriptGen struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (g *scriptGen) Load(context.Context, string) error { return nil }
func (g *scriptGen) Close() error                       { return nil }

func (g *scriptGen) Generate(_ context.Context, _ string, _ *model.GenerationOptions) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	if i >= len(g.responses) {
		i = len(g.responses) - 1
	}
	g.calls++
	return g.responses[i], nil
}

func newTestApp(t *testing.T, responses ...string) *app {
	t.Helper()

	store, err := memory.Open(filepath.Join(t.TempDir(), "kira.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	lc := model.DefaultLocalConfig()
	lc.RequireArtifact = false
	lc.MaxPromptChars = 0
	lc.ModelsDir = t.TempDir()

	usage := cost.NewTracker()
	m := model.NewManager(&model.ManagerConfig{Usage: usage, Logger: zerolog.Nop()})
	require.NoError(t, m.Register(model.NewTemplateProvider(model.NewLocalProvider(&scriptGen{responses: responses}, lc), model.Gemma)))

	interactions := interaction.NewLogger(store, interaction.DefaultConfig(), zerolog.Nop())
	reg := tools.NewTaskRegistry(store, tools.Config{Permissions: protocol.Permissions(protocol.FullAccess)})
	st := stats.NewCollector()

	return &app{
		store:        store,
		interactions: interactions,
		manager:      m,
		registry:     reg,
		engine:       agent.NewEngine(m, reg, interactions, agent.Config{Stats: st}),
		usage:        usage,
		stats:        st,
	}
}

func TestChatSession(t *testing.T) {
	log = zerolog.Nop()
	a := newTestApp(t,
		`Action: create_task: {"title": "Write report"}`,
		"Answer: done",
		`Action: get_tasks: {}`,
		"Answer: listed",
	)

	in := strings.NewReader("add a task to write the report\n\n/stats\nwhat are my tasks?\n/quit\nnever read\n")
	var out bytes.Buffer
	require.NoError(t, chat(context.Background(), a, in, &out, true))

	text := out.String()
	assert.Contains(t, text, `Created task "Write report"`)
	assert.Contains(t, text, "create_task")
	assert.Contains(t, text, "Here are your tasks")
	assert.Contains(t, text, "Write report")
	assert.Contains(t, text, "Stats")
	assert.NotContains(t, text, "never read")

	logs, err := a.interactions.RecentInteractions(context.Background(), 50)
	require.NoError(t, err)
	assert.NotEmpty(t, logs)
}

func TestChatEndsOnEOF(t *testing.T) {
	a := newTestApp(t, "Answer: hi")

	var out bytes.Buffer
	require.NoError(t, chat(context.Background(), a, strings.NewReader("hello"), &out, false))
	assert.Contains(t, out.String(), "hi")
}

func TestPrintLogs(t *testing.T) {
	var out bytes.Buffer
	printLogs(&out, nil)
	assert.Contains(t, out.String(), "No interactions logged yet.")

	out.Reset()
	printLogs(&out, []interaction.Log{{
		UserMessage: "list   my\ntasks",
		AIResponse:  "You have no tasks.",
		ToolExecutions: []interaction.ToolExecution{
			{ToolName: "get_tasks", Success: true, ExecutionTimeMs: 3},
		},
	}})
	assert.Contains(t, out.String(), "> list my tasks")
	assert.Contains(t, out.String(), "get_tasks")
}

func TestPinnedProviderSurvivesSelection(t *testing.T) {
	lc := model.DefaultLocalConfig()
	lc.RequireArtifact = false
	lc.MaxPromptChars = 0
	lc.ModelsDir = t.TempDir()

	gc := model.DefaultGeminiConfig("test-key")
	gc.BaseURL = "http://127.0.0.1:1"

	m := model.NewManager(&model.ManagerConfig{
		Preferences: model.Preferences{PrimaryProvider: "gemini", AllowAutoSwitch: true},
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, m.Register(model.NewGeminiProvider(gc)))
	require.NoError(t, m.Register(model.NewTemplateProvider(model.NewLocalProvider(&scriptGen{responses: []string{"Answer: from local"}}, lc), model.Gemma)))
	t.Cleanup(func() { _ = m.Cleanup(context.Background()) })

	require.Error(t, pinProvider(m, "ollama"))

	require.NoError(t, pinProvider(m, "local"))
	assert.Equal(t, "local", m.Active())
	assert.Equal(t, "local", m.Preferences().PrimaryProvider)
	assert.False(t, m.Preferences().AllowAutoSwitch)

	chain := agent.NewEngine(m, nil, nil, agent.Config{}).ProcessRequest(context.Background(), "hello")
	assert.Equal(t, "from local", chain.FinalResponse)
	assert.Equal(t, "local", m.Active())
}
