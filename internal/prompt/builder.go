// Package prompt builds the ReAct prompts sent to the model.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

type Mode string

const (
	// ModeFull lists each tool with its description.
	ModeFull Mode = "full"
	// ModeMinimal lists tool names only, for small local models.
	ModeMinimal Mode = "minimal"
)

// MaxHistory is the number of prior conversation lines carried into the
// prompt.
const MaxHistory = 6

type Builder struct {
	Mode      Mode
	AgentName string
	Tools     []protocol.ToolDefinition
	Now       func() time.Time
}

// Turn is one completed reasoning turn: the model output that produced an
// action and the observation returned for it. Observation is empty for
// turns without an action.
type Turn struct {
	Response    string
	Observation string
}

func NewBuilder(mode Mode, tools []protocol.ToolDefinition) *Builder {
	return &Builder{
		Mode:      mode,
		AgentName: "Kira",
		Tools:     tools,
		Now:       time.Now,
	}
}

// Initial builds the first prompt of a chain. history holds earlier
// conversation lines, oldest first.
func (b *Builder) Initial(question string, history []string) string {
	var sections []string

	sections = append(sections, fmt.Sprintf(
		"You are %s, a productivity assistant that manages the user's tasks and tracked time.\n"+
			"You run in a loop of Thought, Action, PAUSE, Observation. At the end of the loop you output an Answer.\n"+
			"Use Thought to describe what you need to do.\n"+
			"Use Action to run one of the available tools, then return PAUSE.\n"+
			"Observation will be the result of running that action.",
		nonEmpty(b.AgentName, "Kira")))

	sections = append(sections, "Available tools:\n"+b.toolLines())

	sections = append(sections, "Format:\n"+
		"Thought: <your reasoning>\n"+
		"Action: <tool_name>: <json object of arguments>\n"+
		"PAUSE\n\n"+
		"When you can reply to the user:\n"+
		"Answer: <reply>")

	sections = append(sections, "Rules:\n"+
		"- Run at most one tool per turn and end every action with PAUSE.\n"+
		"- Put the JSON arguments on the same line as the action.\n"+
		"- Be concise. For lookups answer directly with the results; do not add analysis or advice.\n"+
		"- "+b.dateLine())

	sections = append(sections, "Example session:\n"+example)

	if h := historySection(history); h != "" {
		sections = append(sections, h)
	}

	sections = append(sections, "Question: "+strings.TrimSpace(question))
	return strings.Join(sections, "\n\n")
}

// Continue appends the transcript of earlier turns to the initial prompt
// so the model picks up after the last observation.
func (b *Builder) Continue(initial string, turns []Turn) string {
	var bld strings.Builder
	bld.WriteString(strings.TrimRight(initial, "\n"))
	bld.WriteString("\n\n")

	for _, t := range turns {
		resp := strings.TrimSpace(t.Response)
		if resp != "" {
			bld.WriteString(resp)
			bld.WriteString("\n")
		}
		if t.Observation != "" {
			if !strings.HasSuffix(resp, "PAUSE") {
				bld.WriteString("PAUSE\n")
			}
			bld.WriteString("\nObservation: ")
			bld.WriteString(t.Observation)
			bld.WriteString("\n\n")
		}
	}
	return bld.String()
}

func (b *Builder) toolLines() string {
	if len(b.Tools) == 0 {
		return "None."
	}
	lines := make([]string, 0, len(b.Tools))
	for _, t := range b.Tools {
		if b.Mode == ModeMinimal || t.Description == "" {
			lines = append(lines, "- "+t.Name)
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", t.Name, t.Description))
	}
	return strings.Join(lines, "\n")
}

func (b *Builder) dateLine() string {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	t := now()
	return fmt.Sprintf("Today is %s, %s.", t.Weekday(), t.Format("2006-01-02"))
}

func historySection(history []string) string {
	var lines []string
	for _, h := range history {
		if h = strings.TrimSpace(h); h != "" {
			lines = append(lines, h)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	if len(lines) > MaxHistory {
		lines = lines[len(lines)-MaxHistory:]
	}
	return "Conversation so far:\n" + strings.Join(lines, "\n")
}

const example = `Question: What tasks do I have today?
Thought: I should list today's tasks.
Action: get_tasks: {"date": "2026-03-04"}
PAUSE

Observation: Found 1 task: Pending (1): "Write report"

Answer: You have one pending task today: "Write report".`

func nonEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
