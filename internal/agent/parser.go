package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Parsed is one model turn split into its ReAct parts.
type Parsed struct {
	Thought string

	// Action is set when the turn named a tool with valid arguments.
	Action *ParsedAction

	// Answer is set when the turn concluded the chain.
	Answer    string
	HasAnswer bool

	// Malformed is set when an Action: line was present but its
	// arguments could not be read, even after repair.
	Malformed bool
	Raw       string
}

// ParsedAction is a tool name with decoded arguments.
type ParsedAction struct {
	Name     string
	Args     map[string]any
	Repaired bool
}

var (
	actionLine    = regexp.MustCompile(`^(?i:action)\s*:\s*([A-Za-z_][A-Za-z0-9_]*)\s*:?\s*(.*)$`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// ParseResponse reads a model turn. The first Action: or Answer: line
// wins; anything before it is thought.
func ParseResponse(text string) Parsed {
	p := Parsed{Raw: text}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var thought []string
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])

		switch {
		case hasPrefixFold(line, "answer:"):
			answer := []string{strings.TrimSpace(line[len("answer:"):])}
			for _, next := range lines[i+1:] {
				if strings.TrimSpace(next) == "" {
					break
				}
				answer = append(answer, strings.TrimRight(next, " \t"))
			}
			p.Answer = strings.TrimSpace(strings.Join(answer, "\n"))
			p.HasAnswer = p.Answer != ""
			p.Thought = joinThought(thought)
			if !p.HasAnswer {
				// "Answer:" with nothing after it reads as thought.
				p.Thought = strings.TrimSpace(text)
			}
			return p

		case hasPrefixFold(line, "action:"):
			p.Thought = joinThought(thought)
			m := actionLine.FindStringSubmatch(line)
			if m == nil {
				p.Malformed = true
				return p
			}
			raw := strings.TrimSpace(m[2])
			// Arguments may run onto following lines until the braces close.
			for j := i + 1; j < len(lines) && raw != "" && !balanced(raw); j++ {
				next := strings.TrimSpace(lines[j])
				if next == "PAUSE" {
					break
				}
				raw += " " + next
			}
			args, repaired, ok := decodeArgs(raw)
			if !ok {
				p.Malformed = true
				return p
			}
			p.Action = &ParsedAction{Name: m[1], Args: args, Repaired: repaired}
			return p

		case hasPrefixFold(line, "thought:"):
			thought = append(thought, strings.TrimSpace(line[len("thought:"):]))

		case line == "PAUSE" || strings.HasPrefix(line, "Observation:"):
			// The model ran past its turn; ignore what it imagined.
			p.Thought = joinThought(thought)
			return p

		case line != "":
			thought = append(thought, line)
		}
	}

	p.Thought = joinThought(thought)
	return p
}

// decodeArgs reads the JSON arguments of an action. An empty argument
// string is an empty object. Repairs are tried in order: trailing commas
// are dropped, then single quotes also become double quotes.
func decodeArgs(raw string) (map[string]any, bool, bool) {
	raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "PAUSE"))
	raw = strings.Trim(raw, "`")
	if raw == "" {
		return map[string]any{}, false, true
	}

	if args, ok := decodeObject(raw); ok {
		return args, false, true
	}

	trimmed := trailingComma.ReplaceAllString(raw, "$1")
	if args, ok := decodeObject(trimmed); ok {
		return args, true, true
	}

	swapped := strings.ReplaceAll(trimmed, "'", `"`)
	if args, ok := decodeObject(swapped); ok {
		return args, true, true
	}
	return nil, false, false
}

func decodeObject(raw string) (map[string]any, bool) {
	if !gjson.Valid(raw) || !gjson.Parse(raw).IsObject() {
		return nil, false
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, false
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, true
}

func balanced(s string) bool {
	return strings.Count(s, "{") <= strings.Count(s, "}")
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func joinThought(lines []string) string {
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
