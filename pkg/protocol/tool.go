package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ToolCall represents a request to execute a tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult represents the result of a tool execution.
type ToolResult struct {
	Success         bool   `json:"success"`
	Data            any    `json:"data,omitempty"`
	Message         string `json:"message"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	Error           string `json:"error,omitempty"`
}

// ToolDefinition describes a tool's contract.
type ToolDefinition struct {
	Name                string         `json:"name"`
	Description         string         `json:"description"`
	Parameters          map[string]any `json:"parameters"` // JSON schema
	RequiredPermissions PermissionSet  `json:"required_permissions"`
	OutputSchema        map[string]any `json:"output_schema,omitempty"`
	Examples            []string       `json:"examples,omitempty"`
}

// ToolContext is what a tool call knows about the conversation around it.
type ToolContext struct {
	UserMessage          string         `json:"user_message"`
	ConversationHistory  []string       `json:"conversation_history,omitempty"`
	ActiveTaskID         string         `json:"active_task_id,omitempty"`
	ActiveTimerSessionID string         `json:"active_timer_session_id,omitempty"`
	RecentTaskIDs        []string       `json:"recent_task_ids,omitempty"` // most recent first
	CurrentTime          time.Time      `json:"current_time"`
	UserPreferences      map[string]any `json:"user_preferences,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

// ToolSuggestion is a ranked guess at which tool fits a message.
type ToolSuggestion struct {
	ToolName     string         `json:"tool_name"`
	Score        float64        `json:"score"` // 0-1
	Reason       string         `json:"reason"`
	InferredArgs map[string]any `json:"inferred_args,omitempty"`
}

// ============================================================
// Permissions
// ============================================================

// PermissionLevel is a single capability a tool may require.
type PermissionLevel uint8

const (
	ReadOnly PermissionLevel = 1 << iota
	ModifyTasks
	TimerControl
	FullAccess
)

var permissionNames = []struct {
	level PermissionLevel
	name  string
}{
	{ReadOnly, "read_only"},
	{ModifyTasks, "modify_tasks"},
	{TimerControl, "timer_control"},
	{FullAccess, "full_access"},
}

// String returns the level name.
func (l PermissionLevel) String() string {
	for _, p := range permissionNames {
		if p.level == l {
			return p.name
		}
	}
	return "unknown"
}

// ParsePermissionLevel parses a level name such as "modify_tasks".
func ParsePermissionLevel(s string) (PermissionLevel, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch norm {
	case "readonly":
		norm = "read_only"
	case "fullaccess":
		norm = "full_access"
	case "modifytasks":
		norm = "modify_tasks"
	case "timercontrol":
		norm = "timer_control"
	}
	for _, p := range permissionNames {
		if p.name == norm {
			return p.level, nil
		}
	}
	return 0, fmt.Errorf("unknown permission level %q", s)
}

// PermissionSet is a union of permission levels.
type PermissionSet uint8

// Permissions builds a set from levels.
func Permissions(levels ...PermissionLevel) PermissionSet {
	var s PermissionSet
	for _, l := range levels {
		s |= PermissionSet(l)
	}
	return s
}

// Union returns the union of two sets.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	return s | other
}

// Has reports whether the set contains the level.
func (s PermissionSet) Has(l PermissionLevel) bool {
	return s&PermissionSet(l) != 0
}

// Covers reports whether a granted set admits a tool requiring required.
// FullAccess covers every level.
func (s PermissionSet) Covers(required PermissionSet) bool {
	if s.Has(FullAccess) {
		return true
	}
	return required&^s == 0
}

// Missing returns the levels in required that s does not grant.
func (s PermissionSet) Missing(required PermissionSet) PermissionSet {
	if s.Has(FullAccess) {
		return 0
	}
	return required &^ s
}

// Levels lists the levels in the set in declaration order.
func (s PermissionSet) Levels() []PermissionLevel {
	var levels []PermissionLevel
	for _, p := range permissionNames {
		if s.Has(p.level) {
			levels = append(levels, p.level)
		}
	}
	return levels
}

// String renders the set as "[read_only modify_tasks]".
func (s PermissionSet) String() string {
	names := make([]string, 0, 4)
	for _, l := range s.Levels() {
		names = append(names, l.String())
	}
	return "[" + strings.Join(names, " ") + "]"
}

// MarshalJSON encodes the set as a list of level names.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, 4)
	for _, l := range s.Levels() {
		names = append(names, l.String())
	}
	return json.Marshal(names)
}

// UnmarshalJSON decodes a list of level names.
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	set, err := ParsePermissionSet(names)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

// ParsePermissionSet parses a list of level names.
func ParsePermissionSet(names []string) (PermissionSet, error) {
	var s PermissionSet
	for _, n := range names {
		l, err := ParsePermissionLevel(n)
		if err != nil {
			return 0, err
		}
		s |= PermissionSet(l)
	}
	return s, nil
}
