// Package executor provides the tool execution interface, the task and
// timer tools, and the repository they run against.
package executor

import (
	"context"
	"sort"
	"time"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/errors"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/tools/schemas"
	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

// Tool represents a callable tool.
type Tool interface {
	// Name returns the tool's identifier.
	Name() string

	// Description returns what the tool does.
	Description() string

	// Schema declares the parameters.
	Schema() *schemas.Schema

	// Permissions is the set a caller must hold.
	Permissions() protocol.PermissionSet

	// Execute runs the tool with validated input. Failures are returned as
	// errors; the registry turns them into unsuccessful results.
	Execute(ctx context.Context, input map[string]any) (*Result, error)
}

// Result represents the result of a tool execution.
type Result struct {
	Success    bool   `json:"success"`
	Data       any    `json:"data,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// NewSuccessResult creates a successful result.
func NewSuccessResult(data any, message string) *Result {
	return &Result{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// NewErrorResult creates an error result.
func NewErrorResult(err error) *Result {
	return &Result{
		Success: false,
		Error:   err.Error(),
	}
}

// TimedResult wraps a result with duration.
func TimedResult(result *Result, start time.Time) *Result {
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

// ToProtocol converts to the wire result.
func (r *Result) ToProtocol() protocol.ToolResult {
	return protocol.ToolResult{
		Success:         r.Success,
		Data:            r.Data,
		Message:         r.Message,
		ExecutionTimeMs: r.DurationMs,
		Error:           r.Error,
	}
}

// Registry manages available tools for execution. It is filled at startup
// and read-only afterwards.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry, replacing one with the same name.
func (r *Registry) Register(tool Tool) {
	if _, exists := r.tools[tool.Name()]; !exists {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// All returns all registered tools in registration order.
func (r *Registry) All() []Tool {
	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Execute runs a tool by name with the given input.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any) (*Result, error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, errors.NotFound("tool", name)
	}
	return tool.Execute(ctx, input)
}

// Builtin returns the task and timer tools bound to repo.
func Builtin(repo Repository, now func() time.Time) []Tool {
	if now == nil {
		now = time.Now
	}
	return []Tool{
		&GetTasks{repo: repo},
		&CreateTask{repo: repo},
		&UpdateTask{repo: repo},
		&CompleteTask{repo: repo, now: now},
		&DeleteTask{repo: repo},
		&StartTimer{repo: repo, now: now},
		&StopTimer{repo: repo, now: now},
		&GetActiveTimer{repo: repo, now: now},
		&GetTimeStats{repo: repo, now: now},
	}
}

func stringArg(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return s
}

func intArg(input map[string]any, key string, def int) int {
	switch n := input[key].(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func optionalString(input map[string]any, key string) *string {
	s, ok := input[key].(string)
	if !ok {
		return nil
	}
	return &s
}
