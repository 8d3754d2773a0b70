// Package tools provides the permissioned tool registry the agent calls:
// catalogue, suggestions, argument inference and guarded execution.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/classifier"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/errors"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/tools/executor"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/tools/schemas"
	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

// Weights balance the three suggestion signals. They need not sum to 1;
// scores are normalised by their total.
type Weights struct {
	Keyword float64 `toml:"keyword"`
	Recency float64 `toml:"recency"`
	Static  float64 `toml:"static"`
}

// DefaultWeights favours what the user actually wrote.
func DefaultWeights() Weights {
	return Weights{Keyword: 0.6, Recency: 0.2, Static: 0.2}
}

// Config configures a Registry.
type Config struct {
	// Permissions granted to the caller
	Permissions protocol.PermissionSet

	Weights Weights

	// StaticWeights overrides the per-tool prior in [0,1]
	StaticWeights map[string]float64

	Logger zerolog.Logger
}

// defaultStatic is the prior for each built-in tool: listing and creating
// are the most common requests.
var defaultStatic = map[string]float64{
	"get_tasks":        0.9,
	"create_task":      0.8,
	"complete_task":    0.6,
	"start_timer":      0.6,
	"stop_timer":       0.6,
	"update_task":      0.5,
	"get_active_timer": 0.5,
	"get_time_stats":   0.5,
	"delete_task":      0.3,
}

// defaultTriggers are extra phrases matched against the user message.
var defaultTriggers = map[string][]string{
	"get_tasks":        {"list show my tasks todo agenda today"},
	"create_task":      {"add create new task todo remind"},
	"update_task":      {"change edit rename update set priority status"},
	"complete_task":    {"complete done finish mark check off"},
	"delete_task":      {"delete remove drop cancel"},
	"start_timer":      {"start begin track timer working"},
	"stop_timer":       {"stop pause end timer tracking"},
	"get_active_timer": {"current running active timer tracking"},
	"get_time_stats":   {"time spent hours stats statistics productivity report"},
}

type entry struct {
	tool     executor.Tool
	triggers []string
}

// Registry is immutable after construction; WithPermissions returns a
// view with a different grant.
type Registry struct {
	executors  *executor.Registry
	entries    map[string]entry
	classifier *classifier.Classifier
	granted    protocol.PermissionSet
	weights    Weights
	static     map[string]float64
	log        zerolog.Logger
	now        func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	static := make(map[string]float64, len(defaultStatic))
	for k, v := range defaultStatic {
		static[k] = v
	}
	for k, v := range cfg.StaticWeights {
		static[k] = v
	}

	return &Registry{
		executors:  executor.NewRegistry(),
		entries:    make(map[string]entry),
		classifier: classifier.NewClassifier(),
		granted:    cfg.Permissions,
		weights:    cfg.Weights,
		static:     static,
		log:        cfg.Logger.With().Str("component", "tools").Logger(),
		now:        time.Now,
	}
}

// NewTaskRegistry creates a registry with the task and timer tools bound
// to repo.
func NewTaskRegistry(repo executor.Repository, cfg Config) *Registry {
	r := NewRegistry(cfg)
	for _, tool := range executor.Builtin(repo, func() time.Time { return r.now() }) {
		r.Register(tool)
	}
	return r
}

// Register adds a tool. triggers extend the built-in trigger phrases.
func (r *Registry) Register(tool executor.Tool, triggers ...string) {
	r.executors.Register(tool)
	all := append(append([]string(nil), defaultTriggers[tool.Name()]...), triggers...)
	r.entries[tool.Name()] = entry{tool: tool, triggers: all}
}

// Executors returns the underlying executor registry.
func (r *Registry) Executors() *executor.Registry {
	return r.executors
}

// Permissions returns the granted set.
func (r *Registry) Permissions() protocol.PermissionSet {
	return r.granted
}

// WithPermissions returns a view of the same tools with another grant.
func (r *Registry) WithPermissions(granted protocol.PermissionSet) *Registry {
	cp := *r
	cp.granted = granted
	cp.log = r.log.With().Str("granted", granted.String()).Logger()
	return &cp
}

// AvailableTools lists tool names admissible under the grant, in
// registration order.
func (r *Registry) AvailableTools() []string {
	var names []string
	for _, t := range r.executors.All() {
		if r.granted.Covers(t.Permissions()) {
			names = append(names, t.Name())
		}
	}
	return names
}

// HasTool reports whether name is registered and admissible.
func (r *Registry) HasTool(name string) bool {
	t, ok := r.executors.Get(name)
	return ok && r.granted.Covers(t.Permissions())
}

// Definition describes one registered tool regardless of the grant.
func (r *Registry) Definition(name string) (protocol.ToolDefinition, bool) {
	e, ok := r.entries[name]
	if !ok {
		return protocol.ToolDefinition{}, false
	}
	return protocol.ToolDefinition{
		Name:                e.tool.Name(),
		Description:         e.tool.Description(),
		Parameters:          e.tool.Schema().Parameters,
		RequiredPermissions: e.tool.Permissions(),
		Examples:            e.triggers,
	}, true
}

// Definitions describes the admissible tools.
func (r *Registry) Definitions() []protocol.ToolDefinition {
	var defs []protocol.ToolDefinition
	for _, name := range r.AvailableTools() {
		d, _ := r.Definition(name)
		defs = append(defs, d)
	}
	return defs
}

// SuggestTools ranks admissible tools for tc.UserMessage. Tools with no
// keyword evidence are omitted, so static priors alone never produce a
// suggestion.
func (r *Registry) SuggestTools(tc protocol.ToolContext) []protocol.ToolSuggestion {
	total := r.weights.Keyword + r.weights.Recency + r.weights.Static
	if total <= 0 || strings.TrimSpace(tc.UserMessage) == "" {
		return nil
	}

	var out []protocol.ToolSuggestion
	for _, name := range r.AvailableTools() {
		e := r.entries[name]

		vocab := append([]string{name, e.tool.Description()}, e.triggers...)
		kw := classifier.Overlap(tc.UserMessage, vocab...)
		if c := r.classifier.Confidence(tc.UserMessage, name); c > kw {
			kw = c
		}
		if kw == 0 {
			continue
		}

		rec, recReason := recencyScore(e.tool.Schema(), tc)
		static, ok := r.static[name]
		if !ok {
			static = 0.5
		}

		score := (r.weights.Keyword*kw + r.weights.Recency*rec + r.weights.Static*static) / total
		reason := fmt.Sprintf("keyword match %.2f", kw)
		if recReason != "" {
			reason += "; " + recReason
		}

		out = append(out, protocol.ToolSuggestion{
			ToolName:     name,
			Score:        score,
			Reason:       reason,
			InferredArgs: r.InferArgs(e.tool.Schema(), nil, tc),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func recencyScore(s *schemas.Schema, tc protocol.ToolContext) (float64, string) {
	for _, p := range s.Params() {
		switch p.Infer {
		case schemas.InferTaskID:
			if tc.ActiveTaskID != "" {
				return 1, "active task"
			}
			if len(tc.RecentTaskIDs) > 0 {
				return 0.5, "recent task"
			}
		case schemas.InferActiveSession:
			if tc.ActiveTimerSessionID != "" {
				return 1, "running timer"
			}
		}
	}
	return 0, ""
}

// InferArgs returns a copy of args with absent required parameters and
// read-only filters filled from tc. Explicit arguments are never
// overwritten and optional fields of write tools are left to the model.
func (r *Registry) InferArgs(s *schemas.Schema, args map[string]any, tc protocol.ToolContext) map[string]any {
	out := make(map[string]any, len(args)+2)
	for k, v := range args {
		out[k] = v
	}

	now := tc.CurrentTime
	if now.IsZero() {
		now = r.now()
	}
	msg := tc.UserMessage

	for _, p := range s.Params() {
		if !p.Inferable() {
			continue
		}
		if v, ok := out[p.Name]; ok && v != nil && v != "" {
			continue
		}

		var (
			val string
			ok  bool
		)
		switch p.Infer {
		case schemas.InferDate:
			val, ok = classifier.ExtractDate(msg, now)
		case schemas.InferPriority:
			val, ok = classifier.ExtractPriority(msg)
		case schemas.InferStatus:
			val, ok = classifier.ExtractStatus(msg)
		case schemas.InferTaskID:
			val, ok = inferTaskID(msg, tc)
		case schemas.InferText:
			if p.Pattern != nil {
				val, ok = classifier.ExtractPattern(msg, p.Pattern)
			}
			if !ok {
				val, ok = classifier.ExtractQuoted(msg)
			}
		case schemas.InferActiveSession:
			val, ok = tc.ActiveTimerSessionID, tc.ActiveTimerSessionID != ""
		}
		if ok {
			out[p.Name] = val
		}
	}
	return out
}

func inferTaskID(msg string, tc protocol.ToolContext) (string, bool) {
	if id, ok := classifier.ExtractTaskID(msg); ok {
		return id, true
	}
	if tc.ActiveTaskID != "" {
		return tc.ActiveTaskID, true
	}
	if len(tc.RecentTaskIDs) > 0 && tc.RecentTaskIDs[0] != "" {
		return tc.RecentTaskIDs[0], true
	}
	return "", false
}

// ExecuteTool resolves, authorises, infers, validates and runs a tool. It
// never panics and never returns an error: every failure is an
// unsuccessful ToolResult whose Error names the error kind.
func (r *Registry) ExecuteTool(ctx context.Context, name string, args map[string]any, tc protocol.ToolContext) (result protocol.ToolResult) {
	start := time.Now()
	log := r.log.With().Str("tool", name).Logger()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("tool panicked")
			result = failure(errors.Newf(errors.KindInternal, "tool %s failed unexpectedly: %v", name, rec), start)
		}
	}()

	e, ok := r.entries[name]
	if !ok {
		err := errors.NewBuilder(errors.KindNotFound, fmt.Sprintf("unknown tool %q", name)).
			WithSuggestion("Available tools: " + strings.Join(r.AvailableTools(), ", ")).
			Build()
		return failure(err, start)
	}

	if required := e.tool.Permissions(); !r.granted.Covers(required) {
		err := errors.NewBuilder(errors.KindPermissionDenied,
			fmt.Sprintf("tool %s requires %s, granted %s", name, required, r.granted)).
			WithContext("missing", r.granted.Missing(required).String()).
			Build()
		log.Warn().Str("required", required.String()).Msg("permission denied")
		return failure(err, start)
	}

	input := r.InferArgs(e.tool.Schema(), args, tc)
	if err := e.tool.Schema().Validate(input); err != nil {
		return failure(err, start)
	}

	if err := ctx.Err(); err != nil {
		return failure(errors.FromContext(err), start)
	}

	res, err := e.tool.Execute(ctx, input)
	if err != nil {
		if ctxErr := errors.FromContext(ctx.Err()); ctxErr != nil {
			err = ctxErr
		}
		log.Debug().Err(err).Msg("tool failed")
		return failure(err, start)
	}
	if res == nil {
		return failure(errors.Newf(errors.KindInternal, "tool %s returned no result", name), start)
	}

	out := res.ToProtocol()
	out.ExecutionTimeMs = time.Since(start).Milliseconds()
	log.Debug().Int64("duration_ms", out.ExecutionTimeMs).Bool("success", out.Success).Msg("tool executed")
	return out
}

func failure(err error, start time.Time) protocol.ToolResult {
	return protocol.ToolResult{
		Success:         false,
		Message:         errors.UserMessage(err),
		Error:           err.Error(),
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
}
