package interaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/errors"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/model"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/stats"
	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

// Logger writes interaction records to a Store. It is safe for concurrent
// use; writes are serialized by the store.
type Logger struct {
	store Store
	log   zerolog.Logger

	mu  sync.RWMutex
	cfg Config

	now      func() time.Time
	memUsage func() float64
}

// NewLogger creates a logger with cfg.
func NewLogger(store Store, cfg Config, log zerolog.Logger) *Logger {
	return &Logger{
		store:    store,
		log:      log.With().Str("component", "interaction").Logger(),
		cfg:      cfg,
		now:      time.Now,
		memUsage: stats.MemoryUsageMB,
	}
}

// Open creates a logger using the config saved in store, falling back to
// fallback when none is saved.
func Open(ctx context.Context, store Store, fallback Config, log zerolog.Logger) (*Logger, error) {
	saved, err := store.LoadLoggingConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "load logging config")
	}
	cfg := fallback
	if saved != nil {
		cfg = *saved
	}
	return NewLogger(store, cfg, log), nil
}

// Config returns the current configuration.
func (l *Logger) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// SetConfig validates, persists and applies cfg.
func (l *Logger) SetConfig(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return errors.Validation(err.Error())
	}
	if err := l.store.SaveLoggingConfig(ctx, cfg); err != nil {
		return errors.Wrap(err, errors.KindInternal, "save logging config")
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	return nil
}

// LogInteraction stores rec. ID, timestamp and classification are filled
// when unset. Sensitive text is redacted unless LogSensitiveData is set.
func (l *Logger) LogInteraction(ctx context.Context, rec *Log) error {
	cfg := l.Config()
	if !cfg.Enabled || rec == nil {
		return nil
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	if rec.Performance.MemoryUsageMB == 0 && l.memUsage != nil {
		rec.Performance.MemoryUsageMB = l.memUsage()
	}
	if rec.Classification == "" {
		rec.Classification = Classify(rec.UserMessage, rec.AIResponse, rec.SystemPrompt)
	}
	if rec.Classification == Sensitive && !cfg.LogSensitiveData {
		rec.UserMessage = Redact(rec.UserMessage)
		rec.AIResponse = Redact(rec.AIResponse)
		rec.SystemPrompt = Redact(rec.SystemPrompt)
	}
	for i := range rec.ToolExecutions {
		te := &rec.ToolExecutions[i]
		if te.ID == "" {
			te.ID = uuid.NewString()
		}
		te.InteractionID = rec.ID
		if te.Timestamp.IsZero() {
			te.Timestamp = rec.Timestamp
		}
	}

	if err := l.store.SaveInteraction(ctx, rec); err != nil {
		l.log.Warn().Err(err).Str("session_id", rec.SessionID).Msg("failed to save interaction")
		return errors.Wrap(err, errors.KindInternal, "save interaction")
	}

	if cfg.MaxLogs > 0 {
		if n, err := l.store.TrimInteractions(ctx, cfg.MaxLogs); err != nil {
			l.log.Warn().Err(err).Msg("failed to trim interaction logs")
		} else if n > 0 {
			l.log.Debug().Int64("removed", n).Msg("trimmed interaction logs")
		}
	}
	return nil
}

// LogReActChain stores one summary record for chain with its tool
// executions.
func (l *Logger) LogReActChain(ctx context.Context, chain *protocol.ReActChain, info model.ModelInfo) error {
	if chain == nil {
		return nil
	}

	counts := chain.CountSteps()
	rec := &Log{
		SessionID:   chain.ID,
		Timestamp:   chainEnd(chain),
		UserMessage: chain.UserRequest,
		AIResponse:  chain.FinalResponse,
		ModelInfo:   info,
		Context: map[string]any{
			"type":            TypeChain,
			"completed":       chain.Completed,
			"iterations":      chain.Iterations,
			"step_count":      len(chain.Steps),
			"step_breakdown":  stepBreakdown(counts),
			"total_duration":  chain.TotalDurationMs,
			"chain_metadata":  chain.Metadata,
			"tool_call_count": counts[protocol.StepAction],
		},
		Performance: PerformanceMetrics{
			TotalTimeMs: chain.TotalDurationMs,
			LLMTimeMs:   metaInt(chain.Metadata, "llm_time_ms"),
		},
		ToolExecutions: toolExecutions(chain),
	}
	if chain.Failed() {
		rec.Error = chain.LastStep().Content
	}
	return l.LogInteraction(ctx, rec)
}

// LogReActStep stores a single step. It only records when the log level is
// debug.
func (l *Logger) LogReActStep(ctx context.Context, chainID string, step protocol.ReActStep, info model.ModelInfo) error {
	if !l.Config().Debug() {
		return nil
	}

	rec := &Log{
		SessionID:   chainID,
		Timestamp:   step.Timestamp,
		UserMessage: fmt.Sprintf("[%s]", step.Type),
		AIResponse:  step.Content,
		ModelInfo:   info,
		Context: map[string]any{
			"type":      TypeStep,
			"step_id":   step.ID,
			"step_type": string(step.Type),
		},
		Performance: PerformanceMetrics{TotalTimeMs: step.DurationMs},
	}
	if step.ToolCall != nil {
		rec.Context["tool_call"] = step.ToolCall
	}
	if step.ToolResult != nil {
		rec.Context["tool_result"] = step.ToolResult
		if !step.ToolResult.Success {
			rec.Error = step.ToolResult.Error
		}
	}
	if step.Type == protocol.StepError {
		rec.Error = step.Content
	}
	return l.LogInteraction(ctx, rec)
}

// ChainMetrics are the derived figures recorded by LogReActPerformance.
type ChainMetrics struct {
	Iterations        int            `json:"iterations"`
	StepCounts        map[string]int `json:"step_counts"`
	ToolExecutions    int            `json:"tool_executions"`
	ToolSuccessRate   float64        `json:"tool_success_rate"`
	AvgStepDurationMs float64        `json:"avg_step_duration_ms"`
}

// Metrics derives ChainMetrics from chain.
func Metrics(chain *protocol.ReActChain) ChainMetrics {
	m := ChainMetrics{
		Iterations: chain.Iterations,
		StepCounts: stepBreakdown(chain.CountSteps()),
	}

	results := chain.ToolResults()
	m.ToolExecutions = len(results)
	if len(results) > 0 {
		ok := 0
		for _, r := range results {
			if r.Success {
				ok++
			}
		}
		m.ToolSuccessRate = float64(ok) / float64(len(results))
	}

	if len(chain.Steps) > 0 {
		var total int64
		for _, s := range chain.Steps {
			total += s.DurationMs
		}
		m.AvgStepDurationMs = float64(total) / float64(len(chain.Steps))
	}
	return m
}

// LogReActPerformance stores the derived metrics of chain.
func (l *Logger) LogReActPerformance(ctx context.Context, chain *protocol.ReActChain, info model.ModelInfo) error {
	if chain == nil {
		return nil
	}
	m := Metrics(chain)
	return l.LogInteraction(ctx, &Log{
		SessionID:   chain.ID,
		Timestamp:   chainEnd(chain),
		UserMessage: chain.UserRequest,
		AIResponse:  fmt.Sprintf("%d iteration(s), %d tool execution(s)", m.Iterations, m.ToolExecutions),
		ModelInfo:   info,
		Context: map[string]any{
			"type":    TypePerformance,
			"metrics": m,
		},
		Performance: PerformanceMetrics{
			TotalTimeMs: chain.TotalDurationMs,
			LLMTimeMs:   metaInt(chain.Metadata, "llm_time_ms"),
		},
	})
}

// LogRawLLMInteraction stores one prompt/response exchange, truncating
// the prompt to MaxPromptChars and the response to MaxResponseChars.
func (l *Logger) LogRawLLMInteraction(ctx context.Context, sessionID string, turn int, prompt, response string, info model.ModelInfo, durationMs int64) error {
	return l.LogInteraction(ctx, &Log{
		SessionID:    sessionID,
		UserMessage:  fmt.Sprintf("turn %d", turn),
		SystemPrompt: Truncate(prompt, MaxPromptChars),
		AIResponse:   Truncate(response, MaxResponseChars),
		ModelInfo:    info,
		Context: map[string]any{
			"type":         TypeRawLLM,
			"turn":         turn,
			"prompt_chars": len(prompt),
		},
		Performance: PerformanceMetrics{TotalTimeMs: durationMs, LLMTimeMs: durationMs},
	})
}

// CleanupOldLogs deletes logs older than RetentionDays. A zero retention
// keeps everything.
func (l *Logger) CleanupOldLogs(ctx context.Context) (int64, error) {
	cfg := l.Config()
	if cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := l.now().AddDate(0, 0, -cfg.RetentionDays)
	n, err := l.store.DeleteInteractionsBefore(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "cleanup interaction logs")
	}
	l.log.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("cleaned up interaction logs")
	return n, nil
}

// RecentInteractions returns up to limit logs, newest first.
func (l *Logger) RecentInteractions(ctx context.Context, limit int) ([]Log, error) {
	if limit <= 0 {
		limit = 20
	}
	return l.store.RecentInteractions(ctx, limit)
}

func chainEnd(chain *protocol.ReActChain) time.Time {
	if chain.CompletedAt != nil {
		return *chain.CompletedAt
	}
	return chain.StartedAt
}

func stepBreakdown(counts map[protocol.StepType]int) map[string]int {
	out := make(map[string]int, len(counts))
	for k, v := range counts {
		out[string(k)] = v
	}
	return out
}

// toolExecutions pairs each action with the observation after it.
func toolExecutions(chain *protocol.ReActChain) []ToolExecution {
	var out []ToolExecution
	for i, s := range chain.Steps {
		if s.Type != protocol.StepAction || s.ToolCall == nil {
			continue
		}
		te := ToolExecution{
			ToolName:  s.ToolCall.Name,
			Arguments: s.ToolCall.Args,
			Timestamp: s.Timestamp,
		}
		if i+1 < len(chain.Steps) && chain.Steps[i+1].ToolResult != nil {
			r := chain.Steps[i+1].ToolResult
			te.Result = r.Data
			te.Success = r.Success
			te.Error = r.Error
			te.ExecutionTimeMs = r.ExecutionTimeMs
		}
		out = append(out, te)
	}
	return out
}

func metaInt(md map[string]any, key string) int64 {
	switch v := md[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
