// Package interaction records an append-only audit log of reasoning chains,
// raw model exchanges and tool executions.
package interaction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/model"
)

// Classification is the sensitivity of a logged interaction.
type Classification string

const (
	Public       Classification = "public"
	Internal     Classification = "internal"
	Confidential Classification = "confidential"
	Sensitive    Classification = "sensitive"
)

// Record kinds stored in the interaction context under "type".
const (
	TypeInteraction = "interaction"
	TypeChain       = "react_chain"
	TypeStep        = "react_step"
	TypePerformance = "react_performance"
	TypeRawLLM      = "raw_llm"
)

// PerformanceMetrics describes the cost of one interaction.
type PerformanceMetrics struct {
	TotalTimeMs   int64   `json:"total_time_ms"`
	LLMTimeMs     int64   `json:"llm_time_ms"`
	InputTokens   int     `json:"input_tokens,omitempty"`
	OutputTokens  int     `json:"output_tokens,omitempty"`
	MemoryUsageMB float64 `json:"memory_usage_mb,omitempty"`
}

// Log is one row of the interaction log.
type Log struct {
	ID             string             `json:"id"`
	SessionID      string             `json:"session_id"`
	Timestamp      time.Time          `json:"timestamp"`
	UserMessage    string             `json:"user_message"`
	SystemPrompt   string             `json:"system_prompt,omitempty"`
	Context        map[string]any     `json:"context,omitempty"`
	AIResponse     string             `json:"ai_response"`
	ModelInfo      model.ModelInfo    `json:"model_info"`
	Performance    PerformanceMetrics `json:"performance_metrics"`
	Error          string             `json:"error,omitempty"`
	Classification Classification     `json:"data_classification"`

	// ToolExecutions are stored alongside the interaction.
	ToolExecutions []ToolExecution `json:"tool_executions,omitempty"`
}

// Type returns the record kind from the context, or TypeInteraction.
func (l *Log) Type() string {
	if t, ok := l.Context["type"].(string); ok && t != "" {
		return t
	}
	return TypeInteraction
}

// ToolExecution is one tool call made during an interaction.
type ToolExecution struct {
	ID              string         `json:"id"`
	InteractionID   string         `json:"interaction_id"`
	ToolName        string         `json:"tool_name"`
	Arguments       map[string]any `json:"arguments,omitempty"`
	Result          any            `json:"result,omitempty"`
	Success         bool           `json:"success"`
	Error           string         `json:"error,omitempty"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Levels lists the values accepted by Config.LogLevel.
var Levels = []string{"debug", "info", "warn", "error"}

// Config controls what the logger records.
type Config struct {
	Enabled          bool   `json:"enabled" toml:"enabled"`
	MaxLogs          int    `json:"max_logs" toml:"max_logs"`
	RetentionDays    int    `json:"retention_days" toml:"retention_days"`
	LogSensitiveData bool   `json:"log_sensitive_data" toml:"log_sensitive_data"`
	LogLevel         string `json:"log_level" toml:"log_level"`
}

// DefaultConfig returns the logging defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		MaxLogs:       1000,
		RetentionDays: 30,
		LogLevel:      "info",
	}
}

// Validate checks the config ranges.
func (c Config) Validate() error {
	if c.MaxLogs < 0 {
		return fmt.Errorf("max_logs must not be negative, got %d", c.MaxLogs)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative, got %d", c.RetentionDays)
	}
	for _, l := range Levels {
		if strings.EqualFold(c.LogLevel, l) {
			return nil
		}
	}
	return fmt.Errorf("log_level must be one of %s, got %q", strings.Join(Levels, ", "), c.LogLevel)
}

// Debug reports whether per-step logging is on.
func (c Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "debug")
}

// Store persists interaction logs.
type Store interface {
	// SaveInteraction writes l and its tool executions atomically.
	SaveInteraction(ctx context.Context, l *Log) error
	// RecentInteractions returns up to limit logs, newest first.
	RecentInteractions(ctx context.Context, limit int) ([]Log, error)
	// CountInteractions returns the number of stored logs.
	CountInteractions(ctx context.Context) (int, error)
	// TrimInteractions keeps the newest max logs and returns how many
	// were removed.
	TrimInteractions(ctx context.Context, max int) (int64, error)
	// DeleteInteractionsBefore removes logs older than cutoff.
	DeleteInteractionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// LoadLoggingConfig returns the saved config, or nil when none is saved.
	LoadLoggingConfig(ctx context.Context) (*Config, error)
	SaveLoggingConfig(ctx context.Context, cfg Config) error
}
