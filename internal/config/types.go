// Package config provides configuration types for KiraPilot.
package config

import (
	"time"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/interaction"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/tools"
)

// Config represents the main KiraPilot configuration.
type Config struct {
	Agent          AgentConfig          `toml:"agent"`
	Providers      ProvidersConfig      `toml:"providers"`
	Switching      SwitchingConfig      `toml:"switching"`
	Preferences    PreferencesConfig    `toml:"preferences"`
	Retry          RetryConfig          `toml:"retry"`
	CircuitBreaker CircuitBreakerConfig `toml:"circuit_breaker"`
	Tools          ToolsConfig          `toml:"tools"`
	Logging        LoggingConfig        `toml:"logging"`
	Paths          PathsConfig          `toml:"paths"`
}

// AgentConfig tunes the reasoning loop.
type AgentConfig struct {
	MaxIterations int           `toml:"max_iterations"` // 1-10
	TurnTimeout   time.Duration `toml:"turn_timeout"`
	Temperature   float64       `toml:"temperature"` // capped at 0.7
	MaxTokens     int           `toml:"max_tokens"`  // capped at 2048
	PromptMode    string        `toml:"prompt_mode"` // full, minimal
}

// ProvidersConfig holds per-provider settings.
type ProvidersConfig struct {
	Gemini GeminiConfig `toml:"gemini"`
	Local  LocalConfig  `toml:"local"`
}

// GeminiConfig configures the cloud provider.
type GeminiConfig struct {
	Enabled bool          `toml:"enabled"`
	APIKey  string        `toml:"api_key"`
	BaseURL string        `toml:"base_url"`
	Model   string        `toml:"model"`
	Timeout time.Duration `toml:"timeout"`
}

// LocalConfig configures the on-device provider.
type LocalConfig struct {
	Enabled         bool   `toml:"enabled"`
	ModelName       string `toml:"model_name"`
	ModelsDir       string `toml:"models_dir"`
	DownloadURL     string `toml:"download_url"`
	RequireArtifact bool   `toml:"require_artifact"`
	MaxPromptChars  int    `toml:"max_prompt_chars"`
	Template        string `toml:"template"` // gemma, chatml

	Ollama OllamaConfig `toml:"ollama"`
}

// OllamaConfig configures the Ollama runtime behind the local provider.
type OllamaConfig struct {
	BaseURL   string        `toml:"base_url"`
	Model     string        `toml:"model"`
	Timeout   time.Duration `toml:"timeout"`
	KeepAlive string        `toml:"keep_alive"`
}

// SwitchingConfig controls failover between providers.
type SwitchingConfig struct {
	MaxConsecutiveFailures int           `toml:"max_consecutive_failures"`
	EnableAutoFailover     bool          `toml:"enable_auto_failover"`
	HealthCheckInterval    time.Duration `toml:"health_check_interval"`
	ResponseTimeBudget     time.Duration `toml:"response_time_budget"`
}

// PreferencesConfig holds the user's provider choices.
type PreferencesConfig struct {
	PrimaryProvider   string        `toml:"primary_provider"`
	FallbackProviders []string      `toml:"fallback_providers"`
	AllowAutoSwitch   bool          `toml:"allow_auto_switch"`
	PreferLocal       bool          `toml:"prefer_local"`
	MaxResponseTime   time.Duration `toml:"max_response_time"`
}

// RetryConfig configures retries of recoverable provider errors.
type RetryConfig struct {
	MaxAttempts  int           `toml:"max_attempts"`
	InitialDelay time.Duration `toml:"initial_delay"`
	MaxDelay     time.Duration `toml:"max_delay"`
	Multiplier   float64       `toml:"multiplier"`
	Jitter       bool          `toml:"jitter"`
}

// CircuitBreakerConfig configures the per-provider breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `toml:"failure_threshold"`
	RecoveryTimeout  time.Duration `toml:"recovery_timeout"`
}

// ToolsConfig controls which tools the agent may run and how they are
// suggested.
type ToolsConfig struct {
	Permissions []string           `toml:"permissions"` // read_only, modify_tasks, timer_control, full_access
	Weights     tools.Weights      `toml:"weights"`
	Static      map[string]float64 `toml:"static"`
}

// LoggingConfig covers the process log and the interaction log.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // console, json

	Interaction interaction.Config `toml:"interaction"`
}

// PathsConfig contains file system paths.
type PathsConfig struct {
	DataDir  string `toml:"data_dir"`
	Database string `toml:"database"`
}
