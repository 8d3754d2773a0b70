package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/agent"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/cost"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/errors"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/interaction"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/logging"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/model"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/prompt"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/stats"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/tools"
	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

// Environment overrides.
const (
	EnvGeminiAPIKey       = "KIRAPILOT_GEMINI_API_KEY"
	EnvGeminiAPIKeyGlobal = "GEMINI_API_KEY"
	EnvLogLevel           = "KIRAPILOT_LOG_LEVEL"
)

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".kirapilot")

	gemini := model.DefaultGeminiConfig("")
	local := model.DefaultLocalConfig()
	switching := model.DefaultSwitchingConfig()
	retry := errors.DefaultPolicy()
	breaker := errors.DefaultCircuitBreakerConfig()

	return &Config{
		Agent: AgentConfig{
			MaxIterations: agent.DefaultMaxIterations,
			TurnTimeout:   60 * time.Second,
			Temperature:   agent.MaxTemperature,
			MaxTokens:     1024,
			PromptMode:    string(prompt.ModeFull),
		},
		Providers: ProvidersConfig{
			Gemini: GeminiConfig{
				Enabled: true,
				BaseURL: gemini.BaseURL,
				Model:   gemini.Model,
				Timeout: gemini.Timeout,
			},
			Local: LocalConfig{
				Enabled:         false,
				ModelName:       local.ModelName,
				RequireArtifact: false,
				MaxPromptChars:  16000,
				Template:        "gemma",
				Ollama: OllamaConfig{
					BaseURL:   "http://localhost:11434",
					Model:     "gemma3:1b",
					Timeout:   120 * time.Second,
					KeepAlive: "5m",
				},
			},
		},
		Switching: SwitchingConfig{
			MaxConsecutiveFailures: switching.MaxConsecutiveFailures,
			EnableAutoFailover:     switching.EnableAutoFailover,
			HealthCheckInterval:    switching.HealthCheckInterval,
		},
		Preferences: PreferencesConfig{
			PrimaryProvider:   "gemini",
			FallbackProviders: []string{"local"},
			AllowAutoSwitch:   false,
		},
		Retry: RetryConfig{
			MaxAttempts:  retry.MaxAttempts,
			InitialDelay: retry.InitialDelay,
			MaxDelay:     retry.MaxDelay,
			Multiplier:   retry.Multiplier,
			Jitter:       retry.Jitter,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: breaker.FailureThreshold,
			RecoveryTimeout:  breaker.RecoveryTimeout,
		},
		Tools: ToolsConfig{
			Permissions: []string{protocol.FullAccess.String()},
			Weights:     tools.DefaultWeights(),
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      logging.FormatAuto,
			Interaction: interaction.DefaultConfig(),
		},
		Paths: PathsConfig{
			DataDir:  dataDir,
			Database: filepath.Join(dataDir, "kirapilot.db"),
		},
	}
}

// DefaultPath returns the config file location.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "kirapilot", "config.toml")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".kirapilot", "config.toml")
}

// Load loads the configuration from the given path.
// If the file doesn't exist, returns defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, errors.KindConfig, "read config")
	}
	if err == nil {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, errors.NewBuilder(errors.KindConfig, "parse config "+configPath).
				Wrap(err).
				WithSuggestion("Check the TOML syntax of the config file").
				Build()
		}
	}

	cfg.applyEnv()
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to the given path.
func (c *Config) Save(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return errors.Wrap(err, errors.KindConfig, "create config directory")
	}

	file, err := os.Create(configPath)
	if err != nil {
		return errors.Wrap(err, errors.KindConfig, "create config file")
	}
	defer file.Close()

	return toml.NewEncoder(file).Encode(c)
}

func (c *Config) applyEnv() {
	if key := os.Getenv(EnvGeminiAPIKey); key != "" {
		c.Providers.Gemini.APIKey = key
	} else if c.Providers.Gemini.APIKey == "" {
		c.Providers.Gemini.APIKey = os.Getenv(EnvGeminiAPIKeyGlobal)
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Logging.Level = level
	}
}

// expandPaths expands ~ in paths.
func (c *Config) expandPaths() {
	c.Paths.DataDir = expandHome(c.Paths.DataDir)
	c.Paths.Database = expandHome(c.Paths.Database)
	c.Providers.Local.ModelsDir = expandHome(c.Providers.Local.ModelsDir)
	if c.Paths.Database == "" {
		c.Paths.Database = filepath.Join(c.Paths.DataDir, "kirapilot.db")
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, p[1:])
	}
	return p
}

// Validate checks the configuration for values the components would
// reject or silently clamp.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Agent.MaxIterations < 1 || c.Agent.MaxIterations > agent.MaxIterationsLimit {
		add("agent.max_iterations must be between 1 and %d", agent.MaxIterationsLimit)
	}
	if c.Agent.Temperature <= 0 || c.Agent.Temperature > agent.MaxTemperature {
		add("agent.temperature must be above 0 and at most %.1f", agent.MaxTemperature)
	}
	if c.Agent.MaxTokens < 0 || c.Agent.MaxTokens > agent.MaxTokens {
		add("agent.max_tokens must be at most %d", agent.MaxTokens)
	}
	switch prompt.Mode(c.Agent.PromptMode) {
	case prompt.ModeFull, prompt.ModeMinimal, "":
	default:
		add("agent.prompt_mode must be full or minimal")
	}

	if !c.Providers.Gemini.Enabled && !c.Providers.Local.Enabled {
		add("at least one provider must be enabled")
	}
	if c.Providers.Local.Enabled {
		if _, ok := model.TemplateByName(c.Providers.Local.Template); !ok {
			add("providers.local.template %q is not gemma or chatml", c.Providers.Local.Template)
		}
	}
	for _, name := range append([]string{c.Preferences.PrimaryProvider}, c.Preferences.FallbackProviders...) {
		switch name {
		case "", "gemini", "local":
		default:
			add("unknown provider %q in preferences", name)
		}
	}

	if c.Switching.MaxConsecutiveFailures < 1 {
		add("switching.max_consecutive_failures must be at least 1")
	}
	if c.Retry.MaxAttempts < 1 {
		add("retry.max_attempts must be at least 1")
	}
	if c.CircuitBreaker.FailureThreshold < 1 {
		add("circuit_breaker.failure_threshold must be at least 1")
	}

	if _, err := c.PermissionSet(); err != nil {
		add("tools.permissions: %v", err)
	}
	for name, w := range c.Tools.Static {
		if w < 0 || w > 1 {
			add("tools.static.%s must be between 0 and 1", name)
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level: %v", err)
	}
	if err := c.Logging.Interaction.Validate(); err != nil {
		add("logging.interaction: %v", err)
	}

	if len(problems) == 0 {
		return nil
	}
	b := errors.NewBuilder(errors.KindConfig, "invalid configuration: "+strings.Join(problems, "; "))
	for _, p := range problems {
		b.WithSuggestion("Fix " + p)
	}
	return b.Build()
}

// ============================================================
// Component configs
// ============================================================

// PermissionSet returns the granted tool permissions.
func (c *Config) PermissionSet() (protocol.PermissionSet, error) {
	return protocol.ParsePermissionSet(c.Tools.Permissions)
}

// ToolsConfig returns the registry configuration.
func (c *Config) ToolsConfig(log zerolog.Logger) (tools.Config, error) {
	perms, err := c.PermissionSet()
	if err != nil {
		return tools.Config{}, errors.Wrap(err, errors.KindConfig, "tools.permissions")
	}
	return tools.Config{
		Permissions:   perms,
		Weights:       c.Tools.Weights,
		StaticWeights: c.Tools.Static,
		Logger:        log,
	}, nil
}

// RetryPolicy returns the provider retry policy.
func (c *Config) RetryPolicy() *errors.Policy {
	p := errors.DefaultPolicy()
	p.MaxAttempts = c.Retry.MaxAttempts
	p.InitialDelay = c.Retry.InitialDelay
	p.MaxDelay = c.Retry.MaxDelay
	if c.Retry.Multiplier > 0 {
		p.Multiplier = c.Retry.Multiplier
	}
	p.Jitter = c.Retry.Jitter
	return p
}

// EngineConfig returns the reasoning loop configuration.
func (c *Config) EngineConfig(st *stats.Collector, log zerolog.Logger) agent.Config {
	return agent.Config{
		MaxIterations: c.Agent.MaxIterations,
		TurnTimeout:   c.Agent.TurnTimeout,
		Temperature:   c.Agent.Temperature,
		MaxTokens:     c.Agent.MaxTokens,
		Retry:         c.RetryPolicy(),
		PromptMode:    prompt.Mode(c.Agent.PromptMode),
		Stats:         st,
		Logger:        log,
	}
}

// ManagerConfig returns the provider manager configuration.
func (c *Config) ManagerConfig(usage *cost.Tracker, log zerolog.Logger) *model.ManagerConfig {
	return &model.ManagerConfig{
		Switching: model.SwitchingConfig{
			MaxConsecutiveFailures: c.Switching.MaxConsecutiveFailures,
			EnableAutoFailover:     c.Switching.EnableAutoFailover,
			HealthCheckInterval:    c.Switching.HealthCheckInterval,
			ResponseTimeBudget:     c.Switching.ResponseTimeBudget,
		},
		Preferences: model.Preferences{
			PrimaryProvider:   c.Preferences.PrimaryProvider,
			FallbackProviders: append([]string(nil), c.Preferences.FallbackProviders...),
			AllowAutoSwitch:   c.Preferences.AllowAutoSwitch,
			PreferLocal:       c.Preferences.PreferLocal,
			MaxResponseTime:   c.Preferences.MaxResponseTime,
		},
		Breaker: &errors.CircuitBreakerConfig{
			FailureThreshold: c.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:  c.CircuitBreaker.RecoveryTimeout,
		},
		Usage:  usage,
		Logger: log,
	}
}

// GeminiConfig returns the cloud provider configuration.
func (c *Config) GeminiConfig(log zerolog.Logger) *model.GeminiConfig {
	g := model.DefaultGeminiConfig(c.Providers.Gemini.APIKey)
	if c.Providers.Gemini.BaseURL != "" {
		g.BaseURL = c.Providers.Gemini.BaseURL
	}
	if c.Providers.Gemini.Model != "" {
		g.Model = c.Providers.Gemini.Model
	}
	if c.Providers.Gemini.Timeout > 0 {
		g.Timeout = c.Providers.Gemini.Timeout
	}
	g.Logger = log
	return g
}

// LocalConfig returns the local provider configuration.
func (c *Config) LocalConfig(log zerolog.Logger) *model.LocalConfig {
	l := model.DefaultLocalConfig()
	if c.Providers.Local.ModelName != "" {
		l.ModelName = c.Providers.Local.ModelName
	}
	l.ModelsDir = c.Providers.Local.ModelsDir
	l.DownloadURL = c.Providers.Local.DownloadURL
	l.RequireArtifact = c.Providers.Local.RequireArtifact
	if c.Providers.Local.MaxPromptChars > 0 {
		l.MaxPromptChars = c.Providers.Local.MaxPromptChars
	}
	l.Logger = log
	return l
}

// OllamaConfig returns the local runtime configuration.
func (c *Config) OllamaConfig() model.OllamaConfig {
	o := c.Providers.Local.Ollama
	return model.OllamaConfig{
		BaseURL:   o.BaseURL,
		Model:     o.Model,
		Timeout:   o.Timeout,
		KeepAlive: o.KeepAlive,
	}
}

// Template returns the chat template for the local provider.
func (c *Config) Template() model.Template {
	if t, ok := model.TemplateByName(c.Providers.Local.Template); ok {
		return t
	}
	return model.Gemma
}

// LoggerConfig returns the process logger configuration.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format}
}
