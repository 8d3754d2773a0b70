package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// GenerationOptions tunes a single generation. Zero values mean "use the
// provider default".
type GenerationOptions struct {
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   float64  `json:"temperature,omitempty"`
	TopP          float64  `json:"top_p,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`
	Stream        bool     `json:"stream,omitempty"` // Advisory only
}

// ModelInfo describes the model behind a provider.
type ModelInfo struct {
	ID               string                     `json:"id"`
	Name             string                     `json:"name"`
	Provider         string                     `json:"provider"`
	Version          string                     `json:"version,omitempty"`
	MaxContextLength int                        `json:"max_context_length,omitempty"`
	Metadata         map[string]json.RawMessage `json:"metadata,omitempty"`
}

// WithMetadata returns a copy of info with key set to the JSON encoding of v.
func (info ModelInfo) WithMetadata(key string, v any) ModelInfo {
	raw, err := json.Marshal(v)
	if err != nil {
		return info
	}
	md := make(map[string]json.RawMessage, len(info.Metadata)+1)
	for k, val := range info.Metadata {
		md[k] = val
	}
	md[key] = raw
	info.Metadata = md
	return info
}

// State is the lifecycle state of a provider.
type State string

const (
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateUnavailable  State = "unavailable"
	StateError        State = "error"
)

// Status is a provider's state plus the reason for Unavailable or Error.
type Status struct {
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// StatusReady returns a Ready status.
func StatusReady() Status { return Status{State: StateReady} }

// StatusInitializing returns an Initializing status.
func StatusInitializing() Status { return Status{State: StateInitializing} }

// StatusUnavailable returns an Unavailable status with a reason.
func StatusUnavailable(reason string) Status {
	return Status{State: StateUnavailable, Reason: reason}
}

// StatusError returns an Error status with a message.
func StatusError(message string) Status {
	return Status{State: StateError, Reason: message}
}

// String renders the status for display.
func (s Status) String() string {
	if s.Reason == "" {
		return string(s.State)
	}
	return fmt.Sprintf("%s(%s)", s.State, s.Reason)
}

// ============================================================
// Manager Types
// ============================================================

// Health tracks request outcomes for one provider.
type Health struct {
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalRequests       int        `json:"total_requests"`
	SuccessfulRequests  int        `json:"successful_requests"`
	FailedRequests      int        `json:"failed_requests"`
	AvgResponseTimeMs   int64      `json:"avg_response_time_ms,omitempty"` // 0 until the first success
	LastError           string     `json:"last_error,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
}

// SwitchingConfig controls automatic failover.
type SwitchingConfig struct {
	MaxConsecutiveFailures int           `json:"max_consecutive_failures"`
	EnableAutoFailover     bool          `json:"enable_auto_failover"`
	HealthCheckInterval    time.Duration `json:"health_check_interval"`
	ResponseTimeBudget     time.Duration `json:"response_time_budget,omitempty"`
}

// DefaultSwitchingConfig returns the default failover settings.
func DefaultSwitchingConfig() SwitchingConfig {
	return SwitchingConfig{
		MaxConsecutiveFailures: 3,
		EnableAutoFailover:     true,
		HealthCheckInterval:    time.Minute,
	}
}

// Preferences are the user's provider choices.
type Preferences struct {
	PrimaryProvider   string        `json:"primary_provider"`
	FallbackProviders []string      `json:"fallback_providers,omitempty"`
	AllowAutoSwitch   bool          `json:"allow_auto_switch"`
	PreferLocal       bool          `json:"prefer_local"`
	MaxResponseTime   time.Duration `json:"max_response_time,omitempty"`
}

// clone returns a deep copy of p.
func (p Preferences) clone() Preferences {
	p.FallbackProviders = append([]string(nil), p.FallbackProviders...)
	return p
}

// ProviderReport is a point-in-time view of one registered provider.
type ProviderReport struct {
	Name    string    `json:"name"`
	Local   bool      `json:"local"`
	Active  bool      `json:"active"`
	Ready   bool      `json:"ready"`
	Healthy bool      `json:"healthy"`
	Breaker string    `json:"breaker"`
	Health  Health    `json:"health"`
	Model   ModelInfo `json:"model"`
}
