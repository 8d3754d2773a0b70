// Package model provides the provider interface, the concrete cloud and
// local providers, chat-template wrapping, and the provider manager.
package model

import "context"

// Provider is any LLM backend able to complete a prompt in a single turn.
type Provider interface {
	// Name returns the provider identifier used by the manager.
	Name() string

	// Generate returns the complete generated text for one turn.
	Generate(ctx context.Context, prompt string, opts *GenerationOptions) (string, error)

	// IsReady is a fast, side-effect free readiness check.
	IsReady() bool

	// Status may perform a lightweight probe.
	Status(ctx context.Context) Status

	// ModelInfo describes the served model.
	ModelInfo() ModelInfo

	// Initialize prepares the provider. Calling it again is a no-op.
	Initialize(ctx context.Context) error

	// Cleanup releases resources. Calling it again is a no-op.
	Cleanup(ctx context.Context) error

	// Capabilities lists what the provider supports, e.g. "offline".
	Capabilities() []string

	// ValidatePrompt is an advisory, provider-specific prompt check.
	ValidatePrompt(prompt string) error

	// IsLocal returns true if inference runs on this machine.
	IsLocal() bool
}

// Capability names.
const (
	CapTextGeneration = "text_generation"
	CapConversation   = "conversation"
	CapOffline        = "offline"
	CapChatTemplate   = "chat_template"
)
