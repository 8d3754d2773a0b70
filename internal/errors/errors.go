// Package errors provides the error taxonomy shared by providers, tools and
// the reasoning engine.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ============================================================
// Error Kinds
// ============================================================

// Kind identifies the class of failure for handling decisions.
type Kind string

const (
	KindLLM                   Kind = "LLMError"
	KindConfig                Kind = "ConfigError"
	KindInitialization        Kind = "InitializationError"
	KindProviderUnavailable   Kind = "ProviderUnavailable"
	KindInvalidRequest        Kind = "InvalidRequest"
	KindServiceUnavailable    Kind = "ServiceUnavailable"
	KindInternal              Kind = "InternalError"
	KindPermissionDenied      Kind = "PermissionDenied"
	KindValidation            Kind = "ValidationError"
	KindNetwork               Kind = "NetworkError"
	KindTimeout               Kind = "TimeoutError"
	KindResourceExhausted     Kind = "ResourceExhausted"
	KindRecoveryFailed        Kind = "RecoveryFailed"
	KindModelNotFound         Kind = "ModelNotFound"
	KindDownloadFailed        Kind = "DownloadFailed"
	KindModelLoadFailed       Kind = "ModelLoadFailed"
	KindGenerationFailed      Kind = "GenerationFailed"
	KindInsufficientResources Kind = "InsufficientResources"
	KindNotFound              Kind = "NotFound"
	KindAborted               Kind = "Aborted"
)

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// Recoverable reports whether an operation failing with this kind may be
// retried.
func (k Kind) Recoverable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindResourceExhausted, KindServiceUnavailable,
		KindGenerationFailed, KindDownloadFailed, KindInsufficientResources:
		return true
	default:
		return false
	}
}

// Severity ranks how serious an error is for the user.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// defaultSeverity is the severity an error gets when none is set.
func defaultSeverity(k Kind) Severity {
	switch k {
	case KindValidation, KindInvalidRequest, KindNotFound, KindAborted:
		return SeverityLow
	case KindNetwork, KindTimeout, KindServiceUnavailable, KindGenerationFailed,
		KindPermissionDenied, KindResourceExhausted, KindLLM:
		return SeverityMedium
	case KindConfig, KindProviderUnavailable, KindModelNotFound, KindDownloadFailed,
		KindModelLoadFailed, KindInsufficientResources, KindInitialization:
		return SeverityHigh
	case KindInternal, KindRecoveryFailed:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// ============================================================
// AppError - Main Error Type
// ============================================================

// AppError is the error type returned across package boundaries.
type AppError struct {
	// Kind determines how the error should be handled
	Kind Kind

	// Message describes what went wrong
	Message string

	// Severity ranks the error for display
	Severity Severity

	// Inner is the underlying error
	Inner error

	// Code is an optional vendor status code (LLMError)
	Code int

	// Provider names the provider involved, if any
	Provider string

	// Suggestions are recovery suggestions for the user
	Suggestions []string

	// Context is additional debugging information
	Context map[string]any

	// RetryAfter is the suggested delay before retry
	RetryAfter time.Duration
}

// Error returns the error message.
func (e *AppError) Error() string {
	var sb strings.Builder

	sb.WriteString("[")
	sb.WriteString(string(e.Kind))
	sb.WriteString("] ")
	sb.WriteString(e.Message)

	if e.Inner != nil {
		innerMsg := e.Inner.Error()
		if innerMsg != "" && innerMsg != e.Message {
			sb.WriteString(": ")
			sb.WriteString(innerMsg)
		}
	}

	return sb.String()
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Inner
}

// Is matches another AppError of the same kind, or anything the inner
// error matches.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) && t.Message == "" {
		return t.Kind == e.Kind
	}
	return errors.Is(e.Inner, target)
}

// Recoverable reports whether the failed operation may be retried.
func (e *AppError) Recoverable() bool {
	return e.Kind.Recoverable()
}

// UserMessage returns the message shown to end users.
func (e *AppError) UserMessage() string {
	switch e.Kind {
	case KindNetwork:
		return "I couldn't reach the AI service. Please check your connection and try again."
	case KindTimeout:
		return "The AI service took too long to respond. Please try again."
	case KindServiceUnavailable, KindProviderUnavailable:
		return "The AI service is temporarily unavailable. Please try again in a moment."
	case KindConfig:
		return "The AI assistant is not configured correctly: " + e.Message
	case KindPermissionDenied:
		return "I don't have permission to do that."
	case KindValidation, KindInvalidRequest:
		return "I couldn't understand that request: " + e.Message
	case KindModelNotFound, KindModelLoadFailed, KindDownloadFailed, KindInsufficientResources:
		return "The local AI model is not available right now."
	case KindAborted:
		return "The request was cancelled."
	case KindResourceExhausted:
		return "The AI service quota is exhausted. Please try again later."
	default:
		return "Sorry, something went wrong while processing your request."
	}
}

// Kind sentinels for errors.Is checks.
var (
	ErrAborted            = &AppError{Kind: KindAborted}
	ErrTimeout            = &AppError{Kind: KindTimeout}
	ErrNotFound           = &AppError{Kind: KindNotFound}
	ErrValidation         = &AppError{Kind: KindValidation}
	ErrPermissionDenied   = &AppError{Kind: KindPermissionDenied}
	ErrServiceUnavailable = &AppError{Kind: KindServiceUnavailable}
)

// ============================================================
// Error Constructors
// ============================================================

// New creates a new AppError with the kind's default severity.
func New(kind Kind, message string) *AppError {
	return &AppError{
		Kind:     kind,
		Message:  message,
		Severity: defaultSeverity(kind),
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(kind Kind, format string, args ...any) *AppError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a kind and message.
func Wrap(err error, kind Kind, message string) *AppError {
	if err == nil {
		return nil
	}

	wrapped := New(kind, message)
	wrapped.Inner = err

	// Keep the suggestions of an inner AppError
	var inner *AppError
	if errors.As(err, &inner) {
		wrapped.Suggestions = inner.Suggestions
		wrapped.RetryAfter = inner.RetryAfter
		if wrapped.Provider == "" {
			wrapped.Provider = inner.Provider
		}
	}

	return wrapped
}

// LLM creates an LLMError with an optional vendor status code.
func LLM(message string, code int) *AppError {
	e := New(KindLLM, message)
	e.Code = code
	return e
}

// ProviderUnavailable creates an error naming an unusable provider.
func ProviderUnavailable(provider, reason string) *AppError {
	e := New(KindProviderUnavailable, fmt.Sprintf("provider %s unavailable: %s", provider, reason))
	e.Provider = provider
	e.Suggestions = []string{
		"Check the provider configuration",
		"Switch to another provider in settings",
	}
	return e
}

// Validation creates a validation error.
func Validation(message string) *AppError {
	return New(KindValidation, message)
}

// PermissionDenied creates a permission error.
func PermissionDenied(message string) *AppError {
	return New(KindPermissionDenied, message)
}

// NotFound creates a not-found error.
func NotFound(what, id string) *AppError {
	return Newf(KindNotFound, "%s %s not found", what, id)
}

// Network creates a recoverable network error.
func Network(err error) *AppError {
	e := Wrap(err, KindNetwork, "network request failed")
	e.Suggestions = []string{"Check your internet connection"}
	return e
}

// ServiceUnavailable creates a recoverable upstream error.
func ServiceUnavailable(message string, retryAfter time.Duration) *AppError {
	e := New(KindServiceUnavailable, message)
	e.RetryAfter = retryAfter
	if retryAfter > 0 {
		e.Suggestions = []string{fmt.Sprintf("Wait %s before retrying", retryAfter)}
	}
	return e
}

// FromContext maps a context error to Aborted or Timeout.
// Returns nil when err is not a context error.
func FromContext(err error) *AppError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return Wrap(err, KindAborted, "request cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		e := Wrap(err, KindTimeout, "request timed out")
		e.Suggestions = []string{"Try again", "Increase the response time limit in settings"}
		return e
	default:
		return nil
	}
}

// ============================================================
// Builder Pattern for Fluent Error Construction
// ============================================================

// Builder provides fluent error construction.
type Builder struct {
	err *AppError
}

// NewBuilder starts building a new error.
func NewBuilder(kind Kind, message string) *Builder {
	return &Builder{
		err: &AppError{
			Kind:     kind,
			Message:  message,
			Severity: defaultSeverity(kind),
			Context:  make(map[string]any),
		},
	}
}

// Severity overrides the default severity.
func (b *Builder) Severity(s Severity) *Builder {
	b.err.Severity = s
	return b
}

// Wrap sets the underlying error.
func (b *Builder) Wrap(err error) *Builder {
	b.err.Inner = err
	return b
}

// Code sets the vendor status code.
func (b *Builder) Code(code int) *Builder {
	b.err.Code = code
	return b
}

// Provider sets the provider name.
func (b *Builder) Provider(name string) *Builder {
	b.err.Provider = name
	return b
}

// WithSuggestion adds a recovery suggestion.
func (b *Builder) WithSuggestion(suggestion string) *Builder {
	b.err.Suggestions = append(b.err.Suggestions, suggestion)
	return b
}

// WithContext adds context information.
func (b *Builder) WithContext(key string, value any) *Builder {
	b.err.Context[key] = value
	return b
}

// WithRetryAfter sets the suggested retry delay.
func (b *Builder) WithRetryAfter(duration time.Duration) *Builder {
	b.err.RetryAfter = duration
	return b
}

// Build returns the constructed error.
func (b *Builder) Build() *AppError {
	return b.err
}

// ============================================================
// Helpers
// ============================================================

// KindOf extracts the kind from an error. Context errors map to Aborted
// and Timeout; anything else unknown is InternalError.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	if ctxErr := FromContext(err); ctxErr != nil {
		return ctxErr.Kind
	}

	return KindInternal
}

// IsRecoverable checks if an error may be retried.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err).Recoverable()
}

// IsAborted reports whether err represents caller cancellation.
func IsAborted(err error) bool {
	return KindOf(err) == KindAborted
}

// GetRetryAfter returns the suggested retry duration.
func GetRetryAfter(err error) time.Duration {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.RetryAfter
	}
	return 0
}

// GetSuggestions returns recovery suggestions for an error.
func GetSuggestions(err error) []string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Suggestions
	}
	return nil
}

// UserMessage returns the user-facing message for any error.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.UserMessage()
	}

	if ctxErr := FromContext(err); ctxErr != nil {
		return ctxErr.UserMessage()
	}

	return New(KindInternal, err.Error()).UserMessage()
}

// FormatUserMessage formats a user-facing message followed by suggestions.
func FormatUserMessage(err error) string {
	if err == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(UserMessage(err))

	suggestions := GetSuggestions(err)
	if len(suggestions) > 0 {
		sb.WriteString("\n\nSuggestions:")
		for _, s := range suggestions {
			sb.WriteString("\n  - ")
			sb.WriteString(s)
		}
	}

	return sb.String()
}
