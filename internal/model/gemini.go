package model

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/errors"
)

// MaxErrorBodySize caps how much of an error response body is read.
const MaxErrorBodySize = 64 * 1024

// GeminiConfig configures the Gemini cloud provider.
type GeminiConfig struct {
	APIKey           string
	BaseURL          string // Default: https://generativelanguage.googleapis.com
	Model            string // e.g., "gemini-2.0-flash"
	Timeout          time.Duration
	MaxContextLength int
	MaxPromptChars   int
	Logger           zerolog.Logger
}

// DefaultGeminiConfig returns default configuration for Gemini.
func DefaultGeminiConfig(apiKey string) *GeminiConfig {
	return &GeminiConfig{
		APIKey:           apiKey,
		BaseURL:          "https://generativelanguage.googleapis.com",
		Model:            "gemini-2.0-flash",
		Timeout:          60 * time.Second,
		MaxContextLength: 1_048_576,
		MaxPromptChars:   400_000,
		Logger:           zerolog.Nop(),
	}
}

// GeminiProvider implements Provider using the Gemini generateContent API.
type GeminiProvider struct {
	cfg    *GeminiConfig
	client *http.Client
	log    zerolog.Logger
	closed atomic.Bool
}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider(cfg *GeminiConfig) *GeminiProvider {
	if cfg == nil {
		cfg = DefaultGeminiConfig("")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	return &GeminiProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    cfg.Logger.With().Str("provider", "gemini").Logger(),
	}
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string { return "gemini" }

// IsLocal returns false; Gemini is a cloud provider.
func (p *GeminiProvider) IsLocal() bool { return false }

// IsReady reports whether a key is configured and the provider is open.
func (p *GeminiProvider) IsReady() bool {
	return p.cfg.APIKey != "" && !p.closed.Load()
}

// Status reports readiness without calling the API.
func (p *GeminiProvider) Status(ctx context.Context) Status {
	switch {
	case p.closed.Load():
		return StatusUnavailable("provider closed")
	case p.cfg.APIKey == "":
		return StatusUnavailable("API key not configured")
	default:
		return StatusReady()
	}
}

// ModelInfo describes the configured Gemini model.
func (p *GeminiProvider) ModelInfo() ModelInfo {
	return ModelInfo{
		ID:               p.cfg.Model,
		Name:             p.cfg.Model,
		Provider:         "gemini",
		MaxContextLength: p.cfg.MaxContextLength,
	}.WithMetadata("base_url", p.cfg.BaseURL)
}

// Capabilities lists supported features.
func (p *GeminiProvider) Capabilities() []string {
	return []string{CapTextGeneration, CapConversation}
}

// Initialize checks that a key is configured.
func (p *GeminiProvider) Initialize(ctx context.Context) error {
	p.closed.Store(false)
	if p.cfg.APIKey == "" {
		return p.missingKey()
	}
	return nil
}

// Cleanup closes idle connections.
func (p *GeminiProvider) Cleanup(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}
	p.client.CloseIdleConnections()
	return nil
}

// ValidatePrompt rejects empty and oversized prompts.
func (p *GeminiProvider) ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return errors.Validation("prompt is empty")
	}
	if p.cfg.MaxPromptChars > 0 && len(prompt) > p.cfg.MaxPromptChars {
		return errors.Validation(fmt.Sprintf("prompt is %d characters, limit is %d", len(prompt), p.cfg.MaxPromptChars))
	}
	return nil
}

// Generate sends a prompt to Gemini and returns the first candidate's text.
func (p *GeminiProvider) Generate(ctx context.Context, prompt string, opts *GenerationOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.FromContext(err)
	}
	if p.cfg.APIKey == "" {
		return "", p.missingKey()
	}
	if err := p.ValidatePrompt(prompt); err != nil {
		return "", err
	}

	body, err := json.Marshal(p.buildRequest(prompt, opts))
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "failed to marshal request")
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		strings.TrimRight(p.cfg.BaseURL, "/"), url.PathEscape(p.cfg.Model), url.QueryEscape(p.cfg.APIKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(redactURL(err), errors.KindInvalidRequest, "failed to create HTTP request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		errBody, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return "", p.statusError(resp, errBody)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := errors.FromContext(ctx.Err()); ctxErr != nil {
			return "", ctxErr
		}
		return "", errors.Network(redactURL(err))
	}

	text, err := extractCandidateText(respBody)
	if err != nil {
		return "", err
	}

	p.log.Debug().
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Int64("total_tokens", gjson.GetBytes(respBody, "usageMetadata.totalTokenCount").Int()).
		Msg("gemini generation complete")

	return text, nil
}

func (p *GeminiProvider) buildRequest(prompt string, opts *GenerationOptions) geminiGenerateRequest {
	req := geminiGenerateRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: prompt}},
		}},
	}
	if opts != nil {
		req.GenerationConfig = &geminiGenerationConfig{
			MaxOutputTokens: opts.MaxTokens,
			Temperature:     opts.Temperature,
			TopP:            opts.TopP,
			StopSequences:   opts.StopSequences,
		}
	}
	return req
}

func (p *GeminiProvider) missingKey() error {
	return errors.NewBuilder(errors.KindConfig, "Gemini API key not configured").
		Provider("gemini").
		WithSuggestion("Set GEMINI_API_KEY or providers.gemini.api_key in config.toml").
		WithSuggestion("Switch to the local model in settings").
		Build()
}

// statusError maps a non-2xx response to an error kind.
func (p *GeminiProvider) statusError(resp *http.Response, body []byte) error {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.NewBuilder(errors.KindResourceExhausted, "Gemini rate limit exceeded: "+msg).
			Code(resp.StatusCode).
			Provider("gemini").
			WithRetryAfter(parseRetryAfter(resp.Header.Get("Retry-After"))).
			WithSuggestion("Wait a moment before retrying").
			WithSuggestion("Check your API quota").
			Build()
	case resp.StatusCode >= 500:
		return errors.NewBuilder(errors.KindServiceUnavailable, fmt.Sprintf("Gemini unavailable (%s): %s", resp.Status, msg)).
			Code(resp.StatusCode).
			Provider("gemini").
			WithRetryAfter(parseRetryAfter(resp.Header.Get("Retry-After"))).
			Build()
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.NewBuilder(errors.KindLLM, "Gemini rejected the API key: "+msg).
			Code(resp.StatusCode).
			Provider("gemini").
			WithSuggestion("Check your Gemini API key").
			Build()
	default:
		return errors.NewBuilder(errors.KindLLM, fmt.Sprintf("Gemini error (status %d): %s", resp.StatusCode, msg)).
			Code(resp.StatusCode).
			Provider("gemini").
			Build()
	}
}

// extractCandidateText pulls candidates[0].content.parts[0].text.
func extractCandidateText(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", errors.LLM("malformed response: invalid JSON", 0)
	}
	text := gjson.GetBytes(body, "candidates.0.content.parts.0.text")
	if !text.Exists() || text.Type != gjson.String {
		reason := gjson.GetBytes(body, "promptFeedback.blockReason").String()
		if reason != "" {
			return "", errors.LLM("response blocked: "+reason, 0)
		}
		return "", errors.LLM("malformed response: missing candidates[0].content.parts[0].text", 0)
	}
	return text.String(), nil
}

// classifyTransportError maps an http.Client error to Aborted, Timeout or
// Network. The request URL carries the API key, so it is stripped.
func classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := errors.FromContext(ctx.Err()); ctxErr != nil {
		return ctxErr
	}
	err = redactURL(err)

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(err, errors.KindTimeout, "request timed out")
	}
	return errors.Network(err)
}

func redactURL(err error) error {
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// readLimitedBody reads at most limit bytes from r.
func readLimitedBody(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit))
}

// Gemini API types
type geminiGenerateRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     float64  `json:"temperature,omitempty"`
	TopP            float64  `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}
