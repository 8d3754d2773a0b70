package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/errors"
)

// OllamaConfig configures the Ollama-backed generator.
type OllamaConfig struct {
	BaseURL   string // Default: http://localhost:11434
	Model     string // e.g., "gemma3:1b"
	Timeout   time.Duration
	KeepAlive string // e.g., "5m"
}

// OllamaGenerator drives a locally running Ollama server. Prompts are sent
// raw because TemplateProvider has already applied the chat template.
type OllamaGenerator struct {
	cfg    OllamaConfig
	client *http.Client
}

// NewOllamaGenerator creates a generator for cfg.
func NewOllamaGenerator(cfg OllamaConfig) *OllamaGenerator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OllamaGenerator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Load checks the server is reachable and has the model pulled.
// The artifact is ignored; Ollama manages its own model store.
func (g *OllamaGenerator) Load(ctx context.Context, artifact string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(g.cfg.BaseURL, "/")+"/api/tags", nil)
	if err != nil {
		return errors.Wrap(err, errors.KindConfig, "invalid Ollama URL")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if ctxErr := errors.FromContext(ctx.Err()); ctxErr != nil {
			return ctxErr
		}
		return errors.NewBuilder(errors.KindModelLoadFailed, "Ollama server not reachable at "+g.cfg.BaseURL).
			Wrap(err).
			WithSuggestion("Start Ollama with `ollama serve`").
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf(errors.KindModelLoadFailed, "Ollama returned %s", resp.Status)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return errors.Wrap(err, errors.KindModelLoadFailed, "invalid Ollama tags response")
	}

	for _, m := range tags.Models {
		if m.Name == g.cfg.Model || strings.TrimSuffix(m.Name, ":latest") == g.cfg.Model {
			return nil
		}
	}

	return errors.NewBuilder(errors.KindModelNotFound, fmt.Sprintf("model %q is not available in Ollama", g.cfg.Model)).
		WithSuggestion(fmt.Sprintf("Run `ollama pull %s`", g.cfg.Model)).
		Build()
}

// Generate completes a prompt with /api/generate.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string, opts *GenerationOptions) (string, error) {
	body := ollamaGenerateRequest{
		Model:     g.cfg.Model,
		Prompt:    prompt,
		Stream:    false,
		Raw:       true,
		KeepAlive: g.cfg.KeepAlive,
	}
	if opts != nil {
		body.Options = &ollamaOptions{
			NumPredict:  opts.MaxTokens,
			Temperature: opts.Temperature,
			TopP:        opts.TopP,
			Stop:        opts.StopSequences,
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.cfg.BaseURL, "/")+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, errors.KindConfig, "invalid Ollama URL")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return "", errors.Newf(errors.KindGenerationFailed, "Ollama error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctxErr := errors.FromContext(ctx.Err()); ctxErr != nil {
			return "", ctxErr
		}
		return "", errors.Wrap(err, errors.KindGenerationFailed, "invalid Ollama response")
	}
	if out.Error != "" {
		return "", errors.New(errors.KindGenerationFailed, out.Error)
	}
	return out.Response, nil
}

// Close releases idle connections.
func (g *OllamaGenerator) Close() error {
	g.client.CloseIdleConnections()
	return nil
}

type ollamaGenerateRequest struct {
	Model     string         `json:"model"`
	Prompt    string         `json:"prompt"`
	Stream    bool           `json:"stream"`
	Raw       bool           `json:"raw"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}
