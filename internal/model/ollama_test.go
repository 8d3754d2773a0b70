package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/errors"
)

func newOllamaServer(t *testing.T, models []string, generate http.HandlerFunc) *OllamaGenerator {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		var resp struct {
			Models []map[string]string `json:"models"`
		}
		for _, m := range models {
			resp.Models = append(resp.Models, map[string]string{"name": m})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	if generate != nil {
		mux.HandleFunc("/api/generate", generate)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	g := NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL, Model: "gemma3"})
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestOllamaLoad(t *testing.T) {
	g := newOllamaServer(t, []string{"qwen2:7b", "gemma3:latest"}, nil)
	require.NoError(t, g.Load(context.Background(), ""))

	g = newOllamaServer(t, []string{"qwen2:7b"}, nil)
	err := g.Load(context.Background(), "")
	assert.Equal(t, errors.KindModelNotFound, errors.KindOf(err))
	assert.Contains(t, errors.GetSuggestions(err)[0], "ollama pull gemma3")
}

func TestOllamaLoadUnreachable(t *testing.T) {
	g := NewOllamaGenerator(OllamaConfig{BaseURL: "http://127.0.0.1:1", Model: "gemma3"})
	err := g.Load(context.Background(), "")
	assert.Equal(t, errors.KindModelLoadFailed, errors.KindOf(err))
}

func TestOllamaGenerate(t *testing.T) {
	var got ollamaGenerateRequest
	g := newOllamaServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"response":"Answer: hi","done":true}`))
	})

	out, err := g.Generate(context.Background(), "<start_of_turn>user\nhi", &GenerationOptions{
		MaxTokens:     64,
		StopSequences: []string{"<end_of_turn>"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Answer: hi", out)

	assert.Equal(t, "gemma3", got.Model)
	assert.True(t, got.Raw)
	assert.False(t, got.Stream)
	require.NotNil(t, got.Options)
	assert.Equal(t, 64, got.Options.NumPredict)
	assert.Equal(t, []string{"<end_of_turn>"}, got.Options.Stop)
}

func TestOllamaGenerateErrors(t *testing.T) {
	g := newOllamaServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("model crashed"))
	})
	_, err := g.Generate(context.Background(), "hi", nil)
	assert.Equal(t, errors.KindGenerationFailed, errors.KindOf(err))
	assert.Contains(t, err.Error(), "model crashed")

	g = newOllamaServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"out of memory"}`))
	})
	_, err = g.Generate(context.Background(), "hi", nil)
	assert.Equal(t, errors.KindGenerationFailed, errors.KindOf(err))
}

func TestLocalProviderWithOllama(t *testing.T) {
	g := newOllamaServer(t, []string{"gemma3:latest"}, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"Answer: ready<end_of_turn>","done":true}`))
	})

	cfg := localConfig(t.TempDir())
	cfg.RequireArtifact = false
	p := NewTemplateProvider(NewLocalProvider(g, cfg), Gemma)
	ctx := context.Background()

	require.NoError(t, p.Initialize(ctx))
	out, err := p.Generate(ctx, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "Answer: ready", out)
	require.NoError(t, p.Cleanup(ctx))
}
