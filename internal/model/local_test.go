package model

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/errors"
)

type fakeGenerator struct {
	mu       sync.Mutex
	loadErr  error
	loaded   string
	loads    int
	closes   int
	inFlight int
	maxSeen  int
	delay    time.Duration
	genErr   error
}

func (g *fakeGenerator) Load(ctx context.Context, artifact string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loads++
	g.loaded = artifact
	return g.loadErr
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, opts *GenerationOptions) (string, error) {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.maxSeen {
		g.maxSeen = g.inFlight
	}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.genErr != nil {
		return "", g.genErr
	}
	return "echo: " + prompt, nil
}

func (g *fakeGenerator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closes++
	return nil
}

func localConfig(dir string) *LocalConfig {
	cfg := DefaultLocalConfig()
	cfg.ModelsDir = dir
	return cfg
}

func TestLocalProviderLoadsArtifact(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.gguf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.gguf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	gen := &fakeGenerator{}
	p := NewLocalProvider(gen, localConfig(dir))
	ctx := context.Background()

	assert.False(t, p.IsReady())
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Initialize(ctx))

	assert.True(t, p.IsReady())
	assert.Equal(t, 1, gen.loads)
	assert.Equal(t, filepath.Join(dir, "a.gguf"), gen.loaded)
	assert.Contains(t, string(p.ModelInfo().Metadata["artifact"]), "a.gguf")

	out, err := p.Generate(ctx, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)

	require.NoError(t, p.Cleanup(ctx))
	require.NoError(t, p.Cleanup(ctx))
	assert.Equal(t, 1, gen.closes)
	assert.False(t, p.IsReady())
}

func TestLocalProviderMissingArtifact(t *testing.T) {
	p := NewLocalProvider(&fakeGenerator{}, localConfig(t.TempDir()))

	err := p.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindModelNotFound, errors.KindOf(err))
	assert.NotEmpty(t, errors.GetSuggestions(err))

	status := p.Status(context.Background())
	assert.Equal(t, StateUnavailable, status.State)
	assert.Contains(t, status.Reason, "no model file")

	_, err = p.Generate(context.Background(), "hi", nil)
	assert.Equal(t, errors.KindProviderUnavailable, errors.KindOf(err))
}

func TestLocalProviderLoadFailure(t *testing.T) {
	cfg := localConfig(t.TempDir())
	cfg.RequireArtifact = false
	p := NewLocalProvider(&fakeGenerator{loadErr: fmt.Errorf("runtime missing")}, cfg)

	err := p.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindModelLoadFailed, errors.KindOf(err))
	assert.False(t, p.IsReady())
	assert.Equal(t, "runtime missing", p.Status(context.Background()).Reason)
}

func TestLocalProviderDownloadsOnce(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		_, _ = w.Write([]byte(strings.Repeat("w", 1024)))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := localConfig(dir)
	cfg.DownloadURL = srv.URL + "/models/gemma.gguf"
	cfg.HTTPClient = srv.Client()

	gen := &fakeGenerator{}
	p := NewLocalProvider(gen, cfg)
	require.NoError(t, p.Initialize(context.Background()))

	assert.Equal(t, filepath.Join(dir, "gemma.gguf"), gen.loaded)
	info, err := os.Stat(gen.loaded)
	require.NoError(t, err)
	assert.EqualValues(t, 1024, info.Size())

	matches, _ := filepath.Glob(filepath.Join(dir, "*.part"))
	assert.Empty(t, matches)

	require.NoError(t, p.Cleanup(context.Background()))
	require.NoError(t, os.Remove(gen.loaded))
	err = p.Initialize(context.Background())
	assert.Equal(t, errors.KindModelNotFound, errors.KindOf(err))
	assert.Equal(t, 1, hits)
}

func TestLocalProviderDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := localConfig(t.TempDir())
	cfg.DownloadURL = srv.URL + "/missing"
	cfg.HTTPClient = srv.Client()

	p := NewLocalProvider(&fakeGenerator{}, cfg)
	err := p.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindDownloadFailed, errors.KindOf(err))
	assert.True(t, errors.IsRecoverable(err))
}

func TestLocalProviderSerializesGeneration(t *testing.T) {
	cfg := localConfig(t.TempDir())
	cfg.RequireArtifact = false
	gen := &fakeGenerator{delay: 5 * time.Millisecond}
	p := NewLocalProvider(gen, cfg)
	require.NoError(t, p.Initialize(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Generate(context.Background(), "hi", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, gen.maxSeen)
}

func TestLocalProviderCancelledWhileQueued(t *testing.T) {
	cfg := localConfig(t.TempDir())
	cfg.RequireArtifact = false
	gen := &fakeGenerator{delay: 200 * time.Millisecond}
	p := NewLocalProvider(gen, cfg)
	require.NoError(t, p.Initialize(context.Background()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.Generate(context.Background(), "slow", nil)
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Generate(ctx, "queued", nil)
	assert.True(t, errors.IsAborted(err))
	<-done
}

func TestLocalProviderErrors(t *testing.T) {
	cfg := localConfig(t.TempDir())
	cfg.RequireArtifact = false
	cfg.MaxPromptChars = 10
	gen := &fakeGenerator{genErr: fmt.Errorf("kv cache full")}
	p := NewLocalProvider(gen, cfg)
	require.NoError(t, p.Initialize(context.Background()))

	_, err := p.Generate(context.Background(), strings.Repeat("x", 11), nil)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	_, err = p.Generate(context.Background(), "hi", nil)
	assert.Equal(t, errors.KindGenerationFailed, errors.KindOf(err))
}

func TestDownloadFileName(t *testing.T) {
	exts := []string{".gguf", ".bin"}
	assert.Equal(t, "gemma.gguf", downloadFileName("https://x.test/m/gemma.gguf?dl=1", exts))
	assert.Equal(t, "weights.gguf", downloadFileName("https://x.test/weights", exts))
	assert.Equal(t, "model.gguf", downloadFileName("https://x.test/", exts))
}
