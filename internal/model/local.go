package model

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/errors"
)

// Generator is an embedded inference runtime. Implementations need not be
// safe for concurrent use; LocalProvider serializes every call.
type Generator interface {
	// Load prepares the runtime. artifact is the resolved model file, or ""
	// for runtimes that manage their own model store.
	Load(ctx context.Context, artifact string) error

	// Generate completes a prompt.
	Generate(ctx context.Context, prompt string, opts *GenerationOptions) (string, error)

	// Close releases the runtime.
	Close() error
}

// LocalConfig configures the local provider.
type LocalConfig struct {
	// ModelsDir overrides the OS local data directory
	ModelsDir string

	// ModelName is reported in ModelInfo
	ModelName string

	// Extensions are the artifact suffixes accepted by the runtime
	Extensions []string

	// DownloadURL is fetched once when no artifact is found
	DownloadURL string

	// RequireArtifact makes a missing artifact fatal to initialization
	RequireArtifact bool

	// MaxPromptChars is the per-model prompt cap
	MaxPromptChars int

	MaxContextLength int
	HTTPClient       *http.Client
	Logger           zerolog.Logger
}

// DefaultLocalConfig returns defaults for a small Gemma model.
func DefaultLocalConfig() *LocalConfig {
	return &LocalConfig{
		ModelName:        "gemma-3-1b-it",
		Extensions:       []string{".gguf", ".bin"},
		RequireArtifact:  true,
		MaxPromptChars:   8000,
		MaxContextLength: 8192,
		Logger:           zerolog.Nop(),
	}
}

// LocalProvider serves generations from an embedded runtime.
type LocalProvider struct {
	cfg *LocalConfig
	gen Generator
	log zerolog.Logger

	// sem serializes lifecycle and generation; acquiring it honours ctx
	sem chan struct{}

	mu                sync.RWMutex
	status            Status
	loaded            bool
	artifact          string
	downloadAttempted bool
}

// NewLocalProvider wraps gen in a Provider.
func NewLocalProvider(gen Generator, cfg *LocalConfig) *LocalProvider {
	if cfg == nil {
		cfg = DefaultLocalConfig()
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".gguf", ".bin"}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	return &LocalProvider{
		cfg:    cfg,
		gen:    gen,
		log:    cfg.Logger.With().Str("provider", "local").Logger(),
		sem:    make(chan struct{}, 1),
		status: StatusUnavailable("not initialized"),
	}
}

// Name returns the provider identifier.
func (p *LocalProvider) Name() string { return "local" }

// IsLocal returns true.
func (p *LocalProvider) IsLocal() bool { return true }

// IsReady reports whether the runtime is loaded.
func (p *LocalProvider) IsReady() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loaded && p.status.State == StateReady
}

// Status returns the last known lifecycle state.
func (p *LocalProvider) Status(ctx context.Context) Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// ModelInfo describes the local model.
func (p *LocalProvider) ModelInfo() ModelInfo {
	p.mu.RLock()
	artifact := p.artifact
	p.mu.RUnlock()

	info := ModelInfo{
		ID:               p.cfg.ModelName,
		Name:             p.cfg.ModelName,
		Provider:         "local",
		MaxContextLength: p.cfg.MaxContextLength,
	}
	if artifact != "" {
		info = info.WithMetadata("artifact", filepath.Base(artifact))
	}
	return info
}

// Capabilities lists supported features.
func (p *LocalProvider) Capabilities() []string {
	return []string{CapTextGeneration, CapConversation, CapOffline}
}

// ValidatePrompt rejects empty prompts and prompts over the character cap.
func (p *LocalProvider) ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return errors.Validation("prompt is empty")
	}
	if p.cfg.MaxPromptChars > 0 && len(prompt) > p.cfg.MaxPromptChars {
		return errors.NewBuilder(errors.KindValidation,
			fmt.Sprintf("prompt is %d characters, local model limit is %d", len(prompt), p.cfg.MaxPromptChars)).
			Provider("local").
			WithSuggestion("Shorten the request or switch to the cloud model").
			Build()
	}
	return nil
}

// Initialize resolves and loads the model. On failure the provider stays
// Unavailable with the reason, and the error is returned for logging.
func (p *LocalProvider) Initialize(ctx context.Context) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()

	p.mu.RLock()
	loaded := p.loaded
	p.mu.RUnlock()
	if loaded {
		return nil
	}

	p.setStatus(StatusInitializing())

	artifact, err := p.resolveArtifact(ctx)
	if err != nil {
		p.setStatus(StatusUnavailable(err.Error()))
		return err
	}

	if err := p.gen.Load(ctx, artifact); err != nil {
		if ctxErr := errors.FromContext(ctx.Err()); ctxErr != nil {
			p.setStatus(StatusUnavailable("initialization cancelled"))
			return ctxErr
		}
		loadErr := errors.NewBuilder(errors.KindModelLoadFailed, "local model failed to load").
			Wrap(err).
			Provider("local").
			WithSuggestion("Check that the local inference runtime is installed").
			WithSuggestion("Use the cloud provider instead").
			Build()
		p.setStatus(StatusUnavailable(err.Error()))
		return loadErr
	}

	p.mu.Lock()
	p.loaded = true
	p.artifact = artifact
	p.status = StatusReady()
	p.mu.Unlock()

	p.log.Info().Str("artifact", artifact).Msg("local model loaded")
	return nil
}

// Cleanup unloads the runtime.
func (p *LocalProvider) Cleanup(ctx context.Context) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		return nil
	}
	p.loaded = false
	p.status = StatusUnavailable("shut down")
	if err := p.gen.Close(); err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to close local runtime")
	}
	return nil
}

// Generate runs one serialized generation.
func (p *LocalProvider) Generate(ctx context.Context, prompt string, opts *GenerationOptions) (string, error) {
	if err := p.ValidatePrompt(prompt); err != nil {
		return "", err
	}
	if err := p.acquire(ctx); err != nil {
		return "", err
	}
	defer p.release()

	if !p.IsReady() {
		p.mu.RLock()
		reason := p.status.Reason
		p.mu.RUnlock()
		return "", errors.ProviderUnavailable("local", reason)
	}

	text, err := p.gen.Generate(ctx, prompt, opts)
	if err != nil {
		if ctxErr := errors.FromContext(ctx.Err()); ctxErr != nil {
			return "", ctxErr
		}
		if errors.KindOf(err) != errors.KindInternal {
			return "", err
		}
		return "", errors.Wrap(err, errors.KindGenerationFailed, "local generation failed")
	}
	return text, nil
}

func (p *LocalProvider) acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.FromContext(ctx.Err())
	}
}

func (p *LocalProvider) release() { <-p.sem }

func (p *LocalProvider) setStatus(s Status) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
}

// resolveArtifact finds a model file, downloading one at most once.
func (p *LocalProvider) resolveArtifact(ctx context.Context) (string, error) {
	dir := p.cfg.ModelsDir
	if dir == "" {
		var err error
		dir, err = DefaultModelsDir()
		if err != nil {
			return "", errors.Wrap(err, errors.KindInitialization, "cannot resolve models directory")
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, errors.KindInitialization, "cannot create models directory")
	}

	if artifact := FindArtifact(dir, p.cfg.Extensions); artifact != "" {
		return artifact, nil
	}

	p.mu.Lock()
	attempt := p.cfg.DownloadURL != "" && !p.downloadAttempted
	p.downloadAttempted = true
	p.mu.Unlock()

	if attempt {
		artifact, err := p.download(ctx, dir)
		if err != nil {
			return "", err
		}
		return artifact, nil
	}

	if p.cfg.RequireArtifact {
		return "", errors.NewBuilder(errors.KindModelNotFound, "no model file found in "+dir).
			Provider("local").
			WithSuggestion("Place a " + strings.Join(p.cfg.Extensions, " or ") + " model in " + dir).
			WithSuggestion("Set providers.local.download_url to fetch one automatically").
			Build()
	}
	return "", nil
}

func (p *LocalProvider) download(ctx context.Context, dir string) (string, error) {
	fail := func(err error, msg string) error {
		if ctxErr := errors.FromContext(ctx.Err()); ctxErr != nil {
			return ctxErr
		}
		return errors.NewBuilder(errors.KindDownloadFailed, msg).
			Wrap(err).
			Provider("local").
			WithSuggestion("Check your connection and restart to retry the download").
			Build()
	}

	name := downloadFileName(p.cfg.DownloadURL, p.cfg.Extensions)
	p.log.Info().Str("url", p.cfg.DownloadURL).Str("dir", dir).Msg("downloading local model")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.DownloadURL, nil)
	if err != nil {
		return "", fail(err, "invalid download URL")
	}
	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fail(err, "model download failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fail(fmt.Errorf("status %s", resp.Status), "model download failed")
	}

	tmp, err := os.CreateTemp(dir, name+".*.part")
	if err != nil {
		return "", fail(err, "cannot write model file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil {
		return "", fail(copyErr, "model download interrupted")
	}
	if closeErr != nil {
		return "", fail(closeErr, "cannot write model file")
	}

	final := filepath.Join(dir, name)
	if err := os.Rename(tmpName, final); err != nil {
		return "", fail(err, "cannot move model file into place")
	}

	p.log.Info().Str("artifact", final).Str("size", humanize.Bytes(uint64(n))).Msg("local model downloaded")
	return final, nil
}

// FindArtifact returns the first file in dir (sorted by name) whose
// extension is in exts, or "".
func FindArtifact(dir string, exts []string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range exts {
			if ext == strings.ToLower(want) {
				names = append(names, e.Name())
				break
			}
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0])
}

func downloadFileName(rawURL string, exts []string) string {
	name := "model"
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			name = base
		}
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range exts {
		if ext == strings.ToLower(want) {
			return name
		}
	}
	if len(exts) > 0 {
		return name + exts[0]
	}
	return name
}

// DefaultModelsDir returns <local data dir>/kirapilot/models.
func DefaultModelsDir() (string, error) {
	base, err := localDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "kirapilot", "models"), nil
}

// localDataDir follows each OS's convention for per-user application data.
func localDataDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return dir, nil
		}
		return os.UserConfigDir()
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support"), nil
	default:
		if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
			return dir, nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share"), nil
	}
}
