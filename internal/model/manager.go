package model

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/cost"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/errors"
)

// DefaultResponseTimeout bounds a provider call when neither the
// preferences nor the switching config set a limit.
const DefaultResponseTimeout = 30 * time.Second

// ManagerConfig configures the provider manager.
type ManagerConfig struct {
	Switching   SwitchingConfig
	Preferences Preferences

	// Breaker configures each provider's circuit breaker (nil: defaults)
	Breaker *errors.CircuitBreakerConfig

	// Usage receives token estimates for successful Generate calls
	Usage *cost.Tracker

	Logger zerolog.Logger
}

type entry struct {
	provider Provider
	health   Health
	breaker  *errors.CircuitBreaker

	totalResponseMs int64 // sum over successful requests

	initMu      sync.Mutex
	initialized bool
}

// Manager owns the registered providers, their health, and the active
// provider pointer. It is safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	order     []string // registration order
	active    string
	switching SwitchingConfig
	prefs     Preferences

	breakerCfg errors.CircuitBreakerConfig
	usage      *cost.Tracker
	log        zerolog.Logger
	now        func() time.Time
}

// NewManager creates an empty manager.
func NewManager(cfg *ManagerConfig) *Manager {
	if cfg == nil {
		cfg = &ManagerConfig{Switching: DefaultSwitchingConfig(), Logger: zerolog.Nop()}
	}
	if cfg.Switching.MaxConsecutiveFailures < 1 {
		cfg.Switching.MaxConsecutiveFailures = 1
	}

	m := &Manager{
		entries:   make(map[string]*entry),
		switching: cfg.Switching,
		prefs:     cfg.Preferences.clone(),
		usage:     cfg.Usage,
		log:       cfg.Logger.With().Str("component", "provider_manager").Logger(),
		now:       time.Now,
	}

	if cfg.Breaker != nil {
		m.breakerCfg = *cfg.Breaker
	} else {
		m.breakerCfg = *errors.DefaultCircuitBreakerConfig()
	}
	if m.breakerCfg.OnStateChange == nil {
		m.breakerCfg.OnStateChange = func(name string, from, to errors.State) {
			m.log.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		}
	}

	return m
}

// ============================================================
// Registry
// ============================================================

// Register adds a provider. The first registered provider, or the one
// named as primary, becomes active.
func (m *Manager) Register(p Provider) error {
	name := p.Name()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[name]; exists {
		return errors.Newf(errors.KindConfig, "provider %s already registered", name)
	}

	m.entries[name] = &entry{
		provider: p,
		breaker:  errors.NewCircuitBreaker(name, &m.breakerCfg),
	}
	m.order = append(m.order, name)

	if m.active == "" || name == m.prefs.PrimaryProvider {
		m.active = name
	}

	m.log.Debug().Str("provider", name).Bool("local", p.IsLocal()).Msg("provider registered")
	return nil
}

// Provider returns a registered provider by name.
func (m *Manager) Provider(name string) (Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[name]
	if !ok {
		return nil, false
	}
	return e.provider, true
}

// Providers lists registered provider names in registration order.
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Active returns the active provider's name.
func (m *Manager) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// SetActive makes name the active provider.
func (m *Manager) SetActive(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[name]; !ok {
		return errors.Newf(errors.KindConfig, "provider %s is not registered", name)
	}
	m.swapActiveLocked(name, "manual")
	return nil
}

// Preferences returns a copy of the current preferences.
func (m *Manager) Preferences() Preferences {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefs.clone()
}

// SetPreferences replaces the preferences and re-evaluates the active
// provider in the same critical section.
func (m *Manager) SetPreferences(p Preferences) {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldPrimary := m.prefs.PrimaryProvider
	m.prefs = p.clone()

	switch {
	case p.PrimaryProvider != oldPrimary && m.isHealthyLocked(p.PrimaryProvider):
		m.swapActiveLocked(p.PrimaryProvider, "primary changed")
	case !m.isHealthyLocked(m.active), p.AllowAutoSwitch:
		if best := m.findBestLocked(); best != "" {
			m.swapActiveLocked(best, "preferences updated")
		}
	}
}

// Switching returns the failover settings.
func (m *Manager) Switching() SwitchingConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.switching
}

// Health returns a copy of a provider's health.
func (m *Manager) Health(name string) (Health, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[name]
	if !ok {
		return Health{}, false
	}
	return e.health, true
}

// Report describes every registered provider.
func (m *Manager) Report() []ProviderReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	reports := make([]ProviderReport, 0, len(m.order))
	for _, name := range m.order {
		e := m.entries[name]
		reports = append(reports, ProviderReport{
			Name:    name,
			Local:   e.provider.IsLocal(),
			Active:  name == m.active,
			Ready:   e.provider.IsReady(),
			Healthy: m.isHealthyLocked(name),
			Breaker: e.breaker.State().String(),
			Health:  e.health,
			Model:   e.provider.ModelInfo(),
		})
	}
	return reports
}

// ============================================================
// Selection
// ============================================================

// FindBestProvider returns the first healthy candidate in preference
// order, or the primary (else the active provider) when none is healthy.
func (m *Manager) FindBestProvider() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findBestLocked()
}

func (m *Manager) findBestLocked() string {
	for _, name := range m.candidatesLocked() {
		if m.isHealthyLocked(name) {
			return name
		}
	}
	if _, ok := m.entries[m.prefs.PrimaryProvider]; ok {
		return m.prefs.PrimaryProvider
	}
	return m.active
}

// candidatesLocked orders providers: primary, fallbacks, then the rest in
// registration order. With PreferLocal, local providers move ahead of
// cloud ones while keeping their relative order.
func (m *Manager) candidatesLocked() []string {
	seen := make(map[string]bool, len(m.entries))
	order := make([]string, 0, len(m.entries))

	add := func(name string) {
		if _, ok := m.entries[name]; ok && !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}

	add(m.prefs.PrimaryProvider)
	for _, name := range m.prefs.FallbackProviders {
		add(name)
	}
	for _, name := range m.order {
		add(name)
	}

	if m.prefs.PreferLocal {
		sort.SliceStable(order, func(i, j int) bool {
			return m.entries[order[i]].provider.IsLocal() && !m.entries[order[j]].provider.IsLocal()
		})
	}
	return order
}

func (m *Manager) isHealthyLocked(name string) bool {
	e, ok := m.entries[name]
	if !ok {
		return false
	}
	if !e.provider.IsReady() {
		return false
	}
	if e.health.ConsecutiveFailures >= m.switching.MaxConsecutiveFailures {
		return false
	}
	if limit := m.prefs.MaxResponseTime; limit > 0 && e.health.SuccessfulRequests > 0 &&
		time.Duration(e.health.AvgResponseTimeMs)*time.Millisecond > limit {
		return false
	}
	return e.breaker.Ready()
}

func (m *Manager) swapActiveLocked(name, reason string) {
	if name == m.active {
		return
	}
	m.log.Info().Str("from", m.active).Str("to", name).Str("reason", reason).Msg("active provider changed")
	m.active = name
}

// ============================================================
// Request Path
// ============================================================

// WithActive runs fn against the selected provider under the response
// time budget and records the outcome in the provider's health.
func (m *Manager) WithActive(ctx context.Context, fn func(ctx context.Context, p Provider) error) error {
	if err := ctx.Err(); err != nil {
		return errors.FromContext(err)
	}

	name, e, timeout, err := m.selectForRequest()
	if err != nil {
		return err
	}

	if err := m.ensureInitialized(ctx, e); err != nil {
		if errors.IsAborted(err) || ctx.Err() != nil {
			return err
		}
		m.RecordFailure(name, err)
		return err
	}

	if err := e.breaker.Allow(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	start := m.now()
	err = fn(callCtx, e.provider)
	timedOut := callCtx.Err() == context.DeadlineExceeded
	cancel()
	elapsed := m.now().Sub(start)

	if err == nil {
		e.breaker.Record(nil)
		m.RecordSuccess(name, elapsed)
		return nil
	}

	// Caller cancellation is not the provider's failure.
	if ctx.Err() != nil {
		e.breaker.Record(errors.ErrAborted)
		return errors.FromContext(ctx.Err())
	}
	if errors.IsAborted(err) && !timedOut {
		e.breaker.Record(errors.ErrAborted)
		return err
	}
	if timedOut && errors.KindOf(err) != errors.KindTimeout {
		err = errors.NewBuilder(errors.KindTimeout, fmt.Sprintf("%s did not respond within %s", name, timeout)).
			Wrap(err).
			Provider(name).
			Build()
	}

	e.breaker.Record(err)
	m.RecordFailure(name, err)
	return err
}

// Generate completes prompt with the selected provider.
func (m *Manager) Generate(ctx context.Context, prompt string, opts *GenerationOptions) (string, error) {
	var out string
	var used Provider
	err := m.WithActive(ctx, func(ctx context.Context, p Provider) error {
		text, err := p.Generate(ctx, prompt, opts)
		if err != nil {
			return err
		}
		out, used = text, p
		return nil
	})
	if err != nil {
		return "", err
	}

	if m.usage != nil {
		m.usage.Record(used.Name(), used.IsLocal(), cost.EstimateTokens(prompt), cost.EstimateTokens(out))
	}
	return out, nil
}

// ModelInfo describes the active provider's model.
func (m *Manager) ModelInfo() ModelInfo {
	m.mu.RLock()
	e, ok := m.entries[m.active]
	m.mu.RUnlock()

	if !ok {
		return ModelInfo{ID: "none", Name: "none", Provider: "none"}
	}
	return e.provider.ModelInfo()
}

// selectForRequest picks the provider for one request. With
// AllowAutoSwitch the best candidate replaces the active provider.
func (m *Manager) selectForRequest() (string, *entry, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) == 0 {
		return "", nil, 0, errors.ProviderUnavailable("none", "no providers registered")
	}

	if m.prefs.AllowAutoSwitch {
		if best := m.findBestLocked(); best != "" {
			m.swapActiveLocked(best, "selection")
		}
	}

	timeout := m.prefs.MaxResponseTime
	if timeout <= 0 {
		timeout = m.switching.ResponseTimeBudget
	}
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}

	return m.active, m.entries[m.active], timeout, nil
}

func (m *Manager) ensureInitialized(ctx context.Context, e *entry) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	if e.initialized {
		return nil
	}

	err := e.provider.Initialize(ctx)
	if err != nil && (errors.IsAborted(err) || ctx.Err() != nil) {
		return err
	}

	e.initialized = true
	if err != nil {
		m.log.Warn().Err(err).Str("provider", e.provider.Name()).Msg("provider initialization failed")
		return err
	}
	return nil
}

// ============================================================
// Health
// ============================================================

// RecordSuccess records a successful request.
func (m *Manager) RecordSuccess(name string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[name]
	if !ok {
		return
	}

	now := m.now()
	h := &e.health
	h.ConsecutiveFailures = 0
	h.TotalRequests++
	h.SuccessfulRequests++
	h.LastSuccessAt = &now

	e.totalResponseMs += d.Milliseconds()
	h.AvgResponseTimeMs = e.totalResponseMs / int64(h.SuccessfulRequests)
}

// RecordFailure records a failed request and fails over when the
// consecutive-failure threshold is crossed.
func (m *Manager) RecordFailure(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[name]
	if !ok {
		return
	}

	now := m.now()
	h := &e.health
	h.ConsecutiveFailures++
	h.TotalRequests++
	h.FailedRequests++
	h.LastFailureAt = &now
	if err != nil {
		h.LastError = err.Error()
	}

	m.log.Warn().
		Str("provider", name).
		Int("consecutive_failures", h.ConsecutiveFailures).
		Err(err).
		Msg("provider request failed")

	if h.ConsecutiveFailures >= m.switching.MaxConsecutiveFailures && m.switching.EnableAutoFailover && name == m.active {
		m.attemptFailoverLocked()
	}
}

// AttemptFailover switches to the first healthy provider other than the
// active one. It returns the new active provider and whether it changed.
func (m *Manager) AttemptFailover() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attemptFailoverLocked()
}

func (m *Manager) attemptFailoverLocked() (string, bool) {
	for _, name := range m.candidatesLocked() {
		if name != m.active && m.isHealthyLocked(name) {
			m.swapActiveLocked(name, "failover")
			return name, true
		}
	}
	m.log.Error().Str("provider", m.active).Msg("failover found no healthy provider")
	return m.active, false
}

// CheckHealth probes every provider once. A provider that reports Ready
// and has not failed for a full health-check interval gets its
// consecutive failures cleared so selection can use it again.
func (m *Manager) CheckHealth(ctx context.Context) {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}

		m.mu.RLock()
		e := m.entries[name]
		m.mu.RUnlock()

		status := e.provider.Status(ctx)

		m.mu.Lock()
		h := &e.health
		if status.State == StateReady && h.ConsecutiveFailures >= m.switching.MaxConsecutiveFailures &&
			e.breaker.Ready() && h.LastFailureAt != nil && m.now().Sub(*h.LastFailureAt) >= m.switching.HealthCheckInterval {
			h.ConsecutiveFailures = 0
			m.log.Info().Str("provider", name).Msg("provider recovered")
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	if m.prefs.AllowAutoSwitch {
		if best := m.findBestLocked(); best != "" {
			m.swapActiveLocked(best, "health check")
		}
	}
	m.mu.Unlock()
}

// StartHealthChecks runs CheckHealth every HealthCheckInterval until ctx
// is done or stop is called. stop waits for the loop to exit.
func (m *Manager) StartHealthChecks(ctx context.Context) (stop func()) {
	interval := m.Switching().HealthCheckInterval
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	if interval <= 0 {
		close(done)
		return cancel
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckHealth(ctx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// ============================================================
// Lifecycle
// ============================================================

// InitializeAll initializes every provider concurrently. Providers that
// fail stay registered but unavailable; an error is returned only when
// no provider is ready afterwards.
func (m *Manager) InitializeAll(ctx context.Context) error {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.order))
	for _, name := range m.order {
		entries = append(entries, m.entries[name])
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			if err := m.ensureInitialized(gctx, e); err != nil && errors.IsAborted(err) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, e := range entries {
		if e.provider.IsReady() {
			return nil
		}
	}
	return errors.ProviderUnavailable("all", "no provider is ready")
}

// Cleanup tears down every provider concurrently.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.RLock()
	providers := make([]Provider, 0, len(m.order))
	for _, name := range m.order {
		providers = append(providers, m.entries[name].provider)
	}
	m.mu.RUnlock()

	var g errgroup.Group
	for _, p := range providers {
		p := p
		g.Go(func() error {
			if err := p.Cleanup(ctx); err != nil {
				m.log.Warn().Err(err).Str("provider", p.Name()).Msg("provider cleanup failed")
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
