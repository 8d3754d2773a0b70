package main

import (
	"context"
	"fmt"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/agent"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/cost"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/interaction"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/memory"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/model"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/stats"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/tools"
)

// app holds the wired components for one command invocation.
type app struct {
	store        *memory.Store
	interactions *interaction.Logger
	manager      *model.Manager
	registry     *tools.Registry
	engine       *agent.Engine
	usage        *cost.Tracker
	stats        *stats.Collector

	stopHealth func()
}

// openStore opens the database and the interaction logger on top of it.
func openStore(ctx context.Context) (*memory.Store, *interaction.Logger, error) {
	store, err := memory.Open(cfg.Paths.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	logger, err := interaction.Open(ctx, store, cfg.Logging.Interaction, log)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, logger, nil
}

// newManager registers the enabled providers.
func newManager(usage *cost.Tracker) (*model.Manager, error) {
	m := model.NewManager(cfg.ManagerConfig(usage, log))

	if cfg.Providers.Gemini.Enabled {
		if err := m.Register(model.NewGeminiProvider(cfg.GeminiConfig(log))); err != nil {
			return nil, err
		}
	}
	if cfg.Providers.Local.Enabled {
		gen := model.NewOllamaGenerator(cfg.OllamaConfig())
		local := model.NewLocalProvider(gen, cfg.LocalConfig(log))
		if err := m.Register(model.NewTemplateProvider(local, cfg.Template())); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// newApp wires the store, providers, tools and engine.
func newApp(ctx context.Context, provider string) (*app, error) {
	store, interactions, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	a := &app{
		store:        store,
		interactions: interactions,
		usage:        cost.NewTracker(),
		stats:        stats.NewCollector(),
	}

	a.manager, err = newManager(a.usage)
	if err != nil {
		store.Close()
		return nil, err
	}
	if provider != "" {
		if err := pinProvider(a.manager, provider); err != nil {
			store.Close()
			return nil, err
		}
	}

	toolsCfg, err := cfg.ToolsConfig(log)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.registry = tools.NewTaskRegistry(store, toolsCfg)
	a.engine = agent.NewEngine(a.manager, a.registry, interactions, cfg.EngineConfig(a.stats, log))
	a.stopHealth = a.manager.StartHealthChecks(ctx)
	return a, nil
}

// pinProvider makes name the primary provider for this invocation and
// turns off automatic switching so selection does not override it.
// Failover on repeated errors still applies.
func pinProvider(m *model.Manager, name string) error {
	if err := m.SetActive(name); err != nil {
		return err
	}
	prefs := m.Preferences()
	prefs.PrimaryProvider = name
	prefs.AllowAutoSwitch = false
	m.SetPreferences(prefs)
	return m.SetActive(name)
}

func (a *app) Close(ctx context.Context) {
	if a.stopHealth != nil {
		a.stopHealth()
	}
	if err := a.manager.Cleanup(ctx); err != nil {
		log.Warn().Err(err).Msg("provider cleanup failed")
	}
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("close database")
	}
}
