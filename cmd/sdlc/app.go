package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/yalochat/sdlc-assistant/internal/agent"
	"github.com/yalochat/sdlc-assistant/internal/config"
	"github.com/yalochat/sdlc-assistant/internal/engine"
	"github.com/yalochat/sdlc-assistant/internal/prompts"
	"github.com/yalochat/sdlc-assistant/internal/publish"
	"github.com/yalochat/sdlc-assistant/internal/store"
)

// app holds the collaborators every run is wired with.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.SQLiteStore
	gateway   engine.Gateway
	publisher engine.Publisher
}

// loadConfig reads the layered config, or only --config when given.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// newApp builds the shared collaborators. A missing provider or credential
// is not fatal: the run starts and reports the condition on every decision.
func newApp(logOut io.Writer) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	level, err := config.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	prompts.SetPromptsDir(cfg.Prompts.Dir)

	a := &app{
		cfg:    cfg,
		logger: logger,
		publisher: &publish.Router{
			Remote: publish.NewGitHubPublisher(publish.WithToken(cfg.GitHub.Token)),
			Local:  publish.NewGitPublisher("", true),
		},
	}

	provider, err := agent.NewProvider(cfg.Agent())
	switch {
	case errors.Is(err, engine.ErrAgentUnavailable):
		logger.Warn("no model available, stages will not execute", "reason", err)
	case err != nil:
		return nil, fmt.Errorf("create provider: %w", err)
	default:
		a.gateway = agent.NewGateway(provider, cfg.LLM.Timeout, logger)
		logger.Debug("provider ready", "provider", provider.Name(), "model", cfg.LLM.Model)
	}

	if cfg.Store.Path != "" {
		st, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open run journal: %w", err)
		}
		a.store = st
	}
	return a, nil
}

// runStore returns the journal as an interface value, nil when disabled.
func (a *app) runStore() store.Store {
	if a.store == nil {
		return nil
	}
	return a.store
}

// newEngine starts a fresh run.
func (a *app) newEngine() (*engine.Engine, error) {
	opts := engine.Options{
		Gateway:   a.gateway,
		Publisher: a.publisher,
		Logger:    a.logger,
	}
	if a.store != nil {
		opts.Store = a.store
	}
	return engine.New(opts)
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close run journal", "error", err)
		}
	}
}

func openLogFile(path string) (io.Writer, func(), error) {
	if path == "" {
		return io.Discard, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, func() { f.Close() }, nil
}
