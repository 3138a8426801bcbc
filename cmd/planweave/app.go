package main

import (
	"context"
	"fmt"

	"github.com/planweave/planweave/internal/config"
	"github.com/planweave/planweave/internal/llm"
	"github.com/planweave/planweave/internal/logging"
	"github.com/planweave/planweave/internal/planstore"
	"github.com/planweave/planweave/internal/session"
	"github.com/planweave/planweave/internal/skills"
)

// App carries the shared state every subcommand needs: the loaded
// config and a logger. Heavier pieces (registry, store, provider) are
// opened on demand so inspection commands never touch the network.
type App struct {
	ctx context.Context
	cfg *config.Config
	log *logging.Logger
}

func newApp(ctx context.Context, configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return &App{ctx: ctx, cfg: cfg, log: logging.New()}, nil
}

func (a *App) openStore() (*planstore.Store, error) {
	return planstore.NewStore(a.cfg.Plans.File, a.log)
}

func (a *App) openRegistry() (*skills.Registry, error) {
	return skills.NewRegistry(a.cfg.Skills.Path, skills.RegistryOptions{
		Exclude: a.cfg.Skills.Exclude,
		Logger:  a.log,
	})
}

func (a *App) openSessions() (*session.FileStore, error) {
	if a.cfg.Plans.SessionDir == "" {
		return nil, nil
	}
	return session.NewFileStore(a.cfg.Plans.SessionDir)
}

func (a *App) buildProvider() (llm.Provider, error) {
	retry := llm.DefaultRetryConfig()
	if a.cfg.LLM.MaxRetries > 0 {
		retry.MaxRetries = a.cfg.LLM.MaxRetries
	}
	p, err := llm.NewProvider(llm.ProviderConfig{
		Provider:   a.cfg.LLM.Provider,
		Model:      a.cfg.LLM.Model,
		APIKey:     a.cfg.APIKey(),
		BaseURL:    a.cfg.LLM.BaseURL,
		MaxTokens:  a.cfg.LLM.MaxTokens,
		MetricsURL: a.cfg.LLM.MetricsURL,
		Retry:      retry,
	})
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	return p, nil
}
