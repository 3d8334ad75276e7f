package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kiraleos/patient-portal/internal/config"
	"github.com/kiraleos/patient-portal/internal/core"
	"github.com/kiraleos/patient-portal/internal/logger"
	"github.com/kiraleos/patient-portal/internal/store"
)

// app holds the wired services shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    *store.SQLiteStore
	gemini   *core.GeminiProvider
	workflow *core.WorkflowService
	repair   *core.RepairService
}

func newApp(ctx context.Context) (*app, error) {
	cfg, dotenv, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if !dotenv {
		log.Debug().Msg("no .env file found, using process environment")
	}

	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	fetcher := core.NewImageFetcher(cfg.ImageFetchTimeout, cfg.MaxImageBytes)
	gemini, err := core.NewGeminiProvider(ctx, cfg.GeminiKey, cfg.GeminiModel, fetcher, log)
	if err != nil {
		dbStore.Close()
		return nil, fmt.Errorf("failed to initialize vision provider: %w", err)
	}
	mistral := core.NewMistralProvider(cfg.MistralKey, cfg.MistralBaseURL, cfg.MistralModel, log)

	dispatcher := core.NewDispatcher(mistral, gemini, core.DispatcherOptions{
		SystemPrompt: cfg.SystemPrompt,
		Timeout:      cfg.AITimeout,
		RetryDelay:   cfg.AIRetryDelay,
	}, log)
	history := core.NewHistoryAssembler(dbStore, log)

	return &app{
		cfg:      cfg,
		log:      log,
		store:    dbStore,
		gemini:   gemini,
		workflow: core.NewWorkflowService(dbStore, history, dispatcher, log),
		repair:   core.NewRepairService(dbStore, history, dispatcher, log),
	}, nil
}

func (a *app) Close() {
	a.gemini.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close database")
	}
}
