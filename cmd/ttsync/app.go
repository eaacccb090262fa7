package main

import (
	"log"
	"os"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/adapter"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/config"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/conflict"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/engine"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/idempotency"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/mapping"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/store"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/synclock"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/task"
)

// app wires the full stack for one command invocation.
type app struct {
	cfg    *config.Config
	kv     *store.SQLite
	engine *engine.Engine
	logger *log.Logger
}

// newApp loads configuration, opens the store, and builds the engine.
// Callers must close the returned app.
func newApp() (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	logger := log.New(os.Stderr, "[ttsync] ", log.LstdFlags)

	kv, err := store.Open(cfg.Paths.Store)
	if err != nil {
		return nil, err
	}

	adapters := map[task.System]adapter.Adapter{
		task.SystemTodoist: adapter.WithRetry(adapter.NewDir(task.SystemTodoist, cfg.Paths.TodoistDir), 0, 0, logger),
		task.SystemThings:  adapter.WithRetry(adapter.NewDir(task.SystemThings, cfg.Paths.ThingsDir), 0, 0, logger),
	}

	e, err := engine.New(
		mapping.NewStore(kv, logger),
		conflict.NewStore(kv, logger),
		synclock.NewManager(kv, cfg.LockTimeout(), logger),
		idempotency.NewManager(kv, 0, logger),
		adapters,
		cfg.EngineSettings(),
		logger,
	)
	if err != nil {
		kv.Close()
		return nil, err
	}

	return &app{cfg: cfg, kv: kv, engine: e, logger: logger}, nil
}

func (a *app) Close() {
	if err := a.kv.Close(); err != nil {
		a.logger.Printf("Warning: failed to close store: %v", err)
	}
}
