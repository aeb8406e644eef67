package main

import (
	"fmt"

	"github.com/michaelbrown/pyexec/internal/config"
	"github.com/michaelbrown/pyexec/internal/executor"
	"github.com/michaelbrown/pyexec/internal/logger"
	"github.com/michaelbrown/pyexec/internal/sandbox"
	"github.com/michaelbrown/pyexec/internal/storage"
	"github.com/michaelbrown/pyexec/internal/storage/sqlite"
)

// app is the assembled execution pipeline shared by serve, run and shell.
type app struct {
	cfg    *config.Config
	jail   *sandbox.NsJail
	store  storage.Store // nil when history is disabled
	runner *executor.Executor
}

func newApp(cfg *config.Config) (*app, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	jail, err := sandbox.NewNsJail(policy)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, jail: jail}
	if cfg.History.Enabled {
		store, err := sqlite.Open(cfg.History.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening history: %w", err)
		}
		a.store = store
	}

	a.runner = executor.New(jail, executor.Options{
		TimeLimit:      policy.TimeLimit,
		MaxScriptBytes: cfg.Executor.MaxScriptBytes,
		MaxConcurrent:  cfg.Executor.MaxConcurrent,
		WorkRoot:       cfg.Executor.WorkRoot,
		Store:          a.store,
		Logger:         logger.Get(),
	})
	return a, nil
}

func (a *app) Close() error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// openStore opens the history database for the runs subcommands.
func openStore() (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.History.Enabled {
		return nil, fmt.Errorf("run history is disabled (history.enabled=false)")
	}
	if cfg.History.DBPath == ":memory:" {
		return nil, fmt.Errorf("history.db_path is :memory:, so no runs outlive the server; point it at a file")
	}
	return sqlite.Open(cfg.History.DBPath)
}
