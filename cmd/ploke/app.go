package main

import (
	"fmt"
	"path/filepath"

	"ploke/internal/config"
	"ploke/internal/eventbus"
	"ploke/internal/executor"
	"ploke/internal/fio"
	"ploke/internal/graph"
	"ploke/internal/hash"
	"ploke/internal/parse"
	"ploke/internal/proposal"
	"ploke/internal/resolver"
	"ploke/internal/scan"
	"ploke/internal/statemgr"
	"ploke/internal/tools"
	"ploke/internal/tools/codeops"
)

// app bundles the editing pipeline a CLI command drives, built fresh per
// invocation from the loaded config — mirroring the teacher's pattern of
// wiring dependencies in main.go rather than holding process-lifetime
// globals, since each cobra command here is a one-shot operation.
type app struct {
	cfg      *config.Config
	bus      *eventbus.Bus
	store    *graph.Store
	fioE     *fio.Engine
	registry *proposal.Registry
	scan     *scan.Service
	resolver *resolver.Resolver
	executor *executor.Executor
	mgr      *statemgr.Manager
	tools    *tools.Registry
	ns       hash.Namespace
}

func newApp(cfg *config.Config) (*app, error) {
	ns := hash.NamespaceFor(cfg.ConfigDir)

	dbPath := cfg.Graph.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(cfg.ConfigDir, dbPath)
	}
	store, err := graph.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}

	bus := eventbus.New(256)

	retry := fio.RetryPolicy{
		MaxAttempts: cfg.FIO.Retry.MaxAttempts,
		BaseDelay:   cfg.FIO.Retry.BaseDelay,
		MaxDelay:    cfg.FIO.Retry.MaxDelay,
	}
	fioE := fio.New(ns, cfg, retry, cfg.FIO.WriteConcurrency)

	propDir := filepath.Join(cfg.ConfigDir, ".ploke", "proposals")
	registry, err := proposal.Open(propDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open proposal registry: %w", err)
	}

	scanSvc := scan.New(store, parse.NewGoParser(), ns, bus)

	previewMode := resolver.PreviewDiff
	if cfg.Editing.PreviewMode == config.PreviewCodeBlocks {
		previewMode = resolver.PreviewCodeBlocks
	}
	res, err := resolver.New(store, fioE, registry, previewMode, cfg.Editing.MaxPreviewLines)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("compile resolver schemas: %w", err)
	}

	exec := executor.New(registry, fioE, scanSvc, bus)
	mgr := statemgr.New(res, exec, 64)
	mgr.Start()

	toolRegistry := tools.NewRegistry()
	if err := codeops.RegisterAll(toolRegistry, mgr, store); err != nil {
		mgr.Stop()
		store.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}

	return &app{
		cfg:      cfg,
		bus:      bus,
		store:    store,
		fioE:     fioE,
		registry: registry,
		scan:     scanSvc,
		resolver: res,
		executor: exec,
		mgr:      mgr,
		tools:    toolRegistry,
		ns:       ns,
	}, nil
}

func (a *app) Close() {
	a.mgr.Stop()
	a.store.Close()
}
