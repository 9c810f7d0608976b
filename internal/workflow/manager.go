package workflow

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"shelftamer/internal/config"
	"shelftamer/internal/ledger"
	"shelftamer/internal/logging"
	"shelftamer/internal/scan"
	"shelftamer/internal/stage"
)

// Manager drives the pipeline: discovery, worker scheduling, stage execution
// and failure isolation. One Manager owns one ledger.
type Manager struct {
	cfg        *config.Config
	store      *ledger.Store
	discoverer *Discoverer
	watcher    *scan.Watcher
	heartbeat  *HeartbeatMonitor
	logger     *slog.Logger

	bindings map[ledger.Status]stageBinding
	workers  int

	inflight  atomic.Int64
	succeeded atomic.Int64
	degraded  atomic.Int64
	failed    atomic.Int64
}

// NewManager constructs a manager over the given pipeline.
func NewManager(cfg *config.Config, store *ledger.Store, pipeline Pipeline, logger *slog.Logger) *Manager {
	byReady := make(map[ledger.Status]stageBinding, len(pipeline))
	for _, binding := range pipeline {
		byReady[binding.ready] = binding
	}

	settle := time.Duration(cfg.Workflow.SettleSeconds) * time.Second
	scanner := scan.NewScanner(cfg.Paths.InputDir, settle, logger)
	workers := cfg.Workflow.Workers
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		cfg:        cfg,
		store:      store,
		discoverer: NewDiscoverer(store, scanner, logger),
		watcher:    scan.NewWatcher(cfg.Paths.InputDir, settle, logger),
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		logger:   logging.NewComponentLogger(logger, "workflow"),
		bindings: byReady,
		workers:  workers,
	}
}

// HealthCheck collects readiness from every stage handler.
func (m *Manager) HealthCheck(ctx context.Context) []stage.Health {
	checks := make([]stage.Health, 0, len(pipelineOrder))
	for _, status := range pipelineOrder {
		binding, ok := m.bindings[status]
		if !ok {
			continue
		}
		checks = append(checks, binding.handler.HealthCheck(ctx))
	}
	return checks
}

func (m *Manager) bindingForStatus(status ledger.Status) (stageBinding, bool) {
	binding, ok := m.bindings[status]
	return binding, ok
}
