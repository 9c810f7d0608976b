package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"shelftamer/internal/ledger"
	"shelftamer/internal/logging"
)

// RunOnce performs a single pass: reconcile the input directory, drain the
// queue, and report. Interrupted work from a previous process is reset first;
// a single-pass run owns the ledger.
func (m *Manager) RunOnce(ctx context.Context) (*RunSummary, error) {
	start := time.Now()
	m.resetCounters()

	reset, err := m.store.ResetStuckProcessing(ctx)
	if err != nil {
		return nil, err
	}
	if reset > 0 {
		m.logger.Info("reset interrupted records", logging.Int64("count", reset))
	}

	discovery, err := m.discoverer.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	summary, err := m.summarize(ctx, discovery, time.Since(start))
	if err != nil {
		return nil, err
	}
	return summary, ctx.Err()
}

// RunContinuous watches the input directory and keeps draining until the
// context ends. Scan passes run on the configured interval and immediately
// after settled filesystem activity.
func (m *Manager) RunContinuous(ctx context.Context) error {
	if _, err := m.store.ResetStuckProcessing(ctx); err != nil {
		return err
	}

	notify := make(chan struct{}, 1)
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		if err := m.watcher.Run(watchCtx, notify); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("input watcher stopped, relying on periodic scans", logging.Error(err))
		}
	}()

	interval := time.Duration(m.cfg.Workflow.ScanInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := m.heartbeat.ReclaimStale(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("stale record reclaim failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check ledger database access"))
		}

		discovery, err := m.discoverer.Discover(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			m.logger.Error("discovery pass failed", logging.Error(err))
		} else if discovery.HasNewWork() {
			m.logger.Info("discovery pass",
				logging.Int("queued", discovery.Queued),
				logging.Int("requeued", discovery.Requeued),
				logging.Int("skipped_completed", discovery.SkippedCompleted))
		}

		if err := m.drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("drain failed", logging.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-notify:
		}
	}
}

// drain runs the worker pool until no claimable work remains.
func (m *Manager) drain(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < m.workers; i++ {
		group.Go(func() error {
			return m.workLoop(groupCtx)
		})
	}
	return group.Wait()
}

// maxFetchFailures bounds consecutive ledger read failures before a worker
// gives up. Transient SQLITE_BUSY is already absorbed inside the store, so
// repeated failures here mean the ledger itself is gone.
const maxFetchFailures = 3

func (m *Manager) workLoop(ctx context.Context) error {
	fetchFailures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		record, err := m.store.NextForStatuses(ctx, pipelineOrder...)
		if err != nil {
			fetchFailures++
			if fetchFailures >= maxFetchFailures {
				return fmt.Errorf("ledger unreachable after %d attempts: %w", fetchFailures, err)
			}
			m.logger.Error("cannot fetch next record",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check ledger database access"))
			if !m.waitOrShutdown(ctx, time.Duration(m.cfg.Workflow.ErrorRetryInterval)*time.Second) {
				return ctx.Err()
			}
			continue
		}
		fetchFailures = 0
		if record == nil {
			if m.inflight.Load() == 0 {
				return nil
			}
			if !m.waitOrShutdown(ctx, 100*time.Millisecond) {
				return ctx.Err()
			}
			continue
		}

		m.inflight.Add(1)
		err = m.processRecord(ctx, record)
		m.inflight.Add(-1)
		if errors.Is(err, context.Canceled) {
			return err
		}
	}
}

func (m *Manager) waitOrShutdown(ctx context.Context, wait time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

func (m *Manager) resetCounters() {
	m.inflight.Store(0)
	m.succeeded.Store(0)
	m.degraded.Store(0)
	m.failed.Store(0)
}

func (m *Manager) summarize(ctx context.Context, discovery DiscoveryResult, elapsed time.Duration) (*RunSummary, error) {
	failures, err := m.store.List(ctx, ledger.StatusFailed)
	if err != nil {
		return nil, err
	}
	return &RunSummary{
		Discovery: discovery,
		Succeeded: int(m.succeeded.Load()),
		Degraded:  int(m.degraded.Load()),
		Failed:    int(m.failed.Load()),
		Failures:  failures,
		Elapsed:   elapsed,
	}, nil
}
