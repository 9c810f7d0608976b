// Package daemon guards pipeline runs with a file lock so only one
// shelftamer process owns a ledger at a time, and runs continuous mode
// behind it.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/gofrs/flock"

	"shelftamer/internal/config"
	"shelftamer/internal/ledger"
	"shelftamer/internal/logging"
	"shelftamer/internal/workflow"
)

// ErrAlreadyRunning reports that another instance holds the ledger lock.
var ErrAlreadyRunning = errors.New("another shelftamer instance is already running")

// Lock is the single-instance guard shared by one-shot and continuous runs.
// Both modes reset interrupted claims on startup, so two live processes on
// the same ledger would steal each other's work.
type Lock struct {
	path string
	fl   *flock.Flock
}

// NewLock builds the instance lock for the configured ledger.
func NewLock(cfg *config.Config) *Lock {
	path := filepath.Join(cfg.Paths.LogDir, "shelftamer.lock")
	return &Lock{path: path, fl: flock.New(path)}
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Acquire takes the lock without blocking. ErrAlreadyRunning reports that
// another process holds it.
func (l *Lock) Acquire() error {
	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", l.path, err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	return nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}

// Daemon owns the continuous-mode lifecycle.
type Daemon struct {
	cfg     *config.Config
	store   *ledger.Store
	manager *workflow.Manager
	logger  *slog.Logger
	lock    *Lock
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *ledger.Store, manager *workflow.Manager, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || manager == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	return &Daemon{
		cfg:     cfg,
		store:   store,
		manager: manager,
		logger:  logging.NewComponentLogger(logger, "daemon"),
		lock:    NewLock(cfg),
	}, nil
}

// LockPath returns the path of the single-instance lock file.
func (d *Daemon) LockPath() string {
	return d.lock.Path()
}

// Run acquires the instance lock and processes continuously until the
// context ends.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.lock.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := d.lock.Release(); err != nil {
			d.logger.Warn("cannot release instance lock", logging.Error(err))
		}
	}()

	d.logger.Info("watching for books",
		logging.String("input_dir", d.cfg.Paths.InputDir),
		logging.String("lock", d.lock.Path()))
	return d.manager.RunContinuous(ctx)
}
