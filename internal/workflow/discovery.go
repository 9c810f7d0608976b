package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"shelftamer/internal/identity"
	"shelftamer/internal/ledger"
	"shelftamer/internal/logging"
	"shelftamer/internal/scan"
)

// Discoverer reconciles the input directory against the ledger. Every scanned
// file is fingerprinted and matched to its record, so identical content is
// never processed twice while replaced content queues as a new book.
type Discoverer struct {
	store   *ledger.Store
	scanner *scan.Scanner
	logger  *slog.Logger
}

// NewDiscoverer builds a discoverer over the store and scanner.
func NewDiscoverer(store *ledger.Store, scanner *scan.Scanner, logger *slog.Logger) *Discoverer {
	return &Discoverer{
		store:   store,
		scanner: scanner,
		logger:  logging.NewComponentLogger(logger, "discovery"),
	}
}

// Discover scans once and updates the ledger, reporting what it decided.
func (d *Discoverer) Discover(ctx context.Context) (DiscoveryResult, error) {
	var result DiscoveryResult
	paths, err := d.scanner.Scan(ctx)
	if err != nil {
		return result, err
	}
	result.Scanned = len(paths)

	logger := logging.WithContext(ctx, d.logger)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := d.reconcile(ctx, logger, path, &result); err != nil {
			if errors.Is(err, context.Canceled) {
				return result, err
			}
			result.Unreadable++
			logger.Warn("cannot ingest file",
				logging.String("path", path),
				logging.Error(err))
		}
	}
	return result, nil
}

func (d *Discoverer) reconcile(ctx context.Context, logger *slog.Logger, path string, result *DiscoveryResult) error {
	book, err := identity.NewBook(path)
	if err != nil {
		return err
	}

	record, err := d.store.FindByBookID(ctx, book.ID)
	if err != nil {
		return err
	}
	if record == nil {
		// Different content at a path we have already seen is a new book;
		// the earlier record keeps its own outcome.
		if prior, err := d.store.FindBySourcePath(ctx, path); err != nil {
			return err
		} else if prior != nil && prior.Fingerprint != book.Fingerprint {
			logger.Info("file content replaced, queueing as new book",
				logging.String("path", path),
				logging.String("previous_book", prior.BookID))
		}
		if _, err := d.store.NewRecord(ctx, book); err != nil {
			return fmt.Errorf("enqueue %s: %w", book.ID, err)
		}
		result.Queued++
		logger.Info("book queued",
			logging.String(logging.FieldBookID, book.ID),
			logging.String("path", path))
		return nil
	}

	switch {
	case record.Status == ledger.StatusCompleted:
		result.SkippedCompleted++
		logger.Debug("already processed, skipping",
			logging.String(logging.FieldBookID, book.ID))
	case record.Status == ledger.StatusFailed && !record.Retryable:
		result.SkippedFailed++
		logger.Warn("previous failure is not retryable, skipping",
			logging.String(logging.FieldBookID, book.ID),
			logging.String("error", record.ErrorMessage),
			logging.String(logging.FieldErrorHint, "use 'shelftamer queue retry' to force reprocessing"))
	case record.Status == ledger.StatusFailed:
		if _, err := d.store.RetryFailed(ctx, record.ID); err != nil {
			return fmt.Errorf("requeue %s: %w", book.ID, err)
		}
		result.Requeued++
		logger.Info("retryable failure requeued",
			logging.String(logging.FieldBookID, book.ID))
	default:
		// Pending or mid-pipeline from an earlier run; the workers will get to it.
		result.AlreadyQueued++
		if record.IsProcessing() {
			logger.Debug("book is in flight",
				logging.String(logging.FieldBookID, book.ID),
				logging.String("status", string(record.Status)))
		}
		if record.SourcePath != path {
			record.SourcePath = path
			if err := d.store.Update(ctx, record); err != nil {
				return fmt.Errorf("update source path for %s: %w", book.ID, err)
			}
		}
	}
	return nil
}

// DiscoveryResult summarizes one reconciliation pass.
type DiscoveryResult struct {
	Scanned          int
	Queued           int
	Requeued         int
	AlreadyQueued    int
	SkippedCompleted int
	SkippedFailed    int
	Unreadable       int
}

// HasNewWork reports whether the pass added anything for the workers.
func (r DiscoveryResult) HasNewWork() bool {
	return r.Queued > 0 || r.Requeued > 0
}
