package ledger

import (
	"context"
	"fmt"
	"time"
)

// Claim atomically moves a record from one status to another. It returns
// false when another worker already moved the record, which makes the
// UPDATE-where-status the single point of mutual exclusion between workers.
func (s *Store) Claim(ctx context.Context, id int64, from, to Status) (bool, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(ctx,
		`UPDATE records
		 SET status = ?, last_heartbeat = ?, last_attempt_at = ?, attempts = attempts + 1, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to, formatTime(now), formatTime(now), formatTime(now), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("claim record %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim record %d: %w", id, err)
	}
	return affected == 1, nil
}

// Transition moves a record out of a processing status without bumping the
// attempt counter, clearing the heartbeat.
func (s *Store) Transition(ctx context.Context, id int64, from, to Status) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE records SET status = ?, last_heartbeat = NULL, updated_at = ? WHERE id = ? AND status = ?`,
		to, formatTime(time.Now().UTC()), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("transition record %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition record %d: %w", id, err)
	}
	return affected == 1, nil
}

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight record.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	if err := s.execWithoutResultRetry(ctx,
		`UPDATE records SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		formatTime(now), formatTime(now), id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleProcessing returns records stuck in processing statuses back to
// the start of their stage when heartbeats expire.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE records
		 SET status = CASE status
		     WHEN ? THEN ?
		     WHEN ? THEN ?
		     WHEN ? THEN ?
		     ELSE status
		 END,
		     progress_stage = 'Reclaimed from stale processing',
		     last_heartbeat = NULL, updated_at = ?
		 WHERE status IN (?, ?, ?) AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusExtracting, StatusPending,
		StatusEnriching, StatusExtracted,
		StatusEmitting, StatusEnriched,
		formatTime(time.Now().UTC()),
		StatusExtracting, StatusEnriching, StatusEmitting,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale records: %w", err)
	}
	return res.RowsAffected()
}

// ResetStuckProcessing resets every record in a processing status back to the
// start of its stage, regardless of heartbeat age. Used on startup when no
// other process can hold a claim.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE records
		 SET status = CASE status
		     WHEN ? THEN ?
		     WHEN ? THEN ?
		     WHEN ? THEN ?
		     ELSE status
		 END,
		     progress_stage = 'Reset from stuck processing',
		     last_heartbeat = NULL, updated_at = ?
		 WHERE status IN (?, ?, ?)`,
		StatusExtracting, StatusPending,
		StatusEnriching, StatusExtracted,
		StatusEmitting, StatusEnriched,
		formatTime(time.Now().UTC()),
		StatusExtracting, StatusEnriching, StatusEmitting,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck records: %w", err)
	}
	return res.RowsAffected()
}

// retryResumeCase requeues a failed record to the stage it failed in when
// the resume status is known, falling back to pending for records that
// predate resume tracking. Stages that already finished are not repeated.
const retryResumeCase = `CASE WHEN resume_status IN (?, ?, ?) THEN resume_status ELSE ? END`

func retryResumeArgs() []any {
	return []any{StatusPending, StatusExtracted, StatusEnriched, StatusPending}
}

// RetryFailed requeues failed records at the stage they failed in. With no
// ids, every retryable failed record is requeued; explicit ids requeue even
// records previously marked non-retryable.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	now := formatTime(time.Now().UTC())
	if len(ids) == 0 {
		args := retryResumeArgs()
		args = append(args, now, StatusFailed)
		res, err := s.execWithRetry(ctx,
			`UPDATE records
			 SET status = `+retryResumeCase+`, progress_stage = 'Retry requested',
			     error_message = NULL, pdf_error = NULL, epub_error = NULL, updated_at = ?
			 WHERE status = ? AND retryable = 1`,
			args...,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed records: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := retryResumeArgs()
	args = append(args, now)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE records
		 SET status = ` + retryResumeCase + `, progress_stage = 'Retry requested', retryable = 1,
		     error_message = NULL, pdf_error = NULL, epub_error = NULL, updated_at = ?
		 WHERE id IN (` + placeholders + `) AND status = '` + string(StatusFailed) + `'`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected records: %w", err)
	}
	return res.RowsAffected()
}
