package ledger

import (
	"context"
	"fmt"
)

// ClearCompleted removes completed records.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM records WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed records: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes failed records.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM records WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed records: %w", err)
	}
	return res.RowsAffected()
}

// ClearAll removes every record.
func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM records`)
	if err != nil {
		return 0, fmt.Errorf("clear records: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes a single record by id.
func (s *Store) Remove(ctx context.Context, id int64) error {
	if err := s.execWithoutResultRetry(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove record %d: %w", id, err)
	}
	return nil
}
