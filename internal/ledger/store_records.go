package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shelftamer/internal/identity"
)

const recordColumns = `id, book_id, source_path, kind, fingerprint, status, progress_stage,
	error_message, retryable, page_count, pages_truncated, metadata_json, classification_json,
	metadata_degraded, classification_degraded, resume_status,
	pdf_path, epub_path, pdf_error, epub_error, attempts, created_at, updated_at,
	last_attempt_at, last_heartbeat`

// NewRecord inserts a pending record for a freshly discovered book.
func (s *Store) NewRecord(ctx context.Context, book *identity.Book) (*Record, error) {
	if book == nil {
		return nil, errors.New("new record: nil book")
	}
	now := time.Now().UTC()
	var id int64
	err := retryOnBusy(ensureContext(ctx), func() error {
		res, execErr := s.db.ExecContext(ensureContext(ctx),
			`INSERT INTO records (book_id, source_path, kind, fingerprint, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			book.ID, book.SourcePath, string(book.Kind), book.Fingerprint,
			StatusPending, formatTime(now), formatTime(now),
		)
		if execErr != nil {
			return execErr
		}
		id, execErr = res.LastInsertId()
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a record by its numeric identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %d: %w", id, err)
	}
	return record, nil
}

// FindByBookID fetches a record by its book identifier.
func (s *Store) FindByBookID(ctx context.Context, bookID string) (*Record, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+recordColumns+` FROM records WHERE book_id = ?`, bookID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find record %q: %w", bookID, err)
	}
	return record, nil
}

// FindBySourcePath fetches the most recent record for a source file path.
func (s *Store) FindBySourcePath(ctx context.Context, path string) (*Record, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+recordColumns+` FROM records WHERE source_path = ? ORDER BY id DESC LIMIT 1`, path)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find record by path %q: %w", path, err)
	}
	return record, nil
}

// Update persists all mutable fields of the record.
func (s *Store) Update(ctx context.Context, record *Record) error {
	if record == nil {
		return errors.New("update: nil record")
	}
	record.UpdatedAt = time.Now().UTC()
	err := s.execWithoutResultRetry(ensureContext(ctx),
		`UPDATE records SET
			source_path = ?, fingerprint = ?, status = ?, progress_stage = ?,
			error_message = ?, retryable = ?, page_count = ?, pages_truncated = ?,
			metadata_json = ?, classification_json = ?,
			metadata_degraded = ?, classification_degraded = ?, resume_status = ?,
			pdf_path = ?, epub_path = ?, pdf_error = ?, epub_error = ?,
			attempts = ?, updated_at = ?, last_attempt_at = ?, last_heartbeat = ?
		 WHERE id = ?`,
		record.SourcePath, record.Fingerprint, record.Status, record.ProgressStage,
		record.ErrorMessage, boolToInt(record.Retryable), record.PageCount, boolToInt(record.PagesTruncated),
		record.MetadataJSON, record.ClassificationJSON,
		boolToInt(record.MetadataDegraded), boolToInt(record.ClassifyDegraded), string(record.ResumeStatus),
		record.PDFPath, record.EpubPath, record.PDFError, record.EpubError,
		record.Attempts, formatTime(record.UpdatedAt),
		formatTimePtr(record.LastAttemptAt), formatTimePtr(record.LastHeartbeat),
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("update record %d: %w", record.ID, err)
	}
	return nil
}

// List returns records filtered by status, or every record when no statuses
// are supplied, ordered by insertion.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan record: %w", scanErr)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// NextForStatuses returns the oldest record in any of the given statuses.
func (s *Store) NextForStatuses(ctx context.Context, statuses ...Status) (*Record, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(statuses))
	for _, status := range statuses {
		args = append(args, status)
	}
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+recordColumns+` FROM records WHERE status IN (`+makePlaceholders(len(statuses))+`) ORDER BY id LIMIT 1`,
		args...)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next record: %w", err)
	}
	return record, nil
}

// Stats returns per-status record counts.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT status, COUNT(1) FROM records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("ledger stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		record                   Record
		kind                     string
		progressStage            sql.NullString
		errorMessage             sql.NullString
		retryable                int
		pagesTruncated           int
		metadataJSON             sql.NullString
		classificationJSON       sql.NullString
		metaDegraded             int
		classifyDegraded         int
		resumeStatus             sql.NullString
		pdfPath, epubPath        sql.NullString
		pdfError, epubError      sql.NullString
		createdAt, updatedAt     string
		lastAttempt, lastHeartbt sql.NullString
	)
	err := row.Scan(
		&record.ID, &record.BookID, &record.SourcePath, &kind, &record.Fingerprint,
		&record.Status, &progressStage, &errorMessage, &retryable,
		&record.PageCount, &pagesTruncated, &metadataJSON, &classificationJSON,
		&metaDegraded, &classifyDegraded, &resumeStatus,
		&pdfPath, &epubPath, &pdfError, &epubError,
		&record.Attempts, &createdAt, &updatedAt, &lastAttempt, &lastHeartbt,
	)
	if err != nil {
		return nil, err
	}
	record.Kind = identity.Kind(kind)
	record.ProgressStage = progressStage.String
	record.ErrorMessage = errorMessage.String
	record.Retryable = retryable != 0
	record.PagesTruncated = pagesTruncated != 0
	record.MetadataJSON = metadataJSON.String
	record.ClassificationJSON = classificationJSON.String
	record.MetadataDegraded = metaDegraded != 0
	record.ClassifyDegraded = classifyDegraded != 0
	record.ResumeStatus = Status(resumeStatus.String)
	record.PDFPath = pdfPath.String
	record.EpubPath = epubPath.String
	record.PDFError = pdfError.String
	record.EpubError = epubError.String
	record.CreatedAt = parseTime(createdAt)
	record.UpdatedAt = parseTime(updatedAt)
	record.LastAttemptAt = parseTimePtr(lastAttempt)
	record.LastHeartbeat = parseTimePtr(lastHeartbt)
	return &record, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func parseTimePtr(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	parsed := parseTime(value.String)
	if parsed.IsZero() {
		return nil
	}
	return &parsed
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
