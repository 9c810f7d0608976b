package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrExtraction marks unreadable or structurally corrupt source files.
	// Extraction failures are terminal for the affected book.
	ErrExtraction = errors.New("extraction error")
	// ErrEmission marks artifact generation failures.
	ErrEmission = errors.New("emission error")
	// ErrModelUnavailable marks transport-level model endpoint failures.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrInvalidResponse marks model replies that could not be parsed.
	ErrInvalidResponse = errors.New("invalid model response")
	ErrConfiguration   = errors.New("configuration error")
	ErrNotFound        = errors.New("not found")
	ErrTransient       = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later retry classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a failed book may be re-attempted on a later run.
// Corrupt inputs and bad configuration fail the same way every time, so the
// orchestrator skips them instead of retrying.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrExtraction), errors.Is(err, ErrConfiguration):
		return false
	default:
		return true
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
