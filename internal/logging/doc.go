// Package logging builds slog loggers with the console and JSON handlers used
// across the daemon and CLI, plus attribute helpers for consistent field names.
package logging
