package scan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shelftamer/internal/identity"
	"shelftamer/internal/logging"
)

// Scanner finds candidate book files in the input directory. The scan is
// non-recursive and deterministic: entries come back in lexicographic order.
type Scanner struct {
	inputDir string
	settle   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewScanner builds a scanner over inputDir. Files modified within the settle
// window are held back until a later pass so half-copied books are not
// ingested.
func NewScanner(inputDir string, settle time.Duration, logger *slog.Logger) *Scanner {
	return &Scanner{
		inputDir: inputDir,
		settle:   settle,
		logger:   logging.NewComponentLogger(logger, "scanner"),
		now:      time.Now,
	}
}

// Scan lists the settled PDF and EPUB files currently in the input directory.
func (s *Scanner) Scan(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.inputDir)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}

	logger := logging.WithContext(ctx, s.logger)
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if _, ok := identity.KindForPath(entry.Name()); !ok {
			continue
		}
		path := filepath.Join(s.inputDir, entry.Name())
		if s.settle > 0 {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if s.now().Sub(info.ModTime()) < s.settle {
				logger.Debug("file still settling", logging.String("path", path))
				continue
			}
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WithClock overrides the scanner clock. Used by tests.
func (s *Scanner) WithClock(now func() time.Time) *Scanner {
	s.now = now
	return s
}
