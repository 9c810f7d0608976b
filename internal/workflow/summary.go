package workflow

import (
	"time"

	"shelftamer/internal/ledger"
)

// RunSummary is the outcome of one single-pass run. Degraded counts books
// that completed with at least one model call falling back to its unknown
// result; Succeeded counts clean completions.
type RunSummary struct {
	Discovery DiscoveryResult
	Succeeded int
	Degraded  int
	Failed    int
	Failures  []*ledger.Record
	Elapsed   time.Duration
}

// ExitCode maps the run outcome to a process exit code: nonzero when any
// book failed this run.
func (s *RunSummary) ExitCode() int {
	if s == nil {
		return 0
	}
	if s.Failed > 0 {
		return 1
	}
	return 0
}
