package ledger

import (
	"strings"
	"time"

	"shelftamer/internal/identity"
)

// Status represents the lifecycle of a processing record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusExtracting Status = "extracting"
	StatusExtracted  Status = "extracted"
	StatusEnriching  Status = "enriching"
	StatusEnriched   Status = "enriched"
	StatusEmitting   Status = "emitting"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusExtracting,
	StatusExtracted,
	StatusEnriching,
	StatusEnriched,
	StatusEmitting,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusExtracting: {},
	StatusEnriching:  {},
	StatusEmitting:   {},
}

type statusTransition struct {
	from Status
	to   Status
}

// stageRollbackTransitions map an interrupted processing status back to the
// start of its stage so a reclaimed record re-runs only the unfinished work.
var stageRollbackTransitions = []statusTransition{
	{from: StatusExtracting, to: StatusPending},
	{from: StatusEnriching, to: StatusExtracted},
	{from: StatusEmitting, to: StatusEnriched},
}

// Record is one book's durable processing state. Records are created at
// discovery and only ever mutated through the Store; completed and failed
// records stay in place so later runs can make skip and retry decisions.
type Record struct {
	ID                 int64
	BookID             string
	SourcePath         string
	Kind               identity.Kind
	Fingerprint        string
	Status             Status
	ProgressStage      string
	ErrorMessage       string
	Retryable          bool
	PageCount          int
	PagesTruncated     bool
	MetadataJSON       string
	ClassificationJSON string
	MetadataDegraded   bool
	ClassifyDegraded   bool
	ResumeStatus       Status
	PDFPath            string
	EpubPath           string
	PDFError           string
	EpubError          string
	Attempts           int
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastAttemptAt      *time.Time
	LastHeartbeat      *time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the status reflects an in-flight stage.
func (r Record) IsProcessing() bool {
	return IsProcessingStatus(r.Status)
}

// IsProcessingStatus reports whether a status reflects an in-flight stage.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// SetFailed marks the record as failed with the given error message.
// Non-retryable failures are skipped by later runs instead of re-attempted.
// resume is the status a retry requeues to, so stages that already finished
// are not repeated.
func (r *Record) SetFailed(message string, retryable bool, resume Status) {
	r.Status = StatusFailed
	r.ErrorMessage = message
	r.Retryable = retryable
	r.LastHeartbeat = nil
	r.ResumeStatus = resume
	r.ProgressStage = "Failed"
}

// EnrichmentDegraded reports whether either model call fell back to its
// unknown result for this book.
func (r Record) EnrichmentDegraded() bool {
	return r.MetadataDegraded || r.ClassifyDegraded
}

// Book reconstructs the identity view of the record.
func (r *Record) Book() *identity.Book {
	return &identity.Book{
		ID:           r.BookID,
		SourcePath:   r.SourcePath,
		Kind:         r.Kind,
		Fingerprint:  r.Fingerprint,
		DiscoveredAt: r.CreatedAt,
	}
}
