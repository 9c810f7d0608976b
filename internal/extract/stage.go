package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"shelftamer/internal/ledger"
	"shelftamer/internal/logging"
	"shelftamer/internal/services"
	"shelftamer/internal/stage"
)

// Stage validates that a book's text can be decoded and records how much of
// it the model stages will see. Extracted text is not persisted; later stages
// decode the source again, which keeps resume cheap and the ledger small.
type Stage struct {
	extractor  *Extractor
	pageBudget int
	logger     *slog.Logger
}

// NewStage wires the extraction stage.
func NewStage(extractor *Extractor, pageBudget int, logger *slog.Logger) *Stage {
	return &Stage{
		extractor:  extractor,
		pageBudget: pageBudget,
		logger:     logging.NewComponentLogger(logger, "extract-stage"),
	}
}

// Prepare implements stage.Handler.
func (s *Stage) Prepare(ctx context.Context, record *ledger.Record) error {
	if _, err := os.Stat(record.SourcePath); err != nil {
		return services.Wrap(services.ErrExtraction, "extract", "stat",
			fmt.Sprintf("source file missing: %s", record.SourcePath), err)
	}
	record.ProgressStage = "Extracting"
	return nil
}

// Execute implements stage.Handler.
func (s *Stage) Execute(ctx context.Context, record *ledger.Record) error {
	pages, err := s.extractor.Extract(ctx, record.Book())
	if err != nil {
		return err
	}

	budgeted := pages.Budget(s.pageBudget)
	record.PageCount = pages.SourcePages
	record.PagesTruncated = budgeted.Truncated

	logging.WithContext(ctx, s.logger).Info("text extracted",
		logging.Int("pages", pages.SourcePages),
		logging.Int("model_pages", len(budgeted.Pages)),
		logging.Bool("truncated", budgeted.Truncated))
	return nil
}

// HealthCheck implements stage.Handler.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("extract")
}
