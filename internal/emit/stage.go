package emit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"

	"shelftamer/internal/enrich"
	"shelftamer/internal/extract"
	"shelftamer/internal/ledger"
	"shelftamer/internal/logging"
	"shelftamer/internal/services"
	"shelftamer/internal/stage"
)

// Emitter renders one artifact format for a book.
type Emitter interface {
	Extension() string
	Emit(path string, meta enrich.Metadata, pages extract.PageSet) error
}

const emitAttempts = 2

// Stage writes the PDF and ePub artifacts for an enriched book and archives
// the source file. The two emitters are independent; the stage succeeds when
// at least one artifact lands.
type Stage struct {
	extractor    *extract.Extractor
	pdfEmitter   Emitter
	epubEmitter  Emitter
	pdfRoot      string
	epubRoot     string
	processedDir string
	retryDelay   time.Duration
	logger       *slog.Logger
}

// NewStage wires the emission stage.
func NewStage(extractor *extract.Extractor, pdfRoot, epubRoot, processedDir string, logger *slog.Logger) *Stage {
	return &Stage{
		extractor:    extractor,
		pdfEmitter:   PDFEmitter{},
		epubEmitter:  EpubEmitter{},
		pdfRoot:      pdfRoot,
		epubRoot:     epubRoot,
		processedDir: processedDir,
		retryDelay:   time.Second,
		logger:       logging.NewComponentLogger(logger, "emit-stage"),
	}
}

// WithEmitters overrides the artifact writers. Used by tests.
func (s *Stage) WithEmitters(pdf, epub Emitter) *Stage {
	s.pdfEmitter = pdf
	s.epubEmitter = epub
	s.retryDelay = time.Millisecond
	return s
}

// Prepare implements stage.Handler.
func (s *Stage) Prepare(ctx context.Context, record *ledger.Record) error {
	record.ProgressStage = "Emitting"
	record.PDFError = ""
	record.EpubError = ""
	return nil
}

// Execute implements stage.Handler.
func (s *Stage) Execute(ctx context.Context, record *ledger.Record) error {
	pages, err := s.extractor.Extract(ctx, record.Book())
	if err != nil {
		return err
	}
	meta := enrich.DecodeMetadata(record.MetadataJSON)
	class := enrich.DecodeClassification(record.ClassificationJSON)
	logger := logging.WithContext(ctx, s.logger)

	pdfPath := ArtifactPath(s.pdfRoot, class.Label, record.BookID, s.pdfEmitter.Extension())
	if err := s.emitOne(ctx, s.pdfEmitter, pdfPath, meta, pages); err != nil {
		record.PDFError = err.Error()
		logger.Error("pdf emission failed",
			logging.String(logging.FieldEventType, "emit_failed"),
			logging.Error(err))
	} else {
		record.PDFPath = pdfPath
	}

	epubPath := ArtifactPath(s.epubRoot, class.Label, record.BookID, s.epubEmitter.Extension())
	if err := s.emitOne(ctx, s.epubEmitter, epubPath, meta, pages); err != nil {
		record.EpubError = err.Error()
		logger.Error("epub emission failed",
			logging.String(logging.FieldEventType, "emit_failed"),
			logging.Error(err))
	} else {
		record.EpubPath = epubPath
	}

	if record.PDFPath == "" && record.EpubPath == "" {
		return services.Wrap(services.ErrEmission, "emit", "",
			fmt.Sprintf("no artifact produced: pdf: %s; epub: %s", record.PDFError, record.EpubError), nil)
	}

	s.archiveSource(ctx, record)

	logger.Info("artifacts emitted",
		logging.String("label", class.Label),
		logging.String("pdf", record.PDFPath),
		logging.String("epub", record.EpubPath))
	return nil
}

// HealthCheck implements stage.Handler.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	for _, root := range []string{s.pdfRoot, s.epubRoot} {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return stage.Unhealthy("emit", fmt.Sprintf("output root unavailable: %v", err))
		}
		probe, err := os.CreateTemp(root, ".write-probe-*")
		if err != nil {
			return stage.Unhealthy("emit", fmt.Sprintf("output root not writable: %v", err))
		}
		probe.Close()
		os.Remove(probe.Name())
	}
	return stage.Healthy("emit")
}

func (s *Stage) emitOne(ctx context.Context, emitter Emitter, path string, meta enrich.Metadata, pages extract.PageSet) error {
	return retry.Do(
		func() error { return emitter.Emit(path, meta, pages) },
		retry.Context(ctx),
		retry.Attempts(emitAttempts),
		retry.Delay(s.retryDelay),
		retry.LastErrorOnly(true),
	)
}

// archiveSource moves the consumed file out of the input directory so the
// scanner stops seeing it. A failed move is logged, not fatal; the artifacts
// are already published and discovery will recognize the fingerprint.
func (s *Stage) archiveSource(ctx context.Context, record *ledger.Record) {
	archived := filepath.Join(s.processedDir, filepath.Base(record.SourcePath))
	if err := os.MkdirAll(s.processedDir, 0o755); err != nil {
		logging.WithContext(ctx, s.logger).Warn("cannot create archive directory", logging.Error(err))
		return
	}
	if err := os.Rename(record.SourcePath, archived); err != nil {
		logging.WithContext(ctx, s.logger).Warn("source archive failed",
			logging.String("source", record.SourcePath),
			logging.Error(err))
		return
	}
	record.SourcePath = archived
}
