package enrich

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sort"

	"golang.org/x/sync/errgroup"

	"shelftamer/internal/extract"
	"shelftamer/internal/ledger"
	"shelftamer/internal/llm"
	"shelftamer/internal/logging"
	"shelftamer/internal/stage"
)

// Stage runs metadata enrichment and subject classification for one book.
// The two model calls run concurrently; each degrades on its own and a
// degraded result never fails the book.
type Stage struct {
	enricher   *Enricher
	extractor  *extract.Extractor
	client     *llm.Client
	pageBudget int
	labelRoots []string
	logger     *slog.Logger
}

// NewStage wires the enrichment stage.
func NewStage(enricher *Enricher, extractor *extract.Extractor, client *llm.Client, pageBudget int, labelRoots []string, logger *slog.Logger) *Stage {
	return &Stage{
		enricher:   enricher,
		extractor:  extractor,
		client:     client,
		pageBudget: pageBudget,
		labelRoots: labelRoots,
		logger:     logging.NewComponentLogger(logger, "enrich-stage"),
	}
}

// Prepare implements stage.Handler.
func (s *Stage) Prepare(ctx context.Context, record *ledger.Record) error {
	record.ProgressStage = "Enriching"
	return nil
}

// Execute implements stage.Handler.
func (s *Stage) Execute(ctx context.Context, record *ledger.Record) error {
	pages, err := s.extractor.Extract(ctx, record.Book())
	if err != nil {
		return err
	}
	excerpt := pages.Budget(s.pageBudget).Excerpt(ExcerptLimit)

	var (
		meta           Metadata
		class          Classification
		metaDegraded   bool
		classDegraded  bool
		existingLabels = ExistingLabels(s.labelRoots...)
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		meta, metaDegraded, err = s.enricher.InferMetadata(groupCtx, excerpt)
		return err
	})
	group.Go(func() error {
		var err error
		class, classDegraded, err = s.enricher.Classify(groupCtx, excerpt, existingLabels)
		return err
	})
	if err := group.Wait(); err != nil {
		return err
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	classJSON, err := json.Marshal(class)
	if err != nil {
		return err
	}
	record.MetadataJSON = string(metaJSON)
	record.ClassificationJSON = string(classJSON)
	record.MetadataDegraded = metaDegraded
	record.ClassifyDegraded = classDegraded

	logging.WithContext(ctx, s.logger).Info("book enriched",
		logging.String("title", meta.Title),
		logging.String("label", class.Label),
		logging.Float64("confidence", class.Confidence),
		logging.Bool("metadata_degraded", metaDegraded),
		logging.Bool("classification_degraded", classDegraded))
	return nil
}

// HealthCheck implements stage.Handler.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if err := s.client.HealthCheck(ctx); err != nil {
		return stage.Unhealthy("enrich", err.Error())
	}
	return stage.Healthy("enrich")
}

// ExistingLabels lists category directories already present under the output
// roots so the classifier can reuse them.
func ExistingLabels(roots ...string) []string {
	seen := make(map[string]struct{})
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				seen[entry.Name()] = struct{}{}
			}
		}
	}
	labels := make([]string, 0, len(seen))
	for label := range seen {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// DecodeMetadata parses a persisted metadata snapshot.
func DecodeMetadata(raw string) Metadata {
	if raw == "" {
		return UnknownMetadata()
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return UnknownMetadata()
	}
	return meta.Normalize()
}

// DecodeClassification parses a persisted classification snapshot.
func DecodeClassification(raw string) Classification {
	if raw == "" {
		return Unclassified()
	}
	var class Classification
	if err := json.Unmarshal([]byte(raw), &class); err != nil {
		return Unclassified()
	}
	return class.Normalize()
}
