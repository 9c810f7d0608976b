package workflow

import (
	"log/slog"

	"shelftamer/internal/config"
	"shelftamer/internal/emit"
	"shelftamer/internal/enrich"
	"shelftamer/internal/extract"
	"shelftamer/internal/ledger"
	"shelftamer/internal/llm"
	"shelftamer/internal/stage"
)

// Pipeline is the ordered set of stage bindings a Manager schedules.
type Pipeline []stageBinding

// stageBinding ties a ready status to the handler that advances it.
type stageBinding struct {
	name       string
	ready      ledger.Status
	processing ledger.Status
	done       ledger.Status
	handler    stage.Handler
}

// pipelineOrder is the set of claimable statuses.
var pipelineOrder = []ledger.Status{
	ledger.StatusEnriched,
	ledger.StatusExtracted,
	ledger.StatusPending,
}

// BuildPipeline wires the default stage handlers from configuration.
func BuildPipeline(cfg *config.Config, client *llm.Client, logger *slog.Logger) Pipeline {
	extractor := extract.NewExtractor(logger)
	enricher := enrich.NewEnricher(client, cfg.MetadataModel(), cfg.ClassificationModel(), logger)
	labelRoots := []string{cfg.Paths.PDFOutputDir, cfg.Paths.EbookOutputDir}

	return Pipeline{
		{
			name:       "extract",
			ready:      ledger.StatusPending,
			processing: ledger.StatusExtracting,
			done:       ledger.StatusExtracted,
			handler:    extract.NewStage(extractor, cfg.Workflow.MaxPages, logger),
		},
		{
			name:       "enrich",
			ready:      ledger.StatusExtracted,
			processing: ledger.StatusEnriching,
			done:       ledger.StatusEnriched,
			handler:    enrich.NewStage(enricher, extractor, client, cfg.Workflow.MaxPages, labelRoots, logger),
		},
		{
			name:       "emit",
			ready:      ledger.StatusEnriched,
			processing: ledger.StatusEmitting,
			done:       ledger.StatusCompleted,
			handler:    emit.NewStage(extractor, cfg.Paths.PDFOutputDir, cfg.Paths.EbookOutputDir, cfg.ProcessedDir(), logger),
		},
	}
}
