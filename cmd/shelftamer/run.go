package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"shelftamer/internal/config"
	"shelftamer/internal/daemon"
	"shelftamer/internal/llm"
	"shelftamer/internal/logging"
	"shelftamer/internal/workflow"
)

type runOverrides struct {
	inputDir            string
	pdfOutputDir        string
	ebookOutputDir      string
	model               string
	metadataModel       string
	classificationModel string
	maxPages            int
	workers             int
}

func (o *runOverrides) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.inputDir, "input-dir", "", "Directory to scan for PDF and EPUB files")
	cmd.Flags().StringVar(&o.pdfOutputDir, "pdf-output-dir", "", "Library root for generated PDFs")
	cmd.Flags().StringVar(&o.ebookOutputDir, "ebook-output-dir", "", "Library root for generated ePubs")
	cmd.Flags().StringVar(&o.model, "model", "", "Model used for all tasks unless overridden")
	cmd.Flags().StringVar(&o.metadataModel, "metadata-model", "", "Model used for metadata extraction")
	cmd.Flags().StringVar(&o.classificationModel, "classification-model", "", "Model used for classification")
	cmd.Flags().IntVar(&o.maxPages, "max-pages", 0, "Pages of text offered to the models per book")
	cmd.Flags().IntVar(&o.workers, "workers", 0, "Number of books processed concurrently")
}

func (o *runOverrides) apply(cfg *config.Config) error {
	if o.inputDir != "" {
		expanded, err := config.ExpandPath(o.inputDir)
		if err != nil {
			return err
		}
		cfg.Paths.InputDir = expanded
	}
	if o.pdfOutputDir != "" {
		expanded, err := config.ExpandPath(o.pdfOutputDir)
		if err != nil {
			return err
		}
		cfg.Paths.PDFOutputDir = expanded
	}
	if o.ebookOutputDir != "" {
		expanded, err := config.ExpandPath(o.ebookOutputDir)
		if err != nil {
			return err
		}
		cfg.Paths.EbookOutputDir = expanded
	}
	if o.model != "" {
		cfg.Models.Default = o.model
	}
	if o.metadataModel != "" {
		cfg.Models.Metadata = o.metadataModel
	}
	if o.classificationModel != "" {
		cfg.Models.Classification = o.classificationModel
	}
	if o.maxPages > 0 {
		cfg.Workflow.MaxPages = o.maxPages
	}
	if o.workers > 0 {
		cfg.Workflow.Workers = o.workers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return cfg.EnsureDirectories()
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var overrides runOverrides

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process the input directory once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := overrides.apply(cfg); err != nil {
				return err
			}
			logger, err := ctx.openLogger()
			if err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			manager, client, err := ctx.buildManager(store, logger)
			if err != nil {
				return err
			}

			// A one-shot run resets interrupted claims on startup, so it
			// must hold the same instance lock as continuous mode.
			lock := daemon.NewLock(cfg)
			if err := lock.Acquire(); err != nil {
				return err
			}
			defer func() {
				if err := lock.Release(); err != nil {
					logger.Warn("cannot release instance lock", logging.Error(err))
				}
			}()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reportModelHealth(runCtx, client, logger)
			summary, err := manager.RunOnce(runCtx)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(summary))
			if summary.ExitCode() != 0 {
				return fmt.Errorf("%d book(s) failed; see 'shelftamer queue list' for details", summary.Failed)
			}
			return nil
		},
	}
	overrides.register(cmd)
	return cmd
}

// reportModelHealth warns up front when the model endpoint is unreachable.
// The run proceeds either way; enrichment degrades instead of blocking.
func reportModelHealth(ctx context.Context, client *llm.Client, logger *slog.Logger) {
	if err := client.HealthCheck(ctx); err != nil {
		logger.Warn("model endpoint is unreachable, books will be filed as Unclassified",
			logging.String(logging.FieldErrorHint, "check models.base_url or OLLAMA_BASE_URL"),
			logging.Error(err))
	}
}

func renderSummary(summary *workflow.RunSummary) string {
	rows := [][]string{
		{"Scanned", strconv.Itoa(summary.Discovery.Scanned)},
		{"Queued", strconv.Itoa(summary.Discovery.Queued)},
		{"Requeued", strconv.Itoa(summary.Discovery.Requeued)},
		{"Skipped (done)", strconv.Itoa(summary.Discovery.SkippedCompleted)},
		{"Skipped (failed)", strconv.Itoa(summary.Discovery.SkippedFailed)},
		{"Succeeded", strconv.Itoa(summary.Succeeded)},
		{"Degraded", strconv.Itoa(summary.Degraded)},
		{"Failed", strconv.Itoa(summary.Failed)},
		{"Elapsed", summary.Elapsed.Round(time.Millisecond).String()},
	}
	out := renderTable([]string{"Run", "Count"}, rows, 1)

	if len(summary.Failures) > 0 {
		failureRows := make([][]string, 0, len(summary.Failures))
		for _, record := range summary.Failures {
			failureRows = append(failureRows, []string{
				strconv.FormatInt(record.ID, 10),
				record.BookID,
				yesNo(record.Retryable),
				record.ErrorMessage,
			})
		}
		out += "\n" + renderTable(
			[]string{"ID", "Book", "Retryable", "Error"},
			failureRows,
			0,
		)
	}
	return out
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
