package testsupport

import (
	"path/filepath"
	"testing"

	"shelftamer/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	cfg *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.InputDir = filepath.Join(base, "incoming")
	cfgVal.Paths.PDFOutputDir = filepath.Join(base, "library", "pdf")
	cfgVal.Paths.EbookOutputDir = filepath.Join(base, "library", "epub")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Workflow.Workers = 1
	cfgVal.Workflow.ScanInterval = 1
	cfgVal.Workflow.ErrorRetryInterval = 1
	cfgVal.Workflow.SettleSeconds = 0

	builder := &configBuilder{cfg: &cfgVal}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	return builder.cfg
}

// WithWorkers overrides the worker pool size on the test config.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.Workers = n
	}
}

// WithMaxPages overrides the page budget on the test config.
func WithMaxPages(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MaxPages = n
	}
}

// WithModelBaseURL points the model endpoint at a test server.
func WithModelBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Models.BaseURL = url
	}
}
