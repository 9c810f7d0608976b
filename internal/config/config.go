package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	InputDir       string `toml:"input_dir"`
	PDFOutputDir   string `toml:"pdf_output_dir"`
	EbookOutputDir string `toml:"ebook_output_dir"`
	LogDir         string `toml:"log_dir"`
}

// Models contains the model endpoint and per-task model selection.
type Models struct {
	BaseURL           string `toml:"base_url"`
	Default           string `toml:"default"`
	Metadata          string `toml:"metadata"`
	Classification    string `toml:"classification"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	MaxInFlight       int    `toml:"max_in_flight"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// Workflow contains pipeline sizing and timing configuration.
type Workflow struct {
	Workers            int `toml:"workers"`
	MaxPages           int `toml:"max_pages"`
	ScanInterval       int `toml:"scan_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	SettleSeconds      int `toml:"settle_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for shelftamer.
//
// Configuration sections by subsystem:
//   - Paths: input directory and library output roots
//   - Models: local model endpoint and per-task model names
//   - Workflow: worker pool sizing, page budget, intervals and heartbeats
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Models   Models   `toml:"models"`
	Workflow Workflow `toml:"workflow"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/shelftamer/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("shelftamer.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the pipeline writes to. Output
// roots are created best-effort so a detached library volume does not block
// startup; emission fails later with a clear error instead.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.InputDir, c.Paths.LogDir, c.ProcessedDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	for _, dir := range []string{c.Paths.PDFOutputDir, c.Paths.EbookOutputDir} {
		if strings.TrimSpace(dir) != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
	}
	return nil
}

// ProcessedDir returns the archive directory for consumed input files.
func (c *Config) ProcessedDir() string {
	return filepath.Join(c.Paths.InputDir, "processed")
}

// LedgerPath returns the SQLite ledger database location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.LogDir, "ledger.db")
}

// MetadataModel returns the model used for metadata enrichment.
func (c *Config) MetadataModel() string {
	if model := strings.TrimSpace(c.Models.Metadata); model != "" {
		return model
	}
	return strings.TrimSpace(c.Models.Default)
}

// ClassificationModel returns the model used for subject classification.
func (c *Config) ClassificationModel() string {
	if model := strings.TrimSpace(c.Models.Classification); model != "" {
		return model
	}
	return strings.TrimSpace(c.Models.Default)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
