package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateModels(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.InputDir) == "" {
		return errors.New("paths.input_dir must be set")
	}
	if strings.TrimSpace(c.Paths.PDFOutputDir) == "" {
		return errors.New("paths.pdf_output_dir must be set")
	}
	if strings.TrimSpace(c.Paths.EbookOutputDir) == "" {
		return errors.New("paths.ebook_output_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateModels() error {
	if strings.TrimSpace(c.Models.BaseURL) == "" {
		return errors.New("models.base_url must be set")
	}
	if strings.TrimSpace(c.Models.Default) == "" {
		return errors.New("models.default must be set")
	}
	if err := ensurePositiveMap(map[string]int{
		"models.timeout_seconds":     c.Models.TimeoutSeconds,
		"models.max_in_flight":       c.Models.MaxInFlight,
		"models.requests_per_minute": c.Models.RequestsPerMinute,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.workers":              c.Workflow.Workers,
		"workflow.max_pages":            c.Workflow.MaxPages,
		"workflow.scan_interval":        c.Workflow.ScanInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
	}); err != nil {
		return err
	}
	if c.Workflow.SettleSeconds < 0 {
		return errors.New("workflow.settle_seconds must be >= 0")
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
