// Package config loads, validates, and normalizes the toml configuration
// shared by the CLI and the pipeline.
package config
