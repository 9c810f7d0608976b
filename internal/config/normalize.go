package config

import (
	"os"
	"strings"
)

// normalize expands path fields and applies environment overrides.
func (c *Config) normalize() error {
	paths := []*string{
		&c.Paths.InputDir,
		&c.Paths.PDFOutputDir,
		&c.Paths.EbookOutputDir,
		&c.Paths.LogDir,
	}
	for _, field := range paths {
		expanded, err := expandPath(strings.TrimSpace(*field))
		if err != nil {
			return err
		}
		*field = expanded
	}

	if url := strings.TrimSpace(os.Getenv(EnvModelBaseURL)); url != "" {
		c.Models.BaseURL = url
	}
	c.Models.BaseURL = strings.TrimRight(strings.TrimSpace(c.Models.BaseURL), "/")
	c.Models.Default = strings.TrimSpace(c.Models.Default)
	c.Models.Metadata = strings.TrimSpace(c.Models.Metadata)
	c.Models.Classification = strings.TrimSpace(c.Models.Classification)
	return nil
}
