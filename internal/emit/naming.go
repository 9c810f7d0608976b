package emit

import (
	"fmt"
	"os"
	"path/filepath"

	"shelftamer/internal/enrich"
)

// CategoryDir returns the category directory for a label under an output
// root. The label is sanitized again before touching the filesystem.
func CategoryDir(root, label string) string {
	return filepath.Join(root, enrich.SafeLabel(label))
}

// ArtifactPath returns the destination path for a book's artifact.
func ArtifactPath(root, label, bookID, extension string) string {
	return filepath.Join(CategoryDir(root, label), bookID+extension)
}

// writeAtomic stages content through a temp file in the destination directory
// so readers never observe a partial artifact.
func writeAtomic(path string, write func(tmpPath string) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create category directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := write(tmpPath); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}
