package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// Kind identifies the container format of a book file.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindEPUB Kind = "epub"
)

// fingerprintPrefixLen is the number of fingerprint hex characters folded
// into book identifiers and artifact names.
const fingerprintPrefixLen = 12

// Book is the unit of pipeline work: one source file with a stable identity.
type Book struct {
	ID           string
	SourcePath   string
	Kind         Kind
	Fingerprint  string
	DiscoveredAt time.Time
}

// KindForPath maps a file extension to a known Kind.
func KindForPath(path string) (Kind, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return KindPDF, true
	case ".epub":
		return KindEPUB, true
	default:
		return "", false
	}
}

// ComputeFingerprint hashes the file contents. Two files with identical bytes
// always produce the same fingerprint regardless of name or location.
func ComputeFingerprint(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for fingerprint: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// NewBook builds a Book for the given source file, fingerprinting its content.
func NewBook(path string) (*Book, error) {
	kind, ok := KindForPath(path)
	if !ok {
		return nil, fmt.Errorf("unsupported book file %q", filepath.Base(path))
	}
	fingerprint, err := ComputeFingerprint(path)
	if err != nil {
		return nil, err
	}
	return &Book{
		ID:           BookID(path, fingerprint),
		SourcePath:   path,
		Kind:         kind,
		Fingerprint:  fingerprint,
		DiscoveredAt: time.Now().UTC(),
	}, nil
}

// BookID derives the stable identifier for a source file and its fingerprint.
// The fingerprint prefix makes the ID survive renames of distinct files into
// the same name while keeping identical content idempotent.
func BookID(path, fingerprint string) string {
	slug := Slug(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	prefix := fingerprint
	if len(prefix) > fingerprintPrefixLen {
		prefix = prefix[:fingerprintPrefixLen]
	}
	if slug == "" {
		return prefix
	}
	return slug + "-" + prefix
}

// Slug lowercases a name and collapses anything outside [a-z0-9] to single
// hyphens, for use in identifiers and artifact file names.
func Slug(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			// Non-ASCII letters pass through so titles keep their shape.
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
