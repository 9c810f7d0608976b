package enrich

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Unknown is the explicit marker for metadata fields the model could not
// resolve. Emitters render it as-is instead of guessing.
const Unknown = "unknown"

// UnclassifiedLabel is the category assigned when classification degrades.
const UnclassifiedLabel = "Unclassified"

// Metadata is the model-derived descriptive record for a book.
type Metadata struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	Year     int    `json:"year"`
	Language string `json:"language"`
	Summary  string `json:"summary"`
}

// UnknownMetadata returns a fully degraded metadata record.
func UnknownMetadata() Metadata {
	return Metadata{Title: Unknown, Author: Unknown, Language: Unknown, Summary: Unknown}
}

// Normalize fills unresolved fields with the Unknown marker and canonicalizes
// the language tag.
func (m Metadata) Normalize() Metadata {
	m.Title = fieldOrUnknown(m.Title)
	m.Author = fieldOrUnknown(m.Author)
	m.Summary = fieldOrUnknown(m.Summary)
	m.Language = normalizeLanguage(m.Language)
	if m.Year < 0 || m.Year > time.Now().Year()+1 {
		m.Year = 0
	}
	return m
}

// Degraded reports whether every field carries the unknown marker.
func (m Metadata) Degraded() bool {
	return m.Title == Unknown && m.Author == Unknown && m.Language == Unknown &&
		m.Summary == Unknown && m.Year == 0
}

// Classification is the model-derived subject category for a book.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// Unclassified returns the degraded classification.
func Unclassified() Classification {
	return Classification{Label: UnclassifiedLabel}
}

// Normalize sanitizes the label for filesystem use and clamps confidence.
func (c Classification) Normalize() Classification {
	c.Label = SafeLabel(c.Label)
	if c.Confidence < 0 {
		c.Confidence = 0
	}
	if c.Confidence > 1 {
		c.Confidence = 1
	}
	c.Reason = strings.TrimSpace(c.Reason)
	return c
}

var unsafeLabelChars = regexp.MustCompile(`[^A-Za-z0-9 _-]`)

// SafeLabel reduces a category label to filesystem-safe characters. Labels
// that sanitize to nothing collapse into the Unclassified bucket.
func SafeLabel(label string) string {
	cleaned := unsafeLabelChars.ReplaceAllString(label, "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return UnclassifiedLabel
	}
	return cleaned
}

func fieldOrUnknown(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.EqualFold(trimmed, Unknown) {
		return Unknown
	}
	return trimmed
}

func normalizeLanguage(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.EqualFold(trimmed, Unknown) {
		return Unknown
	}
	tag, err := language.Parse(trimmed)
	if err != nil {
		// Models often answer with the English language name.
		if parsed, ok := languageByName(trimmed); ok {
			return parsed
		}
		return Unknown
	}
	base, _ := tag.Base()
	return base.String()
}

var languageNames = map[string]string{
	"english": "en", "french": "fr", "german": "de", "spanish": "es",
	"italian": "it", "portuguese": "pt", "dutch": "nl", "russian": "ru",
	"japanese": "ja", "chinese": "zh", "korean": "ko", "arabic": "ar",
}

func languageByName(name string) (string, bool) {
	code, ok := languageNames[strings.ToLower(name)]
	return code, ok
}
