package extract

import "strings"

// PageSet is the ordered text of a book's pages.
type PageSet struct {
	Pages       []string
	SourcePages int
	Truncated   bool
}

// Budget returns a view limited to the first limit pages. A non-positive
// limit returns the set unchanged. The budgeted view is what the model
// stages consume; emitters keep the full set.
func (p PageSet) Budget(limit int) PageSet {
	if limit <= 0 || len(p.Pages) <= limit {
		return p
	}
	return PageSet{
		Pages:       p.Pages[:limit],
		SourcePages: p.SourcePages,
		Truncated:   true,
	}
}

// Text joins the pages into a single document.
func (p PageSet) Text() string {
	return strings.TrimSpace(strings.Join(p.Pages, "\n\n"))
}

// Excerpt returns at most limit characters of the joined text, front-first,
// cutting on a rune boundary. The front of a book carries the title page and
// front matter, which is what the models need.
func (p PageSet) Excerpt(limit int) string {
	text := p.Text()
	if limit <= 0 || len(text) <= limit {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit]))
}

// Empty reports whether no text was extracted.
func (p PageSet) Empty() bool {
	return len(p.Pages) == 0
}

func normalizePage(text string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(text), " "))
}
