package emit

import (
	"archive/zip"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"shelftamer/internal/enrich"
	"shelftamer/internal/extract"
)

// EpubEmitter renders the normalized text of a book as an ePub 3 archive.
// One source page becomes one chapter document.
type EpubEmitter struct{}

// Extension implements Emitter.
func (EpubEmitter) Extension() string { return ".epub" }

// Emit implements Emitter.
func (EpubEmitter) Emit(path string, meta enrich.Metadata, pages extract.PageSet) error {
	return writeAtomic(path, func(tmpPath string) error {
		f, err := os.Create(tmpPath)
		if err != nil {
			return fmt.Errorf("create epub: %w", err)
		}
		defer f.Close()

		zw := zip.NewWriter(f)
		if err := writeEpubEntries(zw, meta, pages); err != nil {
			zw.Close()
			return err
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("finalize epub: %w", err)
		}
		return f.Close()
	})
}

func writeEpubEntries(zw *zip.Writer, meta enrich.Metadata, pages extract.PageSet) error {
	// The mimetype entry must come first and stay uncompressed.
	mimetype, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		return fmt.Errorf("create mimetype: %w", err)
	}
	if _, err := mimetype.Write([]byte("application/epub+zip")); err != nil {
		return err
	}

	entries := []struct {
		name    string
		content string
	}{
		{"META-INF/container.xml", epubContainerXML},
		{"OEBPS/content.opf", epubPackage(meta, len(pages.Pages))},
		{"OEBPS/nav.xhtml", epubNavigation(meta, len(pages.Pages))},
		{"OEBPS/styles/style.css", epubStylesheet},
	}
	for i, page := range pages.Pages {
		entries = append(entries, struct {
			name    string
			content string
		}{chapterEntryName(i), chapterXHTML(meta, i, page)})
	}
	if pages.Empty() {
		entries = append(entries, struct {
			name    string
			content string
		}{chapterEntryName(0), chapterXHTML(meta, 0, "No text could be extracted from this book.")})
	}

	for _, entry := range entries {
		w, err := zw.Create(entry.name)
		if err != nil {
			return fmt.Errorf("create %s: %w", entry.name, err)
		}
		if _, err := w.Write([]byte(entry.content)); err != nil {
			return fmt.Errorf("write %s: %w", entry.name, err)
		}
	}
	return nil
}

const epubContainerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

func epubPackage(meta enrich.Metadata, pageCount int) string {
	lang := meta.Language
	if lang == "" || lang == enrich.Unknown {
		lang = "en"
	}

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="pub-id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
`)
	sb.WriteString(fmt.Sprintf("    <dc:identifier id=\"pub-id\">urn:uuid:%s</dc:identifier>\n", uuid.New().String()))
	sb.WriteString(fmt.Sprintf("    <dc:title>%s</dc:title>\n", escapeXML(meta.Title)))
	sb.WriteString(fmt.Sprintf("    <dc:creator>%s</dc:creator>\n", escapeXML(meta.Author)))
	sb.WriteString(fmt.Sprintf("    <dc:language>%s</dc:language>\n", escapeXML(lang)))
	if meta.Year > 0 {
		sb.WriteString(fmt.Sprintf("    <dc:date>%d</dc:date>\n", meta.Year))
	}
	if meta.Summary != "" && meta.Summary != enrich.Unknown {
		sb.WriteString(fmt.Sprintf("    <dc:description>%s</dc:description>\n", escapeXML(meta.Summary)))
	}
	sb.WriteString(fmt.Sprintf("    <meta property=\"dcterms:modified\">%s</meta>\n",
		time.Now().UTC().Format("2006-01-02T15:04:05Z")))
	sb.WriteString("  </metadata>\n  <manifest>\n")
	sb.WriteString("    <item id=\"nav\" href=\"nav.xhtml\" media-type=\"application/xhtml+xml\" properties=\"nav\"/>\n")
	sb.WriteString("    <item id=\"style\" href=\"styles/style.css\" media-type=\"text/css\"/>\n")
	for i := 0; i < chapterCount(pageCount); i++ {
		sb.WriteString(fmt.Sprintf("    <item id=\"%s\" href=\"chapters/%s.xhtml\" media-type=\"application/xhtml+xml\"/>\n",
			chapterID(i), chapterID(i)))
	}
	sb.WriteString("  </manifest>\n  <spine>\n")
	for i := 0; i < chapterCount(pageCount); i++ {
		sb.WriteString(fmt.Sprintf("    <itemref idref=\"%s\"/>\n", chapterID(i)))
	}
	sb.WriteString("  </spine>\n</package>\n")
	return sb.String()
}

func epubNavigation(meta enrich.Metadata, pageCount int) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head>
  <title>`)
	sb.WriteString(escapeXML(meta.Title))
	sb.WriteString(`</title>
</head>
<body>
  <nav epub:type="toc">
    <ol>
`)
	for i := 0; i < chapterCount(pageCount); i++ {
		sb.WriteString(fmt.Sprintf("      <li><a href=\"chapters/%s.xhtml\">Page %d</a></li>\n", chapterID(i), i+1))
	}
	sb.WriteString(`    </ol>
  </nav>
</body>
</html>
`)
	return sb.String()
}

func chapterXHTML(meta enrich.Metadata, index int, text string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <title>`)
	sb.WriteString(escapeXML(meta.Title))
	sb.WriteString(`</title>
  <link rel="stylesheet" type="text/css" href="../styles/style.css"/>
</head>
<body>
`)
	if index == 0 {
		sb.WriteString(fmt.Sprintf("<h1>%s</h1>\n", escapeXML(meta.Title)))
		sb.WriteString(fmt.Sprintf("<p class=\"author\">%s</p>\n", escapeXML(meta.Author)))
	}
	sb.WriteString(fmt.Sprintf("<p>%s</p>\n", escapeXML(text)))
	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}

func chapterCount(pageCount int) int {
	if pageCount == 0 {
		return 1
	}
	return pageCount
}

func chapterEntryName(index int) string {
	return fmt.Sprintf("OEBPS/chapters/%s.xhtml", chapterID(index))
}

func chapterID(index int) string {
	return fmt.Sprintf("page%03d", index+1)
}

func escapeXML(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(s)
}

const epubStylesheet = `body {
  font-family: Georgia, "Times New Roman", serif;
  line-height: 1.6;
  margin: 1em;
  text-align: justify;
}

h1 {
  font-family: Helvetica, Arial, sans-serif;
  text-align: center;
  border-bottom: 1px solid #ccc;
  padding-bottom: 0.3em;
}

.author {
  text-align: center;
  font-style: italic;
  margin-bottom: 2em;
}

p {
  margin: 0.5em 0;
}
`
