package emit

import (
	"fmt"
	"strconv"

	"github.com/jung-kurt/gofpdf"

	"shelftamer/internal/enrich"
	"shelftamer/internal/extract"
)

// PDFEmitter renders the normalized text of a book as a PDF with a metadata
// title page.
type PDFEmitter struct{}

// Extension implements Emitter.
func (PDFEmitter) Extension() string { return ".pdf" }

// Emit implements Emitter.
func (PDFEmitter) Emit(path string, meta enrich.Metadata, pages extract.PageSet) error {
	return writeAtomic(path, func(tmpPath string) error {
		doc := gofpdf.New("P", "mm", "A4", "")
		doc.SetAutoPageBreak(true, 15)
		tr := doc.UnicodeTranslatorFromDescriptor("")

		doc.AddPage()
		doc.SetFont("Helvetica", "B", 22)
		doc.MultiCell(0, 10, tr(meta.Title), "", "C", false)
		doc.Ln(4)
		doc.SetFont("Helvetica", "", 14)
		doc.MultiCell(0, 8, tr(meta.Author), "", "C", false)
		doc.Ln(8)

		doc.SetFont("Helvetica", "", 10)
		for _, line := range metadataLines(meta) {
			doc.MultiCell(0, 6, tr(line), "", "L", false)
		}

		doc.SetFont("Helvetica", "", 11)
		for _, page := range pages.Pages {
			doc.AddPage()
			doc.MultiCell(0, 6, tr(page), "", "L", false)
		}
		if pages.Empty() {
			doc.AddPage()
			doc.MultiCell(0, 6, tr("No text could be extracted from this book."), "", "L", false)
		}

		if err := doc.OutputFileAndClose(tmpPath); err != nil {
			return fmt.Errorf("render pdf: %w", err)
		}
		return nil
	})
}

func metadataLines(meta enrich.Metadata) []string {
	year := enrich.Unknown
	if meta.Year > 0 {
		year = strconv.Itoa(meta.Year)
	}
	return []string{
		"Year: " + year,
		"Language: " + meta.Language,
		"Summary: " + meta.Summary,
	}
}
