package extract

import (
	"context"
	"fmt"
	"os"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PDFDecoder extracts page text from PDF files. The container is validated
// with pdfcpu before the text pass, so corrupt files fail with a decode error
// instead of a parser panic deep inside the text extractor.
type PDFDecoder struct{}

// Pages implements Decoder.
func (d *PDFDecoder) Pages(ctx context.Context, path string) (PageSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return PageSet{}, fmt.Errorf("open pdf: %w", err)
	}
	total, err := api.PageCount(file, nil)
	closeErr := file.Close()
	if err != nil {
		return PageSet{}, fmt.Errorf("read pdf structure: %w", err)
	}
	if closeErr != nil {
		return PageSet{}, fmt.Errorf("close pdf: %w", closeErr)
	}

	reader, r, err := pdf.Open(path)
	if err != nil {
		return PageSet{}, fmt.Errorf("open pdf for text: %w", err)
	}
	defer reader.Close()

	pages := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return PageSet{}, err
		}
		text, pageErr := pageText(r, i)
		if pageErr != nil {
			// A single undecodable page degrades to empty text; the rest of
			// the book is still usable.
			text = ""
		}
		pages = append(pages, normalizePage(text))
	}

	return PageSet{Pages: pages, SourcePages: total}, nil
}

func pageText(r *pdf.Reader, number int) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("page %d: %v", number, recovered)
		}
	}()
	page := r.Page(number)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}
