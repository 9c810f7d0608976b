package extract

import (
	"context"
	"fmt"
	"log/slog"

	"shelftamer/internal/identity"
	"shelftamer/internal/logging"
	"shelftamer/internal/services"
)

// Decoder turns one container format into page text.
type Decoder interface {
	Pages(ctx context.Context, path string) (PageSet, error)
}

// Extractor routes books to the decoder for their kind.
type Extractor struct {
	decoders map[identity.Kind]Decoder
	logger   *slog.Logger
}

// NewExtractor builds an extractor with the default PDF and EPUB decoders.
func NewExtractor(logger *slog.Logger) *Extractor {
	return &Extractor{
		decoders: map[identity.Kind]Decoder{
			identity.KindPDF:  &PDFDecoder{},
			identity.KindEPUB: &EPUBDecoder{},
		},
		logger: logging.NewComponentLogger(logger, "extractor"),
	}
}

// WithDecoder overrides the decoder for a kind. Used by tests.
func (e *Extractor) WithDecoder(kind identity.Kind, decoder Decoder) *Extractor {
	e.decoders[kind] = decoder
	return e
}

// Extract decodes every page of the book. A structurally unreadable source
// yields a terminal extraction error; a readable book with no text yields an
// empty PageSet and no error.
func (e *Extractor) Extract(ctx context.Context, book *identity.Book) (PageSet, error) {
	if book == nil {
		return PageSet{}, services.Wrap(services.ErrExtraction, "extract", "", "nil book", nil)
	}
	decoder, ok := e.decoders[book.Kind]
	if !ok {
		return PageSet{}, services.Wrap(services.ErrExtraction, "extract", "",
			fmt.Sprintf("no decoder for kind %q", book.Kind), nil)
	}

	pages, err := decoder.Pages(ctx, book.SourcePath)
	if err != nil {
		return PageSet{}, services.Wrap(services.ErrExtraction, "extract", string(book.Kind), "decode pages", err)
	}

	logger := logging.WithContext(ctx, e.logger)
	logger.Debug("pages decoded",
		logging.String("kind", string(book.Kind)),
		logging.Int("pages", len(pages.Pages)),
		logging.Int("source_pages", pages.SourcePages))
	if pages.Empty() {
		logger.Warn("no text extracted",
			logging.String(logging.FieldEventType, "extract_empty"),
			logging.String("source", book.SourcePath))
	}
	return pages, nil
}
