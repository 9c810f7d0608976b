package emit_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"shelftamer/internal/emit"
	"shelftamer/internal/enrich"
	"shelftamer/internal/extract"
	"shelftamer/internal/identity"
	"shelftamer/internal/ledger"
	"shelftamer/internal/logging"
	"shelftamer/internal/services"
)

func testMetadata() enrich.Metadata {
	return enrich.Metadata{
		Title:    "Dune",
		Author:   "Frank Herbert",
		Year:     1965,
		Language: "en",
		Summary:  "Desert planet politics.",
	}
}

func TestPDFEmitterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Science Fiction", "dune.pdf")
	pages := extract.PageSet{
		Pages:       []string{"Arrakis. Dune. Desert planet.", "The spice must flow."},
		SourcePages: 2,
	}

	if err := (emit.PDFEmitter{}).Emit(path, testMetadata(), pages); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	decoded, err := (&extract.PDFDecoder{}).Pages(context.Background(), path)
	if err != nil {
		t.Fatalf("decode emitted pdf: %v", err)
	}
	if decoded.SourcePages != 3 {
		t.Fatalf("pages = %d, want title page plus 2", decoded.SourcePages)
	}
	text := decoded.Text()
	if !strings.Contains(text, "Dune") || !strings.Contains(text, "Frank Herbert") {
		t.Fatalf("title page missing metadata: %q", text)
	}
	if !strings.Contains(text, "The spice must flow.") {
		t.Fatalf("body text missing: %q", text)
	}
}

func TestEpubEmitterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Science Fiction", "dune.epub")
	pages := extract.PageSet{
		Pages:       []string{"Arrakis. Dune. Desert planet.", "The spice must flow."},
		SourcePages: 2,
	}

	if err := (emit.EpubEmitter{}).Emit(path, testMetadata(), pages); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	decoded, err := (&extract.EPUBDecoder{}).Pages(context.Background(), path)
	if err != nil {
		t.Fatalf("decode emitted epub: %v", err)
	}
	if len(decoded.Pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(decoded.Pages))
	}
	text := decoded.Text()
	if !strings.Contains(text, "Dune") || !strings.Contains(text, "The spice must flow.") {
		t.Fatalf("emitted epub text = %q", text)
	}
}

func TestEpubEmitterEmptyBookStillValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Unclassified", "empty.epub")
	if err := (emit.EpubEmitter{}).Emit(path, enrich.UnknownMetadata(), extract.PageSet{}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	decoded, err := (&extract.EPUBDecoder{}).Pages(context.Background(), path)
	if err != nil {
		t.Fatalf("decode emitted epub: %v", err)
	}
	if decoded.Empty() {
		t.Fatal("placeholder chapter should carry text")
	}
}

func TestArtifactPathSanitizesLabel(t *testing.T) {
	root := "/library/pdf"
	got := emit.ArtifactPath(root, "Sci/Fi: Classics", "dune-abc123", ".pdf")
	want := filepath.Join(root, "SciFi Classics", "dune-abc123.pdf")
	if got != want {
		t.Fatalf("ArtifactPath = %q, want %q", got, want)
	}
}

type fakeEmitter struct {
	ext   string
	fail  bool
	calls atomic.Int32
}

func (f *fakeEmitter) Extension() string { return f.ext }

func (f *fakeEmitter) Emit(path string, meta enrich.Metadata, pages extract.PageSet) error {
	f.calls.Add(1)
	if f.fail {
		return errors.New("render exploded")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(meta.Title), 0o644)
}

type fixedDecoder struct {
	pages []string
}

func (d *fixedDecoder) Pages(ctx context.Context, path string) (extract.PageSet, error) {
	return extract.PageSet{Pages: d.pages, SourcePages: len(d.pages)}, nil
}

func newStageRecord(t *testing.T, inputDir string) *ledger.Record {
	t.Helper()
	source := filepath.Join(inputDir, "dune.pdf")
	if err := os.WriteFile(source, []byte("raw bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	metaJSON, _ := json.Marshal(testMetadata())
	classJSON, _ := json.Marshal(enrich.Classification{Label: "Science Fiction", Confidence: 0.9})
	return &ledger.Record{
		BookID:             "dune-abc123",
		SourcePath:         source,
		Kind:               identity.KindPDF,
		Fingerprint:        "abc123",
		Status:             ledger.StatusEmitting,
		MetadataJSON:       string(metaJSON),
		ClassificationJSON: string(classJSON),
	}
}

func newTestStage(t *testing.T, pdf, epub emit.Emitter) (*emit.Stage, *ledger.Record, string, string) {
	t.Helper()
	base := t.TempDir()
	inputDir := filepath.Join(base, "incoming")
	processedDir := filepath.Join(inputDir, "processed")
	pdfRoot := filepath.Join(base, "pdf")
	epubRoot := filepath.Join(base, "epub")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		t.Fatal(err)
	}

	extractor := extract.NewExtractor(logging.NewNop()).
		WithDecoder(identity.KindPDF, &fixedDecoder{pages: []string{"page one", "page two"}})
	stage := emit.NewStage(extractor, pdfRoot, epubRoot, processedDir, logging.NewNop()).
		WithEmitters(pdf, epub)
	return stage, newStageRecord(t, inputDir), pdfRoot, processedDir
}

func TestStageEmitsBothAndArchivesSource(t *testing.T) {
	pdf := &fakeEmitter{ext: ".pdf"}
	epub := &fakeEmitter{ext: ".epub"}
	stage, record, pdfRoot, processedDir := newTestStage(t, pdf, epub)

	if err := stage.Execute(context.Background(), record); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	wantPDF := filepath.Join(pdfRoot, "Science Fiction", "dune-abc123.pdf")
	if record.PDFPath != wantPDF {
		t.Fatalf("PDFPath = %q, want %q", record.PDFPath, wantPDF)
	}
	if record.EpubPath == "" || record.PDFError != "" || record.EpubError != "" {
		t.Fatalf("record = %+v", record)
	}

	archived := filepath.Join(processedDir, "dune.pdf")
	if _, err := os.Stat(archived); err != nil {
		t.Fatalf("source not archived: %v", err)
	}
	if record.SourcePath != archived {
		t.Fatalf("SourcePath = %q, want %q", record.SourcePath, archived)
	}
}

func TestStageOneFormatFailureStillSucceeds(t *testing.T) {
	pdf := &fakeEmitter{ext: ".pdf", fail: true}
	epub := &fakeEmitter{ext: ".epub"}
	stage, record, _, _ := newTestStage(t, pdf, epub)

	if err := stage.Execute(context.Background(), record); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if record.PDFPath != "" || record.PDFError == "" {
		t.Fatalf("pdf side = path %q error %q", record.PDFPath, record.PDFError)
	}
	if record.EpubPath == "" || record.EpubError != "" {
		t.Fatalf("epub side = path %q error %q", record.EpubPath, record.EpubError)
	}
	if got := pdf.calls.Load(); got != 2 {
		t.Fatalf("pdf emitter called %d times, want one retry", got)
	}
}

func TestStageBothFormatsFailingFailsBook(t *testing.T) {
	pdf := &fakeEmitter{ext: ".pdf", fail: true}
	epub := &fakeEmitter{ext: ".epub", fail: true}
	stage, record, _, processedDir := newTestStage(t, pdf, epub)

	err := stage.Execute(context.Background(), record)
	if !errors.Is(err, services.ErrEmission) {
		t.Fatalf("expected emission marker, got %v", err)
	}
	if !services.Retryable(err) {
		t.Fatal("emission failures should stay retryable")
	}
	if _, statErr := os.Stat(filepath.Join(processedDir, "dune.pdf")); statErr == nil {
		t.Fatal("failed book must not be archived")
	}
}
