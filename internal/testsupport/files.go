package testsupport

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jung-kurt/gofpdf"

	"shelftamer/internal/identity"
)

// WriteFile writes the given content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// MustNewBook builds a Book from an on-disk file, failing the test on error.
func MustNewBook(t testing.TB, path string) *identity.Book {
	t.Helper()

	book, err := identity.NewBook(path)
	if err != nil {
		t.Fatalf("identity.NewBook(%s): %v", path, err)
	}
	return book
}

// WritePDF generates a real PDF at path with one page of text per entry.
func WritePDF(t testing.TB, path string, pages ...string) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetFont("Helvetica", "", 12)
	for _, page := range pages {
		doc.AddPage()
		doc.MultiCell(190, 6, page, "", "L", false)
	}
	if len(pages) == 0 {
		doc.AddPage()
	}
	if err := doc.OutputFileAndClose(path); err != nil {
		t.Fatalf("write pdf %s: %v", path, err)
	}
	return path
}

// WriteEPUB generates a minimal EPUB at path with one spine document per
// chapter body.
func WriteEPUB(t testing.TB, path, title string, chapters ...string) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create epub %s: %v", path, err)
	}
	defer file.Close()

	zw := zip.NewWriter(file)

	// The mimetype entry must come first and be stored uncompressed.
	mimetype, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		t.Fatalf("create mimetype: %v", err)
	}
	if _, err := mimetype.Write([]byte("application/epub+zip")); err != nil {
		t.Fatalf("write mimetype: %v", err)
	}

	writeZipEntry(t, zw, "META-INF/container.xml", `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`)

	var manifest, spine strings.Builder
	for i := range chapters {
		fmt.Fprintf(&manifest, `    <item id="chapter%d" href="chapter%d.xhtml" media-type="application/xhtml+xml"/>`+"\n", i+1, i+1)
		fmt.Fprintf(&spine, `    <itemref idref="chapter%d"/>`+"\n", i+1)
	}
	writeZipEntry(t, zw, "OEBPS/content.opf", `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="pub-id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier id="pub-id">urn:uuid:test</dc:identifier>
    <dc:title>`+title+`</dc:title>
    <dc:language>en</dc:language>
  </metadata>
  <manifest>
`+manifest.String()+`  </manifest>
  <spine>
`+spine.String()+`  </spine>
</package>`)

	for i, body := range chapters {
		writeZipEntry(t, zw, fmt.Sprintf("OEBPS/chapter%d.xhtml", i+1), `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>Chapter</title></head>
<body><p>`+body+`</p></body></html>`)
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("close epub %s: %v", path, err)
	}
	return path
}

func writeZipEntry(t testing.TB, zw *zip.Writer, name, content string) {
	t.Helper()

	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("create zip entry %s: %v", name, err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatalf("write zip entry %s: %v", name, err)
	}
}
