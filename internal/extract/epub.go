package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	pathpkg "path"
	"regexp"
	"strings"
)

// EPUBDecoder extracts text from EPUB files by walking the OPF spine. Each
// spine document counts as one page.
type EPUBDecoder struct{}

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Manifest struct {
		Items []struct {
			ID        string `xml:"id,attr"`
			Href      string `xml:"href,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]+>`)
)

// Pages implements Decoder.
func (d *EPUBDecoder) Pages(ctx context.Context, path string) (PageSet, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return PageSet{}, fmt.Errorf("open epub: %w", err)
	}
	defer archive.Close()

	entries := make(map[string]*zip.File, len(archive.File))
	for _, f := range archive.File {
		entries[f.Name] = f
	}

	rootfile, err := containerRootfile(entries)
	if err != nil {
		return PageSet{}, err
	}

	var pkg epubPackage
	if err := readXMLEntry(entries, rootfile, &pkg); err != nil {
		return PageSet{}, fmt.Errorf("read package document: %w", err)
	}

	hrefByID := make(map[string]string, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		hrefByID[item.ID] = item.Href
	}

	base := pathpkg.Dir(rootfile)
	pages := make([]string, 0, len(pkg.Spine.ItemRefs))
	for _, ref := range pkg.Spine.ItemRefs {
		if err := ctx.Err(); err != nil {
			return PageSet{}, err
		}
		href, ok := hrefByID[ref.IDRef]
		if !ok {
			continue
		}
		entry, ok := entries[pathpkg.Join(base, href)]
		if !ok {
			entry, ok = entries[href]
		}
		if !ok {
			continue
		}
		raw, readErr := readZipEntry(entry)
		if readErr != nil {
			return PageSet{}, fmt.Errorf("read spine document %s: %w", href, readErr)
		}
		pages = append(pages, stripMarkup(string(raw)))
	}

	if len(pkg.Spine.ItemRefs) == 0 {
		return PageSet{}, errors.New("epub has no spine")
	}

	return PageSet{Pages: pages, SourcePages: len(pages)}, nil
}

func containerRootfile(entries map[string]*zip.File) (string, error) {
	var container epubContainer
	if err := readXMLEntry(entries, "META-INF/container.xml", &container); err != nil {
		return "", fmt.Errorf("read container.xml: %w", err)
	}
	for _, rf := range container.Rootfiles {
		if strings.TrimSpace(rf.FullPath) != "" {
			return rf.FullPath, nil
		}
	}
	return "", errors.New("container.xml has no rootfile")
}

func readXMLEntry(entries map[string]*zip.File, name string, target any) error {
	entry, ok := entries[name]
	if !ok {
		return fmt.Errorf("missing entry %s", name)
	}
	raw, err := readZipEntry(entry)
	if err != nil {
		return err
	}
	return xml.Unmarshal(raw, target)
}

func readZipEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func stripMarkup(content string) string {
	content = scriptStyleRe.ReplaceAllString(content, " ")
	content = tagRe.ReplaceAllString(content, " ")
	return normalizePage(html.UnescapeString(content))
}
