package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

const (
	containerPath    = "META-INF/container.xml"
	packageMediaType = "application/oebps-package+xml"
	ncxMediaType     = "application/x-dtbncx+xml"
)

type Parser struct {
	logger *logrus.Logger
}

func NewParser(logger *logrus.Logger) *Parser {
	return &Parser{
		logger: logger,
	}
}

// Open reads the EPUB at path into memory.
func (p *Parser) Open(epubPath string) (*Book, error) {
	p.logger.Debugf("Opening EPUB: %s", epubPath)

	f, err := os.Open(epubPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", epubPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", epubPath, err)
	}

	book, err := p.Read(f, info.Size())
	if err != nil {
		return nil, err
	}
	book.Path = epubPath
	return book, nil
}

// Read parses an EPUB from r. Every member is decompressed up front so the
// source can be closed before the book is written back.
func (p *Parser) Read(r io.ReaderAt, size int64) (*Book, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: not a zip archive: %v", ErrInvalidEPUB, err)
	}

	book := &Book{
		byName: make(map[string]*Entry),
	}

	if err := checkDRM(zr); err != nil {
		return nil, err
	}

	for _, f := range zr.File {
		if !isSafePath(f.Name) {
			return nil, fmt.Errorf("%w: unsafe entry path %q", ErrInvalidEPUB, f.Name)
		}
		var data []byte
		if !f.FileInfo().IsDir() {
			data, err = readZipFile(f, maxEntrySize)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidEPUB, err)
			}
		}
		entry := &Entry{Header: f.FileHeader, Data: data}
		book.entries = append(book.entries, entry)
		book.byName[f.Name] = entry
	}

	p.checkMimetype(book)

	if err := p.parseContainer(book); err != nil {
		return nil, err
	}

	if err := p.parsePackage(book); err != nil {
		return nil, err
	}

	p.collectDocuments(book)

	p.logger.Debugf("Read EPUB with %d entries and %d documents", len(book.entries), len(book.Documents))
	return book, nil
}

func (p *Parser) checkMimetype(book *Book) {
	entry, ok := book.byName["mimetype"]
	if !ok {
		book.warn("archive has no mimetype entry")
		return
	}
	if got := strings.TrimSpace(string(entry.Data)); got != MimeType {
		book.warn(fmt.Sprintf("unexpected mimetype %q", got))
	}
}

func (p *Parser) parseContainer(book *Book) error {
	entry := book.lookup(containerPath)
	if entry == nil {
		opf := book.findBySuffix(".opf")
		if opf == "" {
			return fmt.Errorf("%w: no container.xml and no package document", ErrInvalidEPUB)
		}
		book.warn("container.xml missing, using " + opf)
		book.PackagePath = opf
		return nil
	}

	if err := xml.Unmarshal(stripBOM(entry.Data), &book.Container); err != nil {
		return fmt.Errorf("%w: failed to parse container.xml: %v", ErrInvalidEPUB, err)
	}

	for _, rf := range book.Container.Rootfiles {
		fullPath := strings.TrimSpace(rf.FullPath)
		if fullPath == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(rf.MediaType), packageMediaType) {
			book.PackagePath = fullPath
			return nil
		}
		if book.PackagePath == "" {
			book.PackagePath = fullPath
		}
	}

	if book.PackagePath == "" {
		return fmt.Errorf("%w: no rootfiles found in container.xml", ErrInvalidEPUB)
	}
	return nil
}

func (p *Parser) parsePackage(book *Book) error {
	entry := book.lookup(book.PackagePath)
	if entry == nil {
		return fmt.Errorf("%w: package document %s: %v", ErrInvalidEPUB, book.PackagePath, ErrFileNotFound)
	}
	book.PackagePath = entry.Header.Name

	if err := xml.Unmarshal(stripBOM(entry.Data), &book.Package); err != nil {
		return fmt.Errorf("%w: failed to parse package document: %v", ErrInvalidEPUB, err)
	}
	return nil
}

// collectDocuments orders spine documents first, then the remaining
// manifest (X)HTML, then the NCX, then the package document itself.
func (p *Parser) collectDocuments(book *Book) {
	items := make(map[string]Item, len(book.Package.Manifest.Items))
	for _, item := range book.Package.Manifest.Items {
		items[item.ID] = item
	}

	seen := make(map[string]bool)
	add := func(item Item, kind DocumentKind, linear bool) {
		docPath := resolveHref(book.PackagePath, item.Href)
		if docPath == "" || seen[docPath] {
			return
		}
		entry := book.lookup(docPath)
		if entry == nil {
			p.logger.Warnf("Manifest item %s points to missing file %s", item.ID, docPath)
			book.warn("missing manifest file " + docPath)
			return
		}
		seen[docPath] = true
		doc := &Document{
			ID:        item.ID,
			Href:      item.Href,
			Path:      entry.Header.Name,
			MediaType: item.MediaType,
			Kind:      kind,
			Order:     len(book.Documents),
			Linear:    linear,
			Content:   entry.Data,
		}
		if kind == KindContent {
			doc.Title = extractTitle(entry.Data)
		}
		book.Documents = append(book.Documents, doc)
	}

	for _, ref := range book.Package.Spine.ItemRefs {
		item, ok := items[ref.IDRef]
		if !ok {
			p.logger.Warnf("Item not found in manifest: %s", ref.IDRef)
			continue
		}
		if isTextContent(item.MediaType) {
			add(item, KindContent, ref.Linear != "no")
		}
	}

	for _, item := range book.Package.Manifest.Items {
		if isTextContent(item.MediaType) {
			kind := KindContent
			if strings.Contains(item.Properties, "nav") {
				kind = KindNavigation
			}
			add(item, kind, false)
		}
	}

	for _, item := range book.Package.Manifest.Items {
		if item.MediaType == ncxMediaType || (item.ID != "" && item.ID == book.Package.Spine.TOC) {
			add(item, KindNavigation, false)
		}
	}

	if entry := book.lookup(book.PackagePath); entry != nil {
		book.Documents = append(book.Documents, &Document{
			ID:        "package",
			Href:      path.Base(book.PackagePath),
			Path:      book.PackagePath,
			MediaType: packageMediaType,
			Kind:      KindPackage,
			Order:     len(book.Documents),
			Content:   entry.Data,
		})
	}
}

// Validate checks that the book has something to translate.
func (p *Parser) Validate(book *Book) error {
	if book == nil {
		return fmt.Errorf("%w: book is nil", ErrInvalidEPUB)
	}
	if book.PackagePath == "" {
		return fmt.Errorf("%w: no package document", ErrInvalidEPUB)
	}
	if len(book.Package.Manifest.Items) == 0 {
		return fmt.Errorf("%w: no manifest items found", ErrInvalidEPUB)
	}
	if len(book.Package.Spine.ItemRefs) == 0 {
		return fmt.Errorf("%w: no spine items found", ErrInvalidEPUB)
	}
	if len(book.ContentDocuments()) == 0 {
		return fmt.Errorf("%w: no content documents", ErrInvalidEPUB)
	}
	return nil
}

func isTextContent(mediaType string) bool {
	return strings.Contains(mediaType, "html")
}

func extractTitle(content []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return ""
	}

	for _, selector := range []string{"h1, h2, h3", "title"} {
		if title := strings.Fields(doc.Find(selector).First().Text()); len(title) > 0 {
			return strings.Join(title, " ")
		}
	}
	return ""
}
