package epub

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestReadDocuments(t *testing.T) {
	book, err := readTestBook(t, buildTestEPUB(t, testFiles(), testOrder))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if book.PackagePath != "OEBPS/content.opf" {
		t.Errorf("PackagePath = %q", book.PackagePath)
	}
	if got := book.Package.Metadata.Title(); got != "A Test Book" {
		t.Errorf("Title = %q", got)
	}
	if got := book.Package.Metadata.Language(); got != "en" {
		t.Errorf("Language = %q", got)
	}

	want := []struct {
		path string
		kind DocumentKind
	}{
		{"OEBPS/text/ch1.xhtml", KindContent},
		{"OEBPS/text/ch2.xhtml", KindContent},
		{"OEBPS/nav.xhtml", KindNavigation},
		{"OEBPS/toc.ncx", KindNavigation},
		{"OEBPS/content.opf", KindPackage},
	}
	if len(book.Documents) != len(want) {
		t.Fatalf("got %d documents, want %d", len(book.Documents), len(want))
	}
	for i, w := range want {
		doc := book.Documents[i]
		if doc.Path != w.path || doc.Kind != w.kind {
			t.Errorf("document %d = (%s, %s), want (%s, %s)", i, doc.Path, doc.Kind, w.path, w.kind)
		}
		if doc.Order != i {
			t.Errorf("document %d has Order %d", i, doc.Order)
		}
	}

	if book.Documents[0].Title != "Chapter One" {
		t.Errorf("first title = %q", book.Documents[0].Title)
	}
	if !book.Documents[0].Linear || book.Documents[1].Linear {
		t.Errorf("linear flags = %v, %v", book.Documents[0].Linear, book.Documents[1].Linear)
	}

	if err := NewParser(quietLogger()).Validate(book); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestReadRejectsInvalidInput(t *testing.T) {
	noOPF := testFiles()
	delete(noOPF, "META-INF/container.xml")
	delete(noOPF, "OEBPS/content.opf")

	missingPackage := testFiles()
	delete(missingPackage, "OEBPS/content.opf")

	badContainer := testFiles()
	badContainer["META-INF/container.xml"] = "<container><rootfiles>"

	traversal := testFiles()
	traversal["../evil.txt"] = "x"

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"not a zip", []byte("plain text, not an archive"), ErrInvalidEPUB},
		{"no package document", buildTestEPUB(t, noOPF, nil), ErrInvalidEPUB},
		{"missing package file", buildTestEPUB(t, missingPackage, nil), ErrInvalidEPUB},
		{"broken container", buildTestEPUB(t, badContainer, nil), ErrInvalidEPUB},
		{"path traversal", buildTestEPUB(t, traversal, nil), ErrInvalidEPUB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readTestBook(t, tt.data)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReadFallsBackToOPFScan(t *testing.T) {
	files := testFiles()
	delete(files, "META-INF/container.xml")

	book, err := readTestBook(t, buildTestEPUB(t, files, nil))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if book.PackagePath != "OEBPS/content.opf" {
		t.Errorf("PackagePath = %q", book.PackagePath)
	}
	if len(book.Warnings) == 0 {
		t.Error("expected a warning about the missing container")
	}
}

func TestReadMissingMimetypeWarns(t *testing.T) {
	files := testFiles()
	delete(files, "mimetype")

	book, err := readTestBook(t, buildTestEPUB(t, files, nil))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(book.Warnings) != 1 {
		t.Errorf("warnings = %v", book.Warnings)
	}
}

func TestValidateEmptySpine(t *testing.T) {
	files := testFiles()
	files["OEBPS/content.opf"] = `<package><metadata/><manifest><item id="a" href="a.css" media-type="text/css"/></manifest><spine/></package>`

	book, err := readTestBook(t, buildTestEPUB(t, files, nil))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := NewParser(quietLogger()).Validate(book); !errors.Is(err, ErrInvalidEPUB) {
		t.Errorf("Validate = %v, want ErrInvalidEPUB", err)
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.epub")
	if err := os.WriteFile(path, buildTestEPUB(t, testFiles(), testOrder), 0644); err != nil {
		t.Fatal(err)
	}

	book, err := NewParser(quietLogger()).Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if book.Path != path {
		t.Errorf("Path = %q", book.Path)
	}
	if book.lookup("oebps/STYLE.css") == nil {
		t.Error("case-insensitive lookup failed")
	}
	if book.lookup("missing") != nil {
		t.Error("lookup(missing) found an entry")
	}
}
