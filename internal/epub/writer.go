package epub

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

type Writer struct {
	logger *logrus.Logger
}

func NewWriter(logger *logrus.Logger) *Writer {
	return &Writer{
		logger: logger,
	}
}

// WriteFile writes the book to outputPath through a temporary file in the
// same directory, so a failed write never leaves a partial EPUB behind.
func (w *Writer) WriteFile(book *Book, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".epub-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := w.Write(book, tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, outputPath); err != nil {
		return fmt.Errorf("failed to move EPUB into place: %w", err)
	}

	w.logger.Infof("Wrote EPUB: %s", outputPath)
	return nil
}

// Write streams the book as a zip. The mimetype entry comes first and is
// stored uncompressed; every other member keeps its name, order,
// compression method and timestamp.
func (w *Writer) Write(book *Book, out io.Writer) error {
	replaced := make(map[string][]byte)
	for _, doc := range book.Documents {
		if doc.IsTranslated() {
			replaced[doc.Path] = doc.Translated
		}
	}

	zw := zip.NewWriter(out)

	if err := writeMimetype(zw); err != nil {
		return fmt.Errorf("failed to write mimetype: %w", err)
	}

	for _, entry := range book.entries {
		if entry.Header.Name == "mimetype" {
			continue
		}

		data := entry.Data
		if r, ok := replaced[entry.Header.Name]; ok {
			data = r
			w.logger.Debugf("Replacing %s (%d -> %d bytes)", entry.Header.Name, len(entry.Data), len(r))
		}

		if err := writeEntry(zw, &entry.Header, data); err != nil {
			return fmt.Errorf("failed to write %s: %w", entry.Header.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish zip: %w", err)
	}
	return nil
}

func writeMimetype(zw *zip.Writer) error {
	writer, err := zw.CreateHeader(&zip.FileHeader{
		Name:   "mimetype",
		Method: zip.Store,
	})
	if err != nil {
		return err
	}

	_, err = io.WriteString(writer, MimeType)
	return err
}

func writeEntry(zw *zip.Writer, src *zip.FileHeader, data []byte) error {
	// a fresh header lets the writer recompute sizes and CRC
	header := &zip.FileHeader{
		Name:     src.Name,
		Comment:  src.Comment,
		Method:   src.Method,
		Modified: src.Modified,
	}
	if header.Method != zip.Store {
		header.Method = zip.Deflate
	}

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err = writer.Write(data)
	return err
}
