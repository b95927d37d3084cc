package epub

import (
	"archive/zip"
	"bytes"
	"io"
	"io/ioutil"
	"testing"

	"github.com/sirupsen/logrus"
)

const testContainer = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const testOPF = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier id="uid">urn:uuid:1234</dc:identifier>
    <dc:title>A Test Book</dc:title>
    <dc:language>en</dc:language>
  </metadata>
  <manifest>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="ch1" href="text/ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="text/ch2.xhtml" media-type="application/xhtml+xml"/>
    <item id="css" href="style.css" media-type="text/css"/>
  </manifest>
  <spine toc="ncx">
    <itemref idref="ch1"/>
    <itemref idref="ch2" linear="no"/>
  </spine>
</package>`

const testChapter1 = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>One</title></head>
<body><h1 class="t">Chapter One</h1><p>Hello <em>world</em>.</p></body></html>`

const testChapter2 = `<html><body><h2>Chapter Two</h2><p>Bye.</p></body></html>`

func testFiles() map[string]string {
	return map[string]string{
		"mimetype":               MimeType,
		"META-INF/container.xml": testContainer,
		"OEBPS/content.opf":      testOPF,
		"OEBPS/nav.xhtml":        `<html><body><nav><ol><li><a href="text/ch1.xhtml">One</a></li></ol></nav></body></html>`,
		"OEBPS/toc.ncx":          `<ncx><navMap><navPoint><navLabel><text>One</text></navLabel></navPoint></navMap></ncx>`,
		"OEBPS/text/ch1.xhtml":   testChapter1,
		"OEBPS/text/ch2.xhtml":   testChapter2,
		"OEBPS/style.css":        `p { margin: 0 }`,
	}
}

// testOrder fixes the archive order so tests can assert on it.
var testOrder = []string{
	"mimetype",
	"META-INF/container.xml",
	"OEBPS/content.opf",
	"OEBPS/nav.xhtml",
	"OEBPS/toc.ncx",
	"OEBPS/text/ch1.xhtml",
	"OEBPS/text/ch2.xhtml",
	"OEBPS/style.css",
}

// buildTestEPUB writes files into an in-memory zip, in order when given,
// with remaining names appended.
func buildTestEPUB(t *testing.T, files map[string]string, order []string) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	written := make(map[string]bool)
	write := func(name string) {
		content, ok := files[name]
		if !ok || written[name] {
			return
		}
		written[name] = true
		method := zip.Deflate
		if name == "mimetype" {
			method = zip.Store
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
		if err != nil {
			t.Fatalf("buildTestEPUB: create %s: %v", name, err)
		}
		if _, err := io.WriteString(fw, content); err != nil {
			t.Fatalf("buildTestEPUB: write %s: %v", name, err)
		}
	}
	for _, name := range order {
		write(name)
	}
	for name := range files {
		write(name)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("buildTestEPUB: close: %v", err)
	}
	return buf.Bytes()
}

func readTestBook(t *testing.T, data []byte) (*Book, error) {
	t.Helper()
	return NewParser(quietLogger()).Read(bytes.NewReader(data), int64(len(data)))
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)
	return logger
}
