package epub

import (
	"archive/zip"
	"encoding/xml"
	"strings"
)

const (
	encryptionPath = "META-INF/encryption.xml"
	sinfPath       = "META-INF/sinf.xml"
)

// Font obfuscation is not DRM; the text stays readable.
var fontObfuscation = map[string]bool{
	"http://www.idpf.org/2008/embedding": true,
	"http://ns.adobe.com/pdf/enc#RC":     true,
}

type encryption struct {
	XMLName       xml.Name        `xml:"encryption"`
	EncryptedData []encryptedData `xml:"EncryptedData"`
}

type encryptedData struct {
	Method struct {
		Algorithm string `xml:"Algorithm,attr"`
	} `xml:"EncryptionMethod"`
}

// checkDRM returns ErrDRMProtected when any member is encrypted with
// something other than font obfuscation.
func checkDRM(zr *zip.Reader) error {
	var encFile *zip.File
	for _, f := range zr.File {
		switch {
		case strings.EqualFold(f.Name, sinfPath):
			return ErrDRMProtected
		case strings.EqualFold(f.Name, encryptionPath):
			encFile = f
		}
	}
	if encFile == nil {
		return nil
	}

	data, err := readZipFile(encFile, maxEntrySize)
	if err != nil {
		return err
	}

	var enc encryption
	if err := xml.Unmarshal(stripBOM(data), &enc); err != nil {
		// unreadable descriptor: assume the worst
		return ErrDRMProtected
	}

	for _, ed := range enc.EncryptedData {
		if !fontObfuscation[strings.TrimSpace(ed.Method.Algorithm)] {
			return ErrDRMProtected
		}
	}
	return nil
}
