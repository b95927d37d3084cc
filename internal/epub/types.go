package epub

import (
	"archive/zip"
	"encoding/xml"
)

// MimeType is the required content of the "mimetype" entry.
const MimeType = "application/epub+zip"

// DocumentKind tells the pipeline how a document should be segmented.
type DocumentKind string

const (
	KindContent    DocumentKind = "content"
	KindNavigation DocumentKind = "navigation"
	KindPackage    DocumentKind = "package"
)

// Book is an EPUB held fully in memory. Entries keep the archive order so
// the writer can reproduce it.
type Book struct {
	Path        string      `json:"path"`
	Container   Container   `json:"container"`
	Package     Package     `json:"package"`
	PackagePath string      `json:"package_path"`
	Documents   []*Document `json:"documents"`
	Warnings    []string    `json:"warnings,omitempty"`

	entries []*Entry
	byName  map[string]*Entry
}

// Entry is a single archive member with its uncompressed data.
type Entry struct {
	Header zip.FileHeader
	Data   []byte
}

// Document is a translatable file inside the archive.
type Document struct {
	ID         string       `json:"id"`
	Href       string       `json:"href"`
	Path       string       `json:"path"`
	MediaType  string       `json:"media_type"`
	Kind       DocumentKind `json:"kind"`
	Order      int          `json:"order"`
	Linear     bool         `json:"linear"`
	Title      string       `json:"title"`
	Content    []byte       `json:"-"`
	Translated []byte       `json:"-"`
}

// IsTranslated reports whether replacement bytes are set.
func (d *Document) IsTranslated() bool {
	return d.Translated != nil
}

type Container struct {
	XMLName   xml.Name   `xml:"container"`
	Version   string     `xml:"version,attr"`
	Rootfiles []Rootfile `xml:"rootfiles>rootfile"`
}

type Rootfile struct {
	FullPath  string `xml:"full-path,attr"`
	MediaType string `xml:"media-type,attr"`
}

type Package struct {
	XMLName  xml.Name `xml:"package"`
	Version  string   `xml:"version,attr"`
	UniqueID string   `xml:"unique-identifier,attr"`
	Metadata Metadata `xml:"metadata"`
	Manifest Manifest `xml:"manifest"`
	Spine    Spine    `xml:"spine"`
	Guide    Guide    `xml:"guide"`
}

type Metadata struct {
	Titles      []string `xml:"title"`
	Languages   []string `xml:"language"`
	Identifier  string   `xml:"identifier"`
	Creators    []string `xml:"creator"`
	Publisher   string   `xml:"publisher"`
	Date        string   `xml:"date"`
	Description string   `xml:"description"`
	Subjects    []string `xml:"subject"`
	Rights      string   `xml:"rights"`
}

// Title returns the first dc:title, or "".
func (m Metadata) Title() string {
	if len(m.Titles) == 0 {
		return ""
	}
	return m.Titles[0]
}

// Language returns the first dc:language, or "".
func (m Metadata) Language() string {
	if len(m.Languages) == 0 {
		return ""
	}
	return m.Languages[0]
}

type Manifest struct {
	Items []Item `xml:"item"`
}

type Item struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type Spine struct {
	TOC      string    `xml:"toc,attr"`
	ItemRefs []ItemRef `xml:"itemref"`
}

type ItemRef struct {
	IDRef  string `xml:"idref,attr"`
	Linear string `xml:"linear,attr"`
}

type Guide struct {
	References []Reference `xml:"reference"`
}

type Reference struct {
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
	Href  string `xml:"href,attr"`
}
