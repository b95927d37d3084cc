package epub

import "strings"

// ContentDocuments returns the XHTML documents, spine order first.
func (b *Book) ContentDocuments() []*Document {
	var docs []*Document
	for _, doc := range b.Documents {
		if doc.Kind == KindContent {
			docs = append(docs, doc)
		}
	}
	return docs
}

// PackageDocument returns the OPF document, or nil.
func (b *Book) PackageDocument() *Document {
	for _, doc := range b.Documents {
		if doc.Kind == KindPackage {
			return doc
		}
	}
	return nil
}

// lookup finds an entry by exact name, then case-insensitively.
func (b *Book) lookup(name string) *Entry {
	if entry, ok := b.byName[name]; ok {
		return entry
	}
	for _, entry := range b.entries {
		if strings.EqualFold(entry.Header.Name, name) {
			return entry
		}
	}
	return nil
}

func (b *Book) findBySuffix(suffix string) string {
	for _, entry := range b.entries {
		if strings.HasSuffix(strings.ToLower(entry.Header.Name), suffix) {
			return entry.Header.Name
		}
	}
	return ""
}

func (b *Book) warn(msg string) {
	b.Warnings = append(b.Warnings, msg)
}
