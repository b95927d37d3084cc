// Package markup isolates the translatable text of XHTML and XML documents.
//
// Parse splits a document into raw markup and text segments using the
// x/net/html tokenizer. Render writes the original bytes back out, swapping
// in translations only where a segment was changed, so tags, attributes,
// comments and whitespace between text survive byte for byte.
package markup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

var (
	// ErrEncoding is returned for documents that are not UTF-8.
	ErrEncoding = errors.New("markup: document is not UTF-8")

	// ErrUnsupportedMarkup is returned when the tokenizer could not account
	// for every input byte, which would make a lossless rewrite impossible.
	ErrUnsupportedMarkup = errors.New("markup: document cannot be rewritten losslessly")
)

// DefaultSkip lists elements whose text is never translated.
var DefaultSkip = []string{"script", "style"}

// The tokenizer reads these elements as raw text, so their content would
// otherwise come through as one opaque text token full of markup.
var rawTextTags = map[string]bool{
	"iframe":    true,
	"noembed":   true,
	"noframes":  true,
	"noscript":  true,
	"plaintext": true,
	"script":    true,
	"style":     true,
	"xmp":       true,
}

var encodingDecl = regexp.MustCompile(`(?i)^\s*<\?xml[^>]*\bencoding\s*=\s*["']([^"']+)["']`)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Options controls which text tokens become segments.
type Options struct {
	// Skip names elements whose descendants are left alone.
	// Nil means DefaultSkip.
	Skip []string

	// Only, when set, restricts segments to text inside these elements.
	Only []string
}

// Document is a parsed file: an ordered list of raw parts, some of which
// are translatable segments.
type Document struct {
	parts    []part
	Segments []*Segment
}

type part struct {
	raw []byte
	seg *Segment
}

// Segment is one translatable text node.
type Segment struct {
	Index int
	// Text is the entity-decoded node text without surrounding whitespace.
	Text string
	// Tag is the innermost open element.
	Tag string

	leading     string
	trailing    string
	translation string
	translated  bool
}

// Set records a translation for the segment.
func (s *Segment) Set(translation string) error {
	if !utf8.ValidString(translation) {
		return fmt.Errorf("%w: translation of segment %d", ErrEncoding, s.Index)
	}
	s.translation = translation
	s.translated = true
	return nil
}

func (s *Segment) changed() bool {
	return s.translated && strings.TrimSpace(s.translation) != "" && s.translation != s.Text
}

// Parse tokenizes data. Every byte of data ends up in exactly one part.
func Parse(data []byte, opts Options) (*Document, error) {
	if err := checkEncoding(data); err != nil {
		return nil, err
	}

	skip := toSet(opts.Skip)
	if opts.Skip == nil {
		skip = toSet(DefaultSkip)
	}
	for tag := range rawTextTags {
		skip[tag] = true
	}
	only := toSet(opts.Only)

	doc := &Document{}
	body := data
	if bytes.HasPrefix(body, utf8BOM) {
		doc.parts = append(doc.parts, part{raw: utf8BOM})
		body = body[len(utf8BOM):]
	}

	z := html.NewTokenizer(bytes.NewReader(body))
	z.AllowCDATA(true)

	var (
		stack     []string
		skipDepth int
		onlyDepth int
		rawUntil  string
	)

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				break
			}
			return nil, fmt.Errorf("markup: tokenize: %w", z.Err())
		}

		raw := append([]byte(nil), z.Raw()...)

		switch tt {
		case html.StartTagToken:
			name := tagName(z)
			stack = append(stack, name)
			if skip[name] {
				skipDepth++
			}
			if only[name] {
				onlyDepth++
			}

		case html.EndTagToken:
			name := tagName(z)
			if name == rawUntil {
				rawUntil = ""
				break
			}
			if i := lastIndex(stack, name); i >= 0 {
				for _, open := range stack[i:] {
					if skip[open] && skipDepth > 0 {
						skipDepth--
					}
					if only[open] && onlyDepth > 0 {
						onlyDepth--
					}
				}
				stack = stack[:i]
			}

		case html.SelfClosingTagToken:
			// "<script/>" still switches the tokenizer into raw text mode
			// until the matching end tag.
			if name := tagName(z); rawTextTags[name] || name == "title" || name == "textarea" {
				rawUntil = name
			}

		case html.TextToken:
			if rawUntil != "" || skipDepth > 0 || (len(only) > 0 && onlyDepth == 0) || bytes.HasPrefix(raw, []byte("<![CDATA[")) {
				break
			}
			if seg := newSegment(raw); seg != nil {
				seg.Index = len(doc.Segments)
				if len(stack) > 0 {
					seg.Tag = stack[len(stack)-1]
				}
				doc.Segments = append(doc.Segments, seg)
				doc.parts = append(doc.parts, part{raw: raw, seg: seg})
				continue
			}
		}

		doc.parts = append(doc.parts, part{raw: raw})
	}

	if !bytes.Equal(doc.raw(), data) {
		return nil, ErrUnsupportedMarkup
	}
	return doc, nil
}

// Render returns the document bytes with translations applied. A document
// without changed segments renders to exactly the parsed input.
func (d *Document) Render() []byte {
	var buf bytes.Buffer
	for _, p := range d.parts {
		if p.seg == nil || !p.seg.changed() {
			buf.Write(p.raw)
			continue
		}
		buf.WriteString(p.seg.leading)
		buf.WriteString(escapeText(p.seg.translation))
		buf.WriteString(p.seg.trailing)
	}
	return buf.Bytes()
}

// Changed reports whether any segment carries a translation different
// from its source.
func (d *Document) Changed() bool {
	for _, seg := range d.Segments {
		if seg.changed() {
			return true
		}
	}
	return false
}

func (d *Document) raw() []byte {
	var buf bytes.Buffer
	for _, p := range d.parts {
		buf.Write(p.raw)
	}
	return buf.Bytes()
}

func newSegment(raw []byte) *Segment {
	s := string(raw)
	core := strings.TrimLeft(s, asciiSpace)
	leading := s[:len(s)-len(core)]
	trimmed := strings.TrimRight(core, asciiSpace)
	trailing := core[len(trimmed):]

	text := html.UnescapeString(trimmed)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return &Segment{
		Text:     text,
		leading:  leading,
		trailing: trailing,
	}
}

const asciiSpace = " \t\n\r\f"

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

func checkEncoding(data []byte) error {
	if !utf8.Valid(data) {
		return ErrEncoding
	}
	if m := encodingDecl.FindSubmatch(bytes.TrimPrefix(data, utf8BOM)); m != nil {
		enc := strings.ToLower(string(m[1]))
		if enc != "utf-8" && enc != "utf8" {
			return fmt.Errorf("%w: declared encoding %s", ErrEncoding, m[1])
		}
	}
	return nil
}

func tagName(z *html.Tokenizer) string {
	name, _ := z.TagName()
	return string(name)
}

func lastIndex(stack []string, name string) int {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == name {
			return i
		}
	}
	return -1
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = true
	}
	return set
}
