package epub

import (
	"bytes"
	"regexp"
)

var languagePattern = regexp.MustCompile(`(<(?:[A-Za-z_][\w.-]*:)?language\b(?:[^>/]|/[^>])*>)([^<]*)(</(?:[A-Za-z_][\w.-]*:)?language\s*>)`)

// PatchLanguage replaces the text of every dc:language element in a package
// document. All other bytes are left untouched. Self-closing and empty
// elements with nested markup are skipped. It reports whether any element
// was patched.
func PatchLanguage(opf []byte, lang string) ([]byte, bool) {
	if !languagePattern.Match(opf) {
		return opf, false
	}
	out := languagePattern.ReplaceAllFunc(opf, func(m []byte) []byte {
		sub := languagePattern.FindSubmatch(m)
		var buf bytes.Buffer
		buf.Grow(len(m))
		buf.Write(sub[1])
		buf.WriteString(lang)
		buf.Write(sub[3])
		return buf.Bytes()
	})
	return out, true
}
