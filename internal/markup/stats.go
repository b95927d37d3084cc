package markup

import (
	"strings"
	"unicode/utf8"
)

// Stats summarises the translatable text of a document.
type Stats struct {
	Segments int `json:"segments"`
	Words    int `json:"words"`
	Chars    int `json:"chars"`
}

func (d *Document) Stats() Stats {
	var st Stats
	for _, seg := range d.Segments {
		st.Add(Stats{
			Segments: 1,
			Words:    len(strings.Fields(seg.Text)),
			Chars:    utf8.RuneCountInString(seg.Text),
		})
	}
	return st
}

func (s *Stats) Add(o Stats) {
	s.Segments += o.Segments
	s.Words += o.Words
	s.Chars += o.Chars
}
