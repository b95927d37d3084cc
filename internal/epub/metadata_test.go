package epub

import "testing"

func TestPatchLanguage(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		found bool
	}{
		{
			name:  "dc prefix",
			in:    `<metadata><dc:title>T</dc:title><dc:language>en</dc:language></metadata>`,
			want:  `<metadata><dc:title>T</dc:title><dc:language>it</dc:language></metadata>`,
			found: true,
		},
		{
			name:  "attributes and whitespace kept",
			in:    "<dc:language id=\"l\" >\n  en-US\n</dc:language >",
			want:  "<dc:language id=\"l\" >it</dc:language >",
			found: true,
		},
		{
			name:  "several languages",
			in:    `<dc:language>en</dc:language><dc:language>fr</dc:language>`,
			want:  `<dc:language>it</dc:language><dc:language>it</dc:language>`,
			found: true,
		},
		{
			name:  "self-closing element left alone",
			in:    `<metadata><dc:language/><dc:title>T</dc:title><dc:language>en</dc:language></metadata>`,
			want:  `<metadata><dc:language/><dc:title>T</dc:title><dc:language>it</dc:language></metadata>`,
			found: true,
		},
		{
			name:  "only self-closing",
			in:    `<metadata><dc:language /></metadata>`,
			want:  `<metadata><dc:language /></metadata>`,
			found: false,
		},
		{
			name:  "no language element",
			in:    `<metadata><dc:title>T</dc:title></metadata>`,
			want:  `<metadata><dc:title>T</dc:title></metadata>`,
			found: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := PatchLanguage([]byte(tt.in), "it")
			if string(got) != tt.want || found != tt.found {
				t.Errorf("PatchLanguage = (%q, %v), want (%q, %v)", got, found, tt.want, tt.found)
			}
		})
	}
}
