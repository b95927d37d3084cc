package markup

import (
	"errors"
	"strings"
	"testing"
)

func TestParseRenderIdentity(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
	}{
		{"Empty", ""},
		{"XHTML chapter", `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head><title>Ch &amp; 1</title><link rel="stylesheet" href="../style.css" type="text/css"/></head>
<body>
  <h1 class="title"   id='c1'>Chapter&#160;One</h1>
  <p>Hello <em>brave</em> new&nbsp;world.</p>
  <!-- a comment with <tags> -->
  <script type="text/javascript">if (a < b) { run(); }</script>
  <img src="a.png" alt="An image"/>
</body>
</html>`},
		{"Uppercase tags and odd spacing", "<HTML><BODY >\r\n<P\tCLASS=x>Text</P ></BODY></HTML>"},
		{"CDATA", `<p><![CDATA[a > b]]> after</p>`},
		{"BOM", "\ufeff<p>Text</p>"},
		{"Self-closing script", `<head><script src="x.js"/></head><body><p>Kept</p></body>`},
		{"NCX", `<ncx><navMap><navPoint id="n1"><navLabel><text>One</text></navLabel><content src="a.xhtml"/></navPoint></navMap></ncx>`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := Parse([]byte(tc.doc), Options{})
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got := string(doc.Render()); got != tc.doc {
				t.Errorf("Render changed the document.\nExpected: %q\nGot:      %q", tc.doc, got)
			}

			// an identity translation must not change anything either
			for _, seg := range doc.Segments {
				if err := seg.Set(seg.Text); err != nil {
					t.Fatal(err)
				}
			}
			if got := string(doc.Render()); got != tc.doc {
				t.Errorf("identity translation changed the document.\nExpected: %q\nGot:      %q", tc.doc, got)
			}
			if doc.Changed() {
				t.Error("Changed() = true after identity translation")
			}
		})
	}
}

func TestParseSegments(t *testing.T) {
	testCases := []struct {
		name     string
		doc      string
		opts     Options
		expected []string
	}{
		{
			name:     "Inline elements split text",
			doc:      `<p>Hello <em>brave</em> world.</p>`,
			expected: []string{"Hello", "brave", "world."},
		},
		{
			name:     "Entities are decoded",
			doc:      `<p>Fish &amp; chips &lt;3</p>`,
			expected: []string{"Fish & chips <3"},
		},
		{
			name:     "Script and style skipped",
			doc:      `<head><style>p{}</style></head><body><script>var x = 1;</script><p>Only</p></body>`,
			expected: []string{"Only"},
		},
		{
			name:     "Whitespace-only nodes ignored",
			doc:      "<div>\n  <p>A</p>\n  <p>&#160;</p>\n</div>",
			expected: []string{"A"},
		},
		{
			name:     "Custom skip list",
			doc:      `<p>Text <code>x := 1</code></p>`,
			opts:     Options{Skip: []string{"code"}},
			expected: []string{"Text"},
		},
		{
			name: "Only restricts to named elements",
			doc: `<package><metadata><dc:identifier>urn:1</dc:identifier><dc:title>A Title</dc:title>` +
				`<dc:language>en</dc:language><dc:description>About <b>it</b></dc:description></metadata></package>`,
			opts:     Options{Only: []string{"dc:title", "dc:description"}},
			expected: []string{"A Title", "About", "it"},
		},
		{
			name:     "Self-closing script does not leak",
			doc:      `<script src="x.js"/><p>swallowed</p></script><p>After</p>`,
			expected: []string{"After"},
		},
		{
			name:     "noscript content is not markup text",
			doc:      `<noscript><p>Enable JS</p></noscript><p>Body</p>`,
			expected: []string{"Body"},
		},
		{
			name:     "CDATA left alone",
			doc:      `<p><![CDATA[raw]]>cooked</p>`,
			expected: []string{"cooked"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := Parse([]byte(tc.doc), tc.opts)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if len(doc.Segments) != len(tc.expected) {
				t.Fatalf("Expected %d segments, but got %d: %v", len(tc.expected), len(doc.Segments), texts(doc))
			}
			for i, seg := range doc.Segments {
				if seg.Text != tc.expected[i] {
					t.Errorf("Segment %d does not match.\nExpected: %q\nGot:      %q", i, tc.expected[i], seg.Text)
				}
				if seg.Index != i {
					t.Errorf("Segment %d has Index %d", i, seg.Index)
				}
			}
		})
	}
}

func TestRenderTranslation(t *testing.T) {
	src := "<body>\n  <h1 id=\"x\">Title</h1>\n  <p class=\"a\">  Hello <em>world</em>!\n</p>\n</body>"
	doc, err := Parse([]byte(src), Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	translations := map[string]string{
		"Title": "Titolo",
		"Hello": "Ciao & <benvenuto>",
		"world": "mondo",
	}
	for _, seg := range doc.Segments {
		if tr, ok := translations[seg.Text]; ok {
			if err := seg.Set(tr); err != nil {
				t.Fatal(err)
			}
		}
	}

	expected := "<body>\n  <h1 id=\"x\">Titolo</h1>\n  <p class=\"a\">  Ciao &amp; &lt;benvenuto&gt; <em>mondo</em>!\n</p>\n</body>"
	if got := string(doc.Render()); got != expected {
		t.Errorf("Render mismatch.\nExpected: %q\nGot:      %q", expected, got)
	}
	if !doc.Changed() {
		t.Error("Changed() = false")
	}
}

func TestRenderKeepsSourceForBlankTranslation(t *testing.T) {
	doc, err := Parse([]byte(`<p>Keep me</p>`), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := doc.Segments[0].Set("   "); err != nil {
		t.Fatal(err)
	}
	if got := string(doc.Render()); got != `<p>Keep me</p>` {
		t.Errorf("got %q", got)
	}

	if err := doc.Segments[0].Set("Tienimi"); err != nil {
		t.Fatal(err)
	}
	if got := string(doc.Render()); got != `<p>Tienimi</p>` {
		t.Errorf("got %q", got)
	}
}

func TestParseEncodingErrors(t *testing.T) {
	testCases := []struct {
		name string
		doc  []byte
	}{
		{"Invalid UTF-8", []byte("<p>caf\xe9</p>")},
		{"Declared Latin-1", []byte(`<?xml version="1.0" encoding="ISO-8859-1"?><p>x</p>`)},
		{"UTF-16 BOM", []byte{0xFF, 0xFE, '<', 0, 'p', 0}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.doc, Options{}); !errors.Is(err, ErrEncoding) {
				t.Errorf("err = %v, want ErrEncoding", err)
			}
		})
	}

	doc, _ := Parse([]byte(`<p>x</p>`), Options{})
	if err := doc.Segments[0].Set("bad \xff"); !errors.Is(err, ErrEncoding) {
		t.Errorf("Set with invalid UTF-8 = %v", err)
	}
}

func TestParseTruncatedTag(t *testing.T) {
	_, err := Parse([]byte(`<p>Text</p><img src="a`), Options{})
	if !errors.Is(err, ErrUnsupportedMarkup) {
		t.Errorf("err = %v, want ErrUnsupportedMarkup", err)
	}
}

func TestStats(t *testing.T) {
	doc, err := Parse([]byte(`<p>one two</p><p>three café</p>`), Options{})
	if err != nil {
		t.Fatal(err)
	}
	st := doc.Stats()
	if st.Segments != 2 || st.Words != 4 || st.Chars != len("one two")+len("three café")-1 {
		t.Errorf("Stats = %+v", st)
	}
}

func texts(doc *Document) []string {
	var out []string
	for _, seg := range doc.Segments {
		out = append(out, seg.Text)
	}
	return out
}

func TestSegmentTag(t *testing.T) {
	doc, err := Parse([]byte(`<div><h2>Head</h2><p>Para <b>bold</b></p></div>`), Options{})
	if err != nil {
		t.Fatal(err)
	}
	var tags []string
	for _, seg := range doc.Segments {
		tags = append(tags, seg.Tag)
	}
	if got := strings.Join(tags, ","); got != "h2,p,b" {
		t.Errorf("tags = %s", got)
	}
}
