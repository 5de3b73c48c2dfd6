package mutator

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/autopress/autopress/config"
)

func testMutator() *Mutator {
	return New(config.MutatorConfig{
		VideoHeadingIndex:  15,
		SecondImageHeading: 11,
		BacklinkEvery:      5,
		MaxBacklinks:       3,
		MinContentLinks:    1,
	}, nil)
}

func TestBalanced(t *testing.T) {
	tests := []struct {
		name string
		html string
		want bool
	}{
		{"empty", "", true},
		{"plain text", "no tags at all", true},
		{"balanced pair", "<p>hello</p>", true},
		{"nested", "<div><p>hello</p></div>", true},
		{"void element", "<p>pic <img src=\"x.png\"> here</p>", true},
		{"self closed", "<p>pic <img src=\"x.png\" /> here</p>", true},
		{"unclosed", "<div><p>hello</div>", false},
		{"stray close", "hello</p>", false},
		{"wrong order", "<b><i>x</b></i>", false},
		{"attr with gt", `<a href="https://x.test/?a=1>2">link</a>`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Balanced(tt.html); got != tt.want {
				t.Errorf("Balanced(%q) = %v, want %v", tt.html, got, tt.want)
			}
		})
	}
}

func TestRebalanceAlwaysBalances(t *testing.T) {
	m := testMutator()
	tests := []struct {
		name string
		html string
	}{
		{"unclosed div", "<div><p>hello"},
		{"unclosed nested", "<div><ul><li>one<li>two"},
		{"stray close", "hello</p> world"},
		{"wrong order", "<b><i>bold italic</b></i>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Rebalance(tt.html)
			if !Balanced(got) {
				t.Errorf("Rebalance(%q) = %q, still unbalanced", tt.html, got)
			}
			if !strings.Contains(VisibleText(got), strings.TrimSpace(VisibleText(tt.html))) {
				t.Errorf("Rebalance(%q) lost text: %q", tt.html, got)
			}
		})
	}
}

func TestRebalancePassthrough(t *testing.T) {
	m := testMutator()
	in := "<h2>Title</h2>\n<p>Already fine.</p>"
	if got := m.Rebalance(in); got != in {
		t.Errorf("Rebalance changed balanced input: %q", got)
	}
	if got := m.Rebalance("   "); got != "" {
		t.Errorf("Rebalance(blank) = %q, want empty", got)
	}
}

func TestCloseDangling(t *testing.T) {
	got := closeDangling("<div><p>text")
	want := "<div><p>text</p></div>"
	if got != want {
		t.Errorf("closeDangling = %q, want %q", got, want)
	}
}

func TestSanitizeStripsNoise(t *testing.T) {
	m := testMutator()
	tests := []struct {
		name    string
		in      string
		want    string
		exclude []string
	}{
		{
			name: "markdown fences",
			in:   "```html\n<p>hi there</p>\n```",
			want: "<p>hi there</p>",
		},
		{
			name:    "script removed",
			in:      "<p>keep</p><script>alert(1)</script>",
			want:    "<p>keep</p>",
			exclude: []string{"script", "alert"},
		},
		{
			name:    "comments removed",
			in:      "<!-- note --><p>body</p>",
			want:    "<p>body</p>",
			exclude: []string{"note"},
		},
		{
			name:    "style block removed",
			in:      "<style>p{color:red}</style><p>text</p>",
			want:    "<p>text</p>",
			exclude: []string{"color"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Sanitize(tt.in)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
			for _, bad := range tt.exclude {
				if strings.Contains(got, bad) {
					t.Errorf("Sanitize(%q) kept %q: %q", tt.in, bad, got)
				}
			}
		})
	}
}

func TestSanitizeHeadingHierarchy(t *testing.T) {
	m := testMutator()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "h1 demoted",
			in:   "<h1>Title</h1><p>Body text here.</p>",
			want: "<h2>Title</h2><p>Body text here.</p>",
		},
		{
			name: "level skip clamped",
			in:   "<h2>Section</h2><h5>Deep</h5>",
			want: "<h2>Section</h2><h3>Deep</h3>",
		},
		{
			name: "legal step kept",
			in:   "<h2>Section</h2><h3>Sub</h3>",
			want: "<h2>Section</h2><h3>Sub</h3>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	m := testMutator()
	in := "<h1>Top</h1><h4>Skip</h4><p>Some body text.</p><!-- x --><script>no()</script>"
	once := m.Sanitize(in)
	twice := m.Sanitize(once)
	if once != twice {
		t.Errorf("Sanitize not idempotent:\nonce:  %q\ntwice: %q", once, twice)
	}
	if !Balanced(once) {
		t.Errorf("Sanitize output unbalanced: %q", once)
	}
}

func TestWordCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"<p>one two three</p>", 3},
		{"<h2>Heading Words</h2>\n<p>and body text</p>", 5},
		{"<img src=\"x.png\" alt=\"ignored\">", 0},
	}
	for _, tt := range tests {
		if got := WordCount(tt.in); got != tt.want {
			t.Errorf("WordCount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func fiveHeadingBody() string {
	var b strings.Builder
	names := []string{"First", "Second", "Third", "Fourth", "Fifth"}
	for _, n := range names {
		b.WriteString("<h2>" + n + " Section</h2>\n<p>Text for " + n + ".</p>\n")
	}
	return b.String()
}

func TestInsertOffsetFallbacks(t *testing.T) {
	body := fiveHeadingBody()
	tests := []struct {
		name string
		p    Placement
		want int
	}{
		{"top", Placement{Kind: PlaceTop}, 0},
		{"end", Placement{Kind: PlaceEnd}, len(body)},
		{"heading in range", Placement{Kind: PlaceAfterHeading, Index: 1}, strings.Index(body, "Second Section</h2>") + len("Second Section</h2>")},
		{"heading past end clamps to last", Placement{Kind: PlaceAfterHeading, Index: 12}, strings.Index(body, "Fifth Section</h2>") + len("Fifth Section</h2>")},
		{"heading in empty body", Placement{Kind: PlaceAfterHeading, Index: 3}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := body
			if tt.name == "heading in empty body" {
				content = "<p>no headings here</p>"
				if got := insertOffset(content, tt.p); got != 0 {
					t.Errorf("insertOffset = %d, want 0 (top)", got)
				}
				return
			}
			if got := insertOffset(content, tt.p); got != tt.want {
				t.Errorf("insertOffset = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestInjectMediaPlacement(t *testing.T) {
	m := testMutator()
	body := fiveHeadingBody()
	images := []Image{
		{URL: "https://cdn.test/lead.jpg", Alt: "lead"},
		{URL: "https://cdn.test/second.jpg", Alt: "second"},
	}
	video := &Video{URL: "https://video.test/embed/abc", Title: "Watch: Overview"}

	out := m.InjectMedia(body, images, video)

	if !Balanced(out) {
		t.Fatalf("InjectMedia output unbalanced: %q", out)
	}
	if !strings.HasPrefix(out, "<img") {
		t.Errorf("first image not at top: %q", out[:60])
	}
	// Both the second image (index 11) and the video (index 15) exceed the
	// five headings present, so each lands after the last heading.
	lastHeading := strings.Index(out, "Fifth Section</h2>")
	if i := strings.Index(out, "second.jpg"); i < lastHeading {
		t.Errorf("second image at %d, want after last heading at %d", i, lastHeading)
	}
	if i := strings.Index(out, "video.test/embed/abc"); i < lastHeading {
		t.Errorf("video at %d, want after last heading at %d", i, lastHeading)
	}
}

func TestInjectMediaIdempotent(t *testing.T) {
	m := testMutator()
	images := []Image{{URL: "https://cdn.test/lead.jpg", Alt: "lead"}}
	video := &Video{URL: "https://video.test/embed/abc", Title: "Overview"}

	once := m.InjectMedia(fiveHeadingBody(), images, video)
	twice := m.InjectMedia(once, images, video)
	if once != twice {
		t.Errorf("re-running InjectMedia duplicated media:\nonce:  %q\ntwice: %q", once, twice)
	}
	if got := strings.Count(twice, "lead.jpg"); got != 1 {
		t.Errorf("image appears %d times, want 1", got)
	}
}

func TestInjectMediaEmptyContent(t *testing.T) {
	m := testMutator()
	if got := m.InjectMedia("", []Image{{URL: "https://cdn.test/x.jpg"}}, nil); got != "" {
		t.Errorf("InjectMedia on empty content = %q, want empty", got)
	}
}

func TestAddBacklinks(t *testing.T) {
	m := testMutator()
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString("<p>Paragraph body number text.</p>\n")
	}
	body := b.String()

	candidates := []string{
		"https://example.com/a",
		"https://www.example.com/b", // duplicate host, skipped
		"https://other.org/c",
		"https://third.net/d",
		"https://fourth.io/e", // over MaxBacklinks, skipped
	}
	out := m.AddBacklinks(body, candidates)

	if !Balanced(out) {
		t.Fatalf("AddBacklinks output unbalanced")
	}
	if got := strings.Count(out, "<a href="); got != 3 {
		t.Errorf("injected %d links, want 3", got)
	}
	for _, want := range []string{"example.com/a", "other.org/c", "third.net/d"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing backlink %q", want)
		}
	}
	if strings.Contains(out, "example.com/b") || strings.Contains(out, "fourth.io") {
		t.Errorf("skipped candidate leaked into output")
	}
	// First pick lands after the fifth paragraph, before the sixth.
	fifth := nthIndex(out, "</p>", 5)
	first := strings.Index(out, "example.com/a")
	if first < fifth {
		t.Errorf("first backlink at %d, want after fifth paragraph at %d", first, fifth)
	}
}

func nthIndex(s, sub string, n int) int {
	idx := 0
	for i := 0; i < n; i++ {
		j := strings.Index(s[idx:], sub)
		if j < 0 {
			return -1
		}
		idx += j + len(sub)
	}
	return idx
}

func TestAddBacklinksSkipsLinkedContent(t *testing.T) {
	m := testMutator()
	body := `<p>See <a href="https://a.test">one</a> and <a href="https://b.test">two</a>.</p>`
	out := m.AddBacklinks(body, []string{"https://example.com/x"})
	if out != body {
		t.Errorf("content with enough links was modified: %q", out)
	}
}

func TestAddBacklinksSkipsExistingDomain(t *testing.T) {
	m := testMutator()
	body := "<p>Already mentions example.com somewhere.</p>"
	out := m.AddBacklinks(body, []string{"https://example.com/x"})
	if out != body {
		t.Errorf("candidate with in-content domain was injected: %q", out)
	}
}

func TestApplyAnnotatesEveryAbsoluteAnchor(t *testing.T) {
	m := testMutator()
	var b strings.Builder
	b.WriteString(`<h2>Intro</h2><p>Plain <a href="https://cited.test/src">citation</a> text.</p>`)
	for i := 0; i < 6; i++ {
		b.WriteString("<p>Paragraph body number text.</p>")
	}

	out := m.Apply(b.String(), nil, nil, []string{"https://example.com/ref"})

	if !Balanced(out) {
		t.Fatalf("Apply output unbalanced")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(out))
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.HasPrefix(href, "http") {
			return
		}
		if v, _ := s.Attr("target"); v != "_blank" {
			t.Errorf("anchor %s target = %q", href, v)
		}
		if v, _ := s.Attr("rel"); v != "nofollow noopener noreferrer" {
			t.Errorf("anchor %s rel = %q", href, v)
		}
	})
	if !strings.Contains(out, "example.com/ref") {
		t.Fatalf("backlink missing from output: %q", out)
	}
}

func TestAnnotateLinks(t *testing.T) {
	m := testMutator()
	in := `<p><a href="https://ext.test/page">out</a> and <a href="/local">in</a></p>`
	out := m.AnnotateLinks(in)

	if !strings.Contains(out, `target="_blank"`) {
		t.Errorf("absolute link missing target: %q", out)
	}
	if !strings.Contains(out, `rel="nofollow noopener noreferrer"`) {
		t.Errorf("absolute link missing rel set: %q", out)
	}
	// The relative link stays bare.
	local := out[strings.Index(out, "/local")-40 : strings.Index(out, "/local")]
	if strings.Contains(local, "target=") {
		t.Errorf("relative link was annotated: %q", out)
	}
}
