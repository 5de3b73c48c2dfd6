package mutator

import (
	"fmt"
	stdhtml "html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Image is an already-validated image asset to place in the body.
type Image struct {
	URL string
	Alt string
}

// Video is an embeddable video reference.
type Video struct {
	URL   string
	Title string
}

// PlacementKind selects the anchor element for an insert.
type PlacementKind int

const (
	PlaceTop PlacementKind = iota
	PlaceEnd
	PlaceAfterHeading
	PlaceAfterParagraph
)

// Placement names a position in the fragment. Index is the 0-based ordinal
// of the anchor element for the heading and paragraph kinds.
type Placement struct {
	Kind  PlacementKind
	Index int
}

var (
	headingBlockRe   = regexp.MustCompile(`(?is)<h[1-6][^>]*>.*?</h[1-6]>`)
	paragraphBlockRe = regexp.MustCompile(`(?is)<p[^>]*>.*?</p>`)
	anchorRe         = regexp.MustCompile(`(?i)<a\s[^>]*href\s*=`)
	hrefDomainRe     = regexp.MustCompile(`(?i)^https?://(?:www\.)?([^/:?#]+)`)
)

// insertOffset resolves a placement to a byte offset at an element boundary.
// A requested ordinal past the last matching element lands after the last
// match; a fragment with no matching elements resolves to the top.
func insertOffset(content string, p Placement) int {
	switch p.Kind {
	case PlaceEnd:
		return len(content)
	case PlaceAfterHeading:
		return afterNth(content, headingBlockRe, p.Index)
	case PlaceAfterParagraph:
		return afterNth(content, paragraphBlockRe, p.Index)
	default:
		return 0
	}
}

func afterNth(content string, re *regexp.Regexp, n int) int {
	spans := re.FindAllStringIndex(content, -1)
	if len(spans) == 0 {
		return 0
	}
	if n < 0 {
		n = 0
	}
	if n >= len(spans) {
		n = len(spans) - 1
	}
	return spans[n][1]
}

// insert splices fragment at the placement boundary and repairs balance, so
// every insert leaves the document well formed.
func (m *Mutator) insert(content, fragment string, p Placement) string {
	off := insertOffset(content, p)
	var b strings.Builder
	b.WriteString(content[:off])
	if off > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString(fragment)
	if off < len(content) {
		b.WriteString("\n\n")
	}
	b.WriteString(content[off:])
	return m.Rebalance(b.String())
}

// InjectMedia places validated media in the body: the first image at the
// top, the second after a configured heading, the video embed after a later
// configured heading. Assets whose URL already appears in the content are
// skipped, so re-running the pass cannot duplicate media.
func (m *Mutator) InjectMedia(content string, images []Image, video *Video) string {
	if strings.TrimSpace(content) == "" {
		return content
	}
	for i, img := range images {
		if img.URL == "" || strings.Contains(content, img.URL) {
			continue
		}
		p := Placement{Kind: PlaceTop}
		if i > 0 {
			p = Placement{Kind: PlaceAfterHeading, Index: m.cfg.SecondImageHeading}
		}
		content = m.insert(content, imageTag(img), p)
	}
	if video != nil && video.URL != "" && !strings.Contains(content, video.URL) {
		content = m.insert(content, videoEmbed(*video), Placement{Kind: PlaceAfterHeading, Index: m.cfg.VideoHeadingIndex})
	}
	return content
}

func imageTag(img Image) string {
	return fmt.Sprintf(
		`<img src="%s" alt="%s" class="article-image" style="max-width: 100%%; height: auto; margin: 20px 0;" />`,
		stdhtml.EscapeString(img.URL), stdhtml.EscapeString(img.Alt))
}

func videoEmbed(v Video) string {
	return fmt.Sprintf(`<div class="video-embed" style="margin: 24px 0;">
<h2>%s</h2>
<div style="position: relative; padding-bottom: 56.25%%; height: 0; overflow: hidden;">
<iframe src="%s" style="position: absolute; top: 0; left: 0; width: 100%%; height: 100%%;" allow="accelerometer; autoplay; clipboard-write; encrypted-media; gyroscope; picture-in-picture" allowfullscreen></iframe>
</div>
</div>`, stdhtml.EscapeString(v.Title), stdhtml.EscapeString(v.URL))
}

var backlinkPhrases = []string{
	"For more background on this topic, see %s.",
	"Related reading is available at %s.",
	"A deeper discussion can be found at %s.",
}

// AddBacklinks injects contextual link paragraphs from the candidate list.
// Content that already carries more than the configured minimum of links is
// left untouched. Candidates whose registrable host already appears in the
// content, or repeats an earlier pick, are skipped. Links land after every
// Nth paragraph; picks that do not fit are appended at the end.
func (m *Mutator) AddBacklinks(content string, candidates []string) string {
	if strings.TrimSpace(content) == "" || len(candidates) == 0 {
		return content
	}
	if len(anchorRe.FindAllString(content, -1)) > m.cfg.MinContentLinks {
		return content
	}

	var picked []string
	seen := make(map[string]struct{})
	for _, u := range candidates {
		if len(picked) >= m.cfg.MaxBacklinks {
			break
		}
		host := linkHost(u)
		if host == "" {
			continue
		}
		if _, dup := seen[host]; dup {
			continue
		}
		if strings.Contains(content, host) {
			continue
		}
		seen[host] = struct{}{}
		picked = append(picked, u)
	}
	if len(picked) == 0 {
		return content
	}

	paras := paragraphBlockRe.FindAllStringIndex(content, -1)
	var b strings.Builder
	last, next := 0, 0
	for i, span := range paras {
		b.WriteString(content[last:span[1]])
		last = span[1]
		if (i+1)%m.cfg.BacklinkEvery == 0 && next < len(picked) {
			b.WriteString("\n" + backlinkParagraph(next, picked[next]))
			next++
		}
	}
	b.WriteString(content[last:])
	for next < len(picked) {
		b.WriteString("\n" + backlinkParagraph(next, picked[next]))
		next++
	}
	return m.Rebalance(b.String())
}

// backlinkParagraph builds a link sentence. The phrase is chosen by pick
// ordinal so output is deterministic for a given input.
func backlinkParagraph(i int, url string) string {
	anchor := fmt.Sprintf(`<a href="%s" target="_blank" rel="nofollow noopener noreferrer">%s</a>`,
		stdhtml.EscapeString(url), stdhtml.EscapeString(linkHost(url)))
	return "<p>" + fmt.Sprintf(backlinkPhrases[i%len(backlinkPhrases)], anchor) + "</p>"
}

func linkHost(u string) string {
	if m := hrefDomainRe.FindStringSubmatch(u); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}

// AnnotateLinks enforces the external-link policy on anchors that were added
// after sanitisation: absolute links open in a new tab and carry the
// untrusted relation set; relative links are left alone.
func (m *Mutator) AnnotateLinks(content string) string {
	if strings.TrimSpace(content) == "" {
		return content
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		m.logger.Printf("link annotation parse failed: %v", err)
		return content
	}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			return
		}
		s.SetAttr("target", "_blank")
		s.SetAttr("rel", "nofollow noopener noreferrer")
	})
	out, err := doc.Find("body").Html()
	if err != nil {
		m.logger.Printf("link annotation render failed: %v", err)
		return content
	}
	return strings.TrimSpace(out)
}

// Apply runs the full mutation pass: sanitize, place media, inject
// backlinks, re-apply the link policy to anchors added after sanitisation,
// then a final balance check.
func (m *Mutator) Apply(content string, images []Image, video *Video, backlinks []string) string {
	out := m.Sanitize(content)
	out = m.InjectMedia(out, images, video)
	out = m.AddBacklinks(out, backlinks)
	out = m.AnnotateLinks(out)
	return m.Rebalance(out)
}
