package mutator

import (
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/autopress/autopress/config"
	"github.com/microcosm-cc/bluemonday"
)

// Mutator post-processes generated HTML: sanitisation, tag-balance repair,
// media placement and backlink injection. It performs no I/O and never
// fails; defects degrade to best-effort output and are logged because markup
// problems must not block publication.
type Mutator struct {
	cfg    config.MutatorConfig
	logger *log.Logger
}

// New creates a Mutator with the given placement tunables.
func New(cfg config.MutatorConfig, logger *log.Logger) *Mutator {
	if logger == nil {
		logger = log.New(log.Writer(), "[MUTATE] ", log.LstdFlags)
	}
	if cfg.BacklinkEvery <= 0 {
		cfg.BacklinkEvery = 5
	}
	if cfg.MaxBacklinks <= 0 {
		cfg.MaxBacklinks = 3
	}
	return &Mutator{cfg: cfg, logger: logger}
}

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy

	articlePolicyOnce sync.Once
	articlePolicy     *bluemonday.Policy
)

// StrictHTMLPolicy returns a singleton policy that strips every HTML element
// and attribute, leaving plain text.
func StrictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// ArticleHTMLPolicy returns a policy for generated article bodies. It keeps
// the formatting subset the pipeline emits (headings, lists, emphasis,
// figures, images, embedded video iframes) and annotates fully qualified
// links with new-tab and untrusted relation markers while leaving relative
// links untouched.
func ArticleHTMLPolicy() *bluemonday.Policy {
	articlePolicyOnce.Do(func() {
		policy := bluemonday.UGCPolicy()
		policy.AllowElements("figure", "figcaption", "iframe")
		policy.AllowAttrs("class", "style", "rel").OnElements("img", "div", "figure", "iframe", "p", "h2")
		policy.AllowAttrs("src", "allow", "allowfullscreen").OnElements("iframe")
		policy.AllowURLSchemes("http", "https", "mailto")
		policy.AllowRelativeURLs(true)
		policy.RequireParseableURLs(true)
		policy.AddTargetBlankToFullyQualifiedLinks(true)
		policy.RequireNoFollowOnFullyQualifiedLinks(true)
		articlePolicy = policy
	})
	return articlePolicy
}

// VisibleText strips all markup from the fragment.
func VisibleText(html string) string {
	return strings.TrimSpace(StrictHTMLPolicy().Sanitize(html))
}

// WordCount counts words in the visible text of the fragment. Callers must
// never trust a word count reported by the generation service.
func WordCount(html string) int {
	return len(strings.Fields(VisibleText(html)))
}

var (
	fenceRe   = regexp.MustCompile("```(?:html)?\n?")
	commentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	doctypeRe = regexp.MustCompile(`(?i)<!DOCTYPE[^>]*>`)
	styleRe   = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	scriptRe  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
)

// Sanitize cleans a generated fragment: markdown fences, comments, scripts
// and disallowed elements are removed, heading hierarchy is normalised and
// external links are annotated. The result always passes the Balanced scan.
// Sanitizing already-sanitized content is a no-op.
func (m *Mutator) Sanitize(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}

	html = fenceRe.ReplaceAllString(html, "")
	html = strings.ReplaceAll(html, "`", "")
	html = commentRe.ReplaceAllString(html, "")
	html = doctypeRe.ReplaceAllString(html, "")
	html = styleRe.ReplaceAllString(html, "")
	html = scriptRe.ReplaceAllString(html, "")

	html = strings.TrimSpace(ArticleHTMLPolicy().Sanitize(html))

	if fixed, err := m.normalizeStructure(html); err == nil {
		html = fixed
	} else {
		m.logger.Printf("structural normalization failed, keeping sanitized fragment: %v", err)
	}

	return m.Rebalance(html)
}

// normalizeStructure runs the structural pass: h1 demotion, heading-level
// clamping and empty-element pruning.
func (m *Mutator) normalizeStructure(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	// The document title is supplied out-of-band, so an h1 in the body is
	// always demoted. Deeper levels may not skip more than one step below
	// the previous heading.
	prev := 0
	doc.Find("h1,h2,h3,h4,h5,h6").Each(func(_ int, s *goquery.Selection) {
		level := int(s.Get(0).Data[1] - '0')
		if level == 1 {
			level = 2
		}
		if prev > 0 && level > prev+1 {
			level = prev + 1
		}
		prev = level
		inner, err := s.Html()
		if err != nil {
			return
		}
		s.ReplaceWithHtml(fmt.Sprintf("<h%d>%s</h%d>", level, inner, level))
	})

	doc.Find("p,div,span,li,strong,em").Each(func(_ int, s *goquery.Selection) {
		if strings.TrimSpace(s.Text()) == "" && s.Find("img,iframe").Length() == 0 && s.Children().Length() == 0 {
			s.Remove()
		}
	})

	out, err := doc.Find("body").Html()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
