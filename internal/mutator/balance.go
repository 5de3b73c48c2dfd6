package mutator

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// voidElements never take a closing tag and are skipped by the balance scan.
var voidElements = map[string]struct{}{
	"img": {}, "br": {}, "hr": {}, "meta": {}, "link": {}, "input": {},
	"area": {}, "base": {}, "col": {}, "command": {}, "embed": {},
	"keygen": {}, "param": {}, "source": {}, "track": {}, "wbr": {},
}

var tagRe = regexp.MustCompile(`<(/?)([a-zA-Z][a-zA-Z0-9]*)((?:[^>"']|"[^"]*"|'[^']*')*)>`)

// Balanced reports whether every non-void element in the fragment is opened
// and closed in proper nesting order, using a stack-based tag scan.
func Balanced(html string) bool {
	var stack []string
	for _, m := range tagRe.FindAllStringSubmatch(html, -1) {
		closing := m[1] == "/"
		tag := strings.ToLower(m[2])
		if _, void := voidElements[tag]; void {
			continue
		}
		if strings.HasSuffix(strings.TrimSpace(m[3]), "/") {
			continue // explicit self-close
		}
		if closing {
			if len(stack) == 0 || stack[len(stack)-1] != tag {
				return false
			}
			stack = stack[:len(stack)-1]
		} else {
			stack = append(stack, tag)
		}
	}
	return len(stack) == 0
}

// Rebalance returns a fragment that passes the Balanced scan. The primary
// path re-serializes through the structural parser; the regex repair path
// closes dangling tags in reverse-open order. If neither produces a balanced
// fragment the content is wrapped in a container element so callers never
// receive a literal unparseable fragment.
func (m *Mutator) Rebalance(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	if Balanced(html) {
		return html
	}
	if fixed, err := reparse(html); err == nil && Balanced(fixed) {
		return fixed
	}
	fixed := closeDangling(html)
	if Balanced(fixed) {
		return fixed
	}
	return "<div class=\"content-container\">\n" + html + "\n</div>"
}

// reparse runs the fragment through the structural HTML parser, which
// normalizes nesting, and re-renders the body content.
func reparse(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	body := doc.Find("body")
	out, err := body.Html()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// closeDangling appends close tags for unclosed elements in reverse-open
// order. Mismatched close tags are dropped from the open stack tracking so a
// single stray close does not cascade.
func closeDangling(html string) string {
	var open []string
	for _, m := range tagRe.FindAllStringSubmatch(html, -1) {
		closing := m[1] == "/"
		tag := strings.ToLower(m[2])
		if _, void := voidElements[tag]; void {
			continue
		}
		if strings.HasSuffix(strings.TrimSpace(m[3]), "/") {
			continue
		}
		if closing {
			if len(open) > 0 && open[len(open)-1] == tag {
				open = open[:len(open)-1]
			}
		} else {
			open = append(open, tag)
		}
	}
	var b strings.Builder
	b.WriteString(html)
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteString("</" + open[i] + ">")
	}
	return b.String()
}
