package research

import (
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// blockedDomains are registrable domains whose pages never make useful
// research sources (login walls, media-first platforms).
var blockedDomains = map[string]struct{}{
	"facebook.com":  {},
	"instagram.com": {},
	"twitter.com":   {},
	"x.com":         {},
	"linkedin.com":  {},
	"pinterest.com": {},
	"reddit.com":    {},
	"tiktok.com":    {},
	"youtube.com":   {},
	"quora.com":     {},
}

// blockedExtensions are document formats the text extractor cannot read.
var blockedExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {}, ".ppt": {}, ".pptx": {},
	".xls": {}, ".xlsx": {}, ".zip": {}, ".rar": {},
}

// RegistrableDomain reduces a URL to its eTLD+1 ("blog.example.co.uk" ->
// "example.co.uk"). Hosts the public suffix list cannot resolve (IPs,
// localhost) fall back to the bare hostname.
func RegistrableDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return strings.TrimPrefix(host, "www.")
}

// Blocked reports whether a result URL should be discarded before fetching.
func Blocked(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return true
	}
	if _, bad := blockedDomains[RegistrableDomain(rawURL)]; bad {
		return true
	}
	ext := strings.ToLower(path.Ext(u.Path))
	_, bad := blockedExtensions[ext]
	return bad
}

// Dedupe keeps the first result per registrable domain, preserving order,
// and drops blocked URLs.
func Dedupe(results []Result) []Result {
	seen := make(map[string]struct{}, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if Blocked(r.URL) {
			continue
		}
		dom := RegistrableDomain(r.URL)
		if dom == "" {
			continue
		}
		if _, dup := seen[dom]; dup {
			continue
		}
		seen[dom] = struct{}{}
		out = append(out, r)
	}
	return out
}
