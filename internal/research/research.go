package research

import (
	"context"
	"errors"
	"sync"
)

// Result is a single research finding: a source page plus the snippet that
// made it relevant.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"` // provider that produced the hit
}

// Query carries the topic plus the locale hints providers accept.
type Query struct {
	Topic    string
	Language string // ISO 639-1, e.g. "en"
	Country  string // ISO 3166-1 alpha-2, e.g. "us"
}

// SearchProvider is one backend in the fallback chain.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, q Query, k int) ([]Result, error)
}

var (
	// ErrNoResults indicates the provider answered but found nothing.
	ErrNoResults = errors.New("research: no results")
	// ErrBlocked indicates the provider refused the request (captcha, 403, 429).
	ErrBlocked = errors.New("research: provider blocked request")
)

// userAgents is the rotation pool for scrape requests. Rotated between chain
// attempts, not between requests, so a single pass presents one identity.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:124.0) Gecko/20100101 Firefox/124.0",
}

// uaRotator hands out a stable user agent until Advance is called.
type uaRotator struct {
	mu  sync.Mutex
	idx int
}

func (r *uaRotator) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return userAgents[r.idx%len(userAgents)]
}

func (r *uaRotator) Advance() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idx++
}
