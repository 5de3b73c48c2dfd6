package research

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/autopress/autopress/config"
)

// htmlProvider is the shared scrape transport: rate-limited, retried with
// exponential backoff plus jitter, and tagged with the rotation pool's
// current user agent.
type htmlProvider struct {
	client         *http.Client
	rot            *uaRotator
	limiter        *domainLimiter
	retries        int
	backoffBase    time.Duration
	backoffCeiling time.Duration
}

func newHTMLProvider(cfg config.ResearchConfig, rot *uaRotator, limiter *domainLimiter) *htmlProvider {
	base := cfg.BackoffBase
	if base <= 0 {
		base = time.Second
	}
	ceiling := cfg.BackoffCeiling
	if ceiling <= 0 {
		ceiling = 10 * time.Second
	}
	return &htmlProvider{
		client:         &http.Client{Timeout: cfg.FetchTimeout},
		rot:            rot,
		limiter:        limiter,
		retries:        cfg.RequestRetries,
		backoffBase:    base,
		backoffCeiling: ceiling,
	}
}

// get fetches a result page as a parsed document. Blocked and 5xx responses
// are retried; 4xx other than 403/429 is terminal.
func (p *htmlProvider) get(ctx context.Context, rawURL string) (*goquery.Document, error) {
	var lastErr error
	attempts := p.retries
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, p.backoff(attempt)); err != nil {
				return nil, err
			}
		}
		if err := p.limiter.Wait(ctx, rawURL); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", p.rot.Current())
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")

		resp, err := p.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			doc, err := goquery.NewDocumentFromReader(resp.Body)
			resp.Body.Close()
			if err != nil {
				lastErr = err
				continue
			}
			return doc, nil
		case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: status %d", ErrBlocked, resp.StatusCode)
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
		default:
			resp.Body.Close()
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
	}
	return nil, lastErr
}

// backoff doubles per attempt up to the ceiling, then adds up to 25% jitter.
func (p *htmlProvider) backoff(attempt int) time.Duration {
	d := p.backoffBase << (attempt - 1)
	if d > p.backoffCeiling {
		d = p.backoffCeiling
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type duckduckgo struct{ *htmlProvider }

func (d *duckduckgo) Name() string { return "duckduckgo" }

func (d *duckduckgo) Search(ctx context.Context, q Query, k int) ([]Result, error) {
	endpoint := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(q.Topic)
	if q.Country != "" && q.Language != "" {
		endpoint += "&kl=" + url.QueryEscape(strings.ToLower(q.Country)+"-"+strings.ToLower(q.Language))
	}
	doc, err := d.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	var out []Result
	doc.Find("div.result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		a := s.Find("a.result__a").First()
		href := decodeDDGHref(a.AttrOr("href", ""))
		title := strings.TrimSpace(a.Text())
		snippet := strings.TrimSpace(s.Find(".result__snippet").Text())
		if href != "" && title != "" {
			out = append(out, Result{Title: title, URL: href, Snippet: snippet, Source: d.Name()})
		}
		return len(out) < k
	})
	if len(out) == 0 {
		return nil, ErrNoResults
	}
	return out, nil
}

// decodeDDGHref unwraps the /l/?uddg= redirect DuckDuckGo wraps results in.
func decodeDDGHref(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return href
	}
	return ""
}

type bing struct{ *htmlProvider }

func (b *bing) Name() string { return "bing" }

func (b *bing) Search(ctx context.Context, q Query, k int) ([]Result, error) {
	endpoint := fmt.Sprintf("https://www.bing.com/search?q=%s&count=%d", url.QueryEscape(q.Topic), k)
	if q.Language != "" {
		endpoint += "&setlang=" + url.QueryEscape(q.Language)
	}
	if q.Country != "" {
		endpoint += "&cc=" + url.QueryEscape(q.Country)
	}
	doc, err := b.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	var out []Result
	doc.Find("li.b_algo").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		a := s.Find("h2 a").First()
		href := a.AttrOr("href", "")
		title := strings.TrimSpace(a.Text())
		snippet := strings.TrimSpace(s.Find("div.b_caption p").First().Text())
		if href != "" && title != "" {
			out = append(out, Result{Title: title, URL: href, Snippet: snippet, Source: b.Name()})
		}
		return len(out) < k
	})
	if len(out) == 0 {
		return nil, ErrNoResults
	}
	return out, nil
}

type google struct{ *htmlProvider }

func (g *google) Name() string { return "google" }

func (g *google) Search(ctx context.Context, q Query, k int) ([]Result, error) {
	endpoint := fmt.Sprintf("https://www.google.com/search?q=%s&num=%d", url.QueryEscape(q.Topic), k)
	if q.Language != "" {
		endpoint += "&hl=" + url.QueryEscape(q.Language)
	}
	if q.Country != "" {
		endpoint += "&gl=" + url.QueryEscape(q.Country)
	}
	doc, err := g.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	var out []Result
	doc.Find("div.g").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		title := strings.TrimSpace(s.Find("h3").First().Text())
		href := unwrapGoogleHref(s.Find("a[href]").First().AttrOr("href", ""))
		snippet := strings.TrimSpace(s.Find("div.VwiC3b").First().Text())
		if href != "" && title != "" {
			out = append(out, Result{Title: title, URL: href, Snippet: snippet, Source: g.Name()})
		}
		return len(out) < k
	})
	if len(out) == 0 {
		return nil, ErrNoResults
	}
	return out, nil
}

// unwrapGoogleHref unwraps /url?q= redirect links and drops internal anchors.
func unwrapGoogleHref(href string) string {
	if strings.HasPrefix(href, "/url?") {
		if u, err := url.Parse(href); err == nil {
			href = u.Query().Get("q")
		}
	}
	if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
		return ""
	}
	return href
}

// buildProviders instantiates the chain named in the config, in priority
// order. Unknown names are reported rather than skipped so a typo in config
// fails fast.
func buildProviders(cfg config.ResearchConfig, rot *uaRotator, limiter *domainLimiter) ([]SearchProvider, error) {
	shared := newHTMLProvider(cfg, rot, limiter)
	out := make([]SearchProvider, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		switch strings.ToLower(name) {
		case "duckduckgo":
			out = append(out, &duckduckgo{shared})
		case "bing":
			out = append(out, &bing{shared})
		case "google":
			out = append(out, &google{shared})
		default:
			return nil, fmt.Errorf("research: unsupported provider %q", name)
		}
	}
	return out, nil
}
