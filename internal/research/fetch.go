package research

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/autopress/autopress/config"
	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
)

// maxExtractChars bounds the text pulled from one page so a single long
// article cannot dominate the research context.
const maxExtractChars = 4000

// Fetcher retrieves a result page and extracts its readable text. The plain
// HTTP path covers most pages; headless rendering is opt-in for JS-heavy
// sites.
type Fetcher struct {
	cfg     config.ResearchConfig
	client  *http.Client
	rot     *uaRotator
	limiter *domainLimiter
	logger  *log.Logger
}

func NewFetcher(cfg config.ResearchConfig, rot *uaRotator, limiter *domainLimiter, logger *log.Logger) *Fetcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[FETCH] ", log.LstdFlags)
	}
	return &Fetcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.FetchTimeout},
		rot:     rot,
		limiter: limiter,
		logger:  logger,
	}
}

// Extract fetches the page and returns its readable text content, truncated
// to a bounded length.
func (f *Fetcher) Extract(ctx context.Context, pageURL string) (string, error) {
	if Blocked(pageURL) {
		return "", fmt.Errorf("fetch: url blocked: %s", pageURL)
	}
	if err := f.limiter.Wait(ctx, pageURL); err != nil {
		return "", err
	}

	var html string
	var err error
	if f.cfg.UseBrowserRender {
		html, err = f.renderHTML(ctx, pageURL)
	} else {
		html, err = f.fetchHTML(ctx, pageURL)
	}
	if err != nil {
		return "", err
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		parsed = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return "", fmt.Errorf("fetch: extract %s: %w", pageURL, err)
	}
	text := strings.TrimSpace(article.TextContent)
	if len(text) > maxExtractChars {
		text = text[:maxExtractChars]
	}
	if text == "" {
		return "", errors.New("fetch: no readable text")
	}
	return text, nil
}

func (f *Fetcher) fetchHTML(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.rot.Current())
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch: %s: status %d", pageURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// renderHTML drives a headless browser for pages that assemble their content
// client side.
func (f *Fetcher) renderHTML(ctx context.Context, pageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(f.rot.Current()),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
