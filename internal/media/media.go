package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/autopress/autopress/config"
)

// Kind distinguishes media asset types.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Asset is a media reference for the mutate stage. Validated is set only
// after the trusted-domain and format checks pass.
type Asset struct {
	URL       string `json:"url"`
	Kind      Kind   `json:"kind"`
	Title     string `json:"title"`
	Validated bool   `json:"validated"`
}

var (
	// ErrDownloadFailed indicates the processing service could not retrieve
	// the source image.
	ErrDownloadFailed = errors.New("media: download failed")
	// ErrUnsupportedFormat indicates the source is not a processable image.
	ErrUnsupportedFormat = errors.New("media: unsupported format")
)

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".webp": {}, ".gif": {},
}

// Service discovers and processes media for a topic. Calls to the external
// processing service are bounded by a counting semaphore so concurrent work
// items cannot burst its rate limit.
type Service struct {
	cfg    config.MediaConfig
	client *http.Client
	sem    chan struct{}
	logger *log.Logger
}

func NewService(cfg config.MediaConfig, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[MEDIA] ", log.LstdFlags)
	}
	ceiling := cfg.MaxConcurrent
	if ceiling <= 0 {
		ceiling = 2
	}
	return &Service{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		sem:    make(chan struct{}, ceiling),
		logger: logger,
	}
}

// Validate runs the trusted-domain and format checks on a candidate URL and
// returns the asset with its Validated flag set accordingly.
func (s *Service) Validate(rawURL string, kind Kind) (Asset, error) {
	a := Asset{URL: rawURL, Kind: kind}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return a, fmt.Errorf("%w: unparseable url %q", ErrUnsupportedFormat, rawURL)
	}
	if kind == KindImage {
		ext := strings.ToLower(path.Ext(u.Path))
		if _, ok := imageExtensions[ext]; !ok {
			return a, fmt.Errorf("%w: extension %q", ErrUnsupportedFormat, ext)
		}
	}
	if len(s.cfg.TrustedDomains) > 0 && !s.trusted(u.Hostname()) {
		return a, fmt.Errorf("%w: untrusted domain %q", ErrUnsupportedFormat, u.Hostname())
	}
	a.Validated = true
	return a, nil
}

func (s *Service) trusted(host string) bool {
	host = strings.ToLower(host)
	for _, d := range s.cfg.TrustedDomains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Process hands one image to the external processing service and returns the
// processed URL. The call counts against the concurrency ceiling.
func (s *Service) Process(ctx context.Context, imageURL string) (string, error) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	payload, err := json.Marshal(map[string]string{"url": imageURL})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ProcessURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnsupportedMediaType || resp.StatusCode == http.StatusUnprocessableEntity:
		return "", fmt.Errorf("%w: status %d", ErrUnsupportedFormat, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrDownloadFailed, err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("%w: empty processed url", ErrDownloadFailed)
	}
	return out.URL, nil
}

// Prepare validates and processes candidate image URLs concurrently, keeping
// at most MaxImages successes in candidate order. Failures are logged and
// dropped; media is a best-effort stage.
func (s *Service) Prepare(ctx context.Context, candidates []string) []Asset {
	type slot struct {
		asset Asset
		ok    bool
	}
	slots := make([]slot, len(candidates))

	var wg sync.WaitGroup
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, raw string) {
			defer wg.Done()
			a, err := s.Validate(raw, KindImage)
			if err != nil {
				s.logger.Printf("image candidate rejected: %v", err)
				return
			}
			processed, err := s.Process(ctx, raw)
			if err != nil {
				s.logger.Printf("image processing failed for %s: %v", raw, err)
				return
			}
			a.URL = processed
			slots[i] = slot{asset: a, ok: true}
		}(i, c)
	}
	wg.Wait()

	maxImages := s.cfg.MaxImages
	if maxImages <= 0 {
		maxImages = 2
	}
	out := make([]Asset, 0, maxImages)
	for _, sl := range slots {
		if !sl.ok {
			continue
		}
		out = append(out, sl.asset)
		if len(out) >= maxImages {
			break
		}
	}
	return out
}
