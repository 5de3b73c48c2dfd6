package media

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

const discoverUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Discover finds candidate image URLs and an embeddable video for a topic.
// Everything here is best-effort: scrape failures return empty results and
// the pipeline proceeds without media.
func (s *Service) Discover(ctx context.Context, topic string) ([]string, *Asset) {
	images, err := s.discoverImages(ctx, topic)
	if err != nil {
		s.logger.Printf("image discovery failed for %q: %v", topic, err)
	}
	video, err := s.discoverVideo(ctx, topic)
	if err != nil {
		s.logger.Printf("video discovery failed for %q: %v", topic, err)
	}
	return images, video
}

// discoverImages scrapes an image search result page. Each result tile
// carries a JSON metadata attribute holding the full-size image URL.
func (s *Service) discoverImages(ctx context.Context, topic string) ([]string, error) {
	endpoint := "https://www.bing.com/images/search?q=" + url.QueryEscape(topic)
	body, err := s.fetch(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(body)
	body.Close()
	if err != nil {
		return nil, err
	}

	maxImages := s.cfg.MaxImages
	if maxImages <= 0 {
		maxImages = 2
	}
	// Over-collect so validation and processing failures still leave enough.
	limit := maxImages * 3

	var out []string
	doc.Find("a.iusc").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var meta struct {
			MURL string `json:"murl"`
		}
		if err := json.Unmarshal([]byte(sel.AttrOr("m", "{}")), &meta); err == nil && meta.MURL != "" {
			out = append(out, meta.MURL)
		}
		return len(out) < limit
	})
	return out, nil
}

var videoIDRe = regexp.MustCompile(`"videoId":"([\w-]{11})"`)

// discoverVideo pulls the first video id from a video search result page and
// returns it as an embed URL.
func (s *Service) discoverVideo(ctx context.Context, topic string) (*Asset, error) {
	endpoint := "https://www.youtube.com/results?search_query=" + url.QueryEscape(topic)
	body, err := s.fetch(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, 2<<20))
	if err != nil {
		return nil, err
	}
	m := videoIDRe.FindSubmatch(raw)
	if m == nil {
		return nil, nil
	}
	return &Asset{
		URL:       "https://www.youtube.com/embed/" + string(m[1]),
		Kind:      KindVideo,
		Title:     topic,
		Validated: true,
	}, nil
}

func (s *Service) fetch(ctx context.Context, endpoint string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", discoverUserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, ErrDownloadFailed
	}
	return resp.Body, nil
}

// CollectAssets is the images stage entry point: discover, validate and
// process images for a topic, plus an optional video embed.
func (s *Service) CollectAssets(ctx context.Context, topic string) ([]Asset, *Asset) {
	candidates, video := s.Discover(ctx, topic)
	return s.Prepare(ctx, candidates), video
}
