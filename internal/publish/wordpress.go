package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/autopress/autopress/config"
)

// wpClient publishes through the WordPress REST API using an application
// password. Posts are created in "future" status at the envelope's
// scheduled time.
type wpClient struct {
	cfg    config.PublishConfig
	client *http.Client
	logger *log.Logger
}

// NewWordPress creates the production Publisher.
func NewWordPress(cfg config.PublishConfig, logger *log.Logger) Publisher {
	if logger == nil {
		logger = log.New(log.Writer(), "[PUBLISH] ", log.LstdFlags)
	}
	return &wpClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type wpPost struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	Status     string `json:"status"`
	Date       string `json:"date"`
	Excerpt    string `json:"excerpt,omitempty"`
	Slug       string `json:"slug,omitempty"`
	Categories []int  `json:"categories,omitempty"`
}

// categoryID maps the resolved category name to its CMS term id from the
// configured table. Names match case-insensitively.
func (c *wpClient) categoryID(name string) (int, bool) {
	for k, id := range c.cfg.CategoryIDs {
		if strings.EqualFold(k, name) {
			return id, true
		}
	}
	return 0, false
}

func (c *wpClient) CreatePost(ctx context.Context, env Envelope) (string, error) {
	scheduledAt := ClampSchedule(env.ScheduledAt, time.Now(), c.cfg.MinLeadTime)

	post := wpPost{
		Title:   env.Title,
		Content: env.HTML,
		Status:  "future",
		Date:    scheduledAt.Format(time.RFC3339),
		Excerpt: env.MetaDesc,
		Slug:    env.Slug,
	}
	if env.Category != "" {
		if id, ok := c.categoryID(env.Category); ok {
			post.Categories = []int{id}
		} else {
			c.logger.Printf("category %q has no configured term id, post will land uncategorized", env.Category)
		}
	}

	payload, err := json.Marshal(post)
	if err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/wp-json/wp/v2/posts"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", env.IdempotencyKey)
	req.SetBasicAuth(c.cfg.Username, c.cfg.AppPassword)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		var out struct {
			ID json.Number `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("publish response decode: %w", err)
		}
		return out.ID.String(), nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, string(body))
	default:
		return "", fmt.Errorf("publish: status %d", resp.StatusCode)
	}
}
