package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/autopress/autopress/config"
	"github.com/autopress/autopress/internal/telemetry"
)

// Collector runs the provider fallback chain for a topic. Research is a
// best-effort stage: an exhausted chain yields an empty result set, never an
// error, so the pipeline can degrade instead of failing the work item.
type Collector struct {
	cfg       config.ResearchConfig
	providers []SearchProvider
	rot       *uaRotator
	fetcher   *Fetcher
	logger    *log.Logger
	tele      *telemetry.Telemetry

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCollector builds a collector with the configured provider chain.
func NewCollector(cfg config.ResearchConfig, logger *log.Logger, tele *telemetry.Telemetry) (*Collector, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	}
	if tele == nil {
		tele = telemetry.Default()
	}
	rot := &uaRotator{}
	limiter := newDomainLimiter(cfg.DomainInterval)
	providers, err := buildProviders(cfg, rot, limiter)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("research: no providers configured")
	}
	return &Collector{
		cfg:       cfg,
		providers: providers,
		rot:       rot,
		fetcher:   NewFetcher(cfg, rot, limiter, logger),
		logger:    logger,
		tele:      tele,
		sleep:     sleepCtx,
	}, nil
}

// newCollectorWithProviders is the test seam: it skips provider construction.
func newCollectorWithProviders(cfg config.ResearchConfig, providers []SearchProvider, logger *log.Logger) *Collector {
	if logger == nil {
		logger = log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	}
	return &Collector{
		cfg:       cfg,
		providers: providers,
		rot:       &uaRotator{},
		logger:    logger,
		tele:      telemetry.New(),
		sleep:     func(context.Context, time.Duration) error { return nil },
	}
}

// Collect walks the provider chain in priority order and returns the first
// non-empty result set, deduplicated by registrable domain and ranked by
// relevance to the topic. When every provider comes up empty the whole chain
// is retried with a fresh user agent after a delay; once retries are
// exhausted an empty slice is returned with a nil error.
func (c *Collector) Collect(ctx context.Context, q Query) ([]Result, error) {
	attempts := c.cfg.ChainAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.rot.Advance()
			c.logger.Printf("chain attempt %d/%d for %q after empty pass", attempt+1, attempts, q.Topic)
			if err := c.sleep(ctx, c.cfg.ChainRetryDelay); err != nil {
				return nil, err
			}
		}
		for _, p := range c.providers {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results, err := p.Search(ctx, q, c.cfg.MaxResults)
			switch {
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				return nil, err
			case err != nil:
				c.tele.ProviderCalls.WithLabelValues(p.Name(), "error").Inc()
				c.logger.Printf("provider %s failed for %q: %v", p.Name(), q.Topic, err)
				continue
			}
			results = Dedupe(results)
			if len(results) == 0 {
				c.tele.ProviderCalls.WithLabelValues(p.Name(), "empty").Inc()
				continue
			}
			c.tele.ProviderCalls.WithLabelValues(p.Name(), "ok").Inc()
			results = Rank(results, q.Topic, c.cfg.MaxResults)
			c.enrich(ctx, results)
			return results, nil
		}
	}
	c.logger.Printf("research exhausted for %q, continuing with no findings", q.Topic)
	return []Result{}, nil
}

// enrich replaces thin snippets with extracted page text. Failures keep the
// original snippet; a readable search snippet is still a usable finding.
func (c *Collector) enrich(ctx context.Context, results []Result) {
	if c.fetcher == nil {
		return
	}
	for i := range results {
		if len(results[i].Snippet) >= c.cfg.MinSnippetLength {
			continue
		}
		text, err := c.fetcher.Extract(ctx, results[i].URL)
		if err != nil {
			c.logger.Printf("snippet enrichment failed for %s: %v", results[i].URL, err)
			continue
		}
		if len(text) > len(results[i].Snippet) {
			results[i].Snippet = text
		}
	}
}
