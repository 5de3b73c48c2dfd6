package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/autopress/autopress/config"
	"github.com/autopress/autopress/internal/mutator"
	"github.com/autopress/autopress/internal/research"
	"github.com/autopress/autopress/provider"
)

// CategorySentinel is the category value meaning "no real category chosen".
const CategorySentinel = "uncategorized"

// ErrInvalidPlan indicates the generation service never produced a plan that
// passed structural validation.
var ErrInvalidPlan = errors.New("generator: invalid plan structure")

// TOCEntry is one table-of-contents row: a heading and its subheadings.
type TOCEntry struct {
	Heading     string   `json:"heading"`
	Subheadings []string `json:"subheadings"`
}

// Heading is a planned section with a drafting hint.
type Heading struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Plan is the validated article outline the draft is written against.
type Plan struct {
	Title           string     `json:"title"`
	Category        string     `json:"category"`
	MetaDescription string     `json:"meta_description"`
	TableOfContents []TOCEntry `json:"table_of_contents"`
	Headings        []Heading  `json:"headings"`

	// Fallback marks a minimal plan built after validation retries ran out,
	// so downstream stages know they are in degraded mode.
	Fallback bool `json:"-"`
}

// Draft is the generated article body plus its recomputed word count.
type Draft struct {
	Title           string `json:"title"`
	BodyHTML        string `json:"body_html"`
	Category        string `json:"category"`
	MetaDescription string `json:"meta_description"`
	WordCount       int    `json:"word_count"`
}

// Generator drives the text-generation service through the plan and
// draft-with-expansion calls. It is a stateless transformer; callers persist
// the values it returns.
type Generator struct {
	cfg    config.GenerationConfig
	client provider.GenerationClient
	logger *log.Logger
}

func New(cfg config.GenerationConfig, client provider.GenerationClient, logger *log.Logger) *Generator {
	if logger == nil {
		logger = log.New(log.Writer(), "[DRAFT] ", log.LstdFlags)
	}
	return &Generator{cfg: cfg, client: client, logger: logger}
}

// GeneratePlan asks the service for an article outline and validates its
// structure. It makes exactly one call: a malformed response comes back as an
// error wrapping ErrInvalidPlan so the caller's retry policy owns the attempt
// budget and can record every rejected attempt. Transport failures surface
// unchanged. Callers that exhaust their retries fall back to FallbackPlan.
func (g *Generator) GeneratePlan(ctx context.Context, topic, language string, categories []string) (Plan, error) {
	if err := ctx.Err(); err != nil {
		return Plan{}, err
	}
	raw, err := g.client.Complete(ctx, planSystemPrompt, planUserPrompt(topic, language, categories), 0, 0)
	if err != nil {
		return Plan{}, fmt.Errorf("plan call: %w", err)
	}
	plan, err := parsePlan(raw)
	if err != nil {
		g.logger.Printf("plan for %q rejected: %v", topic, err)
		return Plan{}, err
	}
	plan.Category = ResolveCategory(plan.Category, categories)
	return plan, nil
}

// FallbackPlan builds the minimal outline that keeps downstream stages alive
// after plan validation retries run out.
func FallbackPlan(topic string, categories []string) Plan {
	return Plan{
		Title:           topic,
		Category:        ResolveCategory(CategorySentinel, categories),
		TableOfContents: []TOCEntry{{Heading: topic}},
		Headings:        []Heading{{Title: topic, Description: "Cover the topic broadly."}},
		Fallback:        true,
	}
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// parsePlan extracts the JSON object from a completion and validates the
// required fields. Validation failures wrap ErrInvalidPlan.
func parsePlan(raw string) (Plan, error) {
	match := jsonObjectRe.FindString(raw)
	if match == "" {
		return Plan{}, fmt.Errorf("%w: no JSON object in response", ErrInvalidPlan)
	}
	var plan Plan
	if err := json.Unmarshal([]byte(match), &plan); err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	switch {
	case strings.TrimSpace(plan.Title) == "":
		return Plan{}, fmt.Errorf("%w: missing title", ErrInvalidPlan)
	case strings.TrimSpace(plan.Category) == "":
		return Plan{}, fmt.Errorf("%w: missing category", ErrInvalidPlan)
	case len(plan.TableOfContents) == 0:
		return Plan{}, fmt.Errorf("%w: missing table_of_contents", ErrInvalidPlan)
	case len(plan.Headings) == 0:
		return Plan{}, fmt.Errorf("%w: missing headings", ErrInvalidPlan)
	}
	for _, h := range plan.Headings {
		if strings.TrimSpace(h.Title) == "" {
			return Plan{}, fmt.Errorf("%w: heading with empty title", ErrInvalidPlan)
		}
	}
	return plan, nil
}

// ResolveCategory picks the effective category: the plan's choice when it is
// a real entry from the available list, otherwise the first non-sentinel
// available category, otherwise the sentinel. Deterministic by construction.
func ResolveCategory(chosen string, available []string) string {
	chosen = strings.TrimSpace(chosen)
	if chosen != "" && !strings.EqualFold(chosen, CategorySentinel) {
		for _, c := range available {
			if strings.EqualFold(c, chosen) {
				return c
			}
		}
	}
	for _, c := range available {
		if !strings.EqualFold(c, CategorySentinel) && strings.TrimSpace(c) != "" {
			return c
		}
	}
	return CategorySentinel
}

// GenerateDraft writes the full article from a plan and research findings,
// then runs the bounded expansion loop: while the stripped word count is
// under target and attempts remain, ask for a longer revision and accept it
// only if it strictly grew. Word counts are always recomputed from visible
// text, never taken from the service.
func (g *Generator) GenerateDraft(ctx context.Context, plan Plan, findings []research.Result, targetWords int) (Draft, error) {
	if targetWords <= 0 {
		targetWords = g.cfg.TargetWordCount
	}

	raw, err := g.client.Complete(ctx, draftSystemPrompt, draftUserPrompt(plan, findings, targetWords), 0, 0)
	if err != nil {
		return Draft{}, fmt.Errorf("draft call: %w", err)
	}
	category, body := extractSelectedCategory(raw)
	words := mutator.WordCount(body)

	maxExpand := g.cfg.MaxExpansionAttempts
	for attempt := 1; words < targetWords && attempt <= maxExpand; attempt++ {
		if err := ctx.Err(); err != nil {
			break
		}
		expanded, err := g.client.Complete(ctx, expandSystemPrompt, expandUserPrompt(plan, body, targetWords), 0, 0)
		if err != nil {
			g.logger.Printf("expansion attempt %d for %q failed, keeping %d words: %v", attempt, plan.Title, words, err)
			break
		}
		_, expandedBody := extractSelectedCategory(expanded)
		newWords := mutator.WordCount(expandedBody)
		if newWords <= words {
			g.logger.Printf("expansion attempt %d for %q did not grow the draft (%d -> %d words), stopping", attempt, plan.Title, words, newWords)
			break
		}
		body, words = expandedBody, newWords
	}

	if category == "" {
		category = plan.Category
	}
	meta := plan.MetaDescription
	if strings.TrimSpace(meta) == "" {
		meta = metaFromBody(body)
	}
	return Draft{
		Title:           plan.Title,
		BodyHTML:        body,
		Category:        category,
		MetaDescription: meta,
		WordCount:       words,
	}, nil
}

const metaDescriptionLimit = 160

// metaFromBody derives a meta description from the opening visible text when
// the plan did not provide one.
func metaFromBody(body string) string {
	text := strings.Join(strings.Fields(mutator.VisibleText(body)), " ")
	if len(text) <= metaDescriptionLimit {
		return text
	}
	cut := text[:metaDescriptionLimit]
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut
}

var selectedCategoryRe = regexp.MustCompile(`(?mi)^\s*SELECTED_CATEGORY\s*:\s*(.+?)\s*$`)

// extractSelectedCategory pulls the category line some completions append to
// the body and returns the body without it.
func extractSelectedCategory(raw string) (category, body string) {
	if m := selectedCategoryRe.FindStringSubmatch(raw); m != nil {
		category = strings.TrimSpace(m[1])
	}
	body = strings.TrimSpace(selectedCategoryRe.ReplaceAllString(raw, ""))
	return category, body
}
