package generator

import (
	"fmt"
	"strings"

	"github.com/autopress/autopress/internal/research"
)

const planSystemPrompt = `You are an editorial planner. You design article outlines and answer with a single JSON object, no prose, no markdown fences.`

func planUserPrompt(topic, language string, categories []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Design an outline for an article about %q", topic)
	if language != "" {
		fmt.Fprintf(&b, " written in %q", language)
	}
	b.WriteString(".\n\n")
	b.WriteString("Respond with a JSON object with exactly these fields:\n")
	b.WriteString(`{"title": string, "category": string, "meta_description": string, "table_of_contents": [{"heading": string, "subheadings": [string]}], "headings": [{"title": string, "description": string}]}`)
	b.WriteString("\n\n")
	if len(categories) > 0 {
		fmt.Fprintf(&b, "Pick the category from this list: %s.\n", strings.Join(categories, ", "))
	}
	b.WriteString("Every heading needs a one-sentence description of what it should cover.")
	return b.String()
}

const draftSystemPrompt = `You are a long-form writer. You produce clean article HTML: h2/h3 headings, paragraphs, lists. No <html>, <head> or <body> wrapper, no h1, no markdown.`

func draftUserPrompt(plan Plan, findings []research.Result, targetWords int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the article %q following this outline:\n", plan.Title)
	for _, h := range plan.Headings {
		fmt.Fprintf(&b, "- %s: %s\n", h.Title, h.Description)
	}
	fmt.Fprintf(&b, "\nTarget length: at least %d words of body text.\n", targetWords)
	if len(findings) > 0 {
		b.WriteString("\nGround the article in these research findings:\n")
		for _, r := range findings {
			fmt.Fprintf(&b, "- %s (%s): %s\n", r.Title, r.URL, r.Snippet)
		}
	}
	b.WriteString("\nReturn only the article HTML.")
	return b.String()
}

const expandSystemPrompt = `You are a long-form editor. You take an existing article and return a longer revision of the complete article in the same HTML style. Never shorten or summarize.`

func expandUserPrompt(plan Plan, currentBody string, targetWords int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The article %q is below its target of %d words. ", plan.Title, targetWords)
	b.WriteString("Expand it by deepening existing sections and adding concrete detail. Return the complete revised article HTML, not just the additions.\n\n")
	b.WriteString(currentBody)
	return b.String()
}
