// Package extract pulls structured article fields out of raw HTML.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/localnewslab/newsminer/internal/pipeline"
)

// Extractor implements pipeline.Extractor with goquery selectors. It prefers
// structured metadata (OpenGraph, article tags) and falls back to common
// newsroom markup.
type Extractor struct{}

// New returns a ready Extractor.
func New() *Extractor {
	return &Extractor{}
}

var bylineSelectors = []string{
	`meta[name="author"]`,
	`[itemprop="author"]`,
	".byline",
	".author",
	".article-byline",
}

// Extract parses rawContent and returns the structured fields. Body text is
// paragraph-joined; an empty body is an error so the stage can retry or
// reject.
func (e *Extractor) Extract(_ context.Context, rawContent []byte) (pipeline.Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(rawContent))
	if err != nil {
		return pipeline.Extracted{}, fmt.Errorf("parse html: %w", err)
	}

	out := pipeline.Extracted{
		Title:       title(doc),
		Author:      byline(doc),
		Body:        body(doc),
		PublishedAt: publishedAt(doc),
	}
	if strings.TrimSpace(out.Body) == "" {
		return pipeline.Extracted{}, fmt.Errorf("no article body found")
	}
	return out, nil
}

func title(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func byline(doc *goquery.Document) string {
	for _, sel := range bylineSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if content, ok := node.Attr("content"); ok {
			if trimmed := strings.TrimSpace(content); trimmed != "" {
				return trimmed
			}
			continue
		}
		if text := strings.TrimSpace(node.Text()); text != "" {
			return text
		}
	}
	return ""
}

func body(doc *goquery.Document) string {
	scope := doc.Find("article").First()
	if scope.Length() == 0 {
		scope = doc.Find(`[itemprop="articleBody"], .article-body, .story-body`).First()
	}
	var paragraphs []string
	collect := func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}
	if scope.Length() > 0 {
		scope.Find("p").Each(collect)
	} else {
		doc.Find("p").Each(collect)
	}
	return strings.Join(paragraphs, "\n\n")
}

func publishedAt(doc *goquery.Document) *time.Time {
	candidates := []string{
		`meta[property="article:published_time"]`,
		`meta[name="date"]`,
	}
	for _, sel := range candidates {
		raw, ok := doc.Find(sel).Attr("content")
		if !ok {
			continue
		}
		if ts := parseTime(strings.TrimSpace(raw)); ts != nil {
			return ts
		}
	}
	if raw, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		return parseTime(strings.TrimSpace(raw))
	}
	return nil
}

func parseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &ts
		}
	}
	return nil
}
