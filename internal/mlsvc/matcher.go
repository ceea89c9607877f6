package mlsvc

import (
	"context"
	"strings"
	"unicode"

	"github.com/localnewslab/newsminer/internal/pipeline"
)

// PlaceMatcher is the built-in entity extractor used when no entity service
// is configured. It scans the body for gazetteer place names; it finds no
// people or organizations, only places.
type PlaceMatcher struct{}

// NewPlaceMatcher returns a ready matcher.
func NewPlaceMatcher() *PlaceMatcher {
	return &PlaceMatcher{}
}

// Entities returns one PLACE entity per gazetteer name that appears in the
// body as a whole word, preserving the gazetteer's casing. An empty result is
// valid; the caller inserts the sentinel row.
func (m *PlaceMatcher) Entities(_ context.Context, body string, gazetteer []pipeline.PlaceEntry) ([]pipeline.ArticleEntity, error) {
	lower := strings.ToLower(body)
	seen := make(map[string]struct{}, len(gazetteer))
	var out []pipeline.ArticleEntity
	for _, place := range gazetteer {
		name := strings.TrimSpace(place.Name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		if containsWord(lower, key) {
			seen[key] = struct{}{}
			out = append(out, pipeline.ArticleEntity{EntityText: name, EntityLabel: "PLACE"})
		}
	}
	return out, nil
}

// containsWord reports whether needle occurs in haystack bounded by
// non-letter runes, so "Columbia" does not match "Columbiana".
func containsWord(haystack, needle string) bool {
	for from := 0; ; {
		idx := strings.Index(haystack[from:], needle)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(needle)
		if boundary(haystack, start-1) && boundary(haystack, end) {
			return true
		}
		from = start + 1
	}
}

func boundary(s string, idx int) bool {
	if idx < 0 || idx >= len(s) {
		return true
	}
	return !unicode.IsLetter(rune(s[idx]))
}
