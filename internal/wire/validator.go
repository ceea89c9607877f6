// Package wire decides whether an extracted article is wire-service
// syndication or locally reported content.
package wire

import (
	"regexp"
	"strings"
)

// Verdict is the validator's decision for one article.
type Verdict string

// Possible verdicts. VerdictNone means no dateline signal existed and the
// article keeps the pipeline's default status.
const (
	VerdictWire  Verdict = "wire"
	VerdictLocal Verdict = "local"
	VerdictNone  Verdict = "none"
)

// Config seeds the validator's lists. WireServices and LocalCallsigns are
// matched case-insensitively against the dateline identifier; LocalityKeywords
// maps a publisher host to the place names of its coverage area.
type Config struct {
	WireServices     []string
	LocalCallsigns   []string
	LocalityKeywords map[string][]string
}

// Validator implements the cross-validated wire-service detection cascade.
// It is a deterministic rule cascade; ambiguity resolves toward not-wire so a
// local journalist's byline is never mislabeled as syndication.
type Validator struct {
	wireServices map[string]struct{}
	callsigns    map[string]struct{}
	locality     map[string][]string
}

var (
	// Dateline shape: "CITY, St. (IDENTIFIER)" with an optional em/en dash
	// after the parenthetical. The city part is upper case.
	datelineRE = regexp.MustCompile(`^([A-Z][A-Z'’.\- ]*[A-Z.])(?:,\s*[A-Za-z.]+)?\s*\(([^)]+)\)`)

	// Generic FCC broadcast callsign: K or W followed by 3-4 capitals.
	callsignRE = regexp.MustCompile(`^[KW][A-Z]{3,4}(?:-(?:TV|AM|FM))?$`)

	// Personal byline shape: "FirstName LastName", optional middle initial.
	personalNameRE = regexp.MustCompile(`^[A-Z][a-z'’.\-]+(?: [A-Z]\.?)? [A-Z][a-z'’.\-]+$`)
)

// NewValidator builds a Validator from the configured lists.
func NewValidator(cfg Config) *Validator {
	v := &Validator{
		wireServices: make(map[string]struct{}, len(cfg.WireServices)),
		callsigns:    make(map[string]struct{}, len(cfg.LocalCallsigns)),
		locality:     make(map[string][]string, len(cfg.LocalityKeywords)),
	}
	for _, s := range cfg.WireServices {
		v.wireServices[normalizeIdentifier(s)] = struct{}{}
	}
	for _, s := range cfg.LocalCallsigns {
		v.callsigns[normalizeIdentifier(s)] = struct{}{}
	}
	for host, keywords := range cfg.LocalityKeywords {
		lowered := make([]string, 0, len(keywords))
		for _, kw := range keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				lowered = append(lowered, kw)
			}
		}
		v.locality[strings.ToLower(host)] = lowered
	}
	return v
}

// Input carries the signals Classify cross-validates.
type Input struct {
	Host   string
	URL    string
	Byline string
	Body   string
}

// Classify runs the rule cascade. An article is wire only when the dateline
// identifier is whitelisted AND neither the byline shape nor the geographic
// locality overrides the match.
func (v *Validator) Classify(in Input) Verdict {
	identifier, hasDateline := v.extractDatelineIdentifier(in.Body)
	if !hasDateline {
		return VerdictNone
	}

	// Local broadcasters format datelines exactly like wire services with
	// their own call sign in the parentheses; never classify those as wire.
	if v.isLocalCallsign(identifier) {
		return VerdictLocal
	}

	if !v.isWireService(identifier) {
		return VerdictLocal
	}

	// Wire services byline as the organization, not a person. A personal
	// byline downgrades even a whitelisted dateline match.
	if v.isPersonalByline(in.Byline) {
		return VerdictLocal
	}

	if v.localityHits(in.Host, in.URL, in.Body) >= 2 {
		return VerdictLocal
	}

	return VerdictWire
}

func (v *Validator) extractDatelineIdentifier(body string) (string, bool) {
	line := firstNonEmptyLine(body)
	if line == "" {
		return "", false
	}
	m := datelineRE.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return normalizeIdentifier(m[2]), true
}

func (v *Validator) isLocalCallsign(identifier string) bool {
	if _, ok := v.callsigns[identifier]; ok {
		return true
	}
	return callsignRE.MatchString(identifier)
}

func (v *Validator) isWireService(identifier string) bool {
	_, ok := v.wireServices[identifier]
	return ok
}

func (v *Validator) isPersonalByline(byline string) bool {
	byline = strings.TrimSpace(byline)
	byline = strings.TrimPrefix(byline, "By ")
	byline = strings.TrimPrefix(byline, "by ")
	if byline == "" {
		return false
	}
	// An organization name on the whitelist is never a personal name, even
	// when it happens to have the FirstName LastName shape.
	if _, ok := v.wireServices[normalizeIdentifier(byline)]; ok {
		return false
	}
	return personalNameRE.MatchString(byline)
}

func (v *Validator) localityHits(host, url, body string) int {
	keywords := v.locality[strings.ToLower(host)]
	if len(keywords) == 0 {
		return 0
	}
	haystack := strings.ToLower(url) + "\n" + strings.ToLower(body)
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			hits++
		}
	}
	return hits
}

func firstNonEmptyLine(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

func normalizeIdentifier(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
