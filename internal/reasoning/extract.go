package reasoning

import (
	"regexp"
	"strings"
)

// Candidate is one fact pulled out of free text.
type Candidate struct {
	Content string
	// RelatedContent is the second half of a two-sided template
	// ("X caused Y"); empty for single-sided templates.
	RelatedContent string
	Relation       string
	Confidence     float64
	// Origin distinguishes direct template matches from inferred facts.
	Origin string
}

const (
	baseConfidence = 0.7
	minFactRunes   = 12
)

type template struct {
	re       *regexp.Regexp
	relation string
	twoSided bool
}

// Templates are intentionally rigid: they trade recall for precision,
// since every match becomes a durable node.
var templates = []template{
	{regexp.MustCompile(`(?i)\b(?:decided to|decision(?: was)?(?: made)? to|we chose to|chose to)\s+([^.!?\n]+)`), "decision_made", false},
	{regexp.MustCompile(`(?i)\b(?:learned that|discovered that|realized that)\s+([^.!?\n]+)`), "learned_that", false},
	{regexp.MustCompile(`(?i)([^.!?\n]{4,}?)\s+(?:was|were|got)?\s*fixed by\s+([^.!?\n]+)`), "fixed_by", true},
	{regexp.MustCompile(`(?i)([^.!?\n]{4,}?)\s+caused\s+([^.!?\n]+)`), "caused", true},
	{regexp.MustCompile(`(?i)([^.!?\n]{4,}?)\s+requires\s+([^.!?\n]+)`), "requires", true},
}

// Extract applies the fixed pattern templates to text. Candidates
// shorter than the minimum length are discarded as noise.
func Extract(text string) []Candidate {
	var out []Candidate
	for _, tpl := range templates {
		for _, m := range tpl.re.FindAllStringSubmatch(text, -1) {
			head := clean(m[1])
			if tooShort(head) {
				continue
			}
			c := Candidate{
				Content:    head,
				Relation:   tpl.relation,
				Confidence: baseConfidence,
				Origin:     "direct",
			}
			if tpl.twoSided {
				tail := clean(m[2])
				if tooShort(tail) {
					continue
				}
				c.RelatedContent = tail
			}
			out = append(out, c)
		}
	}
	return out
}

func clean(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"'`))
}

func tooShort(s string) bool {
	return len([]rune(s)) < minFactRunes
}
