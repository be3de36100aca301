package search

import (
	"strings"
	"unicode"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

// tokens splits text into lowercase alphanumeric tokens of length >= 2.
func tokens(s string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() >= 2 {
			out = append(out, cur.String())
		}
		cur.Reset()
	}
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}

// lexicalScore measures token overlap between the query and the pattern's
// name, tags, description, and code body, with a prefix boost on name
// matches. Code tokens count so a sparse record still matches queries
// phrased in the vocabulary of its own source.
func lexicalScore(queryTokens []string, p *pattern.Pattern) float64 {
	if len(queryTokens) == 0 {
		return 0
	}

	nameTokens := tokens(p.Name)
	docTokens := make(map[string]bool, len(nameTokens)+len(p.Tags)+8)
	for _, t := range nameTokens {
		docTokens[t] = true
	}
	for _, tag := range p.Tags {
		for _, t := range tokens(tag) {
			docTokens[t] = true
		}
	}
	for _, t := range tokens(p.Description) {
		docTokens[t] = true
	}
	for _, t := range tokens(p.Code) {
		docTokens[t] = true
	}

	matched := 0
	prefix := false
	for _, q := range queryTokens {
		if docTokens[q] {
			matched++
			continue
		}
		for _, n := range nameTokens {
			if strings.HasPrefix(n, q) {
				matched++
				prefix = true
				break
			}
		}
	}

	score := float64(matched) / float64(len(queryTokens))
	if prefix {
		score += 0.2
	}
	if strings.HasPrefix(strings.ToLower(p.Name), strings.ToLower(strings.Join(queryTokens, " "))) {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return score
}
