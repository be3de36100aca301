package coherency

import (
	"math"
	"regexp"
	"strings"
	"unicode"
)

var tokenSplit = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// tokenize splits text into a lowercase token bag.
func tokenize(text string) map[string]int {
	bag := make(map[string]int)
	for _, tok := range tokenSplit.Split(text, -1) {
		tok = strings.ToLower(tok)
		if len(tok) < 2 {
			continue
		}
		bag[tok]++
	}
	return bag
}

// cosine computes cosine similarity between two token bags.
func cosine(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	for tok, ca := range a {
		na += float64(ca * ca)
		if cb, ok := b[tok]; ok {
			dot += float64(ca * cb)
		}
	}
	for _, cb := range b {
		nb += float64(cb * cb)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var branchKeywords = regexp.MustCompile(`\b(if|elif|for|while|case|catch|except|when)\b|&&|\|\||\?[^.:?]`)

// cyclomaticComplexity approximates McCabe complexity: decision points + 1.
func cyclomaticComplexity(code string) int {
	return len(branchKeywords.FindAllString(code, -1)) + 1
}

// maxNestingDepth tracks brace depth, with an indentation fallback for
// brace-free languages.
func maxNestingDepth(code string) int {
	depth, max := 0, 0
	braced := false
	for _, r := range code {
		switch r {
		case '{':
			braced = true
			depth++
			if depth > max {
				max = depth
			}
		case '}':
			if depth > 0 {
				depth--
			}
		}
	}
	if braced {
		return max
	}
	// Indentation-based estimate (python and friends): 4 spaces or one tab
	// per level.
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		spaces := 0
		for _, r := range line {
			if r == ' ' {
				spaces++
			} else if r == '\t' {
				spaces += 4
			} else {
				break
			}
		}
		if level := spaces / 4; level > max {
			max = level
		}
	}
	return max
}

// nonBlankLines counts lines with any non-whitespace content.
func nonBlankLines(code string) int {
	n := 0
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

var commentLine = regexp.MustCompile(`^\s*(//|#|/\*|\*|--|'''|""")`)

// commentRatio returns the fraction of meaningful lines that carry comments.
func commentRatio(code string) float64 {
	total, comments := 0, 0
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		total++
		if inBlock {
			comments++
			if strings.Contains(trimmed, "*/") {
				inBlock = false
			}
			continue
		}
		if commentLine.MatchString(line) || strings.Contains(trimmed, "//") || strings.HasPrefix(trimmed, "#") {
			comments++
			if strings.HasPrefix(trimmed, "/*") && !strings.Contains(trimmed, "*/") {
				inBlock = true
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(comments) / float64(total)
}

var identPattern = regexp.MustCompile(`\b[a-zA-Z_][a-zA-Z0-9_]*\b`)

// identifierScore rewards descriptive identifier lengths. Single-letter
// names score low, names in the 4–24 range score full marks.
func identifierScore(code string) float64 {
	idents := identPattern.FindAllString(code, -1)
	if len(idents) == 0 {
		return 0.5
	}
	reserved := map[string]bool{
		"if": true, "else": true, "for": true, "while": true, "return": true,
		"func": true, "function": true, "def": true, "var": true, "let": true,
		"const": true, "class": true, "import": true, "from": true, "new": true,
	}
	var sum float64
	n := 0
	for _, id := range idents {
		if reserved[strings.ToLower(id)] {
			continue
		}
		n++
		l := len(id)
		switch {
		case l == 1:
			sum += 0.3
		case l < 4:
			sum += 0.7
		case l <= 24:
			sum += 1.0
		default:
			sum += 0.6
		}
	}
	if n == 0 {
		return 0.5
	}
	return sum / float64(n)
}

// clarityScore combines comment coverage with identifier quality. Comment
// coverage saturates at 30% of meaningful lines.
func clarityScore(code string) float64 {
	comments := commentRatio(code) / 0.3
	if comments > 1 {
		comments = 1
	}
	return clamp01(0.5*comments + 0.5*identifierScore(code))
}

// simplicityScore per the scoring model:
// 1 − min(1, lines/200)·0.5 − min(1, complexity/20)·0.5, floored at 0.
func simplicityScore(code string) float64 {
	lines := math.Min(1, float64(nonBlankLines(code))/200)
	cyclo := math.Min(1, float64(cyclomaticComplexity(code))/20)
	return clamp01(1 - lines*0.5 - cyclo*0.5)
}

// nestingScore: 1 − min(1, depth/6).
func nestingScore(code string) float64 {
	return clamp01(1 - math.Min(1, float64(maxNestingDepth(code))/6))
}

// relevanceScore: cosine similarity between code tokens and description
// tokens; 0.5 (unknown) when no description is available.
func relevanceScore(code, description string) float64 {
	if strings.TrimSpace(description) == "" {
		return 0.5
	}
	return clamp01(cosine(tokenize(code), tokenize(description)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// isBlank reports whether the code contains only whitespace.
func isBlank(code string) bool {
	for _, r := range code {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
