package coherency

import (
	"regexp"
	"strings"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

type languageCue struct {
	lang    pattern.Language
	pattern *regexp.Regexp
	weight  int
}

var languageCues = []languageCue{
	{pattern.LangGo, regexp.MustCompile(`\bfunc\s+\w+\s*\(|\bpackage\s+\w+|:=|\bgo\s+func\b|\bchan\b`), 2},
	{pattern.LangGo, regexp.MustCompile(`\bfmt\.\w+|\berr\s*!=\s*nil\b`), 3},
	{pattern.LangPython, regexp.MustCompile(`\bdef\s+\w+\s*\(.*\)\s*:|\bimport\s+\w+$|\bself\b|\belif\b`), 2},
	{pattern.LangPython, regexp.MustCompile(`(?m)^\s*#|'''|"""`), 1},
	{pattern.LangTypeScript, regexp.MustCompile(`:\s*(string|number|boolean|void|any)\b|\binterface\s+\w+|\btype\s+\w+\s*=|<\w+>\s*\(`), 3},
	{pattern.LangJavaScript, regexp.MustCompile(`\bfunction\s*\w*\s*\(|=>|\bconst\s+\w+|\blet\s+\w+|\bconsole\.log\b`), 2},
	{pattern.LangRust, regexp.MustCompile(`\bfn\s+\w+|\blet\s+mut\b|\bimpl\s+\w+|::<|&str\b|\bmatch\s+\w+\s*\{`), 3},
	{pattern.LangJava, regexp.MustCompile(`\bpublic\s+(static\s+)?(void|class|int|String)\b|\bSystem\.out\.print`), 3},
	{pattern.LangCSharp, regexp.MustCompile(`\busing\s+System\b|\bnamespace\s+\w+|\bConsole\.Write`), 3},
	{pattern.LangCPP, regexp.MustCompile(`#include\s*<(iostream|vector|string|map)>|\bstd::|\bcout\b`), 3},
	{pattern.LangC, regexp.MustCompile(`#include\s*<(stdio|stdlib|string)\.h>|\bprintf\s*\(|\bmalloc\s*\(`), 3},
}

// DetectLanguage infers a language from syntactic cues. Returns LangUnknown
// when no cue fires.
func DetectLanguage(code string) pattern.Language {
	scores := make(map[pattern.Language]int)
	for _, cue := range languageCues {
		if n := len(cue.pattern.FindAllString(code, 4)); n > 0 {
			scores[cue.lang] += cue.weight * n
		}
	}

	best := pattern.LangUnknown
	bestScore := 0
	for lang, score := range scores {
		if score > bestScore {
			best, bestScore = lang, score
		}
	}

	// TypeScript cues subsume JavaScript ones; prefer TS only when its own
	// cues fired.
	if best == pattern.LangJavaScript && scores[pattern.LangTypeScript] >= scores[pattern.LangJavaScript] {
		best = pattern.LangTypeScript
	}
	return best
}

type typeCue struct {
	ptype    pattern.Type
	keywords []string
}

var typeCues = []typeCue{
	{pattern.TypeValidation, []string{"validate", "isvalid", "sanitize", "check", "verify", "assert"}},
	{pattern.TypeDataStructure, []string{"stack", "queue", "tree", "heap", "linkedlist", "trie", "graph", "node"}},
	{pattern.TypeAlgorithm, []string{"sort", "search", "binary", "traverse", "dijkstra", "recursion", "memoize", "dynamic"}},
	{pattern.TypeDesignPattern, []string{"singleton", "factory", "observer", "adapter", "decorator", "strategy", "builder"}},
	{pattern.TypeUtility, []string{"debounce", "throttle", "clamp", "chunk", "format", "parse", "convert", "slugify", "helper", "util"}},
}

// ClassifyType buckets code into a pattern type from name, code, and
// description keywords. First matching bucket wins, TypeOther otherwise.
func ClassifyType(name, code, description string) pattern.Type {
	haystack := strings.ToLower(name + " " + description + " " + code)
	for _, cue := range typeCues {
		for _, kw := range cue.keywords {
			if strings.Contains(haystack, kw) {
				return cue.ptype
			}
		}
	}
	return pattern.TypeOther
}

// ClassifyComplexity derives a coarse complexity grade from size, branching,
// and nesting.
func ClassifyComplexity(code string) pattern.Complexity {
	lines := nonBlankLines(code)
	cyclo := cyclomaticComplexity(code)
	depth := maxNestingDepth(code)

	score := 0
	if lines > 40 {
		score++
	}
	if lines > 120 {
		score++
	}
	if cyclo > 6 {
		score++
	}
	if cyclo > 15 {
		score++
	}
	if depth > 3 {
		score++
	}

	switch {
	case score >= 3:
		return pattern.ComplexityHigh
	case score >= 1:
		return pattern.ComplexityMedium
	default:
		return pattern.ComplexityLow
	}
}
