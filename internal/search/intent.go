package search

import (
	"strings"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

// Intent is one recognized concept in a query.
type Intent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// ParsedIntent is the structured reading of a natural-language query.
type ParsedIntent struct {
	Intents     []Intent         `json:"intents,omitempty"`
	Language    pattern.Language `json:"language,omitempty"`
	Constraints map[string]bool  `json:"constraints,omitempty"`
	// CleanTerm is the query with recognized directives stripped.
	CleanTerm string `json:"clean_term"`
}

// intentVocabulary maps concept names to trigger words. Multi-word
// triggers match as substrings of the lowercased query.
var intentVocabulary = map[string][]string{
	"debounce":       {"debounce", "debouncing"},
	"throttle":       {"throttle", "rate limit", "ratelimit"},
	"retry":          {"retry", "backoff", "reattempt"},
	"cache":          {"cache", "memoize", "memoization"},
	"validation":     {"validate", "validation", "sanitize", "check input"},
	"parsing":        {"parse", "parser", "parsing", "deserialize"},
	"formatting":     {"format", "serialize", "stringify"},
	"sorting":        {"sort", "order by", "rank"},
	"dedup":          {"dedupe", "dedup", "unique", "distinct"},
	"http":           {"http", "fetch", "request", "api call"},
	"date-time":      {"date", "time", "duration", "timestamp", "iso 8601"},
	"string":         {"string", "slug", "slugify", "capitalize", "truncate"},
	"array":          {"array", "list", "chunk", "flatten", "zip"},
	"math":           {"clamp", "round", "random", "average", "sum"},
	"error-handling": {"error", "exception", "try catch", "recover"},
	"concurrency":    {"concurrent", "parallel", "worker", "queue", "mutex"},
	"crypto":         {"hash", "encrypt", "hmac", "digest"},
	"file":           {"file", "read file", "write file", "path"},
}

// languageDirectives recognize "in <language>" phrases.
var languageDirectives = map[string]pattern.Language{
	"in javascript": pattern.LangJavaScript,
	"in js":         pattern.LangJavaScript,
	"in typescript": pattern.LangTypeScript,
	"in ts":         pattern.LangTypeScript,
	"in python":     pattern.LangPython,
	"in py":         pattern.LangPython,
	"in go":         pattern.LangGo,
	"in golang":     pattern.LangGo,
	"in rust":       pattern.LangRust,
	"in java":       pattern.LangJava,
	"in c#":         pattern.LangCSharp,
	"in csharp":     pattern.LangCSharp,
	"in c++":        pattern.LangCPP,
	"in cpp":        pattern.LangCPP,
	"in c":          pattern.LangC,
}

// constraintDirectives recognize qualifier phrases.
var constraintDirectives = map[string]string{
	"without deps":         "no-deps",
	"without dependencies": "no-deps",
	"no deps":              "no-deps",
	"no dependencies":      "no-deps",
	"pure":                 "pure",
	"async":                "async",
	"tested":               "tested",
	"with tests":           "tested",
	"with test":            "tested",
}

// ParseIntent extracts intents, a language directive, and constraint
// qualifiers from a query. Directive phrases are removed from CleanTerm.
func ParseIntent(term string) ParsedIntent {
	lower := strings.ToLower(strings.TrimSpace(term))
	parsed := ParsedIntent{CleanTerm: lower}

	// Longest directives first so "in javascript" wins over "in java".
	bestDirective, bestLang := "", pattern.Language("")
	for phrase, lang := range languageDirectives {
		if containsPhrase(lower, phrase) && len(phrase) > len(bestDirective) {
			bestDirective, bestLang = phrase, lang
		}
	}
	if bestDirective != "" {
		parsed.Language = bestLang
		parsed.CleanTerm = stripPhrase(parsed.CleanTerm, bestDirective)
	}

	for phrase, constraint := range constraintDirectives {
		if containsPhrase(parsed.CleanTerm, phrase) {
			if parsed.Constraints == nil {
				parsed.Constraints = make(map[string]bool)
			}
			parsed.Constraints[constraint] = true
			parsed.CleanTerm = stripPhrase(parsed.CleanTerm, phrase)
		}
	}

	queryTokens := len(tokens(parsed.CleanTerm))
	for name, triggers := range intentVocabulary {
		hits := 0
		for _, trig := range triggers {
			if containsPhrase(parsed.CleanTerm, trig) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		confidence := 0.5 + 0.25*float64(hits)
		if queryTokens <= 2 {
			confidence += 0.15
		}
		if confidence > 1 {
			confidence = 1
		}
		parsed.Intents = append(parsed.Intents, Intent{Name: name, Confidence: confidence})
	}

	parsed.CleanTerm = strings.Join(strings.Fields(parsed.CleanTerm), " ")
	return parsed
}

// containsPhrase matches phrase on word boundaries inside s.
func containsPhrase(s, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		beforeOK := start == 0 || !isWordChar(s[start-1])
		afterOK := end == len(s) || !isWordChar(s[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

func stripPhrase(s, phrase string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, phrase, " ")), " ")
}
