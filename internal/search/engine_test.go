package search

import (
	"testing"
	"time"

	"github.com/remembrance-run/remembrance-core/internal/core/minhash"
	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

type sliceSource []*pattern.Pattern

func (s sliceSource) Snapshot() ([]*pattern.Pattern, error) { return s, nil }

func mkPattern(name string, lang pattern.Language, code string, coherency float64, tags ...string) *pattern.Pattern {
	p := pattern.New(name, code, lang)
	p.Coherency.Total = coherency
	p.CovenantSealed = true
	p.Tags = tags
	p.Signature = minhash.Signature(code)
	now := time.Now().UTC()
	p.LastUsedAt = &now
	return p
}

func testLibrary() sliceSource {
	return sliceSource{
		mkPattern("debounce", pattern.LangJavaScript,
			"function debounce(fn, ms) { let t; return (...a) => { clearTimeout(t); t = setTimeout(() => fn(...a), ms); }; }",
			0.88, "debounce", "timing"),
		mkPattern("throttle", pattern.LangJavaScript,
			"function throttle(fn, ms) { let last = 0; return (...a) => { if (Date.now() - last >= ms) { last = Date.now(); fn(...a); } }; }",
			0.80, "throttle", "timing"),
		mkPattern("debounce", pattern.LangPython,
			"def debounce(wait):\n    def deco(fn):\n        timer = None\n        def wrapped(*args):\n            nonlocal timer\n            if timer: timer.cancel()\n            timer = Timer(wait, fn, args)\n            timer.start()\n        return wrapped\n    return deco",
			0.72, "debounce", "timing"),
		mkPattern("chunk", pattern.LangJavaScript,
			"const chunk = (arr, n) => Array.from({length: Math.ceil(arr.length / n)}, (_, i) => arr.slice(i * n, i * n + n));",
			0.65, "array", "chunk"),
	}
}

func TestSearchHonorsFilters(t *testing.T) {
	e := New(testLibrary(), nil)

	results, err := e.Search("debounce", Options{
		Language:     pattern.LangJavaScript,
		MinCoherency: 0.7,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	for _, r := range results {
		if r.Pattern.Language != pattern.LangJavaScript {
			t.Errorf("language filter violated: got %s", r.Pattern.Language)
		}
		if r.Pattern.Coherency.Total < 0.7 {
			t.Errorf("coherency floor violated: got %.2f", r.Pattern.Coherency.Total)
		}
	}
	if results[0].Pattern.Name != "debounce" {
		t.Errorf("top result = %q, want debounce", results[0].Pattern.Name)
	}
}

func TestSearchRanksExactNameFirst(t *testing.T) {
	e := New(testLibrary(), nil)

	results, err := e.Search("debounce function", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) < 2 {
		t.Fatalf("expected multiple results, got %d", len(results))
	}
	if results[0].Pattern.Name != "debounce" {
		t.Errorf("top result = %q, want debounce", results[0].Pattern.Name)
	}
}

func TestSearchLimit(t *testing.T) {
	e := New(testLibrary(), nil)
	results, err := e.Search("timing", Options{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) > 1 {
		t.Errorf("limit ignored: %d results", len(results))
	}
}

func TestSearchNoMatch(t *testing.T) {
	e := New(testLibrary(), nil)
	results, err := e.Search("quaternion rotation matrix", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestHigherCoherencyNeverRanksLower(t *testing.T) {
	// Two patterns identical except coherency: the higher one must rank
	// at least as high.
	code := "function once(fn) { let done; return (...a) => { if (!done) { done = true; return fn(...a); } }; }"
	low := mkPattern("once", pattern.LangJavaScript, code, 0.6, "utility")
	high := mkPattern("once", pattern.LangJavaScript, code, 0.9, "utility")

	e := New(sliceSource{low, high}, nil)
	results, err := e.Search("once", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Pattern.ID != high.ID {
		t.Error("higher-coherency pattern ranked below its twin")
	}
}

func TestStalenessPenalty(t *testing.T) {
	now := time.Now().UTC()
	fresh := mkPattern("slugify", pattern.LangPython, "def slugify(s):\n    return s.lower().replace(' ', '-')", 0.7, "string")
	stale := mkPattern("slugify", pattern.LangPython, "def slugify(s):\n    return s.lower().replace(' ', '-')", 0.7, "string")
	old := now.Add(-200 * 24 * time.Hour)
	stale.LastUsedAt = &old

	if got := StalenessPenalty(fresh, now); got != 0 {
		t.Errorf("fresh penalty = %.3f, want 0", got)
	}
	if got := StalenessPenalty(stale, now); got != stalenessMaxPen {
		t.Errorf("stale penalty = %.3f, want %.3f", got, stalenessMaxPen)
	}
}

func TestOverEvolutionPenalty(t *testing.T) {
	tests := []struct {
		children int
		want     float64
	}{
		{0, 0}, {3, 0}, {4, 0.05}, {5, 0.10}, {10, 0.20},
	}
	for _, tt := range tests {
		if got := OverEvolutionPenalty(tt.children); got != tt.want {
			t.Errorf("OverEvolutionPenalty(%d) = %.2f, want %.2f", tt.children, got, tt.want)
		}
	}
}

func TestLexicalScoreCountsCodeTokens(t *testing.T) {
	// A pattern with no tags or description still matches a query whose
	// words appear in its source.
	p := mkPattern("debounce", pattern.LangJavaScript,
		"function debounce(fn, ms) { let t; return (...a) => { clearTimeout(t); t = setTimeout(() => fn(...a), ms); }; }",
		0.88)
	p.Tags = nil

	if got := lexicalScore([]string{"debounce", "function"}, p); got != 1 {
		t.Errorf("lexicalScore = %.2f, want 1.00", got)
	}
	if got := lexicalScore([]string{"quaternion"}, p); got != 0 {
		t.Errorf("lexicalScore for unrelated query = %.2f, want 0", got)
	}
}

func TestSmartSearchSpellingCorrection(t *testing.T) {
	e := New(testLibrary(), nil)

	out, err := e.SmartSearch("debounse", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Corrections) == 0 {
		t.Fatal("misspelling not corrected")
	}
	if len(out.Results) == 0 || out.Results[0].Pattern.Name != "debounce" {
		t.Error("corrected query did not find debounce")
	}
}

func TestSmartSearchLanguageFromIntent(t *testing.T) {
	e := New(testLibrary(), nil)

	out, err := e.SmartSearch("debounce in python", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Results) == 0 {
		t.Fatal("no results")
	}
	for _, r := range out.Results {
		if r.Pattern.Language != pattern.LangPython {
			t.Errorf("intent language filter violated: %s", r.Pattern.Language)
		}
	}
}

func TestSmartSearchCrossLanguageFallback(t *testing.T) {
	e := New(testLibrary(), nil)

	// No rust patterns exist; the search must fall back across languages.
	out, err := e.SmartSearch("debounce in rust", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Results) == 0 {
		t.Fatal("cross-language fallback returned nothing")
	}
	if len(out.Suggestions) == 0 {
		t.Error("fallback should explain itself in suggestions")
	}
}

func TestSmartSearchTestedConstraint(t *testing.T) {
	lib := testLibrary()
	lib[0].TestCode = "test('debounce delays', () => {});"
	e := New(lib, nil)

	out, err := e.SmartSearch("debounce with tests", Options{})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range out.Results {
		if !r.Pattern.HasTest() {
			t.Errorf("constraint tested violated by %q", r.Pattern.Name)
		}
	}
}
