package stats

import (
	"strings"
	"testing"
	"time"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
	"github.com/remembrance-run/remembrance-core/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func usedPattern(name string, lang pattern.Language, uses, successes int) *pattern.Pattern {
	p := pattern.New(name, "function "+name+"(x) {\n  const y = x * 2;\n  return y;\n}", lang)
	p.Coherency = pattern.CoherencyScore{
		Total: 0.8,
		Breakdown: pattern.Breakdown{
			Correctness: 1, Simplicity: 0.8, Relevance: 0.7,
			Clarity: 0.7, Nesting: 0.9, Security: 1,
		},
	}
	p.CovenantSealed = true
	p.Type = pattern.TypeUtility
	p.Reliability.UsageCount = uses
	p.Reliability.SuccessCount = successes
	p.TestCode = "assert(true);"
	if uses > 0 {
		used := time.Now().UTC().Truncate(time.Second)
		p.LastUsedAt = &used
	}
	return p
}

func TestCollect(t *testing.T) {
	s := openTestStore(t)

	for _, p := range []*pattern.Pattern{
		usedPattern("debounce", pattern.LangJavaScript, 12, 11),
		usedPattern("chunk", pattern.LangPython, 3, 2),
		usedPattern("clamp", pattern.LangJavaScript, 0, 0),
	} {
		if _, err := s.InsertPattern(p, store.InsertOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := Collect(s)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if sum.Patterns != 3 {
		t.Errorf("patterns = %d, want 3", sum.Patterns)
	}
	if sum.TotalUses != 15 || sum.TotalSuccess != 13 {
		t.Errorf("usage = %d/%d, want 15/13", sum.TotalUses, sum.TotalSuccess)
	}
	if sum.Tested != 3 {
		t.Errorf("tested = %d, want 3", sum.Tested)
	}
	if sum.ByLanguage["javascript"] != 2 {
		t.Errorf("javascript count = %d, want 2", sum.ByLanguage["javascript"])
	}
	if sum.LastUsed == nil {
		t.Error("last used should be set")
	}
	if sum.OldestCreated == nil {
		t.Error("oldest created should be set")
	}
}

func TestRenderMentionsEverySection(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.InsertPattern(usedPattern("debounce", pattern.LangJavaScript, 5, 5), store.InsertOptions{}); err != nil {
		t.Fatal(err)
	}

	sum, err := Collect(s)
	if err != nil {
		t.Fatal(err)
	}
	out := sum.Render()
	for _, want := range []string{"Patterns:", "Avg coherency:", "By language:", "javascript"} {
		if !strings.Contains(out, want) {
			t.Errorf("render output missing %q:\n%s", want, out)
		}
	}
}

func TestTopUsed(t *testing.T) {
	s := openTestStore(t)
	for _, p := range []*pattern.Pattern{
		usedPattern("debounce", pattern.LangJavaScript, 12, 11),
		usedPattern("chunk", pattern.LangPython, 3, 2),
		usedPattern("clamp", pattern.LangJavaScript, 20, 18),
	} {
		if _, err := s.InsertPattern(p, store.InsertOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	top, err := TopUsed(s, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 {
		t.Fatalf("got %d patterns, want 2", len(top))
	}
	if top[0].Name != "clamp" || top[1].Name != "debounce" {
		t.Errorf("order = %s, %s; want clamp, debounce", top[0].Name, top[1].Name)
	}
}
