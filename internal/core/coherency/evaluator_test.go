package coherency

import (
	"context"
	"strings"
	"testing"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

// fakeRunner lets tests dictate the correctness outcome.
type fakeRunner struct {
	passed bool
	err    error
}

func (f fakeRunner) Run(context.Context, string, string, pattern.Language) (bool, string, error) {
	return f.passed, "", f.err
}

func newTestEvaluator(t *testing.T, runner TestRunner) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(DefaultWeights(), NewCovenant(false), runner, nil)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return e
}

const debounceJS = `// Debounce a function by the given delay.
function debounce(fn, ms) {
	let timer;
	return (...args) => {
		clearTimeout(timer);
		timer = setTimeout(() => fn(...args), ms);
	};
}`

func TestEvaluatePassingTest(t *testing.T) {
	e := newTestEvaluator(t, fakeRunner{passed: true})

	res, err := e.Evaluate(context.Background(), debounceJS, Options{
		Name:        "debounce",
		Description: "debounce function calls by a delay",
		TestCode:    "assert(typeof debounce === 'function')",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if res.Language != pattern.LangJavaScript {
		t.Errorf("language = %s, want javascript", res.Language)
	}
	if !res.TestRan || !res.TestPassed {
		t.Error("test should have run and passed")
	}
	if res.Score.Breakdown.Correctness != 1.0 {
		t.Errorf("correctness = %.2f, want 1.0", res.Score.Breakdown.Correctness)
	}
	if !res.CovenantSealed {
		t.Error("clean code should seal the covenant")
	}
	if !res.Valid {
		t.Errorf("expected valid result, total=%.3f breakdown=%+v", res.Score.Total, res.Score.Breakdown)
	}
	if res.Score.Total < MinProvenCoherency {
		t.Errorf("total %.3f below proven floor", res.Score.Total)
	}
}

func TestEvaluateFailingTestRejects(t *testing.T) {
	e := newTestEvaluator(t, fakeRunner{passed: false})

	res, err := e.Evaluate(context.Background(), debounceJS, Options{
		Name:     "debounce",
		TestCode: "assert(false)",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Valid {
		t.Error("failing test must reject the pattern")
	}
	if res.Score.Breakdown.Correctness != 0.0 {
		t.Errorf("correctness = %.2f, want 0.0", res.Score.Breakdown.Correctness)
	}
	found := false
	for _, fb := range res.Feedback {
		if fb.Dimension == "correctness" {
			found = true
		}
	}
	if !found {
		t.Error("feedback should mention the failing proof")
	}
}

func TestEvaluateNoTestIsUnknown(t *testing.T) {
	e := newTestEvaluator(t, NoopRunner{})
	res, err := e.Evaluate(context.Background(), debounceJS, Options{Name: "debounce"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.TestRan {
		t.Error("no test code supplied, nothing should run")
	}
	if res.Score.Breakdown.Correctness != 0.5 {
		t.Errorf("correctness = %.2f, want unknown 0.5", res.Score.Breakdown.Correctness)
	}
}

func TestEvaluateBlankCodeFails(t *testing.T) {
	e := newTestEvaluator(t, NoopRunner{})
	if _, err := e.Evaluate(context.Background(), "   \n\t ", Options{}); err == nil {
		t.Error("blank unidentifiable code must fail evaluation")
	}
}

func TestEvaluateCovenantBreakRejects(t *testing.T) {
	e := newTestEvaluator(t, fakeRunner{passed: true})
	code := `function f(id) { return db.run("DELETE FROM users WHERE id=" + id); }`
	res, err := e.Evaluate(context.Background(), code, Options{TestCode: "t()"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Valid || res.CovenantSealed {
		t.Error("critical violation must reject and unseal")
	}
	if res.Score.Breakdown.Security > 0.5 {
		t.Errorf("security = %.2f, want <= 0.5", res.Score.Breakdown.Security)
	}
}

func TestEvaluateLanguageOverride(t *testing.T) {
	e := newTestEvaluator(t, NoopRunner{})
	res, err := e.Evaluate(context.Background(), "x = 1", Options{Language: pattern.LangPython})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Language != pattern.LangPython {
		t.Errorf("language = %s, want python (explicit)", res.Language)
	}
}

func TestWeightsMustSumToOne(t *testing.T) {
	w := DefaultWeights()
	if err := w.Validate(); err != nil {
		t.Errorf("default weights invalid: %v", err)
	}
	w.Security = 0.5
	if _, err := NewEvaluator(w, nil, nil, nil); err == nil {
		t.Error("unbalanced weights must be rejected")
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name string
		code string
		want pattern.Language
	}{
		{"go", "package main\n\nfunc main() {\n\tif err != nil {\n\t\treturn\n\t}\n}", pattern.LangGo},
		{"python", "def greet(name):\n    return f'hi {name}'\n", pattern.LangPython},
		{"typescript", "interface User { name: string }\nconst f = (u: User): string => u.name", pattern.LangTypeScript},
		{"javascript", "const add = (a, b) => a + b;\nconsole.log(add(1, 2));", pattern.LangJavaScript},
		{"rust", "fn main() {\n    let mut x = 1;\n    match x { _ => () }\n}", pattern.LangRust},
		{"java", "public class Main { public static void main(String[] a) { System.out.println(1); } }", pattern.LangJava},
		{"c", "#include <stdio.h>\nint main() { printf(\"hi\"); }", pattern.LangC},
		{"unknown", "lorem ipsum dolor", pattern.LangUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectLanguage(tt.code); got != tt.want {
				t.Errorf("DetectLanguage = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyType(t *testing.T) {
	tests := []struct {
		name string
		want pattern.Type
	}{
		{"debounce helper", pattern.TypeUtility},
		{"binary search", pattern.TypeAlgorithm},
		{"singleton factory", pattern.TypeDesignPattern},
		{"validate email", pattern.TypeValidation},
		{"linkedlist node", pattern.TypeDataStructure},
	}
	for _, tt := range tests {
		if got := ClassifyType(tt.name, "", ""); got != tt.want {
			t.Errorf("ClassifyType(%q) = %s, want %s", tt.name, got, tt.want)
		}
	}
	if got := ClassifyType("mystery", "abc", ""); got != pattern.TypeOther {
		t.Errorf("unclassifiable = %s, want other", got)
	}
}

func TestClassifyComplexity(t *testing.T) {
	low := "func add(a, b int) int { return a + b }"
	if got := ClassifyComplexity(low); got != pattern.ComplexityLow {
		t.Errorf("low = %s", got)
	}

	var b strings.Builder
	for i := 0; i < 60; i++ {
		b.WriteString("if x > 0 {\n\tif y > 0 {\n\t\tfor i := 0; i < 10; i++ {\n\t\t\tdo()\n\t\t}\n\t}\n}\n")
	}
	if got := ClassifyComplexity(b.String()); got != pattern.ComplexityHigh {
		t.Errorf("high = %s", got)
	}
}

func TestSimplicityPenalizesSize(t *testing.T) {
	small := simplicityScore("return 1")
	var b strings.Builder
	for i := 0; i < 250; i++ {
		b.WriteString("line := of && code || here\n")
	}
	big := simplicityScore(b.String())
	if big >= small {
		t.Errorf("big code (%.2f) should score below small (%.2f)", big, small)
	}
}

func TestNestingScore(t *testing.T) {
	flat := nestingScore("a = 1\nb = 2")
	deep := nestingScore("{ { { { { { { x } } } } } } }")
	if flat != 1.0 {
		t.Errorf("flat = %.2f, want 1.0", flat)
	}
	if deep != 0.0 {
		t.Errorf("depth 7 = %.2f, want 0.0", deep)
	}
}

func TestRelevanceDefaultsWithoutDescription(t *testing.T) {
	if got := relevanceScore("code here", ""); got != 0.5 {
		t.Errorf("relevance = %.2f, want 0.5", got)
	}
	matched := relevanceScore("function debounce(fn, delay)", "debounce a function with delay")
	unrelated := relevanceScore("function debounce(fn, delay)", "parse xml namespaces")
	if matched <= unrelated {
		t.Errorf("matched (%.2f) should beat unrelated (%.2f)", matched, unrelated)
	}
}
