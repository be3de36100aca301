package resolve

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/remembrance-run/remembrance-core/internal/core/minhash"
	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
	"github.com/remembrance-run/remembrance-core/internal/search"
)

type sliceSource []*pattern.Pattern

func (s sliceSource) Snapshot() ([]*pattern.Pattern, error) { return s, nil }

func libraryPattern(name string, lang pattern.Language, code, description string, coherency float64, tags ...string) *pattern.Pattern {
	p := pattern.New(name, code, lang)
	p.Description = description
	p.Coherency.Total = coherency
	p.CovenantSealed = true
	p.Tags = tags
	p.Signature = minhash.Signature(code)
	now := time.Now().UTC()
	p.LastUsedAt = &now
	return p
}

// risingEvaluate scores code by counting refinement markers, so each
// refinement raises the score.
func risingEvaluate(base, step float64) Evaluate {
	return func(ctx context.Context, code string, p *pattern.Pattern) (float64, []string, error) {
		score := base + step*float64(strings.Count(code, "// rev"))
		if score > 1 {
			score = 1
		}
		return score, []string{"tighten it up"}, nil
	}
}

type markerGen struct{}

func (markerGen) Variant(ctx context.Context, code string, lang pattern.Language, hint string) (string, error) {
	return code, nil
}
func (markerGen) Transpile(ctx context.Context, code string, from, to pattern.Language) (string, error) {
	return code, nil
}
func (markerGen) SynthesizeTest(ctx context.Context, code string, lang pattern.Language) (string, error) {
	return "", nil
}
func (markerGen) Refine(ctx context.Context, code string, issues []string, iteration int) (string, error) {
	return code + "\n// rev", nil
}

func newResolver(src sliceSource, evaluate Evaluate) *Resolver {
	engine := search.New(src, nil)
	return New(engine, markerGen{}, evaluate, DefaultConfig(), nil)
}

func TestResolvePullPath(t *testing.T) {
	debounce := libraryPattern("debounce", pattern.LangJavaScript,
		"function debounce(fn,ms){let t;return(...a)=>{clearTimeout(t);t=setTimeout(()=>fn(...a),ms);};}",
		"debounce function", 0.88, "debounce", "timing")
	debounce.Reliability = pattern.Reliability{UsageCount: 12, SuccessCount: 11}
	debounce.Votes = pattern.Votes{Upvotes: 3, Score: 2.0}

	r := newResolver(sliceSource{debounce}, nil)
	out, err := r.Resolve(context.Background(), Request{
		Description: "debounce function",
		Language:    pattern.LangJavaScript,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Decision != DecisionPull {
		t.Fatalf("decision = %s (confidence %.3f), want PULL", out.Decision, out.Confidence)
	}
	if out.Pattern == nil || out.Pattern.Name != "debounce" {
		t.Error("PULL must return the matched pattern")
	}
	if out.Confidence < 0.85 {
		t.Errorf("confidence = %.3f, want >= 0.85", out.Confidence)
	}
	if out.Healing != nil {
		t.Error("PULL must not carry a healing trace")
	}
	if out.Whisper == "" {
		t.Error("PULL should whisper")
	}
}

func TestResolveColdLibraryPull(t *testing.T) {
	// One bare pattern: no tags, no description, no usage history, no
	// votes. A proven, tested match must still clear the pull threshold.
	debounce := pattern.New("debounce",
		"function debounce(fn,ms){let t;return(...a)=>{clearTimeout(t);t=setTimeout(()=>fn(...a),ms);};}",
		pattern.LangJavaScript)
	debounce.Coherency.Total = 0.88
	debounce.CovenantSealed = true
	debounce.TestCode = "test('debounce delays calls', () => {});"
	debounce.Signature = minhash.Signature(debounce.Code)

	r := newResolver(sliceSource{debounce}, nil)
	out, err := r.Resolve(context.Background(), Request{
		Description: "debounce function",
		Language:    pattern.LangJavaScript,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Decision != DecisionPull {
		t.Fatalf("decision = %s (confidence %.3f), want PULL", out.Decision, out.Confidence)
	}
	if out.Pattern == nil || out.Pattern.Name != "debounce" {
		t.Error("PULL must return the matched pattern")
	}
	if out.Confidence < 0.85 {
		t.Errorf("confidence = %.3f, want >= 0.85", out.Confidence)
	}
	if out.Healing != nil {
		t.Error("PULL must not carry a healing trace")
	}
}

func TestResolveEvolveWithHealing(t *testing.T) {
	pyDebounce := libraryPattern("debounce", pattern.LangPython,
		"def debounce(wait):\n    def deco(fn):\n        return fn\n    return deco",
		"debounce decorator", 0.72, "debounce", "timing")

	r := newResolver(sliceSource{pyDebounce}, risingEvaluate(0.72, 0.05))
	out, err := r.Resolve(context.Background(), Request{
		Description: "debounce",
		Language:    pattern.LangJavaScript,
		Heal:        true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Decision != DecisionEvolve {
		t.Fatalf("decision = %s (confidence %.3f), want EVOLVE", out.Decision, out.Confidence)
	}
	if out.Healing == nil {
		t.Fatal("EVOLVE with heal=true must carry a healing trace")
	}
	if out.Healing.Loops < 1 {
		t.Errorf("healing loops = %d, want >= 1", out.Healing.Loops)
	}
	if out.HealedCode == "" || out.HealedCode == pyDebounce.Code {
		t.Error("healed code must differ from the source")
	}
	if out.Healing.FinalCoherence <= out.Healing.OriginalCoherence {
		t.Errorf("healing did not improve: %.3f -> %.3f",
			out.Healing.OriginalCoherence, out.Healing.FinalCoherence)
	}
}

func TestResolveGenerateOnEmptyLibrary(t *testing.T) {
	r := newResolver(sliceSource{}, nil)
	out, err := r.Resolve(context.Background(), Request{Description: "parse ISO 8601 duration"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Decision != DecisionGenerate {
		t.Fatalf("decision = %s, want GENERATE", out.Decision)
	}
	if out.Pattern != nil {
		t.Error("GENERATE returns no pattern")
	}
	if !strings.Contains(out.Reasoning, "empty") && !strings.Contains(out.Reasoning, "no match") {
		t.Errorf("reasoning %q should mention the empty library", out.Reasoning)
	}
}

func TestResolveGenerateOnWeakMatch(t *testing.T) {
	unrelated := libraryPattern("quicksort", pattern.LangGo,
		"func quicksort(a []int) []int {\n\tif len(a) < 2 {\n\t\treturn a\n\t}\n\treturn a\n}",
		"sort integers", 0.7, "sorting", "algorithm")

	r := newResolver(sliceSource{unrelated}, nil)
	out, err := r.Resolve(context.Background(), Request{Description: "websocket reconnect backoff"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Decision != DecisionGenerate {
		t.Fatalf("decision = %s, want GENERATE for unrelated library", out.Decision)
	}
}

func TestResolveAlternativesListed(t *testing.T) {
	a := libraryPattern("debounce", pattern.LangJavaScript,
		"function debounce(fn,ms){let t;return(...a)=>{clearTimeout(t);t=setTimeout(()=>fn(...a),ms);};}",
		"debounce function", 0.88, "debounce", "timing")
	b := libraryPattern("throttle", pattern.LangJavaScript,
		"function throttle(fn,ms){let l=0;return(...a)=>{if(Date.now()-l>=ms){l=Date.now();fn(...a);}};}",
		"throttle or debounce alternative for rate limiting", 0.8, "throttle", "timing", "debounce")

	r := newResolver(sliceSource{a, b}, nil)
	out, err := r.Resolve(context.Background(), Request{Description: "debounce"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Pattern == nil || out.Pattern.Name != "debounce" {
		t.Fatalf("best pattern = %v, want debounce", out.Pattern)
	}
	if len(out.Alternatives) != 1 || out.Alternatives[0].Name != "throttle" {
		t.Errorf("alternatives = %v, want [throttle]", out.Alternatives)
	}
}

func TestFitMonotoneInCoherency(t *testing.T) {
	code := "function once(fn){let d;return(...a)=>{if(!d){d=true;return fn(...a);}};}"
	now := time.Now().UTC()

	mk := func(coherency float64) search.Result {
		p := libraryPattern("once", pattern.LangJavaScript, code, "run once", coherency, "utility")
		return search.Result{Pattern: p, Score: 0.7, Textual: 0.7}
	}

	prev := -1.0
	for _, c := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		f := fit(mk(c), now)
		if f < prev {
			t.Errorf("fit decreased when coherency rose to %.1f: %.3f < %.3f", c, f, prev)
		}
		prev = f
	}
}

func TestWhisperTiers(t *testing.T) {
	r := newResolver(sliceSource{}, nil)
	low := r.whisper(0.2, "id-1")
	mid := r.whisper(0.5, "id-1")
	high := r.whisper(0.9, "id-1")
	for name, w := range map[string]string{"low": low, "mid": mid, "high": high} {
		if w == "" {
			t.Errorf("%s tier produced no whisper", name)
		}
	}
	if low == high {
		t.Error("tiers should draw from distinct pools")
	}
	if r.whisper(0.9, "id-1") != high {
		t.Error("whisper selection must be stable for the same pattern")
	}
}
