package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/remembrance-run/remembrance-core/internal/core/coherency"
	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
	"github.com/remembrance-run/remembrance-core/internal/store"
)

// passEval admits everything at a fixed score so seeding behavior can be
// tested without the real evaluator's scoring noise.
type passEval struct {
	rejectName string
}

func (e passEval) Evaluate(ctx context.Context, code string, opts coherency.Options) (*coherency.Result, error) {
	res := &coherency.Result{
		Valid:          true,
		CovenantSealed: true,
		Language:       opts.Language,
		PatternType:    pattern.TypeUtility,
		Complexity:     pattern.ComplexityLow,
		Score: pattern.CoherencyScore{
			Total: 0.8,
			Breakdown: pattern.Breakdown{
				Correctness: 1, Simplicity: 0.8, Relevance: 0.7,
				Clarity: 0.7, Nesting: 0.9, Security: 1,
			},
		},
	}
	if e.rejectName != "" && opts.Name == e.rejectName {
		res.CovenantSealed = false
		res.Score.Total = 0.2
	}
	return res, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestApplySeedsLibrary(t *testing.T) {
	s := openTestStore(t)

	result, err := Apply(context.Background(), s, passEval{}, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := len(builtins())
	if result.Seeded != want {
		t.Errorf("seeded %d, want %d", result.Seeded, want)
	}
	if result.Rejected != 0 {
		t.Errorf("rejected %d, want 0", result.Rejected)
	}

	patterns, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) != want {
		t.Fatalf("store holds %d patterns, want %d", len(patterns), want)
	}
	for _, p := range patterns {
		if p.Method != pattern.MethodSeed {
			t.Errorf("%s method = %s, want seed", p.Name, p.Method)
		}
		if !p.HasTest() {
			t.Errorf("%s shipped without a test", p.Name)
		}
		if p.IsStub() {
			t.Errorf("%s would be removed as a stub", p.Name)
		}
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	if _, err := Apply(context.Background(), s, passEval{}, nil); err != nil {
		t.Fatal(err)
	}
	second, err := Apply(context.Background(), s, passEval{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if second.Seeded != 0 {
		t.Errorf("re-seed added %d patterns, want 0", second.Seeded)
	}
	if second.Skipped != len(builtins()) {
		t.Errorf("skipped %d, want %d", second.Skipped, len(builtins()))
	}

	patterns, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) != len(builtins()) {
		t.Errorf("store holds %d patterns after re-seed, want %d", len(patterns), len(builtins()))
	}
}

func TestApplyRespectsGate(t *testing.T) {
	s := openTestStore(t)

	result, err := Apply(context.Background(), s, passEval{rejectName: "debounce"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Rejected != 1 {
		t.Errorf("rejected %d, want 1", result.Rejected)
	}
	if result.Seeded != len(builtins())-1 {
		t.Errorf("seeded %d, want %d", result.Seeded, len(builtins())-1)
	}
}

func TestBuiltinsAreWellFormed(t *testing.T) {
	keys := map[string]bool{}
	for _, s := range builtins() {
		if s.Name == "" || s.Code == "" || s.TestCode == "" {
			t.Errorf("seed %q incomplete", s.Name)
		}
		if len(s.Tags) == 0 {
			t.Errorf("seed %q has no tags", s.Name)
		}
		key := strings.ToLower(s.Name) + "/" + string(s.Language)
		if keys[key] {
			t.Errorf("duplicate seed key %s", key)
		}
		keys[key] = true
	}
}
