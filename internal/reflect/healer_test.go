package reflect

import (
	"context"
	"testing"

	"github.com/remembrance-run/remembrance-core/internal/core/coherency"
	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

// scoreByRevision scores code by how many refinement markers it carries.
type scoreByRevision struct {
	base    float64
	step    float64
	unseal  bool
	history []string
}

func (s *scoreByRevision) Evaluate(ctx context.Context, code string, opts coherency.Options) (*coherency.Result, error) {
	s.history = append(s.history, code)
	revs := 0
	for i := 0; i+6 <= len(code); i++ {
		if code[i:i+6] == "// rev" {
			revs++
		}
	}
	score := s.base + s.step*float64(revs)
	if score > 1 {
		score = 1
	}
	return &coherency.Result{
		Valid:          score >= coherency.MinProvenCoherency,
		Score:          pattern.CoherencyScore{Total: score},
		CovenantSealed: !s.unseal,
	}, nil
}

type markerRefiner struct{ n int }

func (m *markerRefiner) Refine(ctx context.Context, code string, issues []string, iteration int) (string, error) {
	m.n++
	return code + "\n// rev", nil
}

func (m *markerRefiner) Variant(ctx context.Context, code string, lang pattern.Language, hint string) (string, error) {
	return code, nil
}
func (m *markerRefiner) Transpile(ctx context.Context, code string, from, to pattern.Language) (string, error) {
	return code, nil
}
func (m *markerRefiner) SynthesizeTest(ctx context.Context, code string, lang pattern.Language) (string, error) {
	return "", nil
}

func healSubject(coherencyTotal float64) *pattern.Pattern {
	p := pattern.New("subject", "function subject() { return 1; }", pattern.LangJavaScript)
	p.Coherency.Total = coherencyTotal
	return p
}

func TestHealAcceptsImprovement(t *testing.T) {
	eval := &scoreByRevision{base: 0.42, step: 0.2}
	h := NewHealer(eval, &markerRefiner{}, 3, nil)

	out, err := h.Heal(context.Background(), healSubject(0.42), "feedback-trigger")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Healed {
		t.Fatalf("heal rejected: %s", out.Reason)
	}
	if out.NewScore.Total <= out.OldTotal+minHealImprovement {
		t.Errorf("improvement %.3f -> %.3f below threshold", out.OldTotal, out.NewScore.Total)
	}
	if out.NewCode == "" {
		t.Error("accepted heal must carry the rewritten code")
	}
	if out.HistoryEntry.TriggeredBy != "feedback-trigger" {
		t.Error("history entry must record the trigger")
	}
	if out.HistoryEntry.NewCoherency <= out.HistoryEntry.OldCoherency {
		t.Error("history entry must record the improvement")
	}
}

func TestHealRejectsInsufficientImprovement(t *testing.T) {
	// Each refinement adds only 0.001: below the acceptance threshold.
	eval := &scoreByRevision{base: 0.42, step: 0.001}
	h := NewHealer(eval, &markerRefiner{}, 3, nil)

	out, err := h.Heal(context.Background(), healSubject(0.42), "cycle")
	if err != nil {
		t.Fatal(err)
	}
	if out.Healed {
		t.Error("insufficient improvement must be rejected")
	}
	if out.Reason == "" {
		t.Error("rejection must carry a reason")
	}
}

func TestHealRejectsUnsealedRewrite(t *testing.T) {
	eval := &scoreByRevision{base: 0.42, step: 0.2, unseal: true}
	h := NewHealer(eval, &markerRefiner{}, 3, nil)

	out, err := h.Heal(context.Background(), healSubject(0.42), "cycle")
	if err != nil {
		t.Fatal(err)
	}
	if out.Healed {
		t.Error("rewrite that unseals the covenant must be rejected")
	}
}
