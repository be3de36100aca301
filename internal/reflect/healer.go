package reflect

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/remembrance-run/remembrance-core/internal/core/coherency"
	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
	"github.com/remembrance-run/remembrance-core/internal/generate"
)

const (
	// healTargetFloor is the minimum target a healing run aims for.
	healTargetFloor = 0.8
	// healTargetLift is added to the current score when that is higher.
	healTargetLift = 0.1
	// minHealImprovement is the acceptance threshold for a rewrite.
	minHealImprovement = 0.02
)

// HealOutcome reports one healing attempt over a stored pattern.
type HealOutcome struct {
	Healed       bool                   `json:"healed"`
	Reason       string                 `json:"reason"`
	NewCode      string                 `json:"-"`
	NewScore     pattern.CoherencyScore `json:"new_score"`
	OldTotal     float64                `json:"old_total"`
	Iterations   int                    `json:"iterations"`
	HistoryEntry pattern.HealingEntry   `json:"history_entry"`
}

// Evaluator is the scoring dependency of the healer, satisfied by
// *coherency.Evaluator.
type Evaluator interface {
	Evaluate(ctx context.Context, code string, opts coherency.Options) (*coherency.Result, error)
}

// Healer applies the SERF loop to stored patterns using the injected
// generator as the refiner.
type Healer struct {
	eval     Evaluator
	gen      generate.Generator
	maxLoops int
	logger   *zap.Logger
}

// NewHealer wires a healer. maxLoops <= 0 falls back to the default.
func NewHealer(eval Evaluator, gen generate.Generator, maxLoops int, logger *zap.Logger) *Healer {
	if maxLoops <= 0 {
		maxLoops = DefaultMaxLoops
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Healer{eval: eval, gen: gen, maxLoops: maxLoops, logger: logger}
}

// Heal attempts to raise the pattern's coherency. The rewrite is accepted
// only when the improvement reaches the threshold and the covenant stays
// sealed; otherwise the outcome reports the failure and the pattern is
// left for the caller untouched.
func (h *Healer) Heal(ctx context.Context, p *pattern.Pattern, triggeredBy string) (*HealOutcome, error) {
	current := p.Coherency.Total
	target := math.Max(healTargetFloor, current+healTargetLift)

	evaluate := func(ctx context.Context, code string) (float64, []string, error) {
		res, err := h.eval.Evaluate(ctx, code, coherency.Options{
			Language:    p.Language,
			Description: p.Description,
			Name:        p.Name,
			TestCode:    p.TestCode,
		})
		if err != nil {
			return 0, nil, err
		}
		return res.Score.Total, issuesFrom(res), nil
	}
	refine := func(ctx context.Context, code string, issues []string, iteration int) (string, error) {
		return h.gen.Refine(ctx, code, issues, iteration)
	}

	outcome, err := Reflect(ctx, p.Code, Options{
		Target:   target,
		MaxLoops: h.maxLoops,
		Evaluate: evaluate,
		Refine:   refine,
		Logger:   h.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("heal %s: %w", p.ID, err)
	}

	out := &HealOutcome{
		OldTotal:   current,
		Iterations: outcome.Iterations,
	}

	if outcome.Code == p.Code || outcome.Score < current+minHealImprovement {
		out.Reason = fmt.Sprintf("no sufficient improvement (%.3f -> %.3f, stop=%s)",
			current, outcome.Score, outcome.Stop)
		h.logger.Debug("heal failed",
			zap.String("pattern", p.ID), zap.String("reason", out.Reason))
		return out, nil
	}

	// Re-check the seal on the exact code being accepted.
	final, err := h.eval.Evaluate(ctx, outcome.Code, coherency.Options{
		Language:    p.Language,
		Description: p.Description,
		Name:        p.Name,
		TestCode:    p.TestCode,
	})
	if err != nil {
		return nil, fmt.Errorf("heal %s: final evaluation: %w", p.ID, err)
	}
	if !final.CovenantSealed {
		out.Reason = "rewrite would unseal the covenant"
		return out, nil
	}

	out.Healed = true
	out.Reason = fmt.Sprintf("coherency %.3f -> %.3f in %d iterations",
		current, final.Score.Total, outcome.Iterations)
	out.NewCode = outcome.Code
	out.NewScore = final.Score
	out.HistoryEntry = pattern.HealingEntry{
		HealedAt:     time.Now().UTC(),
		OldCoherency: current,
		NewCoherency: final.Score.Total,
		Iterations:   outcome.Iterations,
		TriggeredBy:  triggeredBy,
	}
	return out, nil
}

// issuesFrom flattens an evaluation into refiner-consumable issue strings.
func issuesFrom(res *coherency.Result) []string {
	var issues []string
	for _, v := range res.Violations {
		issues = append(issues, fmt.Sprintf("security: %s (line %d)", v.Message, v.Line))
	}
	for _, f := range res.Feedback {
		issues = append(issues, f.Dimension+": "+f.Suggestion)
	}
	if len(issues) == 0 {
		b := res.Score.Breakdown
		if b.Simplicity < 0.6 {
			issues = append(issues, "simplicity: reduce size or branching")
		}
		if b.Clarity < 0.6 {
			issues = append(issues, "clarity: add comments and descriptive names")
		}
		if b.Nesting < 0.6 {
			issues = append(issues, "nesting: flatten control flow")
		}
		if len(issues) == 0 {
			issues = append(issues, "raise overall coherency")
		}
	}
	return issues
}
