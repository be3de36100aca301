// Package coherency scores code along six weighted quality dimensions and
// seals the no-harm covenant. It is the gate every pattern passes before
// storage.
package coherency

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

// Weights configures the contribution of each coherency dimension. They
// must sum to 1.0.
type Weights struct {
	Correctness float64 `yaml:"correctness"`
	Simplicity  float64 `yaml:"simplicity"`
	Relevance   float64 `yaml:"relevance"`
	Clarity     float64 `yaml:"clarity"`
	Nesting     float64 `yaml:"nesting"`
	Security    float64 `yaml:"security"`
}

// DefaultWeights returns the standard dimension weights.
func DefaultWeights() Weights {
	return Weights{
		Correctness: 0.30,
		Simplicity:  0.15,
		Relevance:   0.15,
		Clarity:     0.15,
		Nesting:     0.10,
		Security:    0.15,
	}
}

// Validate checks that weights sum to 1.0 within floating tolerance.
func (w Weights) Validate() error {
	sum := w.Correctness + w.Simplicity + w.Relevance + w.Clarity + w.Nesting + w.Security
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("coherency weights sum to %.6f, want 1.0", sum)
	}
	return nil
}

// Options tunes a single evaluation.
type Options struct {
	// Language skips detection when set.
	Language pattern.Language
	// Description feeds the relevance dimension.
	Description string
	// Name feeds pattern type classification.
	Name string
	// TestCode, when present, is executed to score correctness.
	TestCode string
}

// Feedback is an actionable, line-keyed rejection message.
type Feedback struct {
	Dimension  string `json:"dimension"`
	LineHint   int    `json:"line_hint"`
	Suggestion string `json:"suggestion"`
}

// Result is the full outcome of an evaluation. Rejection is communicated
// via Valid=false, never via an error.
type Result struct {
	Valid          bool                   `json:"valid"`
	Score          pattern.CoherencyScore `json:"coherency_score"`
	Language       pattern.Language       `json:"language"`
	PatternType    pattern.Type           `json:"pattern_type"`
	Complexity     pattern.Complexity     `json:"complexity"`
	CovenantSealed bool                   `json:"covenant_sealed"`
	Violations     []Violation            `json:"violations,omitempty"`
	Feedback       []Feedback             `json:"feedback,omitempty"`
	TestRan        bool                   `json:"test_ran"`
	TestPassed     bool                   `json:"test_passed"`
}

// MinProvenCoherency is the floor below which patterns are not admitted to
// the proven collection.
const MinProvenCoherency = 0.6

// Evaluator scores code and proofs.
type Evaluator struct {
	weights  Weights
	covenant *Covenant
	runner   TestRunner
	floor    float64
	logger   *zap.Logger
}

// NewEvaluator constructs an evaluator. A nil runner disables test
// execution (correctness stays unknown); a nil logger is replaced with a
// no-op one.
func NewEvaluator(weights Weights, covenant *Covenant, runner TestRunner, logger *zap.Logger) (*Evaluator, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if covenant == nil {
		covenant = NewCovenant(false)
	}
	if runner == nil {
		runner = NoopRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		weights:  weights,
		covenant: covenant,
		runner:   runner,
		floor:    MinProvenCoherency,
		logger:   logger,
	}, nil
}

// ErrEvaluation marks the single hard failure mode: language unidentifiable
// and code blank.
var ErrEvaluation = fmt.Errorf("evaluation failure: empty code with no identifiable language")

// Evaluate scores the code. It fails only when the language cannot be
// identified and the code is empty or whitespace; every other outcome is a
// Result with Valid set accordingly.
func (e *Evaluator) Evaluate(ctx context.Context, code string, opts Options) (*Result, error) {
	lang := opts.Language
	if lang == "" || lang == pattern.LangUnknown {
		lang = DetectLanguage(code)
	}
	if lang == pattern.LangUnknown && isBlank(code) {
		return nil, ErrEvaluation
	}

	res := &Result{
		Language:    lang,
		PatternType: ClassifyType(opts.Name, code, opts.Description),
		Complexity:  ClassifyComplexity(code),
	}

	// Correctness: run the proof when present, unknown (0.5) otherwise.
	correctness := 0.5
	if strings.TrimSpace(opts.TestCode) != "" {
		passed, output, err := e.runner.Run(ctx, code, opts.TestCode, lang)
		if err != nil {
			e.logger.Debug("test execution unavailable",
				zap.String("language", string(lang)), zap.Error(err))
		} else {
			res.TestRan = true
			res.TestPassed = passed
			if passed {
				correctness = 1.0
			} else {
				correctness = 0.0
				e.logger.Debug("test failed", zap.String("output", truncate(output, 400)))
			}
		}
	}

	cov := e.covenant.Check(code)
	res.CovenantSealed = cov.Sealed
	res.Violations = cov.Violations

	b := pattern.Breakdown{
		Correctness: correctness,
		Simplicity:  simplicityScore(code),
		Relevance:   relevanceScore(code, opts.Description),
		Clarity:     clarityScore(code),
		Nesting:     nestingScore(code),
		Security:    SecurityScore(cov.Violations),
	}
	res.Score = pattern.CoherencyScore{
		Total:     e.total(b),
		Breakdown: b,
	}

	res.Valid = res.CovenantSealed && res.Score.Total >= e.floor && !(res.TestRan && !res.TestPassed)
	if !res.Valid {
		res.Feedback = e.feedback(res, code)
	}
	return res, nil
}

func (e *Evaluator) total(b pattern.Breakdown) float64 {
	t := e.weights.Correctness*b.Correctness +
		e.weights.Simplicity*b.Simplicity +
		e.weights.Relevance*b.Relevance +
		e.weights.Clarity*b.Clarity +
		e.weights.Nesting*b.Nesting +
		e.weights.Security*b.Security
	return clamp01(t)
}

// feedback builds line-keyed suggestions for the dimensions dragging the
// score down.
func (e *Evaluator) feedback(res *Result, code string) []Feedback {
	var fb []Feedback
	b := res.Score.Breakdown

	for _, v := range res.Violations {
		fb = append(fb, Feedback{
			Dimension:  "security",
			LineHint:   v.Line,
			Suggestion: v.Message,
		})
	}
	if res.TestRan && !res.TestPassed {
		fb = append(fb, Feedback{
			Dimension:  "correctness",
			LineHint:   1,
			Suggestion: "supplied test fails against the source; fix the code or the proof",
		})
	}
	if b.Simplicity < 0.5 {
		fb = append(fb, Feedback{
			Dimension:  "simplicity",
			LineHint:   longestLineIndex(code),
			Suggestion: "reduce size or branching; extract helper functions",
		})
	}
	if b.Nesting < 0.5 {
		fb = append(fb, Feedback{
			Dimension:  "nesting",
			LineHint:   deepestLineIndex(code),
			Suggestion: "flatten control flow with early returns",
		})
	}
	if b.Clarity < 0.4 {
		fb = append(fb, Feedback{
			Dimension:  "clarity",
			LineHint:   1,
			Suggestion: "add comments on non-obvious steps and use descriptive names",
		})
	}
	return fb
}

func longestLineIndex(code string) int {
	best, bestLen := 1, 0
	for i, line := range strings.Split(code, "\n") {
		if len(line) > bestLen {
			best, bestLen = i+1, len(line)
		}
	}
	return best
}

func deepestLineIndex(code string) int {
	depth, best, bestDepth := 0, 1, 0
	for i, line := range strings.Split(code, "\n") {
		for _, r := range line {
			if r == '{' {
				depth++
				if depth > bestDepth {
					bestDepth, best = depth, i+1
				}
			} else if r == '}' && depth > 0 {
				depth--
			}
		}
	}
	return best
}
