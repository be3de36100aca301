// Package reflect implements the SERF loop: iteratively re-score and
// refine a piece of code toward a target coherency. The loop is bounded,
// cooperative on cancellation, and always returns its best iteration.
package reflect

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// DefaultMaxLoops bounds a reflection run when the caller does not.
const DefaultMaxLoops = 3

// StopReason explains why a reflection run ended.
type StopReason string

const (
	StopConverged StopReason = "converged" // target reached
	StopStuck     StopReason = "stuck"     // refinement produced identical code
	StopRegressed StopReason = "regressed" // refinement lowered the score
	StopExhausted StopReason = "exhausted" // loop budget spent
	StopCanceled  StopReason = "canceled"
)

// EvaluateFunc scores code and names its issues.
type EvaluateFunc func(ctx context.Context, code string) (score float64, issues []string, err error)

// RefineFunc reworks code to address issues. iteration counts from 1.
type RefineFunc func(ctx context.Context, code string, issues []string, iteration int) (string, error)

// Options configures one reflection run.
type Options struct {
	Target   float64
	MaxLoops int
	Evaluate EvaluateFunc
	Refine   RefineFunc
	Logger   *zap.Logger
}

// Iteration is one history entry.
type Iteration struct {
	Score      float64  `json:"score"`
	Issues     []string `json:"issues,omitempty"`
	CodeLength int      `json:"code_length"`
}

// Outcome is the result of a reflection run. Code is always the best
// iteration's code, which is not necessarily the last one produced.
type Outcome struct {
	Code       string      `json:"code"`
	Score      float64     `json:"score"`
	Converged  bool        `json:"converged"`
	Iterations int         `json:"iterations"`
	Stop       StopReason  `json:"stop"`
	History    []Iteration `json:"history"`
}

// Reflect runs the SERF loop. It calls Evaluate at most MaxLoops+1 times
// and checks ctx between iterations; on cancel the best result so far is
// returned alongside ctx's error.
func Reflect(ctx context.Context, code string, opts Options) (*Outcome, error) {
	if opts.Evaluate == nil || opts.Refine == nil {
		return nil, fmt.Errorf("reflect requires evaluate and refine functions")
	}
	if opts.MaxLoops <= 0 {
		opts.MaxLoops = DefaultMaxLoops
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	score, issues, err := opts.Evaluate(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("initial evaluation: %w", err)
	}

	out := &Outcome{
		Code:    code,
		Score:   score,
		History: []Iteration{{Score: score, Issues: issues, CodeLength: len(code)}},
	}
	if score >= opts.Target {
		out.Converged = true
		out.Stop = StopConverged
		return out, nil
	}

	current, currentScore := code, score
	for i := 1; i <= opts.MaxLoops; i++ {
		if err := ctx.Err(); err != nil {
			out.Stop = StopCanceled
			return out, err
		}

		refined, err := opts.Refine(ctx, current, issues, i)
		if err != nil {
			return out, fmt.Errorf("refine iteration %d: %w", i, err)
		}
		if refined == current {
			out.Stop = StopStuck
			return out, nil
		}

		refinedScore, refinedIssues, err := opts.Evaluate(ctx, refined)
		if err != nil {
			return out, fmt.Errorf("evaluate iteration %d: %w", i, err)
		}

		out.Iterations = i
		out.History = append(out.History, Iteration{
			Score:      refinedScore,
			Issues:     refinedIssues,
			CodeLength: len(refined),
		})
		logger.Debug("reflection iteration",
			zap.Int("iteration", i),
			zap.Float64("score", refinedScore),
			zap.Int("issues", len(refinedIssues)))

		if refinedScore > out.Score {
			out.Code, out.Score = refined, refinedScore
		}

		if refinedScore >= opts.Target {
			out.Converged = true
			out.Stop = StopConverged
			return out, nil
		}
		if refinedScore <= currentScore {
			out.Stop = StopRegressed
			return out, nil
		}
		current, currentScore, issues = refined, refinedScore, refinedIssues
	}

	out.Stop = StopExhausted
	return out, nil
}
