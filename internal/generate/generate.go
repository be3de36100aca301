// Package generate defines the injected code-generation capability. The
// oracle core never talks to a model provider directly; callers hand in
// an implementation of Generator and the core consumes this fixed
// contract for variants, transpilation, test synthesis, and refinement.
package generate

import (
	"context"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

// Generator is the capability contract for producing and reworking code.
// All methods are cancelable through ctx and return the produced source
// text or an error; they never mutate stored patterns themselves.
type Generator interface {
	// Variant produces an alternative implementation of code in the same
	// language, steered by an optional hint.
	Variant(ctx context.Context, code string, lang pattern.Language, hint string) (string, error)

	// Transpile rewrites code from one language to another.
	Transpile(ctx context.Context, code string, from, to pattern.Language) (string, error)

	// SynthesizeTest produces test code exercising the given source.
	SynthesizeTest(ctx context.Context, code string, lang pattern.Language) (string, error)

	// Refine reworks code to address the listed issues. iteration counts
	// from 1 and lets implementations escalate their strategy.
	Refine(ctx context.Context, code string, issues []string, iteration int) (string, error)
}
