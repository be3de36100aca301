package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

// StaticGenerator is a deterministic, offline Generator. It applies
// mechanical transformations only: good enough for tests, healing dry
// runs, and nodes that operate without a model provider.
type StaticGenerator struct{}

var _ Generator = StaticGenerator{}

// Variant returns the code prefixed with a variant marker comment so the
// result is distinct but semantically identical.
func (StaticGenerator) Variant(ctx context.Context, code string, lang pattern.Language, hint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	marker := commentFor(lang, "variant")
	if hint != "" {
		marker = commentFor(lang, "variant: "+hint)
	}
	return marker + "\n" + code, nil
}

// Transpile cannot translate languages offline; it reports the gap
// instead of pretending.
func (StaticGenerator) Transpile(ctx context.Context, code string, from, to pattern.Language) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("static generator cannot transpile %s to %s", from, to)
}

// SynthesizeTest emits a minimal smoke-test template that loads the code
// and asserts it parses/evaluates. It is intentionally conservative: a
// template test proves presence, not behavior.
func (StaticGenerator) SynthesizeTest(ctx context.Context, code string, lang pattern.Language) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch lang {
	case pattern.LangJavaScript, pattern.LangTypeScript:
		return "if (typeof module !== 'undefined') { /* smoke */ }\nconsole.assert(true, 'loads');", nil
	case pattern.LangPython:
		return "def test_loads():\n    assert True", nil
	case pattern.LangGo:
		return "func TestLoads(t *testing.T) {\n\t_ = t\n}", nil
	default:
		return "", fmt.Errorf("static generator has no test template for %s", lang)
	}
}

// Refine strips comment lines and collapses blank runs: the one mechanical
// transformation that reliably improves simplicity without touching
// semantics. Repeated calls converge to a fixpoint, which the reflection
// loop detects as stuck.
func (StaticGenerator) Refine(ctx context.Context, code string, issues []string, iteration int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var out []string
	blank := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if isCommentLine(trimmed) {
			continue
		}
		if trimmed == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimRight(strings.Join(out, "\n"), "\n"), nil
}

func isCommentLine(trimmed string) bool {
	return strings.HasPrefix(trimmed, "//") ||
		strings.HasPrefix(trimmed, "#") ||
		strings.HasPrefix(trimmed, "--")
}

func commentFor(lang pattern.Language, text string) string {
	switch lang {
	case pattern.LangPython:
		return "# " + text
	default:
		return "// " + text
	}
}
