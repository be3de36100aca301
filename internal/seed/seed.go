// Package seed ships the starter pattern library and installs it through
// the normal evaluation gate.
package seed

import (
	"context"

	"go.uber.org/zap"

	"github.com/remembrance-run/remembrance-core/internal/core/coherency"
	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
	"github.com/remembrance-run/remembrance-core/internal/reflect"
	"github.com/remembrance-run/remembrance-core/internal/store"
)

// Seed is one starter pattern before evaluation.
type Seed struct {
	Name        string
	Language    pattern.Language
	Description string
	Tags        []string
	Code        string
	TestCode    string
}

// Result accounts for one seeding run.
type Result struct {
	Seeded   int `json:"seeded"`
	Skipped  int `json:"skipped"`
	Rejected int `json:"rejected"`
}

// Apply evaluates every builtin seed and inserts the ones that pass the
// gate. Re-running is harmless: existing siblings absorb the seeds as
// merges and count as skipped.
func Apply(ctx context.Context, st *store.Store, eval reflect.Evaluator, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	result := &Result{}
	for _, s := range builtins() {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		res, err := eval.Evaluate(ctx, s.Code, coherency.Options{
			Language:    s.Language,
			Description: s.Description,
			Name:        s.Name,
			TestCode:    s.TestCode,
		})
		if err != nil {
			return result, err
		}
		if !res.CovenantSealed || res.Score.Total < coherency.MinProvenCoherency {
			logger.Warn("seed rejected by gate",
				zap.String("name", s.Name),
				zap.Float64("coherency", res.Score.Total))
			result.Rejected++
			continue
		}

		p := pattern.New(s.Name, s.Code, s.Language)
		p.Description = s.Description
		p.Tags = append([]string(nil), s.Tags...)
		p.TestCode = s.TestCode
		p.Method = pattern.MethodSeed
		p.Type = res.PatternType
		p.Complexity = res.Complexity
		p.Coherency = res.Score
		p.CovenantSealed = res.CovenantSealed

		ins, err := st.InsertPattern(p, store.InsertOptions{})
		if err != nil {
			logger.Warn("seed insert failed", zap.String("name", s.Name), zap.Error(err))
			result.Rejected++
			continue
		}
		if ins.Merged {
			result.Skipped++
		} else {
			result.Seeded++
		}
	}
	logger.Info("seeding complete",
		zap.Int("seeded", result.Seeded),
		zap.Int("skipped", result.Skipped),
		zap.Int("rejected", result.Rejected))
	return result, nil
}

// builtins returns the starter library. Every snippet is deliberately more
// than a stub so lifecycle cleaning never removes it.
func builtins() []Seed {
	return []Seed{
		{
			Name:        "debounce",
			Language:    pattern.LangJavaScript,
			Description: "delay calls until the input goes quiet",
			Tags:        []string{"timing", "debounce", "events"},
			Code: `function debounce(fn, wait) {
  let timer = null;
  return function debounced(...args) {
    clearTimeout(timer);
    timer = setTimeout(() => fn.apply(this, args), wait);
  };
}`,
			TestCode: `let calls = 0;
const bump = debounce(() => calls++, 10);
bump(); bump(); bump();
setTimeout(() => { if (calls !== 1) throw new Error('expected one call'); }, 50);`,
		},
		{
			Name:        "chunk",
			Language:    pattern.LangJavaScript,
			Description: "split an array into fixed-size slices",
			Tags:        []string{"array", "chunk"},
			Code: `function chunk(items, size) {
  const out = [];
  for (let i = 0; i < items.length; i += size) {
    out.push(items.slice(i, i + size));
  }
  return out;
}`,
			TestCode: `const parts = chunk([1, 2, 3, 4, 5], 2);
if (parts.length !== 3) throw new Error('expected 3 chunks');
if (parts[2][0] !== 5) throw new Error('tail chunk wrong');`,
		},
		{
			Name:        "clamp",
			Language:    pattern.LangJavaScript,
			Description: "bound a number to an inclusive range",
			Tags:        []string{"math", "clamp"},
			Code: `function clamp(value, lo, hi) {
  if (value < lo) return lo;
  if (value > hi) return hi;
  return value;
}`,
			TestCode: `if (clamp(5, 0, 3) !== 3) throw new Error('upper bound');
if (clamp(-1, 0, 3) !== 0) throw new Error('lower bound');
if (clamp(2, 0, 3) !== 2) throw new Error('identity');`,
		},
		{
			Name:        "chunk",
			Language:    pattern.LangPython,
			Description: "split a list into fixed-size slices",
			Tags:        []string{"array", "chunk"},
			Code: `def chunk(items, size):
    out = []
    for i in range(0, len(items), size):
        out.append(items[i:i + size])
    return out`,
			TestCode: `parts = chunk([1, 2, 3, 4, 5], 2)
assert len(parts) == 3
assert parts[2] == [5]`,
		},
		{
			Name:        "retry-backoff",
			Language:    pattern.LangPython,
			Description: "retry a callable with exponential backoff",
			Tags:        []string{"retry", "backoff", "resilience"},
			Code: `import time

def retry_backoff(fn, attempts=3, base=0.1):
    delay = base
    for attempt in range(attempts):
        try:
            return fn()
        except Exception:
            if attempt == attempts - 1:
                raise
            time.sleep(delay)
            delay *= 2`,
			TestCode: `state = {"n": 0}

def flaky():
    state["n"] += 1
    if state["n"] < 3:
        raise ValueError("not yet")
    return "ok"

assert retry_backoff(flaky, attempts=5, base=0) == "ok"
assert state["n"] == 3`,
		},
		{
			Name:        "slugify",
			Language:    pattern.LangGo,
			Description: "turn a title into a url-safe slug",
			Tags:        []string{"string", "slug"},
			Code: `func Slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}`,
			TestCode: `if got := Slugify("Hello, World!"); got != "hello-world" {
	t.Errorf("Slugify = %q", got)
}
if got := Slugify("  already--slugged  "); got != "already-slugged" {
	t.Errorf("Slugify = %q", got)
}`,
		},
		{
			Name:        "clamp",
			Language:    pattern.LangGo,
			Description: "bound a value to an inclusive range",
			Tags:        []string{"math", "clamp"},
			Code: `func Clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}`,
			TestCode: `if Clamp(5, 0, 3) != 3 {
	t.Error("upper bound")
}
if Clamp(-1, 0, 3) != 0 {
	t.Error("lower bound")
}`,
		},
	}
}
