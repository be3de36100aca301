package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remembrance-run/remembrance-core/internal/core/coherency"
	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
	"github.com/remembrance-run/remembrance-core/internal/reflect"
	"github.com/remembrance-run/remembrance-core/internal/store"
)

// markerEval scores code by its refinement markers so healing improves it
// deterministically; tests count as run-and-passed when present.
type markerEval struct {
	base  float64
	step  float64
	gate  chan struct{} // when set, Evaluate blocks until released
	entry chan struct{} // signals that Evaluate was entered
}

func (m *markerEval) Evaluate(ctx context.Context, code string, opts coherency.Options) (*coherency.Result, error) {
	if m.entry != nil {
		select {
		case m.entry <- struct{}{}:
		default:
		}
	}
	if m.gate != nil {
		<-m.gate
	}
	score := m.base + m.step*float64(strings.Count(code, "// rev"))
	if score > 1 {
		score = 1
	}
	hasTest := strings.TrimSpace(opts.TestCode) != ""
	return &coherency.Result{
		Valid:          score >= coherency.MinProvenCoherency,
		Score:          pattern.CoherencyScore{Total: score},
		Language:       opts.Language,
		CovenantSealed: true,
		TestRan:        hasTest,
		TestPassed:     hasTest,
	}, nil
}

type markerGen struct{}

func (markerGen) Variant(ctx context.Context, code string, lang pattern.Language, hint string) (string, error) {
	return code, nil
}
func (markerGen) Transpile(ctx context.Context, code string, from, to pattern.Language) (string, error) {
	return code, nil
}
func (markerGen) SynthesizeTest(ctx context.Context, code string, lang pattern.Language) (string, error) {
	return "def test_loads():\n    assert True", nil
}
func (markerGen) Refine(ctx context.Context, code string, issues []string, iteration int) (string, error) {
	return code + "\n// rev", nil
}

func testEngine(t *testing.T, st *store.Store, eval *markerEval) *Engine {
	t.Helper()
	healer := reflect.NewHealer(eval, markerGen{}, 3, nil)
	cfg := DefaultConfig()
	cfg.Synchronous = true
	e, err := New(st, eval, healer, markerGen{}, cfg, nil)
	require.NoError(t, err)
	return e
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func weakPattern(name string, coherency float64) *pattern.Pattern {
	p := pattern.New(name, "def "+name+"(x):\n    y = x\n    z = y\n    w = z\n    return w", pattern.LangPython)
	p.Coherency.Total = coherency
	p.CovenantSealed = true
	return p
}

func TestFeedbackThresholdTriggersHeal(t *testing.T) {
	st := openStore(t)
	weak := weakPattern("leaky", 0.42)
	_, err := st.InsertPattern(weak, store.InsertOptions{})
	require.NoError(t, err)

	eval := &markerEval{base: 0.42, step: 0.2}
	e := testEngine(t, st, eval)
	e.Start()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		e.OnFeedback(ctx)
	}

	history := e.History()
	require.Len(t, history, 1, "the 10th feedback must trigger exactly one cycle")
	assert.Contains(t, history[0].Improve.Healed, weak.ID)

	healed, err := st.GetPattern(weak.ID)
	require.NoError(t, err)
	assert.NotEqual(t, weak.Code, healed.Code, "heal must rewrite the code")
	assert.GreaterOrEqual(t, healed.Coherency.Total, 0.42+0.02)
	require.NotEmpty(t, healed.HealingHistory)
	assert.Equal(t, "improve-cycle", healed.HealingHistory[0].TriggeredBy)
}

func TestNoCycleWhileStopped(t *testing.T) {
	st := openStore(t)
	eval := &markerEval{base: 0.9}
	e := testEngine(t, st, eval)
	// Not started.
	for i := 0; i < 10; i++ {
		e.OnFeedback(context.Background())
	}
	assert.Empty(t, e.History())
}

func TestCyclesNeverOverlap(t *testing.T) {
	st := openStore(t)
	_, err := st.InsertPattern(weakPattern("slow", 0.3), store.InsertOptions{})
	require.NoError(t, err)

	eval := &markerEval{
		base:  0.3,
		step:  0.2,
		gate:  make(chan struct{}),
		entry: make(chan struct{}, 1),
	}
	e := testEngine(t, st, eval)
	e.Start()

	done := make(chan error, 1)
	go func() {
		_, err := e.TryRunCycle(context.Background(), "manual")
		done <- err
	}()

	<-eval.entry // first cycle is now healing inside the store
	_, err = e.TryRunCycle(context.Background(), "overlap")
	assert.ErrorIs(t, err, ErrBusy)

	close(eval.gate)
	require.NoError(t, <-done)

	// After the first finishes, a new cycle is admitted.
	_, err = e.TryRunCycle(context.Background(), "second")
	assert.NoError(t, err)
}

func TestSubmissionThresholdPromotesCandidates(t *testing.T) {
	st := openStore(t)
	cand := pattern.New("flatten", "def flatten(xs):\n    out = []\n    for x in xs:\n        out.extend(x)\n    return out", pattern.LangPython)
	cand.Coherency.Total = 0.7
	cand.CovenantSealed = true
	_, err := st.InsertCandidate(cand)
	require.NoError(t, err)

	eval := &markerEval{base: 0.7, step: 0.1}
	e := testEngine(t, st, eval)
	e.Start()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e.OnSubmission(ctx)
	}

	history := e.History()
	require.NotEmpty(t, history)
	assert.NotEmpty(t, history[0].Improve.Promoted, "test-passing candidate must be promoted")

	promoted, err := st.GetPattern(cand.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, promoted.TestCode, "promotion attaches the synthesized test")
	_, err = st.GetCandidate(cand.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStubCleaning(t *testing.T) {
	st := openStore(t)
	stub := pattern.New("noop", "function noop() {}", pattern.LangJavaScript)
	stub.Coherency.Total = 0.8
	stub.CovenantSealed = true
	_, err := st.InsertPattern(stub, store.InsertOptions{})
	require.NoError(t, err)

	eval := &markerEval{base: 0.8}
	e := testEngine(t, st, eval)

	report, err := e.TryRunCycle(context.Background(), "manual")
	require.NoError(t, err)
	assert.Contains(t, report.Improve.CleanedStubs, stub.ID)
	_, err = st.GetPattern(stub.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRegressionDetection(t *testing.T) {
	st := openStore(t)
	failing := weakPattern("flaky", 0.75)
	failing.Reliability = pattern.Reliability{UsageCount: 10, SuccessCount: 2}
	_, err := st.InsertPattern(failing, store.InsertOptions{})
	require.NoError(t, err)

	eval := &markerEval{base: 0.75, step: 0.1}
	e := testEngine(t, st, eval)

	report, err := e.TryRunCycle(context.Background(), "manual")
	require.NoError(t, err)
	assert.Contains(t, report.Evolve.Regressions, failing.ID)
}

func TestEvolveDetectsWindowedRegression(t *testing.T) {
	st := openStore(t)

	// A pattern that was reliable for its first ten uses and then failed
	// its last ten. The overall success rate (0.5) is still above the
	// chronic-failure floor; only the windowed drop can catch it.
	decayed := weakPattern("decayed", 0.75)
	decayed.Reliability = pattern.Reliability{UsageCount: 20, SuccessCount: 10}
	for i := 0; i < pattern.RecentUseWindow; i++ {
		decayed.PushOutcome(false)
	}
	_, err := st.InsertPattern(decayed, store.InsertOptions{})
	require.NoError(t, err)

	eval := &markerEval{base: 0.6, step: 0.1}
	e := testEngine(t, st, eval)

	report, err := e.TryRunCycle(context.Background(), "manual")
	require.NoError(t, err)
	assert.Contains(t, report.Evolve.Regressions, decayed.ID)
	assert.Contains(t, report.Evolve.Healed, decayed.ID)

	healed, err := st.GetPattern(decayed.ID)
	require.NoError(t, err)
	require.NotEmpty(t, healed.HealingHistory)
	assert.Equal(t, "regression", healed.HealingHistory[0].TriggeredBy)
	assert.Greater(t, healed.Coherency.Total, 0.6, "healing must lift the re-evaluated score")
}

func TestEvolvePenalizesStalePattern(t *testing.T) {
	st := openStore(t)

	idle := pattern.New("mean", "def mean(xs):\n    total = 0\n    for x in xs:\n        total += x\n    return total / len(xs)", pattern.LangPython)
	idle.Coherency.Total = 0.9
	idle.CovenantSealed = true
	old := time.Now().UTC().Add(-200 * 24 * time.Hour)
	idle.LastUsedAt = &old
	_, err := st.InsertPattern(idle, store.InsertOptions{})
	require.NoError(t, err)

	eval := &markerEval{base: 0.9}
	e := testEngine(t, st, eval)

	report, err := e.TryRunCycle(context.Background(), "manual")
	require.NoError(t, err)
	assert.Contains(t, report.Evolve.Penalized, idle.ID)
	assert.Empty(t, report.Evolve.Regressions, "disuse is a discount, not a regression")

	got, err := st.GetPattern(idle.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, got.Coherency.Total, 1e-9, "200 idle days cost the full staleness discount")
}

func TestEvolvePenalizesOverEvolvedParent(t *testing.T) {
	st := openStore(t)

	parent := pattern.New("retry", "def retry(fn, tries):\n    for i in range(tries):\n        try:\n            return fn()\n        except Exception:\n            pass\n    raise RuntimeError('exhausted')", pattern.LangPython)
	parent.Coherency.Total = 0.9
	parent.CovenantSealed = true
	_, err := st.InsertPattern(parent, store.InsertOptions{})
	require.NoError(t, err)

	children := []string{
		"def slug(s):\n    s = s.lower()\n    s = s.strip()\n    return s.replace(' ', '-')",
		"def clamp(x, lo, hi):\n    if x < lo:\n        return lo\n    return min(x, hi)",
		"def pairs(xs):\n    out = []\n    for a, b in zip(xs, xs[1:]):\n        out.append((a, b))\n    return out",
		"def tally(xs):\n    counts = {}\n    for x in xs:\n        counts[x] = counts.get(x, 0) + 1\n    return counts",
		"def dedent(lines):\n    width = min(len(l) - len(l.lstrip()) for l in lines)\n    out = [l[width:] for l in lines]\n    return out",
	}
	for i, code := range children {
		c := pattern.New(fmt.Sprintf("retry-fork-%d", i), code, pattern.LangPython)
		c.Coherency.Total = 0.8
		c.CovenantSealed = true
		c.ParentPattern = parent.ID
		_, err := st.InsertPattern(c, store.InsertOptions{})
		require.NoError(t, err)
	}

	eval := &markerEval{base: 0.9}
	e := testEngine(t, st, eval)

	report, err := e.TryRunCycle(context.Background(), "manual")
	require.NoError(t, err)
	assert.Contains(t, report.Evolve.Penalized, parent.ID)

	got, err := st.GetPattern(parent.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, got.Coherency.Total, 1e-9, "five forks cost two fork penalties")
}

func TestCountersPersistAcrossRestart(t *testing.T) {
	st := openStore(t)
	eval := &markerEval{base: 0.9}
	e := testEngine(t, st, eval)

	ctx := context.Background()
	e.OnFeedback(ctx)
	e.OnFeedback(ctx)
	e.OnSubmission(ctx)
	e.OnRejection()

	e2 := testEngine(t, st, eval)
	status := e2.CurrentStatus()
	assert.Equal(t, int64(2), status.Counters.Feedbacks)
	assert.Equal(t, int64(1), status.Counters.Submissions)
	assert.Equal(t, int64(1), status.Counters.Rejections)
}

func TestBusyErrorIsSentinel(t *testing.T) {
	assert.True(t, errors.Is(ErrBusy, ErrBusy))
	assert.Equal(t, "lifecycle cycle already in flight", ErrBusy.Error())
}
