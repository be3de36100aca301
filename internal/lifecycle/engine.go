// Package lifecycle runs the background self-management loop: event
// counters trigger improve / optimize / evolve cycles that heal weak
// patterns, promote candidates, deduplicate, and report drift.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/remembrance-run/remembrance-core/internal/core/coherency"
	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
	"github.com/remembrance-run/remembrance-core/internal/generate"
	"github.com/remembrance-run/remembrance-core/internal/reflect"
	"github.com/remembrance-run/remembrance-core/internal/search"
	"github.com/remembrance-run/remembrance-core/internal/store"
)

// ErrBusy is returned when a cycle is requested while one is running.
var ErrBusy = errors.New("lifecycle cycle already in flight")

// Config tunes the lifecycle engine.
type Config struct {
	FeedbackTrigger     int64   `yaml:"feedback_trigger"`
	SubmissionTrigger   int64   `yaml:"submission_trigger"`
	RegistrationTrigger int64   `yaml:"registration_trigger"`
	MaxHealsPerRun      int     `yaml:"max_heals_per_run"`
	ImproveThreshold    float64 `yaml:"improve_threshold"`
	UnusedAfterDays     int     `yaml:"unused_after_days"`
	RegressionUses      int     `yaml:"regression_uses"`
	RegressionRate      float64 `yaml:"regression_rate"`
	AutoRetag           bool    `yaml:"auto_retag"`
	AutoClean           bool    `yaml:"auto_clean"`
	// Synchronous runs triggered cycles inline instead of in a goroutine.
	Synchronous bool `yaml:"-"`
}

// DefaultConfig returns the standard trigger thresholds.
func DefaultConfig() Config {
	return Config{
		FeedbackTrigger:     10,
		SubmissionTrigger:   5,
		RegistrationTrigger: 25,
		MaxHealsPerRun:      20,
		ImproveThreshold:    0.7,
		UnusedAfterDays:     180,
		RegressionUses:      5,
		RegressionRate:      0.4,
		AutoRetag:           true,
		AutoClean:           true,
	}
}

// historySize bounds the ring of retained cycle reports.
const historySize = 50

// Engine coordinates lifecycle cycles over one store.
type Engine struct {
	store  *store.Store
	eval   reflect.Evaluator
	healer *reflect.Healer
	gen    generate.Generator
	cfg    Config
	logger *zap.Logger

	running atomic.Bool
	inCycle atomic.Bool

	feedbacks     atomic.Int64
	submissions   atomic.Int64
	registrations atomic.Int64
	heals         atomic.Int64
	rejections    atomic.Int64
	cycles        atomic.Int64

	histMu  sync.Mutex
	history []*CycleReport
}

// New wires a lifecycle engine and restores persisted counters.
func New(st *store.Store, eval reflect.Evaluator, healer *reflect.Healer, gen generate.Generator, cfg Config, logger *zap.Logger) (*Engine, error) {
	if cfg.FeedbackTrigger <= 0 {
		cfg.FeedbackTrigger = 10
	}
	if cfg.SubmissionTrigger <= 0 {
		cfg.SubmissionTrigger = 5
	}
	if cfg.RegistrationTrigger <= 0 {
		cfg.RegistrationTrigger = 25
	}
	if cfg.MaxHealsPerRun <= 0 {
		cfg.MaxHealsPerRun = 20
	}
	if cfg.ImproveThreshold == 0 {
		cfg.ImproveThreshold = 0.7
	}
	if cfg.UnusedAfterDays <= 0 {
		cfg.UnusedAfterDays = 180
	}
	if cfg.RegressionUses <= 0 {
		cfg.RegressionUses = 5
	}
	if cfg.RegressionRate == 0 {
		cfg.RegressionRate = 0.4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{store: st, eval: eval, healer: healer, gen: gen, cfg: cfg, logger: logger}

	counters, err := st.LoadCounters()
	if err != nil {
		return nil, fmt.Errorf("load lifecycle counters: %w", err)
	}
	e.feedbacks.Store(counters.Feedbacks)
	e.submissions.Store(counters.Submissions)
	e.registrations.Store(counters.Registrations)
	e.heals.Store(counters.Heals)
	e.rejections.Store(counters.Rejections)
	e.cycles.Store(counters.Cycles)
	return e, nil
}

// Start marks the engine running; events only auto-trigger cycles while
// running.
func (e *Engine) Start() { e.running.Store(true) }

// Stop halts auto-triggering. A cycle already in flight finishes.
func (e *Engine) Stop() { e.running.Store(false) }

// Status reports the running flag, in-flight cycle, and counters.
type Status struct {
	Running  bool             `json:"running"`
	InCycle  bool             `json:"in_cycle"`
	Counters pattern.Counters `json:"counters"`
}

// CurrentStatus snapshots the engine state.
func (e *Engine) CurrentStatus() Status {
	return Status{
		Running:  e.running.Load(),
		InCycle:  e.inCycle.Load(),
		Counters: e.counters(),
	}
}

func (e *Engine) counters() pattern.Counters {
	return pattern.Counters{
		Feedbacks:     e.feedbacks.Load(),
		Submissions:   e.submissions.Load(),
		Registrations: e.registrations.Load(),
		Heals:         e.heals.Load(),
		Rejections:    e.rejections.Load(),
		Cycles:        e.cycles.Load(),
	}
}

func (e *Engine) persistCounters() {
	c := e.counters()
	if err := e.store.SaveCounters(&c); err != nil {
		e.logger.Warn("cannot persist lifecycle counters", zap.Error(err))
	}
}

// OnFeedback counts a usage report; every FeedbackTrigger-th one runs an
// evolution cycle.
func (e *Engine) OnFeedback(ctx context.Context) {
	n := e.feedbacks.Add(1)
	e.persistCounters()
	if n%e.cfg.FeedbackTrigger == 0 {
		e.maybeCycle(ctx, "feedback-threshold")
	}
}

// OnSubmission counts a submission; every SubmissionTrigger-th one runs a
// promotion-bearing cycle.
func (e *Engine) OnSubmission(ctx context.Context) {
	n := e.submissions.Add(1)
	e.persistCounters()
	if n%e.cfg.SubmissionTrigger == 0 {
		e.maybeCycle(ctx, "submission-threshold")
	}
}

// OnRegistration counts a registration; every RegistrationTrigger-th one
// nudges dedup and retagging.
func (e *Engine) OnRegistration(ctx context.Context) {
	n := e.registrations.Add(1)
	e.persistCounters()
	if n%e.cfg.RegistrationTrigger == 0 {
		e.maybeCycle(ctx, "registration-threshold")
	}
}

// OnRejection counts a rejected submission; rejections feed the candidate
// pool and the submitter's reputation, no cycle is triggered.
func (e *Engine) OnRejection() {
	e.rejections.Add(1)
	e.persistCounters()
}

func (e *Engine) maybeCycle(ctx context.Context, trigger string) {
	if !e.running.Load() {
		return
	}
	if e.cfg.Synchronous {
		if _, err := e.TryRunCycle(ctx, trigger); err != nil && !errors.Is(err, ErrBusy) {
			e.logger.Warn("triggered cycle failed", zap.Error(err))
		}
		return
	}
	go func() {
		if _, err := e.TryRunCycle(context.WithoutCancel(ctx), trigger); err != nil && !errors.Is(err, ErrBusy) {
			e.logger.Warn("triggered cycle failed", zap.Error(err))
		}
	}()
}

// TryRunCycle runs one full cycle, rejecting overlap with ErrBusy.
func (e *Engine) TryRunCycle(ctx context.Context, triggeredBy string) (*CycleReport, error) {
	if !e.inCycle.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer e.inCycle.Store(false)
	return e.runCycle(ctx, triggeredBy)
}

func (e *Engine) runCycle(ctx context.Context, triggeredBy string) (*CycleReport, error) {
	start := time.Now().UTC()
	report := &CycleReport{TriggeredBy: triggeredBy, StartedAt: start}

	e.logger.Info("lifecycle cycle starting", zap.String("trigger", triggeredBy))

	if err := e.improve(ctx, &report.Improve); err != nil {
		report.Err = err.Error()
	}
	if err := e.optimize(ctx, &report.Optimize); err != nil && report.Err == "" {
		report.Err = err.Error()
	}
	if err := e.evolve(ctx, &report.Evolve); err != nil && report.Err == "" {
		report.Err = err.Error()
	}

	report.Duration = time.Since(start)
	report.Summary = fmt.Sprintf(
		"healed %d, promoted %d, deduped %d, %d regressions, %d recommendations",
		len(report.Improve.Healed)+len(report.Evolve.Healed),
		len(report.Improve.Promoted),
		report.Optimize.DedupRemoved,
		len(report.Evolve.Regressions),
		len(report.Optimize.Recommendations))

	e.cycles.Add(1)
	e.persistCounters()
	e.record(report)

	e.logger.Info("lifecycle cycle finished",
		zap.Duration("duration", report.Duration),
		zap.String("summary", report.Summary))
	return report, nil
}

func (e *Engine) record(r *CycleReport) {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	e.history = append(e.history, r)
	if len(e.history) > historySize {
		e.history = e.history[len(e.history)-historySize:]
	}
}

// History returns the retained cycle reports, oldest first.
func (e *Engine) History() []*CycleReport {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	out := make([]*CycleReport, len(e.history))
	copy(out, e.history)
	return out
}

// improve heals low-coherency patterns, promotes test-passing candidates,
// cleans stubs, and retags drifted patterns.
func (e *Engine) improve(ctx context.Context, rep *ImproveReport) error {
	patterns, err := e.store.Snapshot()
	if err != nil {
		return fmt.Errorf("improve: %w", err)
	}

	// Heal the weakest first, bounded per run.
	var weak []*pattern.Pattern
	for _, p := range patterns {
		if p.Coherency.Total < e.cfg.ImproveThreshold {
			weak = append(weak, p)
		}
	}
	sort.Slice(weak, func(i, j int) bool {
		return weak[i].Coherency.Total < weak[j].Coherency.Total
	})
	if len(weak) > e.cfg.MaxHealsPerRun {
		weak = weak[:e.cfg.MaxHealsPerRun]
	}
	for _, p := range weak {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.healPattern(ctx, p, "improve-cycle", &rep.Healed, &rep.HealFailed)
	}

	if err := e.promoteCandidates(ctx, rep); err != nil {
		e.logger.Warn("candidate promotion failed", zap.Error(err))
	}
	if e.cfg.AutoClean {
		e.cleanStubs(patterns, rep)
	}
	if e.cfg.AutoRetag {
		e.retag(patterns, rep)
	}
	return nil
}

// healPattern runs one healing attempt and persists an accepted rewrite.
// Per-pattern failures are recorded and never abort the cycle.
func (e *Engine) healPattern(ctx context.Context, p *pattern.Pattern, trigger string, healed, failed *[]string) {
	if e.healer == nil {
		return
	}
	out, err := e.healer.Heal(ctx, p, trigger)
	if err != nil {
		e.logger.Warn("heal errored", zap.String("pattern", p.ID), zap.Error(err))
		*failed = append(*failed, p.ID)
		return
	}
	if !out.Healed {
		*failed = append(*failed, p.ID)
		return
	}

	_, err = e.store.UpdatePattern(p.ID, func(m *pattern.Pattern) error {
		m.Code = out.NewCode
		m.Coherency = out.NewScore
		m.HealingHistory = append(m.HealingHistory, out.HistoryEntry)
		m.Reliability.HealingRate = healingRate(len(m.HealingHistory), m.Reliability.UsageCount)
		return nil
	})
	if err != nil {
		e.logger.Warn("cannot persist heal", zap.String("pattern", p.ID), zap.Error(err))
		*failed = append(*failed, p.ID)
		return
	}
	e.heals.Add(1)
	*healed = append(*healed, p.ID)
}

// healingRate relates rewrites to uses: heavily healed, lightly used
// patterns rank as fragile.
func healingRate(heals, uses int) float64 {
	if heals == 0 {
		return 0
	}
	rate := float64(heals) / float64(max(1, uses))
	if rate > 1 {
		rate = 1
	}
	return rate
}

// promoteCandidates synthesizes tests for untested candidates and
// promotes every candidate whose test passes the evaluator gate.
func (e *Engine) promoteCandidates(ctx context.Context, rep *ImproveReport) error {
	candidates, err := e.store.Candidates(store.Filter{})
	if err != nil {
		return err
	}
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}

		testCode := c.TestCode
		if testCode == "" && e.gen != nil {
			synthesized, err := e.gen.SynthesizeTest(ctx, c.Code, c.Language)
			if err != nil {
				e.logger.Debug("test synthesis unavailable",
					zap.String("candidate", c.ID), zap.Error(err))
				continue
			}
			testCode = synthesized
		}
		if testCode == "" || e.eval == nil {
			continue
		}

		res, err := e.eval.Evaluate(ctx, c.Code, coherency.Options{
			Language:    c.Language,
			Description: c.Description,
			Name:        c.Name,
			TestCode:    testCode,
		})
		if err != nil || !res.TestRan || !res.TestPassed || !res.Valid {
			continue
		}

		if _, err := e.store.UpdateCandidate(c.ID, func(m *pattern.Pattern) error {
			m.TestCode = testCode
			m.Coherency = res.Score
			m.CovenantSealed = res.CovenantSealed
			return nil
		}); err != nil {
			e.logger.Warn("cannot attach synthesized test", zap.String("candidate", c.ID), zap.Error(err))
			continue
		}
		promoted, err := e.store.PromoteCandidate(c.ID, coherency.MinProvenCoherency)
		if err != nil {
			e.logger.Debug("promotion rejected", zap.String("candidate", c.ID), zap.Error(err))
			continue
		}
		rep.Promoted = append(rep.Promoted, promoted.ID)
	}
	return nil
}

// cleanStubs removes patterns whose body is too small to be useful.
func (e *Engine) cleanStubs(patterns []*pattern.Pattern, rep *ImproveReport) {
	for _, p := range patterns {
		if !p.IsStub() {
			continue
		}
		if err := e.store.DeletePattern(p.ID); err != nil {
			e.logger.Warn("cannot clean stub", zap.String("pattern", p.ID), zap.Error(err))
			continue
		}
		rep.CleanedStubs = append(rep.CleanedStubs, p.ID)
	}
}

// retag reconciles each pattern's tags with its classified type.
func (e *Engine) retag(patterns []*pattern.Pattern, rep *ImproveReport) {
	for _, p := range patterns {
		want := string(coherency.ClassifyType(p.Name, p.Code, p.Description))
		if want == string(pattern.TypeOther) || hasTag(p, want) {
			continue
		}
		if _, err := e.store.UpdatePattern(p.ID, func(m *pattern.Pattern) error {
			m.MergeTags([]string{want})
			return nil
		}); err != nil {
			e.logger.Warn("cannot retag", zap.String("pattern", p.ID), zap.Error(err))
			continue
		}
		rep.Retagged = append(rep.Retagged, p.ID)
	}
}

func hasTag(p *pattern.Pattern, tag string) bool {
	for _, t := range p.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// optimize detects unused patterns (report only), deduplicates, refreshes
// stale coherency scores, and emits recommendations.
func (e *Engine) optimize(ctx context.Context, rep *OptimizeReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	patterns, err := e.store.Snapshot()
	if err != nil {
		return fmt.Errorf("optimize: %w", err)
	}

	now := time.Now().UTC()
	for _, p := range patterns {
		if p.DaysSinceUse(now) >= e.cfg.UnusedAfterDays {
			rep.Unused = append(rep.Unused, p.ID)
		}
	}
	if len(rep.Unused) > 0 {
		rep.Recommendations = append(rep.Recommendations, Recommendation{
			Priority: "info",
			Message:  fmt.Sprintf("%d patterns unused for %d+ days; review before pruning", len(rep.Unused), e.cfg.UnusedAfterDays),
		})
	}

	dedup, err := e.store.Deduplicate()
	if err != nil {
		return fmt.Errorf("optimize dedup: %w", err)
	}
	rep.DedupRemoved = dedup.Removed
	rep.DedupLinked = dedup.Linked
	if dedup.Removed > 0 {
		rep.Recommendations = append(rep.Recommendations, Recommendation{
			Priority: "high",
			Message:  fmt.Sprintf("merged %d near-duplicate patterns", dedup.Removed),
		})
	}

	rep.Refreshed = e.refreshStale(ctx, patterns, now)
	return nil
}

// refreshStale re-evaluates coherency for patterns whose score predates
// their last code change window.
func (e *Engine) refreshStale(ctx context.Context, patterns []*pattern.Pattern, now time.Time) []string {
	if e.eval == nil {
		return nil
	}
	var refreshed []string
	for _, p := range patterns {
		if now.Sub(p.UpdatedAt) < 30*24*time.Hour {
			continue
		}
		res, err := e.eval.Evaluate(ctx, p.Code, coherency.Options{
			Language:    p.Language,
			Description: p.Description,
			Name:        p.Name,
			TestCode:    p.TestCode,
		})
		if err != nil {
			continue
		}
		if res.Score.Total == p.Coherency.Total {
			continue
		}
		if _, err := e.store.UpdatePattern(p.ID, func(m *pattern.Pattern) error {
			m.Coherency = res.Score
			return nil
		}); err != nil {
			continue
		}
		refreshed = append(refreshed, p.ID)
	}
	return refreshed
}

// regressionDelta is the success-rate drop over the recent-use window
// that flags a regression.
const regressionDelta = -0.3

// evolve detects reliability regressions over the recent-use window and
// re-scores them, discounts stale and heavily forked patterns, and heals
// chronically failing ones.
func (e *Engine) evolve(ctx context.Context, rep *EvolveReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	patterns, err := e.store.Snapshot()
	if err != nil {
		return fmt.Errorf("evolve: %w", err)
	}

	childCounts := make(map[string]int)
	for _, p := range patterns {
		if p.ParentPattern != "" {
			childCounts[p.ParentPattern]++
		}
	}
	now := time.Now().UTC()

	for _, p := range patterns {
		if err := ctx.Err(); err != nil {
			return err
		}

		regressed := false
		if delta, ok := p.UsageDelta(); ok && delta <= regressionDelta {
			regressed = true
			rep.Regressions = append(rep.Regressions, p.ID)
		}

		penalty := search.StalenessPenalty(p, now) + search.OverEvolutionPenalty(childCounts[p.ID])
		if regressed || penalty > 0 {
			if e.reassess(ctx, p, penalty) && penalty > 0 {
				rep.Penalized = append(rep.Penalized, p.ID)
			}
		}
		if regressed {
			e.healPattern(ctx, p, "regression", &rep.Healed, &rep.HealFailed)
			continue
		}

		if p.Reliability.UsageCount >= e.cfg.RegressionUses &&
			p.Reliability.SuccessRate() < e.cfg.RegressionRate {
			rep.Regressions = append(rep.Regressions, p.ID)
			e.healPattern(ctx, p, "regression", &rep.Healed, &rep.HealFailed)
		}
	}
	return nil
}

// reassess re-evaluates a pattern's coherency from its current code and
// persists the score with the rank penalties folded in. Deriving from a
// fresh evaluation keeps the discount stable across repeated cycles.
func (e *Engine) reassess(ctx context.Context, p *pattern.Pattern, penalty float64) bool {
	if e.eval == nil {
		return false
	}
	res, err := e.eval.Evaluate(ctx, p.Code, coherency.Options{
		Language:    p.Language,
		Description: p.Description,
		Name:        p.Name,
		TestCode:    p.TestCode,
	})
	if err != nil {
		e.logger.Warn("re-evaluation failed", zap.String("pattern", p.ID), zap.Error(err))
		return false
	}
	score := res.Score
	score.Total -= penalty
	if score.Total < 0 {
		score.Total = 0
	}
	if _, err := e.store.UpdatePattern(p.ID, func(m *pattern.Pattern) error {
		m.Coherency = score
		return nil
	}); err != nil {
		e.logger.Warn("cannot persist re-evaluation", zap.String("pattern", p.ID), zap.Error(err))
		return false
	}
	p.Coherency = score
	return true
}
