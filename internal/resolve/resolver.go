// Package resolve implements the PULL / EVOLVE / GENERATE decision
// procedure: given a natural-language intent, find the best stored
// pattern and decide whether to reuse it verbatim, reuse it with a
// healing pass, or report that fresh code must be written.
package resolve

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"go.uber.org/zap"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
	"github.com/remembrance-run/remembrance-core/internal/generate"
	"github.com/remembrance-run/remembrance-core/internal/reflect"
	"github.com/remembrance-run/remembrance-core/internal/search"
)

// Decision is the resolver's verdict.
type Decision string

const (
	DecisionPull     Decision = "PULL"
	DecisionEvolve   Decision = "EVOLVE"
	DecisionGenerate Decision = "GENERATE"
)

const (
	// Fit formula weights.
	fitMatchWeight     = 0.45
	fitCoherencyWeight = 0.30
	fitReliability     = 0.15
	fitVoteWeight      = 0.10

	// Reliability sub-weights.
	relSuccessWeight = 0.6
	relHealingWeight = 0.3
	relRecencyWeight = 0.1

	DefaultTauPull      = 0.85
	DefaultTauEvolve    = 0.55
	DefaultTopK         = 5
	DefaultMinCoherency = 0.55
	DefaultHealTarget   = 0.8
)

// Config tunes the resolver thresholds.
type Config struct {
	TauPull      float64
	TauEvolve    float64
	TopK         int
	MinCoherency float64
	HealTarget   float64
	HealMaxLoops int
	// Whispers is the phrase pool keyed by coherency tier: low, mid, high.
	Whispers map[string][]string
}

// DefaultConfig returns the standard thresholds and whisper pool.
func DefaultConfig() Config {
	return Config{
		TauPull:      DefaultTauPull,
		TauEvolve:    DefaultTauEvolve,
		TopK:         DefaultTopK,
		MinCoherency: DefaultMinCoherency,
		HealTarget:   DefaultHealTarget,
		HealMaxLoops: reflect.DefaultMaxLoops,
		Whispers: map[string][]string{
			"low": {
				"this one is rough; treat it as a starting point",
				"handle with care, the pattern needs work",
			},
			"mid": {
				"solid bones, worth a close read before shipping",
				"a decent fit; skim the edge cases",
			},
			"high": {
				"battle-tested; drop it in",
				"this pattern has earned its keep",
			},
		},
	}
}

// Request is one resolution intent.
type Request struct {
	Description  string
	Tags         []string
	Language     pattern.Language
	Heal         bool
	MinCoherency float64 // 0 means the configured default
}

// Healing summarizes the SERF pass attached to an EVOLVE.
type Healing struct {
	Loops             int     `json:"loops"`
	OriginalCoherence float64 `json:"original_coherence"`
	FinalCoherence    float64 `json:"final_coherence"`
	Converged         bool    `json:"converged"`
}

// Alternative is a runner-up candidate included for context.
type Alternative struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Fit  float64 `json:"fit"`
}

// Resolution is the resolver's full answer.
type Resolution struct {
	Decision     Decision         `json:"decision"`
	Confidence   float64          `json:"confidence"`
	Pattern      *pattern.Pattern `json:"pattern,omitempty"`
	HealedCode   string           `json:"healed_code,omitempty"`
	Healing      *Healing         `json:"healing,omitempty"`
	Alternatives []Alternative    `json:"alternatives,omitempty"`
	Whisper      string           `json:"whisper,omitempty"`
	Reasoning    string           `json:"reasoning"`
}

// Evaluate scores code during healing; satisfied by the coherency
// evaluator via reflect.Evaluator adaptation in the caller.
type Evaluate func(ctx context.Context, code string, p *pattern.Pattern) (score float64, issues []string, err error)

// Resolver ranks candidates and decides PULL / EVOLVE / GENERATE.
type Resolver struct {
	engine   *search.Engine
	gen      generate.Generator
	evaluate Evaluate
	cfg      Config
	logger   *zap.Logger
}

// New wires a resolver. gen and evaluate may be nil, which disables
// healing (EVOLVE then returns the pattern unhealed).
func New(engine *search.Engine, gen generate.Generator, evaluate Evaluate, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.TauPull == 0 {
		cfg.TauPull = DefaultTauPull
	}
	if cfg.TauEvolve == 0 {
		cfg.TauEvolve = DefaultTauEvolve
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MinCoherency == 0 {
		cfg.MinCoherency = DefaultMinCoherency
	}
	if cfg.HealTarget == 0 {
		cfg.HealTarget = DefaultHealTarget
	}
	if cfg.HealMaxLoops <= 0 {
		cfg.HealMaxLoops = reflect.DefaultMaxLoops
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{engine: engine, gen: gen, evaluate: evaluate, cfg: cfg, logger: logger}
}

// Resolve runs the decision procedure for one intent.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	minCoherency := req.MinCoherency
	if minCoherency == 0 {
		minCoherency = r.cfg.MinCoherency
	}

	query := req.Description
	for _, tag := range req.Tags {
		query += " " + tag
	}

	smart, err := r.engine.SmartSearch(query, search.Options{
		Language:     req.Language,
		Limit:        r.cfg.TopK,
		MinCoherency: minCoherency,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve search: %w", err)
	}

	if len(smart.Results) == 0 {
		return &Resolution{
			Decision:  DecisionGenerate,
			Reasoning: "library empty or no match found for the intent",
		}, nil
	}

	now := time.Now().UTC()
	type scored struct {
		res search.Result
		fit float64
	}
	candidates := make([]scored, 0, len(smart.Results))
	bestIdx := 0
	for i, res := range smart.Results {
		f := fit(res, now)
		candidates = append(candidates, scored{res: res, fit: f})
		if f > candidates[bestIdx].fit {
			bestIdx = i
		}
	}

	best := candidates[bestIdx]
	out := &Resolution{Confidence: best.fit}
	for i, c := range candidates {
		if i == bestIdx {
			continue
		}
		out.Alternatives = append(out.Alternatives, Alternative{
			ID: c.res.Pattern.ID, Name: c.res.Pattern.Name, Fit: c.fit,
		})
	}

	languageOK := req.Language == "" || best.res.Pattern.Language == req.Language

	switch {
	case best.fit >= r.cfg.TauPull && languageOK:
		out.Decision = DecisionPull
		out.Pattern = best.res.Pattern
		out.Reasoning = fmt.Sprintf("fit %.2f >= %.2f for %q; reuse verbatim",
			best.fit, r.cfg.TauPull, best.res.Pattern.Name)
		out.Whisper = r.whisper(best.res.Pattern.Coherency.Total, best.res.Pattern.ID)

	case best.fit >= r.cfg.TauEvolve:
		out.Decision = DecisionEvolve
		out.Pattern = best.res.Pattern
		out.Reasoning = fmt.Sprintf("fit %.2f in evolve band for %q; adapt with modifications",
			best.fit, best.res.Pattern.Name)
		if req.Heal {
			r.heal(ctx, best.res.Pattern, out)
		}

	default:
		out.Decision = DecisionGenerate
		out.Pattern = nil
		out.Reasoning = fmt.Sprintf("no match strong enough (best fit %.2f < %.2f); generate fresh",
			best.fit, r.cfg.TauEvolve)
	}

	r.logger.Debug("resolved intent",
		zap.String("decision", string(out.Decision)),
		zap.Float64("confidence", out.Confidence))
	return out, nil
}

// heal runs the SERF loop on the chosen pattern and attaches the result.
// Healing is best-effort: failures leave the EVOLVE decision intact.
func (r *Resolver) heal(ctx context.Context, p *pattern.Pattern, out *Resolution) {
	if r.gen == nil || r.evaluate == nil {
		return
	}
	outcome, err := reflect.Reflect(ctx, p.Code, reflect.Options{
		Target:   r.cfg.HealTarget,
		MaxLoops: r.cfg.HealMaxLoops,
		Evaluate: func(ctx context.Context, code string) (float64, []string, error) {
			return r.evaluate(ctx, code, p)
		},
		Refine: func(ctx context.Context, code string, issues []string, iteration int) (string, error) {
			return r.gen.Refine(ctx, code, issues, iteration)
		},
		Logger: r.logger,
	})
	if err != nil {
		r.logger.Warn("healing failed during resolve",
			zap.String("pattern", p.ID), zap.Error(err))
		return
	}

	original := p.Coherency.Total
	out.Healing = &Healing{
		Loops:             outcome.Iterations,
		OriginalCoherence: original,
		FinalCoherence:    outcome.Score,
		Converged:         outcome.Converged,
	}
	if outcome.Code != p.Code && outcome.Score > original {
		out.HealedCode = outcome.Code
	}
	out.Whisper = r.whisper(outcome.Score, p.ID)
}

// fit scores one candidate for the decision thresholds.
func fit(res search.Result, now time.Time) float64 {
	p := res.Pattern
	reliability := relSuccessWeight*successRate(p) +
		relHealingWeight*(1-clamp01(p.Reliability.HealingRate)) +
		relRecencyWeight*recencyBoost(p, now)

	f := fitMatchWeight*res.Score +
		fitCoherencyWeight*p.Coherency.Total +
		fitReliability*reliability +
		fitVoteWeight*normalizedVoteScore(p.Votes.Score)
	return clamp01(f)
}

// successRate treats unused patterns as moderately trustworthy rather
// than untested failures; a test proof raises the prior.
func successRate(p *pattern.Pattern) float64 {
	if p.Reliability.UsageCount == 0 {
		if p.HasTest() {
			return 0.9
		}
		return 0.7
	}
	return p.Reliability.SuccessRate()
}

// recencyBoost is 1 within a week of last use and fades to 0 at 90 days.
func recencyBoost(p *pattern.Pattern, now time.Time) float64 {
	days := p.DaysSinceUse(now)
	switch {
	case days <= 7:
		return 1
	case days >= 90:
		return 0
	default:
		return 1 - float64(days-7)/83.0
	}
}

// normalizedVoteScore maps the unbounded weighted vote sum into [0,1]
// with 0.5 as neutral.
func normalizedVoteScore(score float64) float64 {
	return clamp01(0.5 + score/10)
}

// whisper picks a phrase from the pool for the coherency tier. Selection
// hashes the pattern id so repeated resolutions stay stable.
func (r *Resolver) whisper(coherency float64, patternID string) string {
	tier := "high"
	switch {
	case coherency < 0.35:
		tier = "low"
	case coherency < 0.65:
		tier = "mid"
	}
	pool := r.cfg.Whispers[tier]
	if len(pool) == 0 {
		return ""
	}
	h := fnv.New32a()
	h.Write([]byte(patternID))
	return pool[int(h.Sum32())%len(pool)]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
