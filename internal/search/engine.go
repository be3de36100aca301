// Package search answers "what do I already have that solves X?" over a
// pattern collection: lexical token matching, MinHash semantic matching,
// intent parsing, and spelling corrections.
package search

import (
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"github.com/remembrance-run/remembrance-core/internal/core/minhash"
	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

// Mode selects the matching strategy.
type Mode string

const (
	ModeLexical  Mode = "lexical"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

const (
	// Hybrid blend weights.
	lexicalWeight  = 0.55
	semanticWeight = 0.45

	// Ranking formula weights.
	textualWeight   = 0.6
	intentWeight    = 0.2
	coherencyWeight = 0.2

	defaultLimit = 10

	// Staleness penalty ramps linearly between these bounds.
	stalenessFreeDays = 30
	stalenessMaxDays  = 180
	stalenessMaxPen   = 0.15

	// Over-evolution penalty per child fork past the allowance.
	forkAllowance  = 3
	forkPenalty    = 0.05
	forkPenaltyCap = 0.20

	maxCorrectionDistance = 2

	// Results under this textual score are noise from incidental
	// shingle collisions, not matches.
	minTextualScore = 0.05
)

// Source supplies the patterns to search over.
type Source interface {
	Snapshot() ([]*pattern.Pattern, error)
}

// Options filters and shapes a search.
type Options struct {
	Mode         Mode
	Language     pattern.Language
	Limit        int
	MinCoherency float64
}

// Result is one ranked hit.
type Result struct {
	Pattern  *pattern.Pattern `json:"pattern"`
	Score    float64          `json:"score"`
	Textual  float64          `json:"textual"`
	Semantic float64          `json:"semantic"`
}

// Engine ranks patterns against free-text queries.
type Engine struct {
	src    Source
	logger *zap.Logger
}

// New creates a search engine over the given source.
func New(src Source, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{src: src, logger: logger}
}

// Search runs a single-shard search and returns ranked results. Every
// result satisfies the language filter and the coherency floor.
func (e *Engine) Search(term string, opts Options) ([]Result, error) {
	return e.searchWithIntent(term, ParseIntent(term), opts)
}

func (e *Engine) searchWithIntent(term string, intent ParsedIntent, opts Options) ([]Result, error) {
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}

	all, err := e.src.Snapshot()
	if err != nil {
		return nil, err
	}

	childCounts := make(map[string]int)
	for _, p := range all {
		if p.ParentPattern != "" {
			childCounts[p.ParentPattern]++
		}
	}

	queryTokens := tokens(term)
	querySig := minhash.Signature(term)
	now := time.Now().UTC()

	var results []Result
	for _, p := range all {
		if opts.Language != "" && p.Language != opts.Language {
			continue
		}
		if p.Coherency.Total < opts.MinCoherency {
			continue
		}
		if !constraintsHold(intent.Constraints, p) {
			continue
		}

		r := Result{Pattern: p}
		switch opts.Mode {
		case ModeLexical:
			r.Textual = lexicalScore(queryTokens, p)
		case ModeSemantic:
			r.Semantic = semanticScore(term, querySig, p)
			r.Textual = r.Semantic
		default:
			lex := lexicalScore(queryTokens, p)
			sem := semanticScore(term, querySig, p)
			r.Semantic = sem
			r.Textual = lexicalWeight*lex + semanticWeight*sem
		}
		if r.Textual < minTextualScore {
			continue
		}

		r.Score = textualWeight*r.Textual +
			intentWeight*intentBoost(intent, p) +
			coherencyWeight*p.Coherency.Total
		r.Score -= StalenessPenalty(p, now)
		r.Score -= OverEvolutionPenalty(childCounts[p.ID])
		if r.Score < 0 {
			r.Score = 0
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Pattern.Reliability.SuccessCount != b.Pattern.Reliability.SuccessCount {
			return a.Pattern.Reliability.SuccessCount > b.Pattern.Reliability.SuccessCount
		}
		return a.Pattern.UpdatedAt.After(b.Pattern.UpdatedAt)
	})

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// semanticScore blends query-token containment in the code body with raw
// signature similarity. Containment carries most of the weight: queries
// are short, so set-Jaccard against a whole code body underestimates
// badly.
func semanticScore(term string, querySig []uint32, p *pattern.Pattern) float64 {
	containment := tokenContainment(term, p.Code+" "+p.Name+" "+p.Description)
	sig := minhash.Similarity(querySig, p.Signature)
	score := 0.8*containment + 0.2*sig
	if score > 1 {
		score = 1
	}
	return score
}

// tokenContainment is the fraction of query tokens present in the doc.
func tokenContainment(query, doc string) float64 {
	queryTokens := tokens(query)
	if len(queryTokens) == 0 {
		return 0
	}
	docSet := make(map[string]bool)
	for _, t := range tokens(doc) {
		docSet[t] = true
	}
	hits := 0
	for _, t := range queryTokens {
		if docSet[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

func intentBoost(intent ParsedIntent, p *pattern.Pattern) float64 {
	if len(intent.Intents) == 0 {
		return 0
	}
	tagSet := make(map[string]bool, len(p.Tags))
	for _, t := range p.Tags {
		tagSet[strings.ToLower(t)] = true
	}
	var boost float64
	for _, in := range intent.Intents {
		if tagSet[in.Name] || strings.Contains(strings.ToLower(p.Name), in.Name) {
			boost += in.Confidence
		}
	}
	if boost > 1 {
		boost = 1
	}
	return boost
}

func constraintsHold(constraints map[string]bool, p *pattern.Pattern) bool {
	if constraints["tested"] && !p.HasTest() {
		return false
	}
	if constraints["async"] {
		lower := strings.ToLower(p.Code)
		if !strings.Contains(lower, "async") && !strings.Contains(lower, "await") &&
			!strings.Contains(lower, "go func") && !strings.Contains(lower, "promise") {
			return false
		}
	}
	if constraints["no-deps"] {
		lower := strings.ToLower(p.Code)
		if strings.Contains(lower, "require(") || strings.Contains(lower, "import ") ||
			strings.Contains(lower, "from \"") || strings.Contains(lower, "from '") {
			return false
		}
	}
	return true
}

// StalenessPenalty ramps with disuse. Exported so the lifecycle engine
// applies the same discount when it re-scores patterns.
func StalenessPenalty(p *pattern.Pattern, now time.Time) float64 {
	days := p.DaysSinceUse(now)
	if days <= stalenessFreeDays {
		return 0
	}
	pen := stalenessMaxPen * float64(days-stalenessFreeDays) / float64(stalenessMaxDays-stalenessFreeDays)
	if pen > stalenessMaxPen {
		pen = stalenessMaxPen
	}
	return pen
}

// OverEvolutionPenalty grows with the number of child forks past the
// allowance; a pattern that keeps spawning variants is a weak parent.
func OverEvolutionPenalty(children int) float64 {
	if children <= forkAllowance {
		return 0
	}
	pen := forkPenalty * float64(children-forkAllowance)
	if pen > forkPenaltyCap {
		pen = forkPenaltyCap
	}
	return pen
}

// SmartResult is the enriched search response: corrections applied, the
// parsed intent, ranked hits, and follow-up suggestions.
type SmartResult struct {
	Corrections []string     `json:"corrections,omitempty"`
	Intent      ParsedIntent `json:"intent"`
	Results     []Result     `json:"results"`
	Suggestions []string     `json:"suggestions,omitempty"`
}

// SmartSearch parses intent from the query, corrects spelling against the
// known name/tag vocabulary, applies intent-derived filters, and falls
// back to cross-language matches when a language-filtered search is empty.
func (e *Engine) SmartSearch(term string, opts Options) (*SmartResult, error) {
	intent := ParseIntent(term)
	out := &SmartResult{Intent: intent}

	if opts.Language == "" && intent.Language != "" {
		opts.Language = intent.Language
	}

	query := intent.CleanTerm
	if query == "" {
		query = term
	}

	vocab, err := e.vocabulary()
	if err != nil {
		return nil, err
	}
	corrected, corrections := correctTokens(query, vocab)
	if len(corrections) > 0 {
		out.Corrections = corrections
		query = corrected
	}

	results, err := e.searchWithIntent(query, intent, opts)
	if err != nil {
		return nil, err
	}

	// Cross-language fallback.
	if len(results) == 0 && opts.Language != "" {
		fallback := opts
		fallback.Language = ""
		results, err = e.searchWithIntent(query, intent, fallback)
		if err != nil {
			return nil, err
		}
		if len(results) > 0 {
			out.Suggestions = append(out.Suggestions,
				"no "+string(opts.Language)+" match; similar patterns exist in other languages")
		}
	}
	if len(results) == 0 {
		out.Suggestions = append(out.Suggestions, "no match found; consider registering a new pattern")
	}

	out.Results = results
	return out, nil
}

// vocabulary collects the known names and tags used for corrections.
func (e *Engine) vocabulary() (map[string]bool, error) {
	all, err := e.src.Snapshot()
	if err != nil {
		return nil, err
	}
	vocab := make(map[string]bool)
	for _, p := range all {
		for _, t := range tokens(p.Name) {
			vocab[t] = true
		}
		for _, tag := range p.Tags {
			vocab[strings.ToLower(tag)] = true
		}
	}
	for name := range intentVocabulary {
		vocab[name] = true
	}
	return vocab, nil
}

// correctTokens replaces unknown query tokens with the closest vocabulary
// word within edit distance 2.
func correctTokens(query string, vocab map[string]bool) (string, []string) {
	words := strings.Fields(query)
	var corrections []string
	for i, w := range words {
		lower := strings.ToLower(w)
		if vocab[lower] || len(lower) < 4 {
			continue
		}
		best, bestDist := "", maxCorrectionDistance+1
		for v := range vocab {
			if abs(len(v)-len(lower)) > maxCorrectionDistance {
				continue
			}
			if d := levenshtein.ComputeDistance(lower, v); d < bestDist {
				best, bestDist = v, d
			}
		}
		if best != "" && bestDist > 0 {
			words[i] = best
			corrections = append(corrections, lower+" -> "+best)
		}
	}
	return strings.Join(words, " "), corrections
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
