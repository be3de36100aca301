// Package pattern defines the core data model of the Remembrance Oracle:
// proven patterns, unproven candidates, voters, and lifecycle counters.
package pattern

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Language is the closed set of languages a pattern can be tagged with.
type Language string

const (
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangPython     Language = "python"
	LangGo         Language = "go"
	LangRust       Language = "rust"
	LangJava       Language = "java"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangCSharp     Language = "csharp"
	LangUnknown    Language = "unknown"
)

// Languages lists every valid language tag.
func Languages() []Language {
	return []Language{
		LangJavaScript, LangTypeScript, LangPython, LangGo, LangRust,
		LangJava, LangC, LangCPP, LangCSharp, LangUnknown,
	}
}

// ParseLanguage normalizes a language string into the closed enum.
func ParseLanguage(s string) Language {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "javascript", "js":
		return LangJavaScript
	case "typescript", "ts":
		return LangTypeScript
	case "python", "py":
		return LangPython
	case "go", "golang":
		return LangGo
	case "rust", "rs":
		return LangRust
	case "java":
		return LangJava
	case "c":
		return LangC
	case "cpp", "c++":
		return LangCPP
	case "csharp", "c#", "cs":
		return LangCSharp
	default:
		return LangUnknown
	}
}

// Type classifies what kind of code a pattern is.
type Type string

const (
	TypeUtility       Type = "utility"
	TypeAlgorithm     Type = "algorithm"
	TypeDesignPattern Type = "design-pattern"
	TypeValidation    Type = "validation"
	TypeDataStructure Type = "data-structure"
	TypeOther         Type = "other"
)

// Complexity is a coarse size/branching classification derived from code.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Method records how a pattern came into existence.
type Method string

const (
	MethodSeed       Method = "seed"
	MethodSubmit     Method = "submit"
	MethodEvolve     Method = "evolve"
	MethodVariant    Method = "variant"
	MethodTranspile  Method = "transpile"
	MethodSynthesize Method = "synthesize"
	MethodHeal       Method = "heal"
)

// Breakdown holds the six coherency sub-scores, each in [0,1].
type Breakdown struct {
	Correctness float64 `json:"correctness" yaml:"correctness"`
	Simplicity  float64 `json:"simplicity" yaml:"simplicity"`
	Relevance   float64 `json:"relevance" yaml:"relevance"`
	Clarity     float64 `json:"clarity" yaml:"clarity"`
	Nesting     float64 `json:"nesting" yaml:"nesting"`
	Security    float64 `json:"security" yaml:"security"`
}

// CoherencyScore is the weighted composite quality score of a pattern.
type CoherencyScore struct {
	Total     float64   `json:"total" yaml:"total"`
	Breakdown Breakdown `json:"breakdown" yaml:"breakdown"`
}

// Reliability tracks how a pattern has performed in use.
type Reliability struct {
	UsageCount   int     `json:"usage_count" yaml:"usage_count"`
	SuccessCount int     `json:"success_count" yaml:"success_count"`
	BugReports   int     `json:"bug_reports" yaml:"bug_reports"`
	HealingRate  float64 `json:"healing_rate" yaml:"healing_rate"`
}

// SuccessRate returns successes over uses, 0 when unused.
func (r Reliability) SuccessRate() float64 {
	if r.UsageCount == 0 {
		return 0
	}
	return float64(r.SuccessCount) / float64(r.UsageCount)
}

// Votes aggregates weighted community votes on a pattern.
type Votes struct {
	Upvotes   int     `json:"upvotes" yaml:"upvotes"`
	Downvotes int     `json:"downvotes" yaml:"downvotes"`
	Score     float64 `json:"score" yaml:"score"`
}

// HealingEntry records one healing pass applied to a pattern.
type HealingEntry struct {
	HealedAt      time.Time `json:"healed_at" yaml:"healed_at"`
	OldCoherency  float64   `json:"old_coherency" yaml:"old_coherency"`
	NewCoherency  float64   `json:"new_coherency" yaml:"new_coherency"`
	Iterations    int       `json:"iterations" yaml:"iterations"`
	TriggeredBy   string    `json:"triggered_by" yaml:"triggered_by"`
}

// Pattern is the unit of long-term memory: a named, scored piece of code
// with an optional test proof. The same shape is stored in the candidate
// collection for coherent-but-unproven code.
type Pattern struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Code        string   `json:"code" yaml:"code"`
	Language    Language `json:"language" yaml:"language"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	TestCode    string   `json:"test_code,omitempty" yaml:"test_code,omitempty"`

	Type       Type       `json:"pattern_type" yaml:"pattern_type"`
	Complexity Complexity `json:"complexity" yaml:"complexity"`

	Coherency      CoherencyScore `json:"coherency_score" yaml:"coherency_score"`
	CovenantSealed bool           `json:"covenant_sealed" yaml:"covenant_sealed"`

	Reliability Reliability `json:"reliability" yaml:"reliability"`
	Votes       Votes       `json:"votes" yaml:"votes"`

	// Lineage
	ParentPattern string `json:"parent_pattern,omitempty" yaml:"parent_pattern,omitempty"`
	Method        Method `json:"generation_method" yaml:"generation_method"`

	Author string `json:"author,omitempty" yaml:"author,omitempty"`

	// MergedInto points to the surviving sibling after deduplication.
	MergedInto string `json:"merged_into,omitempty" yaml:"merged_into,omitempty"`

	// HealingHistory records coherency rewrites applied by the reflector.
	HealingHistory []HealingEntry `json:"healing_history,omitempty" yaml:"healing_history,omitempty"`

	// Signature is the MinHash signature of the normalized code, recomputed
	// on code mutation only.
	Signature []uint32 `json:"signature,omitempty" yaml:"signature,omitempty"`

	// Extensions carries forward-compatible metadata without reopening the
	// record shape.
	Extensions map[string]string `json:"extensions,omitempty" yaml:"extensions,omitempty"`

	CreatedAt  time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" yaml:"updated_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" yaml:"last_used_at,omitempty"`
}

// New creates a pattern with a fresh id and timestamps.
func New(name, code string, lang Language) *Pattern {
	now := time.Now().UTC()
	return &Pattern{
		ID:        uuid.New().String(),
		Name:      name,
		Code:      code,
		Language:  lang,
		Type:      TypeOther,
		Method:    MethodSubmit,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanonicalKey returns the uniqueness key for the proven collection:
// lowercased name plus language.
func (p *Pattern) CanonicalKey() string {
	return strings.ToLower(strings.TrimSpace(p.Name)) + "\x00" + string(p.Language)
}

// ContentHash computes the SHA256 hash of the pattern code.
func (p *Pattern) ContentHash() string {
	h := sha256.Sum256([]byte(p.Code))
	return hex.EncodeToString(h[:])
}

// HasTest reports whether the pattern carries test code.
func (p *Pattern) HasTest() bool {
	return strings.TrimSpace(p.TestCode) != ""
}

// Touch updates the modification timestamp.
func (p *Pattern) Touch() {
	p.UpdatedAt = time.Now().UTC()
}

// MarkUsed records a use at the given time.
func (p *Pattern) MarkUsed(t time.Time) {
	p.Reliability.UsageCount++
	p.LastUsedAt = &t
}

// RecentUseWindow bounds the per-pattern outcome window kept for
// regression detection.
const RecentUseWindow = 10

// recentUsesKey is the Extensions slot holding the outcome window as a
// string of '1'/'0' characters, oldest first.
const recentUsesKey = "recent_uses"

// PushOutcome appends a use outcome to the bounded recent-use window.
func (p *Pattern) PushOutcome(success bool) {
	c := byte('0')
	if success {
		c = '1'
	}
	w := p.Extensions[recentUsesKey] + string(c)
	if len(w) > RecentUseWindow {
		w = w[len(w)-RecentUseWindow:]
	}
	if p.Extensions == nil {
		p.Extensions = make(map[string]string, 1)
	}
	p.Extensions[recentUsesKey] = w
}

// RecentOutcomes returns the recorded outcome window, oldest first.
func (p *Pattern) RecentOutcomes() []bool {
	w := p.Extensions[recentUsesKey]
	out := make([]bool, 0, len(w))
	for i := 0; i < len(w); i++ {
		out = append(out, w[i] == '1')
	}
	return out
}

// UsageDelta reports how the success rate moved across the most recent
// use window: the current rate minus the rate before the window. ok is
// false until a full window and a pre-window baseline exist.
func (p *Pattern) UsageDelta() (delta float64, ok bool) {
	w := p.RecentOutcomes()
	if len(w) < RecentUseWindow {
		return 0, false
	}
	wins := 0
	for _, s := range w {
		if s {
			wins++
		}
	}
	beforeUses := p.Reliability.UsageCount - len(w)
	beforeWins := p.Reliability.SuccessCount - wins
	if beforeUses <= 0 || beforeWins < 0 || beforeWins > beforeUses {
		return 0, false
	}
	return p.Reliability.SuccessRate() - float64(beforeWins)/float64(beforeUses), true
}

// NonBlankLines counts lines that contain any non-whitespace character.
func (p *Pattern) NonBlankLines() int {
	n := 0
	for _, line := range strings.Split(p.Code, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

// IsStub reports whether the pattern body is too small to be useful.
func (p *Pattern) IsStub() bool {
	return p.NonBlankLines() <= 3
}

// DaysSinceUse returns whole days since the last use, falling back to the
// update timestamp when the pattern has never been used.
func (p *Pattern) DaysSinceUse(now time.Time) int {
	last := p.UpdatedAt
	if p.LastUsedAt != nil {
		last = *p.LastUsedAt
	}
	return int(now.Sub(last).Hours() / 24)
}

// MergeTags unions the given tags into the pattern's tag set, lowercased.
func (p *Pattern) MergeTags(tags []string) {
	seen := make(map[string]bool, len(p.Tags))
	for _, t := range p.Tags {
		seen[strings.ToLower(t)] = true
	}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		p.Tags = append(p.Tags, t)
	}
}

// Validate checks structural invariants that hold for any stored pattern.
func (p *Pattern) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("pattern id is empty")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("pattern name is empty")
	}
	if strings.TrimSpace(p.Code) == "" {
		return fmt.Errorf("pattern code is empty")
	}
	if p.Reliability.SuccessCount > p.Reliability.UsageCount {
		return fmt.Errorf("success count %d exceeds usage count %d",
			p.Reliability.SuccessCount, p.Reliability.UsageCount)
	}
	if p.Coherency.Total < 0 || p.Coherency.Total > 1 {
		return fmt.Errorf("coherency total %.3f out of range", p.Coherency.Total)
	}
	return nil
}

// Clone returns a deep copy of the pattern.
func (p *Pattern) Clone() *Pattern {
	cp := *p
	cp.Tags = append([]string(nil), p.Tags...)
	cp.Signature = append([]uint32(nil), p.Signature...)
	cp.HealingHistory = append([]HealingEntry(nil), p.HealingHistory...)
	if p.Extensions != nil {
		cp.Extensions = make(map[string]string, len(p.Extensions))
		for k, v := range p.Extensions {
			cp.Extensions[k] = v
		}
	}
	if p.LastUsedAt != nil {
		t := *p.LastUsedAt
		cp.LastUsedAt = &t
	}
	return &cp
}
