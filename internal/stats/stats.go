// Package stats aggregates and renders library statistics for reports.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
	"github.com/remembrance-run/remembrance-core/internal/store"
)

// Summary is the library report: store totals plus derived usage facts.
type Summary struct {
	Patterns     int            `json:"patterns"`
	Candidates   int            `json:"candidates"`
	AvgCoherency float64        `json:"avg_coherency"`
	ByLanguage   map[string]int `json:"by_language"`
	ByType       map[string]int `json:"by_type"`
	Votes        int            `json:"votes"`
	Voters       int            `json:"voters"`

	TotalUses     int        `json:"total_uses"`
	TotalSuccess  int        `json:"total_success"`
	Tested        int        `json:"tested"`
	Healed        int        `json:"healed"`
	OldestCreated *time.Time `json:"oldest_created,omitempty"`
	LastUsed      *time.Time `json:"last_used,omitempty"`
}

// Collect builds a summary from the store.
func Collect(s *store.Store) (*Summary, error) {
	base, err := s.ComputeStats()
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	patterns, err := s.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	sum := &Summary{
		Patterns:     base.Patterns,
		Candidates:   base.Candidates,
		AvgCoherency: base.AvgCoherency,
		ByLanguage:   base.ByLanguage,
		ByType:       base.ByType,
		Votes:        base.Votes,
		Voters:       base.Voters,
	}
	for _, p := range patterns {
		sum.TotalUses += p.Reliability.UsageCount
		sum.TotalSuccess += p.Reliability.SuccessCount
		if p.HasTest() {
			sum.Tested++
		}
		if len(p.HealingHistory) > 0 {
			sum.Healed++
		}
		if sum.OldestCreated == nil || p.CreatedAt.Before(*sum.OldestCreated) {
			created := p.CreatedAt
			sum.OldestCreated = &created
		}
		if p.LastUsedAt != nil && (sum.LastUsed == nil || p.LastUsedAt.After(*sum.LastUsed)) {
			used := *p.LastUsedAt
			sum.LastUsed = &used
		}
	}
	return sum, nil
}

// Render formats the summary for terminal output.
func (s *Summary) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Patterns:      %d proven, %d candidates\n", s.Patterns, s.Candidates)
	fmt.Fprintf(&b, "Avg coherency: %.2f\n", s.AvgCoherency)
	fmt.Fprintf(&b, "Usage:         %d uses, %d successes\n", s.TotalUses, s.TotalSuccess)
	fmt.Fprintf(&b, "Tested:        %d   Healed: %d\n", s.Tested, s.Healed)
	fmt.Fprintf(&b, "Votes:         %d from %d voters\n", s.Votes, s.Voters)

	if s.OldestCreated != nil {
		fmt.Fprintf(&b, "Library age:   %s\n", humanize.Time(*s.OldestCreated))
	}
	if s.LastUsed != nil {
		fmt.Fprintf(&b, "Last used:     %s\n", humanize.Time(*s.LastUsed))
	}

	if len(s.ByLanguage) > 0 {
		b.WriteString("\nBy language:\n")
		for _, row := range sortedCounts(s.ByLanguage) {
			fmt.Fprintf(&b, "  %-12s %d\n", row.key, row.n)
		}
	}
	if len(s.ByType) > 0 {
		b.WriteString("\nBy type:\n")
		for _, row := range sortedCounts(s.ByType) {
			fmt.Fprintf(&b, "  %-14s %d\n", row.key, row.n)
		}
	}
	return b.String()
}

type countRow struct {
	key string
	n   int
}

// sortedCounts orders histogram rows by count descending, name ascending.
func sortedCounts(m map[string]int) []countRow {
	rows := make([]countRow, 0, len(m))
	for k, n := range m {
		rows = append(rows, countRow{k, n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].n != rows[j].n {
			return rows[i].n > rows[j].n
		}
		return rows[i].key < rows[j].key
	})
	return rows
}

// TopUsed returns the most used patterns, ties broken by success count.
func TopUsed(s *store.Store, limit int) ([]*pattern.Pattern, error) {
	patterns, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	sort.Slice(patterns, func(i, j int) bool {
		a, b := patterns[i].Reliability, patterns[j].Reliability
		if a.UsageCount != b.UsageCount {
			return a.UsageCount > b.UsageCount
		}
		return a.SuccessCount > b.SuccessCount
	})
	if limit > 0 && len(patterns) > limit {
		patterns = patterns[:limit]
	}
	return patterns, nil
}
