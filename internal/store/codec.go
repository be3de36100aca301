package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

const patternColumnList = `id, name, language, code, description, tags, test_code,
	pattern_type, complexity, coherency, coherency_total, covenant_sealed,
	usage_count, success_count, bug_reports, healing_rate,
	upvotes, downvotes, vote_score,
	parent_pattern, method, author, merged_into, healing_history,
	signature, extensions, created_at, updated_at, last_used_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(r rowScanner) (*pattern.Pattern, error) {
	var (
		p               pattern.Pattern
		tagsJSON        string
		coherencyJSON   string
		healingJSON     string
		signatureJSON   string
		extensionsJSON  string
		covenantSealed  int
		createdAt       int64
		updatedAt       int64
		lastUsedAt      sql.NullInt64
	)

	err := r.Scan(
		&p.ID, &p.Name, &p.Language, &p.Code, &p.Description, &tagsJSON, &p.TestCode,
		&p.Type, &p.Complexity, &coherencyJSON, &p.Coherency.Total, &covenantSealed,
		&p.Reliability.UsageCount, &p.Reliability.SuccessCount, &p.Reliability.BugReports, &p.Reliability.HealingRate,
		&p.Votes.Upvotes, &p.Votes.Downvotes, &p.Votes.Score,
		&p.ParentPattern, &p.Method, &p.Author, &p.MergedInto, &healingJSON,
		&signatureJSON, &extensionsJSON, &createdAt, &updatedAt, &lastUsedAt,
	)
	if err != nil {
		return nil, err
	}

	p.CovenantSealed = covenantSealed != 0
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if lastUsedAt.Valid {
		t := time.Unix(lastUsedAt.Int64, 0).UTC()
		p.LastUsedAt = &t
	}

	if tagsJSON != "" {
		_ = json.Unmarshal([]byte(tagsJSON), &p.Tags)
	}
	p.Coherency.Breakdown = decodeBreakdown(coherencyJSON, p.Coherency.Total)
	if healingJSON != "" {
		_ = json.Unmarshal([]byte(healingJSON), &p.HealingHistory)
	}
	if signatureJSON != "" {
		_ = json.Unmarshal([]byte(signatureJSON), &p.Signature)
	}
	if extensionsJSON != "" && extensionsJSON != "{}" {
		_ = json.Unmarshal([]byte(extensionsJSON), &p.Extensions)
	}
	return &p, nil
}

// decodeBreakdown reads the six-dimension breakdown. Legacy rows written
// with the retired {relevance, coherency, usage, freshness, trust} shape
// are converted on first read: coherency maps to correctness, relevance
// carries over, the rest default to unknown.
func decodeBreakdown(raw string, total float64) pattern.Breakdown {
	var b pattern.Breakdown
	if raw == "" || raw == "{}" {
		return defaultBreakdown(total)
	}

	var probe map[string]float64
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return defaultBreakdown(total)
	}

	if _, legacy := probe["trust"]; legacy {
		b = defaultBreakdown(total)
		if v, ok := probe["coherency"]; ok {
			b.Correctness = v
		}
		if v, ok := probe["relevance"]; ok {
			b.Relevance = v
		}
		return b
	}

	_ = json.Unmarshal([]byte(raw), &b)
	return b
}

func defaultBreakdown(total float64) pattern.Breakdown {
	return pattern.Breakdown{
		Correctness: total,
		Simplicity:  0.5,
		Relevance:   0.5,
		Clarity:     0.5,
		Nesting:     0.5,
		Security:    0.5,
	}
}

type encodedPattern struct {
	tags       string
	coherency  string
	healing    string
	signature  string
	extensions string
	sealed     int
	lastUsed   any // int64 or nil
}

func encodePattern(p *pattern.Pattern) encodedPattern {
	e := encodedPattern{
		tags:       marshalOr(p.Tags, "[]"),
		coherency:  marshalOr(p.Coherency.Breakdown, "{}"),
		healing:    marshalOr(p.HealingHistory, "[]"),
		signature:  marshalOr(p.Signature, "[]"),
		extensions: marshalOr(p.Extensions, "{}"),
	}
	if p.CovenantSealed {
		e.sealed = 1
	}
	if p.LastUsedAt != nil {
		e.lastUsed = p.LastUsedAt.Unix()
	}
	return e
}

func marshalOr(v any, fallback string) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return fallback
	}
	return string(data)
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
