package store

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/remembrance-run/remembrance-core/internal/core/minhash"
	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

// InsertResult reports how an insert landed: a fresh row or a merge into
// an existing sibling with the same canonical (name, language) key.
type InsertResult struct {
	ID     string
	Merged bool
}

// InsertOptions tunes a single insert.
type InsertOptions struct {
	// Strict surfaces duplicates as ErrDuplicate instead of merging.
	Strict bool
}

// InsertPattern adds a pattern to the proven collection. When another
// pattern already holds the canonical (lowercase(name), language) key the
// two are merged: tags union, the higher-coherency side keeps code and
// tests, reliability counts fold together. The merge is idempotent — re-
// inserting the same pattern changes nothing.
func (s *Store) InsertPattern(p *pattern.Pattern, opts InsertOptions) (*InsertResult, error) {
	if err := prepareForInsert(p); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	existing, err := getByNameTx(tx, "patterns", p.Name, p.Language)
	if err != nil && err != ErrNotFound {
		return nil, err
	}

	if existing != nil {
		if opts.Strict {
			return nil, fmt.Errorf("%w: %s (%s)", ErrDuplicate, p.Name, p.Language)
		}
		merged := mergePatterns(existing, p)
		if err := updateRowTx(tx, "patterns", merged); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		s.logger.Debug("pattern merged",
			zap.String("survivor", merged.ID), zap.String("name", merged.Name))
		return &InsertResult{ID: merged.ID, Merged: true}, nil
	}

	if err := insertRowTx(tx, "patterns", p); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &InsertResult{ID: p.ID}, nil
}

func prepareForInsert(p *pattern.Pattern) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	if len(p.Signature) == 0 {
		p.Signature = minhash.Signature(p.Code)
	}
	return p.Validate()
}

// mergePatterns folds incoming into existing and returns the survivor
// (always the existing row's identity). Re-inserting identical content is
// a no-op apart from a tag union.
func mergePatterns(existing, incoming *pattern.Pattern) *pattern.Pattern {
	survivor := existing.Clone()
	survivor.MergeTags(incoming.Tags)

	// The same pattern arriving again must not inflate counts.
	sameIdentity := incoming.ID == existing.ID
	sameContent := incoming.ContentHash() == existing.ContentHash()
	if sameIdentity || (sameContent && incoming.Reliability == existing.Reliability) {
		return survivor
	}

	if incoming.Coherency.Total > survivor.Coherency.Total {
		survivor.Code = incoming.Code
		survivor.TestCode = incoming.TestCode
		survivor.Coherency = incoming.Coherency
		survivor.Complexity = incoming.Complexity
		survivor.Type = incoming.Type
		survivor.CovenantSealed = incoming.CovenantSealed
		survivor.Signature = minhash.Signature(incoming.Code)
		if incoming.Description != "" {
			survivor.Description = incoming.Description
		}
	}

	survivor.Reliability.UsageCount += incoming.Reliability.UsageCount
	survivor.Reliability.SuccessCount += incoming.Reliability.SuccessCount
	survivor.Reliability.BugReports += incoming.Reliability.BugReports
	if incoming.Reliability.HealingRate > survivor.Reliability.HealingRate {
		survivor.Reliability.HealingRate = incoming.Reliability.HealingRate
	}
	if incoming.LastUsedAt != nil &&
		(survivor.LastUsedAt == nil || incoming.LastUsedAt.After(*survivor.LastUsedAt)) {
		t := *incoming.LastUsedAt
		survivor.LastUsedAt = &t
	}
	survivor.Touch()
	return survivor
}

func insertRowTx(tx *sql.Tx, table string, p *pattern.Pattern) error {
	e := encodePattern(p)
	_, err := tx.Exec(`INSERT INTO `+table+` (
		id, name, name_key, language, code, description, tags, test_code,
		pattern_type, complexity, coherency, coherency_total, covenant_sealed,
		usage_count, success_count, bug_reports, healing_rate,
		upvotes, downvotes, vote_score,
		parent_pattern, method, author, merged_into, healing_history,
		signature, extensions, created_at, updated_at, last_used_at
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nameKey(p.Name), p.Language, p.Code, p.Description, e.tags, p.TestCode,
		p.Type, p.Complexity, e.coherency, p.Coherency.Total, e.sealed,
		p.Reliability.UsageCount, p.Reliability.SuccessCount, p.Reliability.BugReports, p.Reliability.HealingRate,
		p.Votes.Upvotes, p.Votes.Downvotes, p.Votes.Score,
		p.ParentPattern, p.Method, p.Author, p.MergedInto, e.healing,
		e.signature, e.extensions, p.CreatedAt.Unix(), p.UpdatedAt.Unix(), e.lastUsed,
	)
	return err
}

func updateRowTx(tx *sql.Tx, table string, p *pattern.Pattern) error {
	e := encodePattern(p)
	res, err := tx.Exec(`UPDATE `+table+` SET
		name=?, name_key=?, language=?, code=?, description=?, tags=?, test_code=?,
		pattern_type=?, complexity=?, coherency=?, coherency_total=?, covenant_sealed=?,
		usage_count=?, success_count=?, bug_reports=?, healing_rate=?,
		upvotes=?, downvotes=?, vote_score=?,
		parent_pattern=?, method=?, author=?, merged_into=?, healing_history=?,
		signature=?, extensions=?, updated_at=?, last_used_at=?
	WHERE id=?`,
		p.Name, nameKey(p.Name), p.Language, p.Code, p.Description, e.tags, p.TestCode,
		p.Type, p.Complexity, e.coherency, p.Coherency.Total, e.sealed,
		p.Reliability.UsageCount, p.Reliability.SuccessCount, p.Reliability.BugReports, p.Reliability.HealingRate,
		p.Votes.Upvotes, p.Votes.Downvotes, p.Votes.Score,
		p.ParentPattern, p.Method, p.Author, p.MergedInto, e.healing,
		e.signature, e.extensions, p.UpdatedAt.Unix(), e.lastUsed,
		p.ID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func getByNameTx(tx *sql.Tx, table, name string, lang pattern.Language) (*pattern.Pattern, error) {
	row := tx.QueryRow(`SELECT `+patternColumnList+` FROM `+table+`
		WHERE name_key = ? AND language = ? AND merged_into = ''`, nameKey(name), lang)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

// GetPattern returns the pattern with the given id.
func (s *Store) GetPattern(id string) (*pattern.Pattern, error) {
	row := s.db.QueryRow(`SELECT `+patternColumnList+` FROM patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: pattern %s", ErrNotFound, id)
	}
	return p, err
}

// GetPatternByName looks a pattern up by its canonical key.
func (s *Store) GetPatternByName(name string, lang pattern.Language) (*pattern.Pattern, error) {
	row := s.db.QueryRow(`SELECT `+patternColumnList+` FROM patterns
		WHERE name_key = ? AND language = ? AND merged_into = ''`, nameKey(name), lang)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: pattern %s (%s)", ErrNotFound, name, lang)
	}
	return p, err
}

// Filter selects a subset of a collection during iteration.
type Filter struct {
	Language     pattern.Language
	MinCoherency float64
	TagsAny      []string
	Method       pattern.Method
	Author       string
	UpdatedSince time.Time
	Limit        int
}

func (f Filter) match(p *pattern.Pattern) bool {
	if f.Language != "" && p.Language != f.Language {
		return false
	}
	if p.Coherency.Total < f.MinCoherency {
		return false
	}
	if f.Method != "" && p.Method != f.Method {
		return false
	}
	if f.Author != "" && p.Author != f.Author {
		return false
	}
	if !f.UpdatedSince.IsZero() && p.UpdatedAt.Before(f.UpdatedSince) {
		return false
	}
	if len(f.TagsAny) > 0 {
		found := false
		for _, want := range f.TagsAny {
			for _, have := range p.Tags {
				if want == have {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Patterns returns the live proven patterns matching the filter, newest
// update first.
func (s *Store) Patterns(f Filter) ([]*pattern.Pattern, error) {
	return s.collect("patterns", f)
}

// Snapshot returns a point-in-time copy of all live proven patterns for
// read-heavy operations without blocking writers.
func (s *Store) Snapshot() ([]*pattern.Pattern, error) {
	return s.Patterns(Filter{})
}

func (s *Store) collect(table string, f Filter) ([]*pattern.Pattern, error) {
	rows, err := s.db.Query(`SELECT ` + patternColumnList + ` FROM ` + table + `
		WHERE merged_into = '' ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*pattern.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		if !f.match(p) {
			continue
		}
		out = append(out, p)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, rows.Err()
}

// UpdatePattern applies a partial mutation atomically: the row is read,
// mutated, and written back under the writer lock in one transaction.
func (s *Store) UpdatePattern(id string, mutate func(*pattern.Pattern) error) (*pattern.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+patternColumnList+` FROM patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: pattern %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	oldCode := p.Code
	if err := mutate(p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConstraintViolated, err)
	}
	if p.Code != oldCode {
		p.Signature = minhash.Signature(p.Code)
	}
	p.Touch()

	if err := updateRowTx(tx, "patterns", p); err != nil {
		return nil, err
	}
	return p, tx.Commit()
}

// feedbackRetries bounds compare-and-set retries on reliability updates.
const feedbackRetries = 3

// RecordFeedback applies a usage outcome to a pattern and returns the
// success-rate delta (new minus old), which drives vote accuracy
// attribution. The update is a row-level compare-and-set on usage_count.
func (s *Store) RecordFeedback(id string, success bool) (p *pattern.Pattern, delta float64, err error) {
	for attempt := 0; attempt < feedbackRetries; attempt++ {
		p, delta, err = s.tryFeedback(id, success)
		if err != ErrConflict {
			return p, delta, err
		}
	}
	return nil, 0, ErrConflict
}

func (s *Store) tryFeedback(id string, success bool) (*pattern.Pattern, float64, error) {
	before, err := s.GetPattern(id)
	if err != nil {
		return nil, 0, err
	}
	oldRate := before.Reliability.SuccessRate()

	inc := 0
	if success {
		inc = 1
	}
	// The outcome window rides the same compare-and-set as the counters.
	before.PushOutcome(success)
	now := time.Now().UTC()
	res, err := s.db.Exec(`UPDATE patterns SET
			usage_count = usage_count + 1,
			success_count = success_count + ?,
			bug_reports = bug_reports + ?,
			extensions = ?,
			last_used_at = ?,
			updated_at = ?
		WHERE id = ? AND usage_count = ?`,
		inc, 1-inc, marshalOr(before.Extensions, "{}"), now.Unix(), now.Unix(),
		id, before.Reliability.UsageCount)
	if err != nil {
		return nil, 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, 0, ErrConflict
	}

	after, err := s.GetPattern(id)
	if err != nil {
		return nil, 0, err
	}
	return after, after.Reliability.SuccessRate() - oldRate, nil
}

// DeletePattern removes a pattern permanently.
func (s *Store) DeletePattern(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM patterns WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: pattern %s", ErrNotFound, id)
	}
	return nil
}

// DeleteByAuthor purges every pattern and candidate attributed to the
// author, for deletion requests.
func (s *Store) DeleteByAuthor(author string) (int, error) {
	if author == "" {
		return 0, fmt.Errorf("author must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	total := 0
	for _, table := range []string{"patterns", "candidates"} {
		res, err := tx.Exec(`DELETE FROM `+table+` WHERE author = ?`, author)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, tx.Commit()
}
