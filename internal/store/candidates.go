package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

// InsertCandidate stores a pattern in the probation collection. Candidates
// merge on the same canonical key like proven patterns do.
func (s *Store) InsertCandidate(p *pattern.Pattern) (*InsertResult, error) {
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

	existing, err := getByNameTx(tx, "candidates", p.Name, p.Language)
	if err != nil && err != ErrNotFound {
		return nil, err
	}

	if existing != nil {
		merged := mergePatterns(existing, p)
		if err := updateRowTx(tx, "candidates", merged); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return &InsertResult{ID: merged.ID, Merged: true}, nil
	}

	if err := insertRowTx(tx, "candidates", p); err != nil {
		return nil, err
	}
	return &InsertResult{ID: p.ID}, tx.Commit()
}

// GetCandidate returns the candidate with the given id.
func (s *Store) GetCandidate(id string) (*pattern.Pattern, error) {
	row := s.db.QueryRow(`SELECT `+patternColumnList+` FROM candidates WHERE id = ?`, id)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: candidate %s", ErrNotFound, id)
	}
	return p, err
}

// Candidates returns the probation patterns matching the filter.
func (s *Store) Candidates(f Filter) ([]*pattern.Pattern, error) {
	return s.collect("candidates", f)
}

// UpdateCandidate applies a partial mutation to a candidate atomically.
func (s *Store) UpdateCandidate(id string, mutate func(*pattern.Pattern) error) (*pattern.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+patternColumnList+` FROM candidates WHERE id = ?`, id)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: candidate %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if err := mutate(p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConstraintViolated, err)
	}
	p.Touch()

	if err := updateRowTx(tx, "candidates", p); err != nil {
		return nil, err
	}
	return p, tx.Commit()
}

// DeleteCandidate removes a candidate permanently.
func (s *Store) DeleteCandidate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM candidates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: candidate %s", ErrNotFound, id)
	}
	return nil
}

// PromoteCandidate moves a candidate into the proven collection in one
// transaction. The candidate must satisfy the proven floor and hold the
// covenant seal; a proven sibling with the same key absorbs the promotion
// as a merge.
func (s *Store) PromoteCandidate(id string, minCoherency float64) (*pattern.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+patternColumnList+` FROM candidates WHERE id = ?`, id)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: candidate %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if p.Coherency.Total < minCoherency {
		return nil, fmt.Errorf("%w: coherency %.2f below promotion floor %.2f",
			ErrConstraintViolated, p.Coherency.Total, minCoherency)
	}
	if !p.CovenantSealed {
		return nil, fmt.Errorf("%w: candidate is not covenant sealed", ErrConstraintViolated)
	}

	existing, err := getByNameTx(tx, "patterns", p.Name, p.Language)
	if err != nil && err != ErrNotFound {
		return nil, err
	}

	var promoted *pattern.Pattern
	if existing != nil {
		promoted = mergePatterns(existing, p)
		if err := updateRowTx(tx, "patterns", promoted); err != nil {
			return nil, err
		}
	} else {
		promoted = p
		promoted.Touch()
		if err := insertRowTx(tx, "patterns", promoted); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(`DELETE FROM candidates WHERE id = ?`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Info("candidate promoted",
		zap.String("id", promoted.ID),
		zap.String("name", promoted.Name),
		zap.Float64("coherency", promoted.Coherency.Total))
	return promoted, nil
}
