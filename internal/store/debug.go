package store

import (
	"database/sql"
	"fmt"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

// SaveDebugPattern upserts an error-fix association learned from a
// resolved failure.
func (s *Store) SaveDebugPattern(d *pattern.DebugPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO debug_patterns
		(id, error_class, error_category, fix_code, language, times_applied, times_resolved, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			error_class = excluded.error_class,
			error_category = excluded.error_category,
			fix_code = excluded.fix_code,
			language = excluded.language,
			times_applied = excluded.times_applied,
			times_resolved = excluded.times_resolved,
			confidence = excluded.confidence`,
		d.ID, d.ErrorClass, d.ErrorCategory, d.FixCode, d.Language,
		d.TimesApplied, d.TimesResolved, d.Confidence)
	return err
}

// GetDebugPattern returns one error-fix association by id.
func (s *Store) GetDebugPattern(id string) (*pattern.DebugPattern, error) {
	row := s.db.QueryRow(`SELECT id, error_class, error_category, fix_code, language,
		times_applied, times_resolved, confidence FROM debug_patterns WHERE id = ?`, id)
	d, err := scanDebugPattern(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: debug pattern %s", ErrNotFound, id)
	}
	return d, err
}

// DebugPatternsForClass returns fixes recorded for an error class,
// highest confidence first.
func (s *Store) DebugPatternsForClass(errorClass string) ([]*pattern.DebugPattern, error) {
	rows, err := s.db.Query(`SELECT id, error_class, error_category, fix_code, language,
		times_applied, times_resolved, confidence
		FROM debug_patterns WHERE error_class = ? ORDER BY confidence DESC`, errorClass)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*pattern.DebugPattern
	for rows.Next() {
		d, err := scanDebugPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordDebugOutcome bumps a fix's applied count and, on success, its
// resolved count, then re-derives confidence from the resolve rate.
func (s *Store) RecordDebugOutcome(id string, resolved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc := 0
	if resolved {
		inc = 1
	}
	res, err := s.db.Exec(`UPDATE debug_patterns SET
			times_applied = times_applied + 1,
			times_resolved = times_resolved + ?,
			confidence = CAST(times_resolved + ? AS REAL) / (times_applied + 1)
		WHERE id = ?`, inc, inc, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: debug pattern %s", ErrNotFound, id)
	}
	return nil
}

func scanDebugPattern(r rowScanner) (*pattern.DebugPattern, error) {
	var d pattern.DebugPattern
	err := r.Scan(&d.ID, &d.ErrorClass, &d.ErrorCategory, &d.FixCode, &d.Language,
		&d.TimesApplied, &d.TimesResolved, &d.Confidence)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
