package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

// GetVoter returns a voter, creating the default-reputation record on
// first sight so every participant starts from the same baseline.
func (s *Store) GetVoter(id string) (*pattern.Voter, error) {
	v, err := s.lookupVoter(id)
	if err == nil {
		return v, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := pattern.NewVoter(id)
	_, err = s.db.Exec(`INSERT INTO voters (id, reputation, total_votes, accurate_votes, contributions)
		VALUES (?, ?, 0, 0, 0)
		ON CONFLICT(id) DO NOTHING`, fresh.ID, fresh.Reputation)
	if err != nil {
		return nil, err
	}
	return s.lookupVoter(id)
}

func (s *Store) lookupVoter(id string) (*pattern.Voter, error) {
	var v pattern.Voter
	err := s.db.QueryRow(`SELECT id, reputation, total_votes, accurate_votes, contributions
		FROM voters WHERE id = ?`, id).
		Scan(&v.ID, &v.Reputation, &v.TotalVotes, &v.AccurateVotes, &v.Contributions)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// SaveVoter writes back a voter's reputation and counters.
func (s *Store) SaveVoter(v *pattern.Voter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO voters (id, reputation, total_votes, accurate_votes, contributions)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reputation = excluded.reputation,
			total_votes = excluded.total_votes,
			accurate_votes = excluded.accurate_votes,
			contributions = excluded.contributions`,
		v.ID, v.Reputation, v.TotalVotes, v.AccurateVotes, v.Contributions)
	return err
}

// ApplyVote records or replaces one voter's vote on a pattern and
// recomputes the pattern's vote aggregates from the full ledger, so a
// changed vote never double counts.
func (s *Store) ApplyVote(v pattern.Vote) (*pattern.Pattern, error) {
	if v.Direction != 1 && v.Direction != -1 {
		return nil, fmt.Errorf("%w: vote direction must be +1 or -1", ErrConstraintViolated)
	}
	if v.CastAt == 0 {
		v.CastAt = time.Now().UTC().Unix()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+patternColumnList+` FROM patterns WHERE id = ?`, v.PatternID)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: pattern %s", ErrNotFound, v.PatternID)
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(`INSERT INTO votes (pattern_id, voter_id, direction, weight, accurate, cast_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(pattern_id, voter_id) DO UPDATE SET
			direction = excluded.direction,
			weight = excluded.weight,
			accurate = 0,
			cast_at = excluded.cast_at`,
		v.PatternID, v.VoterID, v.Direction, v.Weight, v.CastAt)
	if err != nil {
		return nil, err
	}

	var up, down int
	var score float64
	rows, err := tx.Query(`SELECT direction, weight FROM votes WHERE pattern_id = ?`, v.PatternID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var dir int
		var w float64
		if err := rows.Scan(&dir, &w); err != nil {
			rows.Close()
			return nil, err
		}
		if dir > 0 {
			up++
		} else {
			down++
		}
		score += float64(dir) * w
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Unix()
	if _, err := tx.Exec(`UPDATE patterns SET upvotes=?, downvotes=?, vote_score=?, updated_at=? WHERE id=?`,
		up, down, score, now, v.PatternID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	p.Votes = pattern.Votes{Upvotes: up, Downvotes: down, Score: score}
	return p, nil
}

// VotesFor returns the vote ledger for one pattern.
func (s *Store) VotesFor(patternID string) ([]pattern.Vote, error) {
	rows, err := s.db.Query(`SELECT pattern_id, voter_id, direction, weight, accurate, cast_at
		FROM votes WHERE pattern_id = ?`, patternID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pattern.Vote
	for rows.Next() {
		var v pattern.Vote
		var accurate int
		if err := rows.Scan(&v.PatternID, &v.VoterID, &v.Direction, &v.Weight, &accurate, &v.CastAt); err != nil {
			return nil, err
		}
		v.Accurate = accurate != 0
		out = append(out, v)
	}
	return out, rows.Err()
}

// MarkVoteAccurate flags a vote whose direction later matched the
// pattern's observed reliability movement.
func (s *Store) MarkVoteAccurate(patternID, voterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE votes SET accurate = 1 WHERE pattern_id = ? AND voter_id = ? AND accurate = 0`,
		patternID, voterID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
