package pattern

import "math"

// Voter is the per-identity reputation record that translates vote history
// into a weight applied to future votes.
type Voter struct {
	ID            string  `json:"id" yaml:"id"`
	Reputation    float64 `json:"reputation" yaml:"reputation"`
	TotalVotes    int     `json:"total_votes" yaml:"total_votes"`
	AccurateVotes int     `json:"accurate_votes" yaml:"accurate_votes"`
	Contributions int     `json:"contributions" yaml:"contributions"`
}

// NewVoter creates a voter with the initial reputation of 1.0.
func NewVoter(id string) *Voter {
	return &Voter{ID: id, Reputation: 1.0}
}

// Weight derives the vote weight from reputation:
// clamp(log2(1+reputation)*0.6 + 0.4, 0.1, 5.0).
func (v *Voter) Weight() float64 {
	w := math.Log2(1+v.Reputation)*0.6 + 0.4
	if w < 0.1 {
		return 0.1
	}
	if w > 5.0 {
		return 5.0
	}
	return w
}

// RecordAccurate bumps reputation for a vote whose direction matched the
// pattern's subsequent reliability movement. delta is the absolute
// reliability change, capped at 1.
func (v *Voter) RecordAccurate(delta float64) {
	if delta < 0 {
		delta = -delta
	}
	if delta > 1 {
		delta = 1
	}
	v.AccurateVotes++
	v.Reputation += 0.1 * delta
}

// RecordRejection penalizes a voter whose submitted pattern was rejected.
func (v *Voter) RecordRejection() {
	v.Reputation -= 0.05
	if v.Reputation < 0 {
		v.Reputation = 0
	}
}

// Vote is a single ledger entry: one voter's weighted ±1 on one pattern.
type Vote struct {
	PatternID string  `json:"pattern_id" yaml:"pattern_id"`
	VoterID   string  `json:"voter_id" yaml:"voter_id"`
	Direction int     `json:"direction" yaml:"direction"` // +1 or -1
	Weight    float64 `json:"weight" yaml:"weight"`
	Accurate  bool    `json:"accurate" yaml:"accurate"`
	CastAt    int64   `json:"cast_at" yaml:"cast_at"` // unix seconds
}
