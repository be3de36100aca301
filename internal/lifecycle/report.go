package lifecycle

import "time"

// Recommendation is a prioritized, human-readable lifecycle finding.
type Recommendation struct {
	Priority string `json:"priority"` // high | info
	Message  string `json:"message"`
}

// ImproveReport covers phase one: healing, promotion, stub cleaning,
// retagging.
type ImproveReport struct {
	Healed       []string `json:"healed,omitempty"`
	HealFailed   []string `json:"heal_failed,omitempty"`
	Promoted     []string `json:"promoted,omitempty"`
	CleanedStubs []string `json:"cleaned_stubs,omitempty"`
	Retagged     []string `json:"retagged,omitempty"`
}

// OptimizeReport covers phase two: unused detection, dedup, coherency
// refresh, recommendations.
type OptimizeReport struct {
	Unused          []string         `json:"unused,omitempty"`
	DedupRemoved    int              `json:"dedup_removed"`
	DedupLinked     int              `json:"dedup_linked"`
	Refreshed       []string         `json:"refreshed,omitempty"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
}

// EvolveReport covers phase three: regression handling and re-scoring.
type EvolveReport struct {
	Regressions []string `json:"regressions,omitempty"`
	Penalized   []string `json:"penalized,omitempty"`
	Healed      []string `json:"healed,omitempty"`
	HealFailed  []string `json:"heal_failed,omitempty"`
}

// CycleReport is the record of one full improve -> optimize -> evolve run.
type CycleReport struct {
	TriggeredBy string         `json:"triggered_by"`
	StartedAt   time.Time      `json:"started_at"`
	Duration    time.Duration  `json:"duration"`
	Improve     ImproveReport  `json:"improve"`
	Optimize    OptimizeReport `json:"optimize"`
	Evolve      EvolveReport   `json:"evolve"`
	Summary     string         `json:"summary"`
	Err         string         `json:"error,omitempty"`
}
