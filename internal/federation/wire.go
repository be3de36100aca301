package federation

import (
	"github.com/remembrance-run/remembrance-core/internal/core/coherency"
	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

// Wire contract for federation operations. Transports (HTTP, WebSocket,
// loopback) carry these shapes verbatim; the framing itself lives outside
// the core.

// SearchRequest asks a node for matching patterns.
type SearchRequest struct {
	Term         string           `json:"term"`
	Language     pattern.Language `json:"language,omitempty"`
	Limit        int              `json:"limit,omitempty"`
	MinCoherency float64          `json:"min_coherency,omitempty"`
}

// SourceStat describes one shard's contribution to a search.
type SourceStat struct {
	Name      string `json:"name"`
	Count     int    `json:"count"`
	LatencyMs int64  `json:"latency_ms"`
	Err       string `json:"error,omitempty"`
}

// SearchResponse carries ranked patterns plus per-source statistics.
type SearchResponse struct {
	Results []*pattern.Pattern `json:"results"`
	Sources []SourceStat       `json:"sources,omitempty"`
}

// SubmitMeta is the metadata accompanying a submitted snippet.
type SubmitMeta struct {
	Name        string           `json:"name"`
	Language    pattern.Language `json:"language,omitempty"`
	Description string           `json:"description,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	TestCode    string           `json:"test_code,omitempty"`
	Author      string           `json:"author,omitempty"`
	// EventID deduplicates webhook-style redeliveries.
	EventID string `json:"event_id,omitempty"`
	// Origin keys the submission rate limit, typically a peer address.
	Origin string `json:"origin,omitempty"`
}

// SubmitRequest registers an incoming pattern through the evaluator gate.
type SubmitRequest struct {
	Code string     `json:"code"`
	Meta SubmitMeta `json:"meta"`
}

// SubmitResponse reports the gate's verdict.
type SubmitResponse struct {
	Accepted  bool   `json:"accepted"`
	PatternID string `json:"pattern_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// SyncPushRequest offers patterns updated since a watermark.
type SyncPushRequest struct {
	Since    int64              `json:"since"` // unix seconds
	Patterns []*pattern.Pattern `json:"patterns"`
}

// SyncPushResponse accounts for every offered pattern.
type SyncPushResponse struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}

// SyncPullRequest fetches patterns matching filters since a watermark.
type SyncPullRequest struct {
	Since        int64            `json:"since"`
	Language     pattern.Language `json:"language,omitempty"`
	Tags         []string         `json:"tags,omitempty"`
	MinCoherency float64          `json:"min_coherency,omitempty"`
	Limit        int              `json:"limit,omitempty"`
}

// SyncPullResponse carries the matching patterns.
type SyncPullResponse struct {
	Patterns []*pattern.Pattern `json:"patterns"`
}

// VoteRequest casts a ±1 on a pattern.
type VoteRequest struct {
	PatternID string `json:"pattern_id"`
	VoterID   string `json:"voter_id"`
	Direction int    `json:"direction"` // +1 or -1
}

// VoteResponse returns the updated aggregates.
type VoteResponse struct {
	Upvotes         int     `json:"upvotes"`
	Downvotes       int     `json:"downvotes"`
	VoteScore       float64 `json:"vote_score"`
	VoterReputation float64 `json:"voter_reputation"`
}

// FeedbackRequest reports a usage outcome for a pattern.
type FeedbackRequest struct {
	PatternID string `json:"pattern_id"`
	Success   bool   `json:"success"`
}

// FeedbackResponse returns the new reliability vector.
type FeedbackResponse struct {
	NewReliability pattern.Reliability `json:"new_reliability"`
}

// ReflectRequest runs the SERF loop remotely.
type ReflectRequest struct {
	Code   string  `json:"code"`
	Target float64 `json:"target"`
}

// ReflectResponse carries the loop's outcome.
type ReflectResponse struct {
	Code       string `json:"code"`
	Converged  bool   `json:"converged"`
	Iterations int    `json:"iterations"`
}

// CovenantRequest checks code against the covenant.
type CovenantRequest struct {
	Code string `json:"code"`
}

// CovenantResponse reports the seal and any violations.
type CovenantResponse struct {
	Sealed     bool                  `json:"sealed"`
	Violations []coherency.Violation `json:"violations,omitempty"`
}

// HealthResponse is the node health probe result.
type HealthResponse struct {
	Status    string `json:"status"`
	Patterns  int    `json:"patterns"`
	Entries   int    `json:"entries"`
	UptimeSec int64  `json:"uptime_sec"`
}
