package federation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/remembrance-run/remembrance-core/internal/core/coherency"
	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
	"github.com/remembrance-run/remembrance-core/internal/generate"
	"github.com/remembrance-run/remembrance-core/internal/reflect"
	"github.com/remembrance-run/remembrance-core/internal/search"
	"github.com/remembrance-run/remembrance-core/internal/store"
)

// Config bounds the node's federation surface.
type Config struct {
	// SubmitPerMinute is the per-origin submission rate limit.
	SubmitPerMinute int
	// ReadsPerMinute is the per-origin rate limit on search and pull.
	ReadsPerMinute int
	// CandidateFloor admits sealed-but-unproven submissions as candidates.
	CandidateFloor float64
	// ShareMinCoherency is the default floor for sharing to community.
	ShareMinCoherency float64
	// RemoteTimeout caps one remote call, before retries.
	RemoteTimeout time.Duration
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		SubmitPerMinute:   5,
		ReadsPerMinute:    100,
		CandidateFloor:    0.55,
		ShareMinCoherency: 0.7,
		RemoteTimeout:     30 * time.Second,
	}
}

// Deps are the collaborators a Service is built from. Local and Evaluator
// are required; the rest degrade gracefully when absent.
type Deps struct {
	Local     *store.Store
	Personal  *store.Store
	Community *store.Store
	Evaluator reflect.Evaluator
	Generator generate.Generator
	Remotes   *Registry
	Transport Transport
	Logger    *zap.Logger
}

// Service is one federation node: the handler side of the wire contract
// over its own stores, plus the client side against its registered remotes.
type Service struct {
	local     *store.Store
	personal  *store.Store
	community *store.Store
	eval      reflect.Evaluator
	gen       generate.Generator
	engine    *search.Engine
	remotes   *Registry
	transport Transport
	breakers  *Breakers
	submits   *RateLimiter
	reads     *RateLimiter
	seen      *seenEvents
	cfg       Config
	logger    *zap.Logger

	// retry wraps remote calls; tests replace it to avoid real sleeps.
	retry func(ctx context.Context, fn func() error) error
}

// NewService wires a node from its dependencies.
func NewService(d Deps, cfg Config) (*Service, error) {
	if d.Local == nil {
		return nil, fmt.Errorf("federation: local store is required")
	}
	if d.Evaluator == nil {
		return nil, fmt.Errorf("federation: evaluator is required")
	}
	if cfg.SubmitPerMinute <= 0 {
		cfg.SubmitPerMinute = DefaultConfig().SubmitPerMinute
	}
	if cfg.ReadsPerMinute <= 0 {
		cfg.ReadsPerMinute = DefaultConfig().ReadsPerMinute
	}
	if cfg.CandidateFloor <= 0 {
		cfg.CandidateFloor = DefaultConfig().CandidateFloor
	}
	if cfg.ShareMinCoherency <= 0 {
		cfg.ShareMinCoherency = DefaultConfig().ShareMinCoherency
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = DefaultConfig().RemoteTimeout
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{
		local:     d.Local,
		personal:  d.Personal,
		community: d.Community,
		eval:      d.Evaluator,
		gen:       d.Generator,
		engine:    search.New(d.Local, d.Logger),
		remotes:   d.Remotes,
		transport: d.Transport,
		breakers:  NewBreakers(),
		submits:   NewRateLimiter(time.Minute, cfg.SubmitPerMinute),
		reads:     NewRateLimiter(time.Minute, cfg.ReadsPerMinute),
		seen:      newSeenEvents(seenCapacity),
		cfg:       cfg,
		logger:    d.Logger,
		retry:     retryWithBackoff,
	}, nil
}

// AllowRead applies the read-path rate limit for one origin. Transport
// adapters call this before dispatching search and pull requests.
func (s *Service) AllowRead(origin string) bool {
	if origin == "" {
		return true
	}
	return s.reads.Allow(origin)
}

// HandleSearch serves a peer's search against the local shard.
func (s *Service) HandleSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	started := time.Now()
	results, err := s.engine.Search(req.Term, search.Options{
		Language:     req.Language,
		Limit:        req.Limit,
		MinCoherency: req.MinCoherency,
	})
	if err != nil {
		return nil, err
	}
	resp := &SearchResponse{}
	for _, r := range results {
		resp.Results = append(resp.Results, r.Pattern)
	}
	resp.Sources = []SourceStat{{
		Name:      "local",
		Count:     len(resp.Results),
		LatencyMs: time.Since(started).Milliseconds(),
	}}
	return resp, nil
}

// HandleSubmit registers an incoming pattern through the evaluator gate.
// Redeliveries of the same event id are acknowledged without re-applying,
// and rejected submissions cost the author reputation.
func (s *Service) HandleSubmit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	// The rate limiter runs before the idempotency log: a rate-limited
	// request was not processed, so its event id must stay replayable.
	if req.Meta.Origin != "" && !s.submits.Allow(req.Meta.Origin) {
		return &SubmitResponse{Reason: "rate limited"}, nil
	}

	if req.Meta.EventID != "" {
		if s.seen.Observe(req.Meta.EventID) {
			return &SubmitResponse{Accepted: true, Reason: "duplicate event"}, nil
		}
		first, err := s.local.MarkEventProcessed(req.Meta.EventID, "submit")
		if err != nil {
			return nil, err
		}
		if !first {
			return &SubmitResponse{Accepted: true, Reason: "duplicate event"}, nil
		}
	}

	res, err := s.eval.Evaluate(ctx, req.Code, coherency.Options{
		Language:    req.Meta.Language,
		Description: req.Meta.Description,
		Name:        req.Meta.Name,
		TestCode:    req.Meta.TestCode,
	})
	if err != nil {
		return nil, err
	}

	if !res.CovenantSealed || res.Score.Total < s.cfg.CandidateFloor {
		s.penalizeAuthor(req.Meta.Author)
		return &SubmitResponse{Reason: rejectionReason(res)}, nil
	}

	p := pattern.New(req.Meta.Name, req.Code, res.Language)
	p.Description = req.Meta.Description
	p.Tags = append([]string(nil), req.Meta.Tags...)
	p.TestCode = req.Meta.TestCode
	p.Author = req.Meta.Author
	p.Method = pattern.MethodSubmit
	p.Type = res.PatternType
	p.Complexity = res.Complexity
	p.Coherency = res.Score
	p.CovenantSealed = res.CovenantSealed

	// A test that ran and failed is a rejection, not a candidate.
	if res.TestRan && !res.TestPassed {
		s.penalizeAuthor(req.Meta.Author)
		return &SubmitResponse{Reason: "test failed"}, nil
	}

	proven := res.Valid && res.Score.Total >= coherency.MinProvenCoherency
	var ins *store.InsertResult
	if proven {
		ins, err = s.local.InsertPattern(p, store.InsertOptions{})
	} else {
		ins, err = s.local.InsertCandidate(p)
	}
	if err != nil {
		return nil, err
	}

	s.creditAuthor(req.Meta.Author)

	resp := &SubmitResponse{Accepted: true, PatternID: ins.ID}
	if !proven {
		resp.Reason = "stored as candidate"
	}
	s.logger.Info("submission accepted",
		zap.String("pattern", ins.ID),
		zap.Bool("proven", proven),
		zap.Float64("coherency", res.Score.Total))
	return resp, nil
}

func rejectionReason(res *coherency.Result) string {
	if !res.CovenantSealed {
		return "covenant violation"
	}
	return fmt.Sprintf("coherency %.2f below floor", res.Score.Total)
}

func (s *Service) penalizeAuthor(author string) {
	if author == "" {
		return
	}
	v, err := s.local.GetVoter(author)
	if err != nil {
		s.logger.Warn("author lookup failed", zap.String("author", author), zap.Error(err))
		return
	}
	v.RecordRejection()
	if err := s.local.SaveVoter(v); err != nil {
		s.logger.Warn("author update failed", zap.String("author", author), zap.Error(err))
	}
}

func (s *Service) creditAuthor(author string) {
	if author == "" {
		return
	}
	v, err := s.local.GetVoter(author)
	if err != nil {
		return
	}
	v.Contributions++
	if err := s.local.SaveVoter(v); err != nil {
		s.logger.Warn("author update failed", zap.String("author", author), zap.Error(err))
	}
}

// HandleSyncPush folds offered patterns into the local shard under the
// store's merge rules. Unsealed or sub-floor patterns are rejected; merges
// into an existing sibling count as duplicates.
func (s *Service) HandleSyncPush(ctx context.Context, req SyncPushRequest) (*SyncPushResponse, error) {
	resp := &SyncPushResponse{}
	for _, p := range req.Patterns {
		if ctx.Err() != nil {
			return resp, ctx.Err()
		}
		if p == nil {
			resp.Rejected++
			continue
		}
		if !p.CovenantSealed || p.Coherency.Total < coherency.MinProvenCoherency {
			resp.Rejected++
			continue
		}
		ins, err := s.local.InsertPattern(p.Clone(), store.InsertOptions{})
		if err != nil {
			s.logger.Warn("sync push insert failed", zap.String("pattern", p.ID), zap.Error(err))
			resp.Rejected++
			continue
		}
		if ins.Merged {
			resp.Duplicates++
		} else {
			resp.Accepted++
		}
	}
	return resp, nil
}

// HandleSyncPull serves patterns updated since the watermark, filtered.
func (s *Service) HandleSyncPull(ctx context.Context, req SyncPullRequest) (*SyncPullResponse, error) {
	f := store.Filter{
		Language:     req.Language,
		TagsAny:      req.Tags,
		MinCoherency: req.MinCoherency,
		Limit:        req.Limit,
	}
	if req.Since > 0 {
		f.UpdatedSince = time.Unix(req.Since, 0).UTC()
	}
	patterns, err := s.local.Patterns(f)
	if err != nil {
		return nil, err
	}
	return &SyncPullResponse{Patterns: patterns}, nil
}

// HandleVote records a ±1 weighted by the voter's reputation at vote time.
func (s *Service) HandleVote(ctx context.Context, req VoteRequest) (*VoteResponse, error) {
	voter, err := s.local.GetVoter(req.VoterID)
	if err != nil {
		return nil, err
	}
	p, err := s.local.ApplyVote(pattern.Vote{
		PatternID: req.PatternID,
		VoterID:   req.VoterID,
		Direction: req.Direction,
		Weight:    voter.Weight(),
	})
	if err != nil {
		return nil, err
	}
	voter.TotalVotes++
	if err := s.local.SaveVoter(voter); err != nil {
		return nil, err
	}
	return &VoteResponse{
		Upvotes:         p.Votes.Upvotes,
		Downvotes:       p.Votes.Downvotes,
		VoteScore:       p.Votes.Score,
		VoterReputation: voter.Reputation,
	}, nil
}

// HandleFeedback applies a usage outcome and attributes vote accuracy:
// voters whose standing vote points the same way the reliability moved get
// the accuracy credit, once per vote.
func (s *Service) HandleFeedback(ctx context.Context, req FeedbackRequest) (*FeedbackResponse, error) {
	p, delta, err := s.local.RecordFeedback(req.PatternID, req.Success)
	if err != nil {
		return nil, err
	}
	if delta != 0 {
		s.attributeAccuracy(req.PatternID, delta)
	}
	return &FeedbackResponse{NewReliability: p.Reliability}, nil
}

func (s *Service) attributeAccuracy(patternID string, delta float64) {
	votes, err := s.local.VotesFor(patternID)
	if err != nil {
		s.logger.Warn("vote ledger read failed", zap.String("pattern", patternID), zap.Error(err))
		return
	}
	for _, v := range votes {
		if v.Accurate || float64(v.Direction)*delta <= 0 {
			continue
		}
		if err := s.local.MarkVoteAccurate(patternID, v.VoterID); err != nil {
			continue
		}
		voter, err := s.local.GetVoter(v.VoterID)
		if err != nil {
			continue
		}
		voter.RecordAccurate(delta)
		if err := s.local.SaveVoter(voter); err != nil {
			s.logger.Warn("voter update failed", zap.String("voter", v.VoterID), zap.Error(err))
		}
	}
}

// HandleReflect runs the reflection loop on behalf of a peer.
func (s *Service) HandleReflect(ctx context.Context, req ReflectRequest) (*ReflectResponse, error) {
	if s.gen == nil {
		return nil, fmt.Errorf("federation: no generator configured")
	}
	outcome, err := reflect.Reflect(ctx, req.Code, reflect.Options{
		Target: req.Target,
		Evaluate: func(ctx context.Context, code string) (float64, []string, error) {
			res, err := s.eval.Evaluate(ctx, code, coherency.Options{})
			if err != nil {
				return 0, nil, err
			}
			var issues []string
			for _, f := range res.Feedback {
				issues = append(issues, f.Dimension+": "+f.Suggestion)
			}
			return res.Score.Total, issues, nil
		},
		Refine: s.gen.Refine,
		Logger: s.logger,
	})
	if err != nil {
		return nil, err
	}
	return &ReflectResponse{
		Code:       outcome.Code,
		Converged:  outcome.Converged,
		Iterations: outcome.Iterations,
	}, nil
}

// HandleCovenant checks code against the covenant without storing anything.
func (s *Service) HandleCovenant(ctx context.Context, req CovenantRequest) (*CovenantResponse, error) {
	res, err := s.eval.Evaluate(ctx, req.Code, coherency.Options{})
	if err != nil {
		return nil, err
	}
	return &CovenantResponse{Sealed: res.CovenantSealed, Violations: res.Violations}, nil
}

// HandleHealth reports the node's health probe.
func (s *Service) HandleHealth(ctx context.Context) *HealthResponse {
	h := s.local.CheckHealth()
	return &HealthResponse{
		Status:    h.Status,
		Patterns:  h.Patterns,
		Entries:   h.Entries,
		UptimeSec: h.UptimeSec,
	}
}

// SyncDirection selects which way Sync copies.
type SyncDirection string

const (
	SyncPush SyncDirection = "push"
	SyncPull SyncDirection = "pull"
	SyncBoth SyncDirection = "both"
)

// SyncReport accounts for one sync run.
type SyncReport struct {
	Pushed     int  `json:"pushed"`
	Pulled     int  `json:"pulled"`
	Duplicates int  `json:"duplicates"`
	DryRun     bool `json:"dry_run,omitempty"`
}

// Sync copies patterns between the local and personal shards under the
// store merge rules. A dry run counts what would move without writing.
func (s *Service) Sync(ctx context.Context, direction SyncDirection, dryRun bool) (*SyncReport, error) {
	if s.personal == nil {
		return nil, fmt.Errorf("federation: no personal store configured")
	}
	report := &SyncReport{DryRun: dryRun}

	if direction == SyncPush || direction == SyncBoth {
		n, dup, err := copyPatterns(ctx, s.local, s.personal, dryRun)
		if err != nil {
			return report, err
		}
		report.Pushed = n
		report.Duplicates += dup
	}
	if direction == SyncPull || direction == SyncBoth {
		n, dup, err := copyPatterns(ctx, s.personal, s.local, dryRun)
		if err != nil {
			return report, err
		}
		report.Pulled = n
		report.Duplicates += dup
	}
	return report, nil
}

func copyPatterns(ctx context.Context, from, to *store.Store, dryRun bool) (moved, duplicates int, err error) {
	patterns, err := from.Snapshot()
	if err != nil {
		return 0, 0, err
	}
	for _, p := range patterns {
		if ctx.Err() != nil {
			return moved, duplicates, ctx.Err()
		}
		if dryRun {
			existing, err := to.GetPatternByName(p.Name, p.Language)
			if err == nil && existing.ContentHash() == p.ContentHash() {
				duplicates++
			} else {
				moved++
			}
			continue
		}
		ins, err := to.InsertPattern(p.Clone(), store.InsertOptions{})
		if err != nil {
			return moved, duplicates, err
		}
		if ins.Merged {
			duplicates++
		} else {
			moved++
		}
	}
	return moved, duplicates, nil
}

// ShareOptions selects what Share pushes to the community shard.
type ShareOptions struct {
	// MinCoherency defaults to the configured share floor.
	MinCoherency float64
	// PatternIDs, when set, restricts the share to these ids.
	PatternIDs []string
	// Tags, when set, restricts the share to patterns carrying any of them.
	Tags []string
}

// Share pushes tested, high-coherency patterns from local to community.
func (s *Service) Share(ctx context.Context, opts ShareOptions) (*SyncReport, error) {
	if s.community == nil {
		return nil, fmt.Errorf("federation: no community store configured")
	}
	floor := opts.MinCoherency
	if floor <= 0 {
		floor = s.cfg.ShareMinCoherency
	}

	wanted := make(map[string]bool, len(opts.PatternIDs))
	for _, id := range opts.PatternIDs {
		wanted[id] = true
	}

	patterns, err := s.local.Patterns(store.Filter{MinCoherency: floor, TagsAny: opts.Tags})
	if err != nil {
		return nil, err
	}

	report := &SyncReport{}
	for _, p := range patterns {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if len(wanted) > 0 && !wanted[p.ID] {
			continue
		}
		if !p.HasTest() {
			continue
		}
		ins, err := s.community.InsertPattern(p.Clone(), store.InsertOptions{})
		if err != nil {
			return report, err
		}
		if ins.Merged {
			report.Duplicates++
		} else {
			report.Pushed++
		}
	}
	return report, nil
}

// PullOptions filters a community pull.
type PullOptions struct {
	Language   pattern.Language
	MaxPull    int
	NameFilter string
}

// PullCommunity fetches community patterns into the local shard.
func (s *Service) PullCommunity(ctx context.Context, opts PullOptions) (*SyncReport, error) {
	if s.community == nil {
		return nil, fmt.Errorf("federation: no community store configured")
	}
	patterns, err := s.community.Patterns(store.Filter{Language: opts.Language})
	if err != nil {
		return nil, err
	}

	report := &SyncReport{}
	needle := strings.ToLower(opts.NameFilter)
	for _, p := range patterns {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if opts.MaxPull > 0 && report.Pulled >= opts.MaxPull {
			break
		}
		if needle != "" && !strings.Contains(strings.ToLower(p.Name), needle) {
			continue
		}
		ins, err := s.local.InsertPattern(p.Clone(), store.InsertOptions{})
		if err != nil {
			return report, err
		}
		if ins.Merged {
			report.Duplicates++
		} else {
			report.Pulled++
		}
	}
	return report, nil
}

// RemoteSearch fans the query out to every registered remote, merging
// results. Each remote contributes a SourceStat; a failing remote is
// reported there instead of failing the whole search.
func (s *Service) RemoteSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if s.transport == nil || s.remotes == nil {
		return nil, fmt.Errorf("federation: no remotes configured")
	}
	remotes := s.remotes.List()

	type shard struct {
		stat    SourceStat
		results []*pattern.Pattern
	}
	shards := make([]shard, len(remotes))

	g, gctx := errgroup.WithContext(ctx)
	for i, remote := range remotes {
		i, remote := i, remote
		g.Go(func() error {
			started := time.Now()
			stat := SourceStat{Name: remote.Name}

			resp, err := s.callSearch(gctx, remote, req)
			stat.LatencyMs = time.Since(started).Milliseconds()
			if err != nil {
				stat.Err = err.Error()
			} else {
				stat.Count = len(resp.Results)
				shards[i].results = resp.Results
			}
			shards[i].stat = stat
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &SearchResponse{}
	for _, sh := range shards {
		merged.Sources = append(merged.Sources, sh.stat)
		merged.Results = append(merged.Results, sh.results...)
	}
	return merged, nil
}

func (s *Service) callSearch(ctx context.Context, remote Remote, req SearchRequest) (*SearchResponse, error) {
	if err := s.breakers.Allow(remote.URL); err != nil {
		return nil, err
	}
	var resp *SearchResponse
	err := s.retry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
		defer cancel()
		var err error
		resp, err = s.transport.Search(callCtx, remote, req)
		return err
	})
	if err != nil {
		s.breakers.RecordFailure(remote.URL)
		return nil, err
	}
	s.breakers.RecordSuccess(remote.URL)
	return resp, nil
}

// Submit sends a pattern to a named remote through the breaker and retry
// policy.
func (s *Service) Submit(ctx context.Context, remoteName string, req SubmitRequest) (*SubmitResponse, error) {
	if s.transport == nil || s.remotes == nil {
		return nil, fmt.Errorf("federation: no remotes configured")
	}
	remote, ok := s.remotes.Get(remoteName)
	if !ok {
		return nil, fmt.Errorf("remote %q not found", remoteName)
	}
	if err := s.breakers.Allow(remote.URL); err != nil {
		return nil, err
	}
	var resp *SubmitResponse
	err := s.retry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
		defer cancel()
		var err error
		resp, err = s.transport.Submit(callCtx, remote, req)
		return err
	})
	if err != nil {
		s.breakers.RecordFailure(remote.URL)
		return nil, err
	}
	s.breakers.RecordSuccess(remote.URL)
	return resp, nil
}
