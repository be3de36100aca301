package federation

import (
	"context"
	"fmt"
	"sync"
)

// Transport carries the wire contract to a remote node. HTTP/WebSocket
// adapters live outside the core; the contract here is what any adapter
// must preserve.
type Transport interface {
	Search(ctx context.Context, remote Remote, req SearchRequest) (*SearchResponse, error)
	Submit(ctx context.Context, remote Remote, req SubmitRequest) (*SubmitResponse, error)
	SyncPush(ctx context.Context, remote Remote, req SyncPushRequest) (*SyncPushResponse, error)
	SyncPull(ctx context.Context, remote Remote, req SyncPullRequest) (*SyncPullResponse, error)
	Vote(ctx context.Context, remote Remote, req VoteRequest) (*VoteResponse, error)
	Feedback(ctx context.Context, remote Remote, req FeedbackRequest) (*FeedbackResponse, error)
	Covenant(ctx context.Context, remote Remote, req CovenantRequest) (*CovenantResponse, error)
	Health(ctx context.Context, remote Remote) (*HealthResponse, error)
}

// Loopback is an in-memory Transport backed by other Service instances,
// used by tests and single-process federations.
type Loopback struct {
	mu    sync.Mutex
	nodes map[string]*Service // canonical URL -> node
}

// NewLoopback creates an empty loopback fabric.
func NewLoopback() *Loopback {
	return &Loopback{nodes: make(map[string]*Service)}
}

// Register attaches a node at the given URL.
func (l *Loopback) Register(rawURL string, svc *Service) error {
	canonical, err := CanonicalURL(rawURL)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nodes[canonical] = svc
	return nil
}

func (l *Loopback) node(remote Remote) (*Service, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	svc, ok := l.nodes[remote.URL]
	if !ok {
		return nil, fmt.Errorf("remote %s unreachable", remote.URL)
	}
	return svc, nil
}

func (l *Loopback) Search(ctx context.Context, remote Remote, req SearchRequest) (*SearchResponse, error) {
	svc, err := l.node(remote)
	if err != nil {
		return nil, err
	}
	return svc.HandleSearch(ctx, req)
}

func (l *Loopback) Submit(ctx context.Context, remote Remote, req SubmitRequest) (*SubmitResponse, error) {
	svc, err := l.node(remote)
	if err != nil {
		return nil, err
	}
	return svc.HandleSubmit(ctx, req)
}

func (l *Loopback) SyncPush(ctx context.Context, remote Remote, req SyncPushRequest) (*SyncPushResponse, error) {
	svc, err := l.node(remote)
	if err != nil {
		return nil, err
	}
	return svc.HandleSyncPush(ctx, req)
}

func (l *Loopback) SyncPull(ctx context.Context, remote Remote, req SyncPullRequest) (*SyncPullResponse, error) {
	svc, err := l.node(remote)
	if err != nil {
		return nil, err
	}
	return svc.HandleSyncPull(ctx, req)
}

func (l *Loopback) Vote(ctx context.Context, remote Remote, req VoteRequest) (*VoteResponse, error) {
	svc, err := l.node(remote)
	if err != nil {
		return nil, err
	}
	return svc.HandleVote(ctx, req)
}

func (l *Loopback) Feedback(ctx context.Context, remote Remote, req FeedbackRequest) (*FeedbackResponse, error) {
	svc, err := l.node(remote)
	if err != nil {
		return nil, err
	}
	return svc.HandleFeedback(ctx, req)
}

func (l *Loopback) Covenant(ctx context.Context, remote Remote, req CovenantRequest) (*CovenantResponse, error) {
	svc, err := l.node(remote)
	if err != nil {
		return nil, err
	}
	return svc.HandleCovenant(ctx, req)
}

func (l *Loopback) Health(ctx context.Context, remote Remote) (*HealthResponse, error) {
	svc, err := l.node(remote)
	if err != nil {
		return nil, err
	}
	return svc.HandleHealth(ctx), nil
}
