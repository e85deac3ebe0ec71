package gateway

import (
	"context"
	"sync"

	"github.com/marcus/groundskeeper/internal/errors"
	"github.com/marcus/groundskeeper/internal/hosting"
	"github.com/marcus/groundskeeper/internal/logging"
)

// Status summarizes the hosting API's availability.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusUnavailable Status = "unavailable"
)

// ServiceHealth is the gateway's health report, read by the daemon and
// the monitoring endpoint.
type ServiceHealth struct {
	Status              Status       `json:"status"`
	CircuitState        CircuitState `json:"circuit_state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	RateLimitRemaining  *int         `json:"rate_limit_remaining,omitempty"`
}

// ErrCircuitOpen is returned by strict calls short-circuited by an open
// breaker.
var ErrCircuitOpen = errors.New("circuit open")

// Gateway wraps a hosting.Client with circuit breakers per endpoint
// group ("issues", "pulls") and fallback call variants that never fail.
// Safe for concurrent use by workers and the daemon.
type Gateway struct {
	client hosting.Client
	log    *logging.Logger

	breakers map[string]*Breaker

	mu           sync.RWMutex
	rateLimit    *int
	cachedIssues []hosting.Issue // last-known-good open issue list
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithBreakerOptions applies options to every endpoint-group breaker.
func WithBreakerOptions(opts ...BreakerOption) Option {
	return func(g *Gateway) {
		for _, group := range []string{"issues", "pulls"} {
			g.breakers[group] = NewBreaker(opts...)
		}
	}
}

// WithCachedIssues seeds the last-known-good issue list, typically from
// the persistent state store on startup.
func WithCachedIssues(issues []hosting.Issue) Option {
	return func(g *Gateway) {
		g.cachedIssues = issues
	}
}

// New creates a Gateway around the given client.
func New(client hosting.Client, opts ...Option) *Gateway {
	g := &Gateway{
		client: client,
		log:    logging.Component("gateway"),
		breakers: map[string]*Breaker{
			"issues": NewBreaker(),
			"pulls":  NewBreaker(),
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// call guards fn with the group's breaker.
func (g *Gateway) call(group, op string, fn func() error) error {
	br := g.breakers[group]
	if !br.Allow() {
		return errors.NewUpstreamError(op, group, true, ErrCircuitOpen)
	}

	if err := fn(); err != nil {
		br.RecordFailure()
		return err
	}

	br.RecordSuccess()
	return nil
}

// Strict variants: errors bubble to the caller as UpstreamError.

// ListOpenIssues fetches open issues and refreshes the cached list on
// success.
func (g *Gateway) ListOpenIssues(ctx context.Context, label string) ([]hosting.Issue, error) {
	var issues []hosting.Issue
	err := g.call("issues", "listOpenIssues", func() error {
		var err error
		issues, err = g.client.ListOpenIssues(ctx, label)
		return err
	})
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.cachedIssues = issues
	g.mu.Unlock()
	return issues, nil
}

// CreateIssue creates a tracked issue.
func (g *Gateway) CreateIssue(ctx context.Context, issue hosting.NewIssue) (hosting.Issue, error) {
	var created hosting.Issue
	err := g.call("issues", "createIssue", func() error {
		var err error
		created, err = g.client.CreateIssue(ctx, issue)
		return err
	})
	return created, err
}

// AddLabels adds labels to an issue.
func (g *Gateway) AddLabels(ctx context.Context, id int, labels []string) error {
	return g.call("issues", "addLabels", func() error {
		return g.client.AddLabels(ctx, id, labels)
	})
}

// RemoveLabel removes a label from an issue.
func (g *Gateway) RemoveLabel(ctx context.Context, id int, label string) error {
	return g.call("issues", "removeLabel", func() error {
		return g.client.RemoveLabel(ctx, id, label)
	})
}

// AddComment adds a comment to an issue.
func (g *Gateway) AddComment(ctx context.Context, id int, text string) error {
	return g.call("issues", "addComment", func() error {
		return g.client.AddComment(ctx, id, text)
	})
}

// CloseIssue closes an issue with a final comment.
func (g *Gateway) CloseIssue(ctx context.Context, id int, comment string) error {
	return g.call("issues", "closeIssue", func() error {
		return g.client.CloseIssue(ctx, id, comment)
	})
}

// CreatePR opens a pull request.
func (g *Gateway) CreatePR(ctx context.Context, pr hosting.NewPullRequest) (hosting.PullRequest, error) {
	var created hosting.PullRequest
	err := g.call("pulls", "createPR", func() error {
		var err error
		created, err = g.client.CreatePR(ctx, pr)
		return err
	})
	return created, err
}

// Fallback variants: never return an error. On failure they fall back
// to a last-known-good value or a no-op acknowledgment and report
// degraded=true.

// ListOpenIssuesWithFallback returns the live issue list, or the cached
// last-known-good list with degraded=true when the API is impaired.
func (g *Gateway) ListOpenIssuesWithFallback(ctx context.Context, label string) ([]hosting.Issue, bool) {
	issues, err := g.ListOpenIssues(ctx, label)
	if err != nil {
		g.log.WarnCtx("issue list degraded, using cache", map[string]any{"error": err.Error()})
		g.mu.RLock()
		cached := make([]hosting.Issue, len(g.cachedIssues))
		copy(cached, g.cachedIssues)
		g.mu.RUnlock()
		return cached, true
	}
	return issues, false
}

// CreateIssueWithFallback creates an issue, reporting degraded=true and
// a zero Issue when the API is impaired.
func (g *Gateway) CreateIssueWithFallback(ctx context.Context, issue hosting.NewIssue) (hosting.Issue, bool) {
	created, err := g.CreateIssue(ctx, issue)
	if err != nil {
		g.log.WarnCtx("issue creation degraded", map[string]any{"title": issue.Title, "error": err.Error()})
		return hosting.Issue{}, true
	}
	return created, false
}

// AddLabelsWithFallback adds labels best-effort.
func (g *Gateway) AddLabelsWithFallback(ctx context.Context, id int, labels []string) bool {
	if err := g.AddLabels(ctx, id, labels); err != nil {
		g.log.WarnCtx("label add degraded", map[string]any{"issue": id, "error": err.Error()})
		return true
	}
	return false
}

// RemoveLabelWithFallback removes a label best-effort.
func (g *Gateway) RemoveLabelWithFallback(ctx context.Context, id int, label string) bool {
	if err := g.RemoveLabel(ctx, id, label); err != nil {
		g.log.WarnCtx("label remove degraded", map[string]any{"issue": id, "error": err.Error()})
		return true
	}
	return false
}

// AddCommentWithFallback comments best-effort.
func (g *Gateway) AddCommentWithFallback(ctx context.Context, id int, text string) bool {
	if err := g.AddComment(ctx, id, text); err != nil {
		g.log.WarnCtx("comment degraded", map[string]any{"issue": id, "error": err.Error()})
		return true
	}
	return false
}

// CloseIssueWithFallback closes an issue best-effort.
func (g *Gateway) CloseIssueWithFallback(ctx context.Context, id int, comment string) bool {
	if err := g.CloseIssue(ctx, id, comment); err != nil {
		g.log.WarnCtx("issue close degraded", map[string]any{"issue": id, "error": err.Error()})
		return true
	}
	return false
}

// CreatePRWithFallback creates a pull request, reporting degraded=true
// and a zero PullRequest when the API is impaired.
func (g *Gateway) CreatePRWithFallback(ctx context.Context, pr hosting.NewPullRequest) (hosting.PullRequest, bool) {
	created, err := g.CreatePR(ctx, pr)
	if err != nil {
		g.log.WarnCtx("pr creation degraded", map[string]any{"head": pr.Head, "error": err.Error()})
		return hosting.PullRequest{}, true
	}
	return created, false
}

// CachedIssues returns a copy of the last-known-good issue list.
func (g *Gateway) CachedIssues() []hosting.Issue {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]hosting.Issue, len(g.cachedIssues))
	copy(out, g.cachedIssues)
	return out
}

// RefreshRateLimit records the remaining API quota opportunistically.
// Failures are ignored; the rate limit is observability only and never
// opens the circuit.
func (g *Gateway) RefreshRateLimit(ctx context.Context) {
	remaining, err := g.client.RateLimitRemaining(ctx)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.rateLimit = &remaining
	g.mu.Unlock()
}

// Health computes the current ServiceHealth from the breakers. The
// reported circuit state and failure count come from the worst group.
func (g *Gateway) Health() ServiceHealth {
	worst := g.breakers["issues"]
	for _, br := range g.breakers {
		if rank(br.State()) > rank(worst.State()) ||
			(br.State() == worst.State() && br.ConsecutiveFailures() > worst.ConsecutiveFailures()) {
			worst = br
		}
	}

	health := ServiceHealth{
		CircuitState:        worst.State(),
		ConsecutiveFailures: worst.ConsecutiveFailures(),
	}

	switch worst.State() {
	case CircuitOpen:
		health.Status = StatusUnavailable
	case CircuitHalfOpen:
		health.Status = StatusDegraded
	default:
		if health.ConsecutiveFailures > 0 {
			health.Status = StatusDegraded
		} else {
			health.Status = StatusHealthy
		}
	}

	g.mu.RLock()
	health.RateLimitRemaining = g.rateLimit
	g.mu.RUnlock()

	return health
}

func rank(s CircuitState) int {
	switch s {
	case CircuitOpen:
		return 2
	case CircuitHalfOpen:
		return 1
	default:
		return 0
	}
}
