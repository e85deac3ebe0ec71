// Package merge lands successful task branches on the base branch,
// strictly one at a time. Sequential processing is a correctness
// requirement: merging the next branch may depend on the base branch
// state left behind by the previous merge.
package merge

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"

	gserrors "github.com/marcus/groundskeeper/internal/errors"
	"github.com/marcus/groundskeeper/internal/hosting"
	"github.com/marcus/groundskeeper/internal/logging"
)

// Conflict strategies.
const (
	StrategyAbort = "abort"
	StrategyRetry = "retry"
)

// Merge methods.
const (
	MethodMerge  = "merge"
	MethodSquash = "squash"
	MethodRebase = "rebase"
)

// rebaseBranch is the throwaway local branch the rebase method works
// on. Worker branches exist only on origin, so the resolver has to
// materialize one before git rebase can touch it.
const rebaseBranch = "groundskeeper/rebase"

// MergeCandidate is one branch awaiting a merge attempt.
type MergeCandidate struct {
	BranchName string
	PR         *hosting.PullRequest
}

// MergeResult reports the outcome for one candidate. One result per
// candidate, in input order.
type MergeResult struct {
	BranchName string
	Merged     bool
	PR         *hosting.PullRequest
	Error      string
}

// CommandRunner abstracts command execution for testing.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (stdout, stderr string, err error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Resolver merges candidate branches into the base branch.
type Resolver struct {
	repoPath         string
	baseBranch       string
	method           string
	conflictStrategy string
	maxRetries       int
	runner           CommandRunner
	strategies       []strategy.Strategy
	log              *logging.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRunner swaps the command runner (used by tests).
func WithRunner(r CommandRunner) Option {
	return func(m *Resolver) {
		m.runner = r
	}
}

// WithMethod sets the merge method (merge, squash, rebase).
func WithMethod(method string) Option {
	return func(m *Resolver) {
		m.method = method
	}
}

// WithConflictStrategy sets the conflict strategy (abort, retry).
func WithConflictStrategy(s string) Option {
	return func(m *Resolver) {
		m.conflictStrategy = s
	}
}

// WithMaxRetries bounds conflict retries per candidate.
func WithMaxRetries(n int) Option {
	return func(m *Resolver) {
		if n > 0 {
			m.maxRetries = n
		}
	}
}

// WithRetryStrategies overrides the retry pacing (used by tests to
// skip backoff waits).
func WithRetryStrategies(s ...strategy.Strategy) Option {
	return func(m *Resolver) {
		m.strategies = s
	}
}

// New creates a Resolver operating on the repository at repoPath.
func New(repoPath, baseBranch string, opts ...Option) *Resolver {
	m := &Resolver{
		repoPath:         repoPath,
		baseBranch:       baseBranch,
		method:           MethodSquash,
		conflictStrategy: StrategyRetry,
		maxRetries:       3,
		runner:           ExecRunner{},
		log:              logging.Component("merge"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MergeSequentially attempts to land every candidate, in order, one at
// a time. A failed candidate never blocks the remaining ones; the
// returned slice always has one result per input.
func (m *Resolver) MergeSequentially(ctx context.Context, candidates []MergeCandidate) []MergeResult {
	results := make([]MergeResult, 0, len(candidates))

	for _, c := range candidates {
		result := MergeResult{BranchName: c.BranchName, PR: c.PR}

		if err := m.mergeOne(ctx, c); err != nil {
			result.Error = err.Error()
			m.log.ErrorCtx("merge failed", map[string]any{
				"branch": c.BranchName,
				"error":  err.Error(),
			})
		} else {
			result.Merged = true
			m.log.InfoCtx("branch merged", map[string]any{
				"branch": c.BranchName,
				"method": m.method,
			})
		}

		results = append(results, result)
	}

	return results
}

func (m *Resolver) mergeOne(ctx context.Context, c MergeCandidate) error {
	if m.conflictStrategy != StrategyRetry {
		if err := m.attemptMerge(ctx, c.BranchName); err != nil {
			return gserrors.NewMergeError(c.BranchName, 1, isConflict(err), err)
		}
		return nil
	}

	strategies := m.strategies
	if strategies == nil {
		strategies = []strategy.Strategy{
			strategy.Limit(uint(m.maxRetries)),
			strategy.Backoff(backoff.Linear(2 * time.Second)),
		}
	}

	var attempt int
	err := retry.Retry(func(uint) error {
		attempt++
		return m.attemptMerge(ctx, c.BranchName)
	}, strategies...)
	if err != nil {
		return gserrors.NewMergeError(c.BranchName, attempt, isConflict(err), err)
	}
	return nil
}

// attemptMerge performs one full merge attempt against the current
// base branch tip.
func (m *Resolver) attemptMerge(ctx context.Context, branch string) error {
	if err := m.git(ctx, "fetch", "origin"); err != nil {
		return err
	}
	if err := m.git(ctx, "checkout", m.baseBranch); err != nil {
		return err
	}
	if err := m.git(ctx, "reset", "--hard", "origin/"+m.baseBranch); err != nil {
		return err
	}

	if err := m.applyMethod(ctx, branch); err != nil {
		// Leave the tree clean for the next attempt or candidate.
		m.abortInProgress(ctx)
		return err
	}

	return m.git(ctx, "push", "origin", m.baseBranch)
}

func (m *Resolver) applyMethod(ctx context.Context, branch string) error {
	remote := "origin/" + branch
	msg := fmt.Sprintf("Merge branch %s", branch)

	switch m.method {
	case MethodSquash:
		if err := m.git(ctx, "merge", "--squash", remote); err != nil {
			return err
		}
		return m.git(ctx, "commit", "-m", msg)
	case MethodRebase:
		if err := m.git(ctx, "checkout", "-B", rebaseBranch, remote); err != nil {
			return err
		}
		if err := m.git(ctx, "rebase", m.baseBranch); err != nil {
			return err
		}
		if err := m.git(ctx, "checkout", m.baseBranch); err != nil {
			return err
		}
		if err := m.git(ctx, "merge", "--ff-only", rebaseBranch); err != nil {
			return err
		}
		m.git(ctx, "branch", "-D", rebaseBranch) //nolint:errcheck
		return nil
	default:
		return m.git(ctx, "merge", "--no-ff", "-m", msg, remote)
	}
}

// abortInProgress resets whatever half-finished merge or rebase state
// a failed attempt left behind. Errors are ignored.
func (m *Resolver) abortInProgress(ctx context.Context) {
	m.git(ctx, "merge", "--abort")  //nolint:errcheck
	m.git(ctx, "rebase", "--abort") //nolint:errcheck
	m.git(ctx, "reset", "--hard")   //nolint:errcheck
}

func (m *Resolver) git(ctx context.Context, args ...string) error {
	stdout, stderr, err := m.runner.Run(ctx, m.repoPath, "git", args...)
	if err != nil {
		detail := strings.TrimSpace(stderr)
		if detail == "" {
			detail = strings.TrimSpace(stdout)
		}
		return fmt.Errorf("git %s: %w: %s", args[0], err, detail)
	}
	return nil
}

func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "conflict")
}
