// Package executor runs coding-agent tasks concurrently, one isolated
// workspace per task, with a hard per-task timeout. Results come back
// in input order and the pool never exceeds its worker cap.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/marcus/groundskeeper/internal/agents"
	"github.com/marcus/groundskeeper/internal/hosting"
	"github.com/marcus/groundskeeper/internal/logging"
)

// BranchSlugLen caps the slugified title portion of a branch name.
const BranchSlugLen = 40

// WorkerTask is one unit of work submitted to the pool.
type WorkerTask struct {
	Issue      hosting.Issue
	BranchName string
}

// WorkerResult is produced exactly once per WorkerTask.
type WorkerResult struct {
	Issue      hosting.Issue
	BranchName string
	Success    bool
	Error      string
	Duration   time.Duration
}

// Telemetry receives a best-effort notification per finished task.
// Errors and panics in the callback never affect the task outcome.
type Telemetry func(ctx context.Context, result WorkerResult)

// Executor dispatches WorkerTasks to up to maxWorkers concurrent
// workers.
type Executor struct {
	agent      agents.Agent
	workspaces WorkspaceManager
	maxWorkers int
	timeout    time.Duration
	baseBranch string
	telemetry  Telemetry
	log        *logging.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxWorkers caps concurrent task executions.
func WithMaxWorkers(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxWorkers = n
		}
	}
}

// WithTimeout sets the hard per-task timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithBaseBranch sets the branch workspaces start from.
func WithBaseBranch(b string) Option {
	return func(e *Executor) {
		e.baseBranch = b
	}
}

// WithTelemetry registers a best-effort per-result callback.
func WithTelemetry(t Telemetry) Option {
	return func(e *Executor) {
		e.telemetry = t
	}
}

// New creates an Executor backed by the given agent and workspace
// manager.
func New(agent agents.Agent, workspaces WorkspaceManager, opts ...Option) *Executor {
	e := &Executor{
		agent:      agent,
		workspaces: workspaces,
		maxWorkers: 3,
		timeout:    agents.DefaultTimeout,
		baseBranch: "main",
		log:        logging.Component("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BranchName derives the deterministic branch name for an issue:
// auto/{id}-{slug}, where the slug is the lowercased title with
// non-alphanumeric runs collapsed to '-' and truncated to 40 chars.
func BranchName(id int, title string) string {
	return fmt.Sprintf("auto/%d-%s", id, slugify(title))
}

func slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > BranchSlugLen {
		slug = strings.Trim(slug[:BranchSlugLen], "-")
	}
	return slug
}

// ExecuteTasks runs all tasks with at most maxWorkers concurrent and
// returns one result per task, in input order. The context bounds the
// whole batch; each task additionally gets its own timeout.
func (e *Executor) ExecuteTasks(ctx context.Context, tasks []WorkerTask) []WorkerResult {
	results := make([]WorkerResult, len(tasks))
	sem := semaphore.NewWeighted(int64(e.maxWorkers))

	for i, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = WorkerResult{
				Issue:      task.Issue,
				BranchName: task.BranchName,
				Error:      "cancelled before start",
			}
			continue
		}
		go func(i int, task WorkerTask) {
			defer sem.Release(1)
			results[i] = e.runOne(ctx, task)
		}(i, task)
	}

	// Drain: acquiring the full weight waits for every worker.
	if err := sem.Acquire(context.Background(), int64(e.maxWorkers)); err == nil {
		sem.Release(int64(e.maxWorkers))
	}

	return results
}

func (e *Executor) runOne(ctx context.Context, task WorkerTask) WorkerResult {
	start := time.Now()
	result := WorkerResult{Issue: task.Issue, BranchName: task.BranchName}

	e.log.InfoCtx("worker started", map[string]any{
		"issue":  task.Issue.ID,
		"branch": task.BranchName,
	})

	taskCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	workspace, err := e.workspaces.Prepare(taskCtx, task.BranchName, e.baseBranch)
	if err != nil {
		result.Error = fmt.Sprintf("workspace: %v", err)
		result.Duration = time.Since(start)
		e.notify(ctx, result)
		return result
	}
	defer e.workspaces.Cleanup(workspace)

	agentResult, err := e.agent.Execute(taskCtx, agents.ExecuteOptions{
		Prompt:  taskPrompt(task),
		WorkDir: workspace,
		Timeout: e.timeout,
	})
	switch {
	case taskCtx.Err() == context.DeadlineExceeded:
		result.Error = "timeout"
	case err != nil:
		result.Error = err.Error()
	case !agentResult.IsSuccess():
		result.Error = agentResult.Error
		if result.Error == "" {
			result.Error = fmt.Sprintf("agent exited with code %d", agentResult.ExitCode)
		}
	default:
		// A success without a pushed branch is still a failure.
		if err := e.workspaces.Push(taskCtx, workspace, task.BranchName); err != nil {
			result.Error = fmt.Sprintf("push: %v", err)
		} else {
			result.Success = true
		}
	}

	result.Duration = time.Since(start)
	e.log.InfoCtx("worker finished", map[string]any{
		"issue":   task.Issue.ID,
		"branch":  task.BranchName,
		"success": result.Success,
		"error":   result.Error,
	})
	e.notify(ctx, result)
	return result
}

func (e *Executor) notify(ctx context.Context, result WorkerResult) {
	if e.telemetry == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Warnf("telemetry callback panicked: %v", r)
		}
	}()
	e.telemetry(ctx, result)
}

func taskPrompt(task WorkerTask) string {
	var b strings.Builder
	b.WriteString("You are working on the following tracked issue. Implement it, ")
	b.WriteString("commit your changes, and leave the working tree clean.\n\n")
	fmt.Fprintf(&b, "Issue #%d: %s\n\n%s\n", task.Issue.ID, task.Issue.Title, task.Issue.Body)
	return b.String()
}
