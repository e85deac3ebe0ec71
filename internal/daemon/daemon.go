// Package daemon is the cycle orchestrator: it sequences issue
// fetching, task discovery, deduplication, concurrent execution, PR
// creation, and sequential merging, and decides between cycles whether
// to continue, pause, or stop.
package daemon

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/groundskeeper/internal/config"
	"github.com/marcus/groundskeeper/internal/dedup"
	"github.com/marcus/groundskeeper/internal/discovery"
	gserrors "github.com/marcus/groundskeeper/internal/errors"
	"github.com/marcus/groundskeeper/internal/executor"
	"github.com/marcus/groundskeeper/internal/gateway"
	"github.com/marcus/groundskeeper/internal/hosting"
	"github.com/marcus/groundskeeper/internal/logging"
	"github.com/marcus/groundskeeper/internal/merge"
	"github.com/marcus/groundskeeper/internal/state"
)

// State is the daemon lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
)

// Labels the orchestrator manages on tracked issues.
const (
	LabelInProgress  = "in-progress"
	LabelNeedsReview = "needs-review"
	LabelPRPending   = "pr-pending"
)

// CycleResult is the structured outcome of one cycle.
type CycleResult struct {
	ID              string
	StartTime       time.Time
	TasksDiscovered int
	TasksCompleted  int
	TasksFailed     int
	PRsMerged       int
	Duration        time.Duration
	Errors          []string
	Degraded        bool
	ServiceHealth   gateway.ServiceHealth
}

// Gateway is the hosting API surface the orchestrator consumes.
// Satisfied by *gateway.Gateway.
type Gateway interface {
	ListOpenIssuesWithFallback(ctx context.Context, label string) ([]hosting.Issue, bool)
	CreateIssueWithFallback(ctx context.Context, issue hosting.NewIssue) (hosting.Issue, bool)
	AddLabelsWithFallback(ctx context.Context, id int, labels []string) bool
	RemoveLabelWithFallback(ctx context.Context, id int, label string) bool
	AddCommentWithFallback(ctx context.Context, id int, text string) bool
	CloseIssueWithFallback(ctx context.Context, id int, comment string) bool
	CreatePRWithFallback(ctx context.Context, pr hosting.NewPullRequest) (hosting.PullRequest, bool)
	RefreshRateLimit(ctx context.Context)
	Health() gateway.ServiceHealth
}

// TaskExecutor runs the work queue. Satisfied by *executor.Executor.
type TaskExecutor interface {
	ExecuteTasks(ctx context.Context, tasks []executor.WorkerTask) []executor.WorkerResult
}

// Merger lands successful branches. Satisfied by *merge.Resolver.
type Merger interface {
	MergeSequentially(ctx context.Context, candidates []merge.MergeCandidate) []merge.MergeResult
}

// Daemon is the top-level orchestrator.
type Daemon struct {
	cfg        *config.Config
	gw         Gateway
	discoverer discovery.Discoverer
	dedup      *dedup.Deduplicator
	exec       TaskExecutor
	merger     Merger
	store      *state.Store
	handler    EventHandler
	dryRun     bool
	log        *logging.Logger

	mu         sync.Mutex
	state      State
	lastResult *CycleResult

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithStore enables persistent cycle history and issue caching.
func WithStore(s *state.Store) Option {
	return func(d *Daemon) {
		d.store = s
	}
}

// WithEventHandler registers a synchronous event consumer.
func WithEventHandler(h EventHandler) Option {
	return func(d *Daemon) {
		d.handler = h
	}
}

// WithDeduplicator overrides the default deduplicator.
func WithDeduplicator(dd *dedup.Deduplicator) Option {
	return func(d *Daemon) {
		d.dedup = dd
	}
}

// WithDryRun skips discovery, issue mutation, execution, and merging;
// cycles report what exists without changing anything.
func WithDryRun(dryRun bool) Option {
	return func(d *Daemon) {
		d.dryRun = dryRun
	}
}

// New creates a Daemon in the Idle state.
func New(cfg *config.Config, gw Gateway, disc discovery.Discoverer, exec TaskExecutor, merger Merger, opts ...Option) *Daemon {
	d := &Daemon{
		cfg:        cfg,
		gw:         gw,
		discoverer: disc,
		exec:       exec,
		merger:     merger,
		state:      StateIdle,
		stopCh:     make(chan struct{}),
		log:        logging.Component("daemon"),
	}
	d.dedup = dedup.New(dedup.WithThreshold(cfg.Discovery.SimilarityThreshold))
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current lifecycle state.
func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastResult returns the most recent cycle result, or nil before the
// first cycle completes.
func (d *Daemon) LastResult() *CycleResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastResult
}

func (d *Daemon) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	d.log.Infof("state: %s", s)
	d.emit(EventStateChanged, "", string(s), map[string]any{"state": string(s)})
}

// Stop requests a graceful stop. It is observed between cycles and
// during the inter-cycle sleep; work already in flight finishes.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

func (d *Daemon) stopRequested() bool {
	select {
	case <-d.stopCh:
		return true
	default:
		return false
	}
}

// Run drives the daemon until single-cycle completion, a stop request,
// or context cancellation. Initialization failures are fatal and
// returned; cycle failures are absorbed into CycleResults.
func (d *Daemon) Run(ctx context.Context) error {
	d.setState(StateInitializing)
	if err := d.initialize(); err != nil {
		d.setState(StateStopping)
		d.setState(StateStopped)
		return err
	}

	d.setState(StateRunning)
	for {
		result := d.RunCycle(ctx)
		d.finishCycle(result)

		if d.cfg.Daemon.SingleCycle || d.stopRequested() || ctx.Err() != nil {
			break
		}
		if !d.sleepBetweenCycles(ctx) {
			break
		}
	}

	d.setState(StateStopping)
	d.setState(StateStopped)
	return nil
}

// initialize validates credentials and prepares the work directory.
func (d *Daemon) initialize() error {
	if err := config.Validate(d.cfg); err != nil {
		return gserrors.NewConfigError("", "invalid configuration", err)
	}
	if err := os.MkdirAll(d.cfg.Execution.WorkDir, 0o755); err != nil {
		return gserrors.NewConfigError("execution.workDir", "cannot create work directory", err)
	}
	return nil
}

// sleepBetweenCycles waits the loop interval, waking early on stop or
// cancellation. Returns false when the loop should exit.
func (d *Daemon) sleepBetweenCycles(ctx context.Context) bool {
	timer := time.NewTimer(d.cfg.LoopInterval())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-d.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

func (d *Daemon) finishCycle(result CycleResult) {
	d.mu.Lock()
	d.lastResult = &result
	d.mu.Unlock()

	if d.store != nil {
		rec := state.CycleRecord{
			ID:              result.ID,
			StartTime:       result.StartTime,
			EndTime:         result.StartTime.Add(result.Duration),
			TasksDiscovered: result.TasksDiscovered,
			TasksCompleted:  result.TasksCompleted,
			TasksFailed:     result.TasksFailed,
			PRsMerged:       result.PRsMerged,
			Duration:        result.Duration,
			Degraded:        result.Degraded,
			Errors:          result.Errors,
			ServiceStatus:   string(result.ServiceHealth.Status),
			CircuitState:    string(result.ServiceHealth.CircuitState),
		}
		if err := d.store.RecordCycle(rec); err != nil {
			d.log.Errorf("recording cycle %s: %v", result.ID, err)
		}
	}

	d.emit(EventCycleFinished, result.ID, "cycle finished", map[string]any{
		"discovered": result.TasksDiscovered,
		"completed":  result.TasksCompleted,
		"failed":     result.TasksFailed,
		"merged":     result.PRsMerged,
		"degraded":   result.Degraded,
		"errors":     len(result.Errors),
	})
}

// RunCycle executes one full cycle. It never panics outward: any
// uncaught failure becomes a degraded CycleResult.
func (d *Daemon) RunCycle(ctx context.Context) (result CycleResult) {
	cycleID := uuid.NewString()
	ctx = logging.WithCycleID(ctx, cycleID)
	log := d.log.WithCycle(cycleID)

	// Health is snapshotted at both ends of the cycle; the closing
	// snapshot in the defer is the one the CycleResult reports.
	result = CycleResult{ID: cycleID, StartTime: time.Now(), ServiceHealth: d.gw.Health()}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("cycle panicked: %v", r)
			result.Degraded = true
			result.Errors = append(result.Errors, fmt.Sprintf("cycle panic: %v", r))
		}
		result.Duration = time.Since(result.StartTime)
		d.gw.RefreshRateLimit(ctx)
		result.ServiceHealth = d.gw.Health()
	}()

	d.emit(EventCycleStarted, cycleID, "cycle started", nil)
	log.Info("cycle started")

	// Step 1: fetch open issues, riding the cache on degradation.
	issues, degraded := d.gw.ListOpenIssuesWithFallback(ctx, d.cfg.Discovery.IssueLabel)
	if degraded {
		result.Degraded = true
		result.Errors = append(result.Errors, "issue list degraded, using cached issues")
	} else if d.store != nil {
		if err := d.store.SaveIssueCache(issues); err != nil {
			log.Warnf("persisting issue cache: %v", err)
		}
	}

	// Step 2: discover new tasks and track the survivors as issues.
	issues = d.discoverAndTrack(ctx, log, issues, &result)

	// Step 3: build and dispatch the work queue.
	queue := workQueue(issues, d.cfg.Execution.ParallelWorkers)
	if d.dryRun {
		log.Infof("dry run: %d issues eligible for work, not dispatching", len(queue))
		return result
	}

	tasks := make([]executor.WorkerTask, 0, len(queue))
	for _, issue := range queue {
		if d.gw.AddLabelsWithFallback(ctx, issue.ID, []string{LabelInProgress}) {
			result.Degraded = true
		}
		tasks = append(tasks, executor.WorkerTask{
			Issue:      issue,
			BranchName: executor.BranchName(issue.ID, issue.Title),
		})
	}
	workerResults := d.exec.ExecuteTasks(ctx, tasks)

	// Step 4: turn worker results into PRs or review labels.
	candidates, branchIssue := d.settleWorkers(ctx, log, workerResults, &result)

	// Step 5: land successful branches sequentially.
	if d.cfg.Merge.AutoMerge && len(candidates) > 0 {
		d.mergeAndClose(ctx, log, candidates, branchIssue, &result)
	}

	log.InfoCtx("cycle complete", map[string]any{
		"discovered": result.TasksDiscovered,
		"completed":  result.TasksCompleted,
		"failed":     result.TasksFailed,
		"merged":     result.PRsMerged,
		"degraded":   result.Degraded,
	})
	return result
}

// discoverAndTrack runs discovery and dedup, creates one issue per
// surviving task, and returns the combined issue list.
func (d *Daemon) discoverAndTrack(ctx context.Context, log *logging.Logger, issues []hosting.Issue, result *CycleResult) []hosting.Issue {
	availableSlots := d.cfg.Discovery.MaxOpenIssues - len(issues)
	if availableSlots <= 0 || d.dryRun {
		log.Infof("skipping discovery (slots=%d, dryRun=%v)", availableSlots, d.dryRun)
		return issues
	}

	limit := d.cfg.Discovery.TasksPerCycle
	if availableSlots < limit {
		limit = availableSlots
	}

	raw, err := d.discoverer.DiscoverTasks(ctx, discovery.Request{
		RepoPath:       d.cfg.Repo.Path,
		ExcludePaths:   d.cfg.Discovery.ExcludePaths,
		TasksPerCycle:  limit,
		ExistingIssues: issues,
	})
	if err != nil {
		log.Errorf("discovery failed: %v", err)
		result.Errors = append(result.Errors, fmt.Sprintf("discovery: %v", err))
		d.emit(EventCycleError, result.ID, "discovery failed", map[string]any{"error": err.Error()})
		return issues
	}
	result.TasksDiscovered = len(raw)

	survivors := d.dedup.Process(raw, issues)

	if d.gw.Health().Status == gateway.StatusUnavailable {
		log.Warn("hosting API unavailable, skipping issue creation")
		result.Degraded = true
		result.Errors = append(result.Errors, "issue creation skipped: hosting API unavailable")
		return issues
	}

	for _, task := range survivors {
		created, degraded := d.gw.CreateIssueWithFallback(ctx, hosting.NewIssue{
			Title:  task.Title,
			Body:   issueBody(task),
			Labels: []string{d.cfg.Discovery.IssueLabel},
		})
		if degraded {
			result.Degraded = true
			result.Errors = append(result.Errors, fmt.Sprintf("issue creation degraded: %s", task.Title))
			continue
		}
		log.InfoCtx("issue created", map[string]any{"issue": created.ID, "title": created.Title})
		d.emit(EventIssueCreated, result.ID, created.Title, map[string]any{"issue": created.ID})
		issues = append(issues, created)
	}
	return issues
}

// settleWorkers labels failures for review and opens PRs for
// successes. Returns merge candidates and the branch-to-issue mapping.
func (d *Daemon) settleWorkers(ctx context.Context, log *logging.Logger, results []executor.WorkerResult, result *CycleResult) ([]merge.MergeCandidate, map[string]int) {
	var candidates []merge.MergeCandidate
	branchIssue := make(map[string]int)

	for _, wr := range results {
		d.emit(EventWorkerDone, result.ID, wr.BranchName, map[string]any{
			"issue":   wr.Issue.ID,
			"success": wr.Success,
		})

		if !wr.Success {
			result.TasksFailed++
			if d.gw.RemoveLabelWithFallback(ctx, wr.Issue.ID, LabelInProgress) {
				result.Degraded = true
			}
			if d.gw.AddLabelsWithFallback(ctx, wr.Issue.ID, []string{LabelNeedsReview}) {
				result.Degraded = true
			}
			comment := fmt.Sprintf("Automated work on branch `%s` failed: %s. Needs a human look.", wr.BranchName, wr.Error)
			if d.gw.AddCommentWithFallback(ctx, wr.Issue.ID, comment) {
				result.Degraded = true
			}
			continue
		}

		result.TasksCompleted++
		pr, degraded := d.gw.CreatePRWithFallback(ctx, hosting.NewPullRequest{
			Title: wr.Issue.Title,
			Body:  fmt.Sprintf("Closes #%d", wr.Issue.ID),
			Head:  wr.BranchName,
			Base:  d.cfg.Repo.BaseBranch,
		})
		if degraded {
			result.Degraded = true
			result.Errors = append(result.Errors, fmt.Sprintf("pr creation degraded for %s", wr.BranchName))
			d.gw.AddLabelsWithFallback(ctx, wr.Issue.ID, []string{LabelPRPending})
			continue
		}

		log.InfoCtx("pr created", map[string]any{"pr": pr.Number, "branch": wr.BranchName})
		branchIssue[wr.BranchName] = wr.Issue.ID
		candidates = append(candidates, merge.MergeCandidate{BranchName: wr.BranchName, PR: &pr})
	}

	return candidates, branchIssue
}

// mergeAndClose lands the candidates and closes issues for merged
// branches.
func (d *Daemon) mergeAndClose(ctx context.Context, log *logging.Logger, candidates []merge.MergeCandidate, branchIssue map[string]int, result *CycleResult) {
	for _, mr := range d.merger.MergeSequentially(ctx, candidates) {
		if !mr.Merged {
			result.Errors = append(result.Errors, fmt.Sprintf("merge %s: %s", mr.BranchName, mr.Error))
			continue
		}

		result.PRsMerged++
		d.emit(EventBranchMerged, result.ID, mr.BranchName, nil)

		issueID, ok := branchIssue[mr.BranchName]
		if !ok {
			continue
		}
		comment := fmt.Sprintf("Merged via branch `%s`", mr.BranchName)
		if mr.PR != nil {
			comment = fmt.Sprintf("Merged in #%d via branch `%s`", mr.PR.Number, mr.BranchName)
		}
		if d.gw.CloseIssueWithFallback(ctx, issueID, comment) {
			result.Degraded = true
		}
	}
}

// workQueue selects issues not already being worked, truncated to the
// worker count.
func workQueue(issues []hosting.Issue, parallelWorkers int) []hosting.Issue {
	queue := make([]hosting.Issue, 0, parallelWorkers)
	for _, issue := range issues {
		if issue.HasLabel(LabelInProgress) {
			continue
		}
		queue = append(queue, issue)
		if len(queue) == parallelWorkers {
			break
		}
	}
	return queue
}

func issueBody(task dedup.DeduplicatedTask) string {
	var b []byte
	b = fmt.Appendf(b, "%s\n\n", task.Description)
	b = fmt.Appendf(b, "- Category: %s\n", task.Category)
	b = fmt.Appendf(b, "- Priority: %s\n", task.Priority)
	b = fmt.Appendf(b, "- Estimated complexity: %s\n", task.EstimatedComplexity)
	if len(task.AffectedPaths) > 0 {
		b = fmt.Appendf(b, "- Affected paths: %v\n", task.AffectedPaths)
	}
	if task.Conflict.HasHighConflictRisk {
		b = fmt.Appendf(b, "- High conflict risk: overlaps %v\n", task.Conflict.OverlappingPaths)
	}
	return string(b)
}
