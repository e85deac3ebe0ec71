package commands

import (
	"fmt"
	"time"

	"github.com/marcus/groundskeeper/internal/agents"
	"github.com/marcus/groundskeeper/internal/config"
	"github.com/marcus/groundskeeper/internal/daemon"
	"github.com/marcus/groundskeeper/internal/discovery"
	"github.com/marcus/groundskeeper/internal/executor"
	"github.com/marcus/groundskeeper/internal/gateway"
	"github.com/marcus/groundskeeper/internal/hosting"
	"github.com/marcus/groundskeeper/internal/logging"
	"github.com/marcus/groundskeeper/internal/merge"
	"github.com/marcus/groundskeeper/internal/state"
)

// loadConfig loads configuration from the --config flag path or the
// default search locations.
func loadConfig() (*config.Config, error) {
	if configPathFlag != "" {
		return config.LoadFrom(configPathFlag)
	}
	return config.Load()
}

// initLogging configures the global logger from config.
func initLogging(cfg *config.Config) error {
	return logging.Init(logging.Config{
		Level:         cfg.Logging.Level,
		Path:          cfg.Logging.Path,
		Format:        cfg.Logging.Format,
		RetentionDays: cfg.Logging.RetentionDays,
	})
}

// buildDaemon wires up the full pipeline: hosting gateway, discovery
// agent, worker pool, and merge resolver. Extra daemon options (event
// handlers, dry run) are appended by the caller.
func buildDaemon(cfg *config.Config, st *state.Store, opts ...daemon.Option) *daemon.Daemon {
	client := hosting.NewGHClient(cfg.RepoSlug())

	gwOpts := []gateway.Option{}
	if cached, _, err := st.LoadIssueCache(); err == nil && len(cached) > 0 {
		gwOpts = append(gwOpts, gateway.WithCachedIssues(cached))
	}
	gw := gateway.New(client, gwOpts...)

	agentOpts := []agents.ClaudeOption{agents.WithDefaultTimeout(cfg.Timeout())}
	if cfg.Execution.AgentBinary != "" {
		agentOpts = append(agentOpts, agents.WithBinaryPath(cfg.Execution.AgentBinary))
	}
	agent := agents.NewClaudeAgent(agentOpts...)

	disc := discovery.NewAgentDiscoverer(agent)

	workspaces := executor.NewGitWorkspaces(cfg.Repo.Path, cfg.Execution.WorkDir)
	exec := executor.New(agent, workspaces,
		executor.WithMaxWorkers(cfg.Execution.ParallelWorkers),
		executor.WithTimeout(cfg.Timeout()),
		executor.WithBaseBranch(cfg.Repo.BaseBranch),
	)

	merger := merge.New(cfg.Repo.Path, cfg.Repo.BaseBranch,
		merge.WithMethod(cfg.Merge.MergeMethod),
		merge.WithConflictStrategy(cfg.Merge.ConflictStrategy),
		merge.WithMaxRetries(cfg.Merge.MaxRetries),
	)

	opts = append([]daemon.Option{daemon.WithStore(st)}, opts...)
	return daemon.New(cfg, gw, disc, exec, merger, opts...)
}

// printCycleSummary writes a one-screen summary of a finished cycle.
func printCycleSummary(result *daemon.CycleResult) {
	if result == nil {
		fmt.Println("No cycle recorded.")
		return
	}

	fmt.Printf("Cycle %s\n", result.ID)
	fmt.Printf("  Started:    %s\n", result.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Duration:   %s\n", formatDuration(result.Duration))
	fmt.Printf("  Tasks:      %d discovered, %d completed, %d failed\n",
		result.TasksDiscovered, result.TasksCompleted, result.TasksFailed)
	fmt.Printf("  PRs merged: %d\n", result.PRsMerged)
	fmt.Printf("  Service:    %s (circuit %s)\n",
		result.ServiceHealth.Status, result.ServiceHealth.CircuitState)
	if result.Degraded {
		fmt.Printf("  Degraded:   yes\n")
	}
	for _, e := range result.Errors {
		fmt.Printf("  Error: %s\n", e)
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return d.String()
	}
	if d < time.Hour {
		m := d / time.Minute
		s := (d % time.Minute) / time.Second
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	return fmt.Sprintf("%dh%dm", h, m)
}
