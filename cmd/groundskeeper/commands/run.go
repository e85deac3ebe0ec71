package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marcus/groundskeeper/internal/config"
	"github.com/marcus/groundskeeper/internal/daemon"
	"github.com/marcus/groundskeeper/internal/db"
	"github.com/marcus/groundskeeper/internal/logging"
	"github.com/marcus/groundskeeper/internal/report"
	"github.com/marcus/groundskeeper/internal/state"
	"github.com/marcus/groundskeeper/internal/ui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a single maintenance cycle",
	Long: `Execute one full maintenance cycle immediately and exit.

A cycle fetches open tracked issues, discovers new tasks, executes
queued work in parallel workspaces, opens pull requests, and merges
finished branches sequentially.

Use --dry-run to fetch and report without creating issues, branches,
or pull requests. Use --watch for a live terminal dashboard while the
cycle runs.

Examples:
  groundskeeper run                 # One cycle, plain output
  groundskeeper run --dry-run       # Read-only pass
  groundskeeper run --watch         # Cycle with live dashboard
  groundskeeper run --report out.md # Also write a markdown report`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().Bool("dry-run", false, "Fetch and report without mutating the repository or tracker")
	runCmd.Flags().Bool("watch", false, "Show a live dashboard while the cycle runs")
	runCmd.Flags().String("report", "", "Write a markdown cycle report to this path (empty: default location)")
	runCmd.Flags().Bool("save-report", false, "Write a markdown cycle report to the default location")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	watch, _ := cmd.Flags().GetBool("watch")
	reportPath, _ := cmd.Flags().GetString("report")
	saveReport, _ := cmd.Flags().GetBool("save-report")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// One cycle regardless of the configured loop mode.
	cfg.Daemon.SingleCycle = true
	cfg.Daemon.Cron = ""

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := logging.Component("run")
	log.Info("starting maintenance cycle")

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = database.Close() }()

	st := state.New(database)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var d *daemon.Daemon
	opts := []daemon.Option{daemon.WithDryRun(dryRun)}

	if watch {
		return runWithDashboard(ctx, cancel, sigCh, cfg, st, opts, reportPath, saveReport)
	}

	go func() {
		<-sigCh
		fmt.Println("\ninterrupt received, shutting down...")
		if d != nil {
			d.Stop()
		}
		cancel()
	}()

	d = buildDaemon(cfg, st, opts...)
	if err := d.Run(ctx); err != nil {
		return fmt.Errorf("cycle failed: %w", err)
	}

	result := d.LastResult()
	printCycleSummary(result)
	return writeReport(cfg, result, reportPath, saveReport)
}

// runWithDashboard runs the cycle with the bubbletea UI attached. The
// daemon runs in the background; the dashboard owns the terminal until
// the cycle finishes or the user quits.
func runWithDashboard(ctx context.Context, cancel context.CancelFunc, sigCh chan os.Signal, cfg *config.Config, st *state.Store, opts []daemon.Option, reportPath string, saveReport bool) error {
	model := ui.New()
	program, handler := model.Attach()

	d := buildDaemon(cfg, st, append(opts, daemon.WithEventHandler(handler))...)

	go func() {
		<-sigCh
		d.Stop()
		cancel()
		program.Quit()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Run(ctx)
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		d.Stop()
		cancel()
		<-errCh
		return fmt.Errorf("dashboard: %w", err)
	}

	// Quitting the dashboard stops the cycle too.
	d.Stop()
	cancel()
	if err := <-errCh; err != nil {
		return fmt.Errorf("cycle failed: %w", err)
	}

	result := d.LastResult()
	printCycleSummary(result)
	return writeReport(cfg, result, reportPath, saveReport)
}

// writeReport persists a markdown cycle report when requested.
func writeReport(cfg *config.Config, result *daemon.CycleResult, path string, save bool) error {
	if result == nil || (path == "" && !save) {
		return nil
	}
	if path == "" {
		path = report.DefaultReportPath(result.StartTime)
	}
	if err := report.SaveCycleReport(result, path, cfg.Logging.Path); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Printf("report written to %s\n", path)
	return nil
}
