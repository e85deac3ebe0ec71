package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/groundskeeper/internal/config"
	"github.com/marcus/groundskeeper/internal/daemon"
	"github.com/marcus/groundskeeper/internal/db"
	"github.com/marcus/groundskeeper/internal/gateway"
	"github.com/marcus/groundskeeper/internal/logging"
	"github.com/marcus/groundskeeper/internal/monitor"
	"github.com/marcus/groundskeeper/internal/scheduler"
	"github.com/marcus/groundskeeper/internal/state"
)

const (
	pidFileName = "groundskeeper.pid"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage background daemon",
	Long:  `Start, stop, or check status of the groundskeeper background daemon.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start background daemon",
	Long: `Start the groundskeeper daemon as a background process.

The daemon runs maintenance cycles continuously, pausing for the
configured interval between cycles, or on a cron schedule when
daemon.cron is set.`,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop background daemon",
	Long:  `Stop the running groundskeeper daemon by sending SIGTERM.`,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	Long:  `Check if the groundskeeper daemon is running and show status information.`,
	RunE:  runDaemonStatus,
}

var daemonForegroundFlag bool

func init() {
	daemonStartCmd.Flags().BoolVarP(&daemonForegroundFlag, "foreground", "f", false, "Run in foreground (don't daemonize)")
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

// pidFilePath returns the path to the PID file.
func pidFilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "groundskeeper", pidFileName)
}

// ensurePidDir ensures the PID file directory exists.
func ensurePidDir() error {
	dir := filepath.Dir(pidFilePath())
	return os.MkdirAll(dir, 0755)
}

// writePidFile writes the current process PID to the PID file.
func writePidFile() error {
	if err := ensurePidDir(); err != nil {
		return fmt.Errorf("creating pid dir: %w", err)
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(os.Getpid())), 0644)
}

// readPidFile reads the PID from the PID file.
func readPidFile() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

// removePidFile removes the PID file.
func removePidFile() error {
	return os.Remove(pidFilePath())
}

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; send signal 0 to check if alive
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// isDaemonRunning checks if the daemon is currently running.
func isDaemonRunning() (bool, int) {
	pid, err := readPidFile()
	if err != nil {
		return false, 0
	}
	return isProcessRunning(pid), pid
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	if running, pid := isDaemonRunning(); running {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if daemonForegroundFlag {
		return runDaemonLoop(cfg)
	}

	// Daemonize: start a new process with --foreground flag
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("getting executable: %w", err)
	}

	daemonArgs := []string{"daemon", "start", "--foreground"}
	if configPathFlag != "" {
		daemonArgs = append(daemonArgs, "--config", configPathFlag)
	}
	daemonProc := exec.Command(executable, daemonArgs...)
	daemonProc.Stdout = nil
	daemonProc.Stderr = nil
	daemonProc.Stdin = nil
	// Detach from parent process group
	daemonProc.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := daemonProc.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	fmt.Printf("daemon started (pid %d)\n", daemonProc.Process.Pid)
	return nil
}

func runDaemonLoop(cfg *config.Config) error {
	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := logging.Component("daemon")

	if err := writePidFile(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = removePidFile() }()

	log.Info("daemon starting")

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = database.Close() }()

	st := state.New(database)

	// Under a cron schedule each tick runs exactly one cycle; the
	// daemon's own interval loop stays off.
	runCfg := cfg
	if cfg.Daemon.Cron != "" {
		c := *cfg
		c.Daemon.SingleCycle = true
		c.Daemon.Cron = ""
		runCfg = &c
	}
	d := buildDaemon(runCfg, st)

	// Set up context with signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received signal %v, shutting down", sig)
		d.Stop()
		cancel()
	}()

	// Health endpoint for operators
	if cfg.Monitor.Enabled {
		srv := startMonitor(cfg, database, d)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Config changes take effect on the next daemon restart; watch the
	// file so operators get a nudge in the logs.
	if path := configWatchPath(); path != "" {
		stopWatch, werr := config.Watch(path,
			func(_ *config.Config) {
				log.Warn("config file changed, restart the daemon to apply")
			},
			func(err error) {
				log.Errorf("config watch: %v", err)
			},
		)
		if werr != nil {
			log.Warnf("config watch unavailable: %v", werr)
		} else {
			defer stopWatch()
		}
	}

	if cfg.Daemon.Cron != "" {
		return runCronLoop(ctx, cfg, d, log)
	}

	log.InfoCtx("daemon running", map[string]any{
		"interval": cfg.LoopInterval().String(),
	})
	return d.Run(ctx)
}

// runCronLoop drives single cycles from the cron scheduler instead of
// the daemon's own interval loop.
func runCronLoop(ctx context.Context, cfg *config.Config, d *daemon.Daemon, log *logging.Logger) error {
	sched, err := scheduler.NewFromConfig(&cfg.Daemon)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	sched.AddJob(func(jobCtx context.Context) error {
		return d.Run(jobCtx)
	})

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	log.InfoCtx("daemon running", map[string]any{
		"cron":     cfg.Daemon.Cron,
		"next_run": sched.NextRun().Format(time.RFC3339),
	})

	<-ctx.Done()

	if err := sched.Stop(); err != nil && err != scheduler.ErrNotRunning {
		log.Errorf("stopping scheduler: %v", err)
	}

	log.Info("daemon stopped")
	return nil
}

// startMonitor registers the standard health checks and starts the
// monitor HTTP server.
func startMonitor(cfg *config.Config, database *db.DB, d *daemon.Daemon) *monitor.Server {
	registry := monitor.NewRegistry()

	registry.Register("database", func(ctx context.Context) monitor.Check {
		if err := database.SQL().PingContext(ctx); err != nil {
			return monitor.Fail("database", err.Error())
		}
		return monitor.Pass("database", database.Path())
	})

	registry.Register("daemon", func(ctx context.Context) monitor.Check {
		st := d.State()
		if st == daemon.StateStopped || st == daemon.StateStopping {
			return monitor.Fail("daemon", string(st))
		}
		return monitor.Pass("daemon", string(st))
	})

	registry.Register("hosting", func(ctx context.Context) monitor.Check {
		result := d.LastResult()
		if result == nil {
			return monitor.Pass("hosting", "no cycle yet")
		}
		h := result.ServiceHealth
		if h.Status == gateway.StatusUnavailable {
			return monitor.Fail("hosting", fmt.Sprintf("circuit %s", h.CircuitState))
		}
		return monitor.Pass("hosting", string(h.Status))
	})

	srv := monitor.NewServer(cfg.Monitor.Addr, registry)
	srv.Start()
	return srv
}

// configWatchPath returns the config file to watch, if one exists.
func configWatchPath() string {
	path := configPathFlag
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()
	if !running {
		// Check if PID file exists but process is dead
		if _, err := readPidFile(); err == nil {
			_ = removePidFile()
			fmt.Println("daemon not running (stale pid file removed)")
			return nil
		}
		fmt.Println("daemon not running")
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}

	fmt.Printf("stopping daemon (pid %d)...\n", pid)

	// Wait for process to exit (with timeout)
	timeout := time.After(10 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-timeout:
			fmt.Println("daemon did not stop, sending SIGKILL")
			_ = process.Signal(syscall.SIGKILL)
			_ = removePidFile()
			return nil
		case <-tick.C:
			if !isProcessRunning(pid) {
				fmt.Println("daemon stopped")
				return nil
			}
		}
	}
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()

	if !running {
		fmt.Println("Status: not running")
		return nil
	}

	fmt.Printf("Status: running\n")
	fmt.Printf("PID:    %d\n", pid)
	fmt.Printf("PIDfile: %s\n", pidFilePath())
	return nil
}
