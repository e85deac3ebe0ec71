package commands

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marcus/groundskeeper/internal/agents"
	"github.com/marcus/groundskeeper/internal/config"
	"github.com/marcus/groundskeeper/internal/db"
	"github.com/marcus/groundskeeper/internal/scheduler"
	"github.com/marcus/groundskeeper/internal/state"
)

type checkStatus string

const (
	statusOK   checkStatus = "OK"
	statusWarn checkStatus = "WARN"
	statusFail checkStatus = "FAIL"
)

type checkResult struct {
	name   string
	status checkStatus
	detail string
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check groundskeeper configuration and environment",
	Long: `Run diagnostics to detect configuration and environment issues.

Checks config, the target repository, required CLIs, database health,
and scheduling.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	results := make([]checkResult, 0)
	hasFail := false

	add := func(name string, status checkStatus, detail string) {
		if status == statusFail {
			hasFail = true
		}
		results = append(results, checkResult{name: name, status: status, detail: detail})
	}

	cfg, err := loadConfig()
	if err != nil {
		add("config", statusFail, err.Error())
		printDoctorResults(results)
		return fmt.Errorf("config load failed")
	}
	if err := config.Validate(cfg); err != nil {
		add("config", statusFail, err.Error())
	} else {
		add("config", statusOK, "loaded")
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		add("db", statusFail, err.Error())
		printDoctorResults(results)
		return fmt.Errorf("db open failed")
	}
	defer func() { _ = database.Close() }()
	add("db", statusOK, database.Path())

	st := state.New(database)
	if _, err := st.RecentCycles(1); err != nil {
		add("state", statusFail, err.Error())
	} else {
		add("state", statusOK, "ready")
	}

	checkRepo(cfg, add)
	checkCLIs(cfg, add)
	checkWorkDir(cfg, add)
	checkSchedule(cfg, add)
	checkDaemon(add)

	printDoctorResults(results)

	if hasFail {
		return fmt.Errorf("doctor found failures")
	}
	return nil
}

func checkRepo(cfg *config.Config, add func(string, checkStatus, string)) {
	if cfg.Repo.Path == "" {
		add("repo", statusFail, "repo.path not set")
		return
	}
	info, err := os.Stat(cfg.Repo.Path)
	if err != nil || !info.IsDir() {
		add("repo", statusFail, fmt.Sprintf("repo.path not a directory: %s", cfg.Repo.Path))
		return
	}
	if _, err := os.Stat(filepath.Join(cfg.Repo.Path, ".git")); err != nil {
		add("repo", statusFail, fmt.Sprintf("not a git repository: %s", cfg.Repo.Path))
		return
	}
	add("repo", statusOK, fmt.Sprintf("%s (%s)", cfg.RepoSlug(), cfg.Repo.Path))
}

func checkCLIs(cfg *config.Config, add func(string, checkStatus, string)) {
	if path, err := exec.LookPath("git"); err != nil {
		add("git.cli", statusFail, "git not found in PATH")
	} else {
		add("git.cli", statusOK, path)
	}

	if path, err := exec.LookPath("gh"); err != nil {
		add("gh.cli", statusFail, "gh not found in PATH")
	} else {
		add("gh.cli", statusOK, path)
	}

	agentOpts := []agents.ClaudeOption{}
	if cfg.Execution.AgentBinary != "" {
		agentOpts = append(agentOpts, agents.WithBinaryPath(cfg.Execution.AgentBinary))
	}
	agent := agents.NewClaudeAgent(agentOpts...)
	if agent.Available() {
		add("agent.cli", statusOK, agent.Name())
	} else {
		add("agent.cli", statusFail, "coding agent binary not found in PATH")
	}
}

func checkWorkDir(cfg *config.Config, add func(string, checkStatus, string)) {
	if cfg.Execution.WorkDir == "" {
		add("workdir", statusFail, "execution.workDir not set")
		return
	}
	if err := os.MkdirAll(cfg.Execution.WorkDir, 0755); err != nil {
		add("workdir", statusFail, err.Error())
		return
	}
	probe := filepath.Join(cfg.Execution.WorkDir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		add("workdir", statusFail, fmt.Sprintf("not writable: %v", err))
		return
	}
	_ = os.Remove(probe)
	add("workdir", statusOK, cfg.Execution.WorkDir)
}

func checkSchedule(cfg *config.Config, add func(string, checkStatus, string)) {
	if _, err := scheduler.NewFromConfig(&cfg.Daemon); err != nil {
		add("schedule", statusFail, err.Error())
		return
	}
	if cfg.Daemon.Cron != "" {
		add("schedule", statusOK, fmt.Sprintf("cron %q", cfg.Daemon.Cron))
		return
	}
	add("schedule", statusOK, fmt.Sprintf("interval %s", cfg.LoopInterval()))
}

func checkDaemon(add func(string, checkStatus, string)) {
	pid, err := readPidFile()
	if err != nil {
		add("daemon", statusWarn, "not running (pid file missing)")
		return
	}
	if isProcessRunning(pid) {
		add("daemon", statusOK, fmt.Sprintf("running (pid %d)", pid))
	} else {
		add("daemon", statusWarn, "pid file present but process not running")
	}
}

func printDoctorResults(results []checkResult) {
	fmt.Println("Groundskeeper doctor")
	fmt.Println("====================")
	for _, result := range results {
		fmt.Printf("[%s] %-20s %s\n", result.status, result.name, result.detail)
	}
	fmt.Println()
}
