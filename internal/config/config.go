// Package config handles loading and validating groundskeeper configuration.
// Supports YAML config files via viper with GROUNDSKEEPER_ environment
// variable overrides, and live reload via fsnotify.
package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/marcus/groundskeeper/internal/errors"
)

// Validation sentinel errors.
var (
	ErrMissingRepo          = errors.New("repo.owner and repo.name are required")
	ErrMissingToken         = errors.New("credentials.hostingToken is required")
	ErrInvalidWorkers       = errors.New("execution.parallelWorkers must be between 1 and 16")
	ErrInvalidTimeout       = errors.New("execution.timeoutMinutes must be positive")
	ErrInvalidMaxOpenIssues = errors.New("discovery.maxOpenIssues must be positive")
	ErrInvalidMergeMethod   = errors.New("merge.mergeMethod must be merge, squash, or rebase")
	ErrInvalidConflictMode  = errors.New("merge.conflictStrategy must be abort or retry")
	ErrInvalidLoopInterval  = errors.New("daemon.loopIntervalMs must be positive")
	ErrCronAndSingleCycle   = errors.New("daemon.cron and daemon.singleCycle are mutually exclusive")
)

// Config holds all groundskeeper configuration.
type Config struct {
	Repo        RepoConfig        `mapstructure:"repo"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery"`
	Merge       MergeConfig       `mapstructure:"merge"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Daemon      DaemonConfig      `mapstructure:"daemon"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	DBPath      string            `mapstructure:"dbPath"`
}

// RepoConfig identifies the repository being tended.
type RepoConfig struct {
	Owner      string `mapstructure:"owner"`
	Name       string `mapstructure:"name"`
	BaseBranch string `mapstructure:"baseBranch"`
	Path       string `mapstructure:"path"` // local clone path
}

// ExecutionConfig controls the worker pool.
type ExecutionConfig struct {
	ParallelWorkers int    `mapstructure:"parallelWorkers"`
	TimeoutMinutes  int    `mapstructure:"timeoutMinutes"`
	WorkDir         string `mapstructure:"workDir"`
	AgentBinary     string `mapstructure:"agentBinary"`
}

// DiscoveryConfig controls task discovery.
type DiscoveryConfig struct {
	MaxOpenIssues int      `mapstructure:"maxOpenIssues"`
	TasksPerCycle int      `mapstructure:"tasksPerCycle"`
	ExcludePaths  []string `mapstructure:"excludePaths"`
	IssueLabel    string   `mapstructure:"issueLabel"`
	// SimilarityThreshold above which a new task counts as a duplicate.
	SimilarityThreshold float64 `mapstructure:"similarityThreshold"`
}

// MergeConfig controls the sequential merge pipeline.
type MergeConfig struct {
	AutoMerge        bool   `mapstructure:"autoMerge"`
	MaxRetries       int    `mapstructure:"maxRetries"`
	ConflictStrategy string `mapstructure:"conflictStrategy"` // abort, retry
	MergeMethod      string `mapstructure:"mergeMethod"`      // merge, squash, rebase
}

// CredentialsConfig holds tokens for external services.
type CredentialsConfig struct {
	HostingToken string `mapstructure:"hostingToken"`
	AgentAuth    string `mapstructure:"agentAuth"`
}

// DaemonConfig controls the cycle loop.
type DaemonConfig struct {
	LoopIntervalMs     int    `mapstructure:"loopIntervalMs"`
	PauseBetweenCycles bool   `mapstructure:"pauseBetweenCycles"`
	Cron               string `mapstructure:"cron"` // optional cron schedule instead of fixed interval
	SingleCycle        bool   `mapstructure:"singleCycle"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Path          string `mapstructure:"path"`
	Format        string `mapstructure:"format"`
	RetentionDays int    `mapstructure:"retentionDays"`
}

// MonitorConfig controls the health-check endpoint.
type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", "groundskeeper")
	return &Config{
		Repo: RepoConfig{BaseBranch: "main"},
		Execution: ExecutionConfig{
			ParallelWorkers: 3,
			TimeoutMinutes:  30,
			WorkDir:         filepath.Join(dataDir, "workspaces"),
			AgentBinary:     "claude",
		},
		Discovery: DiscoveryConfig{
			MaxOpenIssues:       10,
			TasksPerCycle:       5,
			IssueLabel:          "groundskeeper",
			SimilarityThreshold: 0.7,
		},
		Merge: MergeConfig{
			AutoMerge:        true,
			MaxRetries:       3,
			ConflictStrategy: "retry",
			MergeMethod:      "squash",
		},
		Daemon: DaemonConfig{
			LoopIntervalMs:     30 * 60 * 1000,
			PauseBetweenCycles: true,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "json",
			RetentionDays: 7,
		},
		Monitor: MonitorConfig{Addr: "127.0.0.1:8787"},
		DBPath:  filepath.Join(dataDir, "groundskeeper.db"),
	}
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "groundskeeper", "groundskeeper.yaml")
}

// Load reads configuration from file and environment.
// An absent config file is not an error; defaults apply.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom reads configuration from the given path, falling back to the
// default search locations when path is empty.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("groundskeeper")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Dir(DefaultConfigPath()))
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("GROUNDSKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file means defaults apply; anything else is fatal.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.NewConfigError("", "reading config file", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.NewConfigError("", "parsing config", err)
	}

	cfg.Execution.WorkDir = expandPath(cfg.Execution.WorkDir)
	cfg.Repo.Path = expandPath(cfg.Repo.Path)
	cfg.Logging.Path = expandPath(cfg.Logging.Path)
	cfg.DBPath = expandPath(cfg.DBPath)

	// Token can come from the environment directly.
	if cfg.Credentials.HostingToken == "" {
		cfg.Credentials.HostingToken = os.Getenv("GITHUB_TOKEN")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("repo.baseBranch", d.Repo.BaseBranch)
	v.SetDefault("execution.parallelWorkers", d.Execution.ParallelWorkers)
	v.SetDefault("execution.timeoutMinutes", d.Execution.TimeoutMinutes)
	v.SetDefault("execution.workDir", d.Execution.WorkDir)
	v.SetDefault("execution.agentBinary", d.Execution.AgentBinary)
	v.SetDefault("discovery.maxOpenIssues", d.Discovery.MaxOpenIssues)
	v.SetDefault("discovery.tasksPerCycle", d.Discovery.TasksPerCycle)
	v.SetDefault("discovery.issueLabel", d.Discovery.IssueLabel)
	v.SetDefault("discovery.similarityThreshold", d.Discovery.SimilarityThreshold)
	v.SetDefault("merge.autoMerge", d.Merge.AutoMerge)
	v.SetDefault("merge.maxRetries", d.Merge.MaxRetries)
	v.SetDefault("merge.conflictStrategy", d.Merge.ConflictStrategy)
	v.SetDefault("merge.mergeMethod", d.Merge.MergeMethod)
	v.SetDefault("daemon.loopIntervalMs", d.Daemon.LoopIntervalMs)
	v.SetDefault("daemon.pauseBetweenCycles", d.Daemon.PauseBetweenCycles)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.retentionDays", d.Logging.RetentionDays)
	v.SetDefault("monitor.addr", d.Monitor.Addr)
	v.SetDefault("dbPath", d.DBPath)
}

// Validate checks the configuration for errors.
func Validate(cfg *Config) error {
	if cfg.Repo.Owner == "" || cfg.Repo.Name == "" {
		return ErrMissingRepo
	}
	if cfg.Credentials.HostingToken == "" {
		return ErrMissingToken
	}
	if cfg.Execution.ParallelWorkers < 1 || cfg.Execution.ParallelWorkers > 16 {
		return ErrInvalidWorkers
	}
	if cfg.Execution.TimeoutMinutes <= 0 {
		return ErrInvalidTimeout
	}
	if cfg.Discovery.MaxOpenIssues <= 0 {
		return ErrInvalidMaxOpenIssues
	}
	switch cfg.Merge.MergeMethod {
	case "merge", "squash", "rebase":
	default:
		return ErrInvalidMergeMethod
	}
	switch cfg.Merge.ConflictStrategy {
	case "abort", "retry":
	default:
		return ErrInvalidConflictMode
	}
	if cfg.Daemon.Cron != "" && cfg.Daemon.SingleCycle {
		return ErrCronAndSingleCycle
	}
	if cfg.Daemon.Cron == "" && cfg.Daemon.LoopIntervalMs <= 0 {
		return ErrInvalidLoopInterval
	}
	return nil
}

// Timeout returns the per-task execution timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Execution.TimeoutMinutes) * time.Minute
}

// LoopInterval returns the inter-cycle sleep as a duration.
func (c *Config) LoopInterval() time.Duration {
	return time.Duration(c.Daemon.LoopIntervalMs) * time.Millisecond
}

// RepoSlug returns "owner/name".
func (c *Config) RepoSlug() string {
	return c.Repo.Owner + "/" + c.Repo.Name
}

// Watch watches the config file for changes and invokes onChange with
// the freshly loaded config. Returns a stop function. Invalid new
// configs are reported via onError and the previous config stays live.
func Watch(path string, onChange func(*Config), onError func(error)) (func(), error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path {
					continue
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				cfg, err := LoadFrom(path)
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				if err := Validate(cfg); err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
