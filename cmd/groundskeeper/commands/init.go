package commands

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/groundskeeper/internal/config"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create configuration file",
	Long: `Initialize a new groundskeeper configuration file.

By default, creates the config at ~/.config/groundskeeper/groundskeeper.yaml.
Use --path to write it somewhere else.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().String("path", "", "Write the config to this path instead of the default")
	initCmd.Flags().BoolP("force", "f", false, "Overwrite existing config without prompting")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	pathFlag, _ := cmd.Flags().GetString("path")
	force, _ := cmd.Flags().GetBool("force")

	configPath := pathFlag
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		if !force {
			fmt.Printf("%sConfig already exists:%s %s\n", colorYellow, colorReset, configPath)
			fmt.Print("Overwrite? [y/N]: ")
			reader := bufio.NewReader(os.Stdin)
			response, _ := reader.ReadString('\n')
			response = strings.TrimSpace(strings.ToLower(response))
			if response != "y" && response != "yes" {
				fmt.Println("Aborted.")
				return nil
			}
		}
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfigTemplate), 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("\n%s%sCreated config:%s %s\n\n", colorBold, colorGreen, colorReset, configPath)
	fmt.Printf("%sNext steps:%s\n", colorCyan, colorReset)
	fmt.Println("  1. Edit the config to point at your repository")
	fmt.Println("  2. Set credentials.hostingToken (or GROUNDSKEEPER_CREDENTIALS_HOSTINGTOKEN)")
	fmt.Println("  3. Run 'groundskeeper doctor' to verify the environment")
	fmt.Println("  4. Run 'groundskeeper run --dry-run' to preview a cycle")
	fmt.Println()

	return nil
}

const defaultConfigTemplate = `# Groundskeeper configuration
# Docs: https://github.com/marcus/groundskeeper

repo:
  owner: ""            # hosting account or organization
  name: ""             # repository name
  baseBranch: main
  path: ""             # local clone groundskeeper works against

execution:
  parallelWorkers: 3   # concurrent task workspaces (1-16)
  timeoutMinutes: 30   # per-task agent timeout
  workDir: ~/.local/share/groundskeeper/workspaces
  agentBinary: ""      # empty: find the agent on PATH

discovery:
  maxOpenIssues: 10    # stop discovering when this many tracked issues are open
  tasksPerCycle: 3
  issueLabel: groundskeeper
  similarityThreshold: 0.7
  excludePaths:
    - vendor/
    - node_modules/

merge:
  autoMerge: true
  mergeMethod: squash  # merge, squash, rebase
  conflictStrategy: retry # abort, retry
  maxRetries: 3

credentials:
  hostingToken: ""     # or set GROUNDSKEEPER_CREDENTIALS_HOSTINGTOKEN

daemon:
  loopIntervalMs: 3600000 # 1 hour between cycles
  pauseBetweenCycles: true
  # cron: "0 2 * * *"     # optional: cron schedule instead of the interval

logging:
  level: info
  format: json

monitor:
  enabled: false
  addr: 127.0.0.1:9190
`
