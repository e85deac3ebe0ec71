// Package commands implements the groundskeeper CLI commands using cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.2.0"
)

var configPathFlag string

var rootCmd = &cobra.Command{
	Use:   "groundskeeper",
	Short: "Autonomous repository maintenance daemon",
	Long: `Groundskeeper continuously tends a repository: it discovers
maintenance tasks with a coding agent, tracks them as hosting issues,
executes them in isolated workspaces, opens pull requests, and merges
the results one branch at a time.

Configure the target repository in groundskeeper.yaml and let
Groundskeeper keep the weeds down.`,
	Version: Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPathFlag, "config", "c", "", "Path to config file")
}
