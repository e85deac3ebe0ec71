package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/groundskeeper/internal/db"
	"github.com/marcus/groundskeeper/internal/state"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"history"},
	Short:   "Show cycle history",
	Long: `Display groundskeeper cycle history and activity.

Shows the last N cycles (default: 5) or today's activity summary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		last, _ := cmd.Flags().GetInt("last")
		today, _ := cmd.Flags().GetBool("today")

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening db: %w", err)
		}
		defer func() { _ = database.Close() }()

		st := state.New(database)

		if today {
			return showTodaySummary(st)
		}
		return showLastCycles(st, last)
	},
}

func init() {
	statusCmd.Flags().IntP("last", "n", 5, "Show last N cycles")
	statusCmd.Flags().Bool("today", false, "Show today's activity summary")
	rootCmd.AddCommand(statusCmd)
}

func showLastCycles(st *state.Store, n int) error {
	cycles, err := st.RecentCycles(n)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	if len(cycles) == 0 {
		fmt.Println("No cycle history found.")
		return nil
	}

	fmt.Printf("Last %d cycles:\n\n", len(cycles))

	for _, rec := range cycles {
		printCycleRecord(rec)
		fmt.Println()
	}

	return nil
}

func showTodaySummary(st *state.Store) error {
	// RecentCycles is newest first, so stop at the first record from
	// before midnight.
	cycles, err := st.RecentCycles(100)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	midnight := time.Now().Truncate(24 * time.Hour)
	var total, degraded, tasksCompleted, tasksFailed, prsMerged int
	for _, rec := range cycles {
		if rec.StartTime.Before(midnight) {
			break
		}
		total++
		if rec.Degraded {
			degraded++
		}
		tasksCompleted += rec.TasksCompleted
		tasksFailed += rec.TasksFailed
		prsMerged += rec.PRsMerged
	}

	if total == 0 {
		fmt.Println("No cycles today.")
		return nil
	}

	fmt.Printf("Today's Activity Summary\n")
	fmt.Printf("========================\n\n")
	fmt.Printf("Cycles:  %d total (%d degraded)\n", total, degraded)
	fmt.Printf("Tasks:   %d completed, %d failed\n", tasksCompleted, tasksFailed)
	fmt.Printf("PRs:     %d merged\n", prsMerged)

	return nil
}

func printCycleRecord(rec state.CycleRecord) {
	status := "OK"
	if rec.Degraded {
		status = "DEGRADED"
	}

	fmt.Printf("[%s] %s\n", rec.StartTime.Format("2006-01-02 15:04"), status)
	fmt.Printf("  Cycle:   %s\n", shortCycleID(rec.ID))
	fmt.Printf("  Tasks:   %d discovered, %d completed, %d failed\n",
		rec.TasksDiscovered, rec.TasksCompleted, rec.TasksFailed)
	fmt.Printf("  PRs:     %d merged\n", rec.PRsMerged)

	if rec.Duration > 0 {
		fmt.Printf("  Duration: %s\n", formatDuration(rec.Duration))
	}
	if rec.ServiceStatus != "" {
		fmt.Printf("  Service: %s (circuit %s)\n", rec.ServiceStatus, rec.CircuitState)
	}
	if len(rec.Errors) > 0 {
		fmt.Printf("  Errors:  %s\n", strings.Join(rec.Errors, "; "))
	}
}

func shortCycleID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
