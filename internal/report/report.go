// Package report renders markdown summaries of completed cycles for
// operators to review later.
package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marcus/groundskeeper/internal/daemon"
)

// DefaultReportPath returns the default path for a cycle report file.
func DefaultReportPath(ts time.Time) string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "groundskeeper", "reports",
		fmt.Sprintf("cycle-%s.md", ts.Format("2006-01-02-150405")))
}

// RenderCycleReport renders a markdown report for a single cycle.
func RenderCycleReport(result *daemon.CycleResult, logPath string) (string, error) {
	if result == nil {
		return "", fmt.Errorf("result cannot be nil")
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Groundskeeper Cycle - %s\n\n", result.StartTime.Format("2006-01-02 15:04"))

	buf.WriteString("## Summary\n")
	fmt.Fprintf(&buf, "- Cycle: %s\n", result.ID)
	fmt.Fprintf(&buf, "- Duration: %s\n", formatDuration(result.Duration))
	fmt.Fprintf(&buf, "- Tasks: %d discovered, %d completed, %d failed\n",
		result.TasksDiscovered, result.TasksCompleted, result.TasksFailed)
	fmt.Fprintf(&buf, "- PRs merged: %d\n", result.PRsMerged)
	fmt.Fprintf(&buf, "- Service: %s (circuit %s)\n",
		result.ServiceHealth.Status, result.ServiceHealth.CircuitState)
	if result.Degraded {
		buf.WriteString("- Degraded: yes (fallback paths were used)\n")
	}
	if logPath != "" {
		fmt.Fprintf(&buf, "- Logs: %s\n", logPath)
	}
	buf.WriteString("\n")

	if len(result.Errors) > 0 {
		buf.WriteString("## Errors\n")
		for _, e := range result.Errors {
			fmt.Fprintf(&buf, "- %s\n", e)
		}
		buf.WriteString("\n")
	}

	return buf.String(), nil
}

// SaveCycleReport writes a cycle report to disk.
func SaveCycleReport(result *daemon.CycleResult, path string, logPath string) error {
	content, err := RenderCycleReport(result, logPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
