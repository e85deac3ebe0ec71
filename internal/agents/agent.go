// Package agents provides interfaces and implementations for spawning
// coding agents against an isolated workspace. Agents receive an issue
// prompt, work on a dedicated branch, and push it on success.
package agents

import (
	"context"
	"time"
)

// DefaultTimeout is the default agent execution timeout.
const DefaultTimeout = 30 * time.Minute

// Agent is the interface for coding-agent execution.
type Agent interface {
	// Name returns the agent identifier.
	Name() string

	// Execute runs a prompt and returns the output.
	Execute(ctx context.Context, opts ExecuteOptions) (*ExecuteResult, error)
}

// ExecuteOptions configures an agent execution.
type ExecuteOptions struct {
	Prompt  string        // the prompt/task for the agent
	WorkDir string        // working directory for execution
	Timeout time.Duration // execution timeout (0 = default)
}

// ExecuteResult holds the outcome of an agent execution.
type ExecuteResult struct {
	Output   string        // agent's text output
	JSON     []byte        // structured JSON output if available
	ExitCode int           // process exit code
	Duration time.Duration // execution duration
	Error    string        // error message if failed
}

// IsSuccess returns true if the execution succeeded.
func (r *ExecuteResult) IsSuccess() bool {
	return r.ExitCode == 0 && r.Error == ""
}
