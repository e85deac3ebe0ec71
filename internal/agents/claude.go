// claude.go implements the Agent interface for the Claude Code CLI.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner executes shell commands. Allows mocking in tests.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, dir string, stdin string) (stdout, stderr string, exitCode int, err error)
}

// ExecRunner is the default CommandRunner using os/exec.
type ExecRunner struct{}

// Run executes a command and returns output.
func (r *ExecRunner) Run(ctx context.Context, name string, args []string, dir string, stdin string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	err := cmd.Run()

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, err
}

// ClaudeAgent spawns the Claude Code CLI for task execution.
type ClaudeAgent struct {
	binaryPath      string
	timeout         time.Duration
	skipPermissions bool
	runner          CommandRunner
}

// ClaudeOption configures a ClaudeAgent.
type ClaudeOption func(*ClaudeAgent)

// WithBinaryPath sets a custom path to the claude binary.
func WithBinaryPath(path string) ClaudeOption {
	return func(a *ClaudeAgent) {
		a.binaryPath = path
	}
}

// WithDefaultTimeout sets the default execution timeout.
func WithDefaultTimeout(d time.Duration) ClaudeOption {
	return func(a *ClaudeAgent) {
		a.timeout = d
	}
}

// WithSkipPermissions enables non-interactive execution.
func WithSkipPermissions(skip bool) ClaudeOption {
	return func(a *ClaudeAgent) {
		a.skipPermissions = skip
	}
}

// WithRunner sets a custom command runner (for testing).
func WithRunner(r CommandRunner) ClaudeOption {
	return func(a *ClaudeAgent) {
		a.runner = r
	}
}

// NewClaudeAgent creates a Claude Code agent.
func NewClaudeAgent(opts ...ClaudeOption) *ClaudeAgent {
	a := &ClaudeAgent{
		binaryPath: "claude",
		timeout:    DefaultTimeout,
		runner:     &ExecRunner{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns "claude".
func (a *ClaudeAgent) Name() string {
	return "claude"
}

// Available reports whether the agent CLI is in PATH.
func (a *ClaudeAgent) Available() bool {
	_, err := exec.LookPath(a.binaryPath)
	return err == nil
}

// Execute runs the agent CLI with the given prompt.
func (a *ClaudeAgent) Execute(ctx context.Context, opts ExecuteOptions) (*ExecuteResult, error) {
	start := time.Now()

	timeout := a.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"--print"}
	if a.skipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if opts.Prompt != "" {
		args = append(args, opts.Prompt)
	}

	stdout, stderr, exitCode, err := a.runner.Run(ctx, a.binaryPath, args, opts.WorkDir, "")

	result := &ExecuteResult{
		Output:   stdout,
		ExitCode: exitCode,
		Duration: time.Since(start),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.Error = fmt.Sprintf("timeout after %v", timeout)
		result.ExitCode = -1
		return result, ctx.Err()
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			result.Error = stderr
		} else {
			result.Error = err.Error()
		}
		return result, err
	}

	result.JSON = ExtractJSON([]byte(stdout))

	return result, nil
}

// ExtractJSON attempts to find and parse JSON from agent output.
// Returns nil if no valid JSON is found.
func ExtractJSON(output []byte) []byte {
	if json.Valid(bytes.TrimSpace(output)) {
		return bytes.TrimSpace(output)
	}

	// Find the first { or [ and scan for its matching closer.
	start := -1
	var opener, closer byte

	for i, b := range output {
		if b == '{' || b == '[' {
			start = i
			opener = b
			if b == '{' {
				closer = '}'
			} else {
				closer = ']'
			}
			break
		}
	}
	if start < 0 {
		return nil
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(output); i++ {
		b := output[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case b == '\\' && inString:
			escaped = true
		case b == '"':
			inString = !inString
		case inString:
		case b == opener:
			depth++
		case b == closer:
			depth--
			if depth == 0 {
				candidate := output[start : i+1]
				if json.Valid(candidate) {
					return candidate
				}
				return nil
			}
		}
	}

	return nil
}
