// Package errors provides the error taxonomy for groundskeeper.
//
// Errors fall into five variants matching the subsystem boundaries:
//   - ConfigError: invalid or missing configuration; always fatal at startup
//   - UpstreamError: hosting API failures; absorbed by fallback paths
//   - AgentError: coding-agent invocation failures
//   - WorkerError: per-task execution failures; never abort a batch
//   - MergeError: per-branch merge failures; never abort the sequence
//
// Each variant carries a Severity and a recovery Hint. Boundaries match
// with errors.As and the classification helpers below.
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions so callers need only this import.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity classifies how an error should be handled.
type Severity int

const (
	// SeverityWarning marks errors recorded in the cycle's error list
	// without interrupting anything.
	SeverityWarning Severity = iota
	// SeverityError marks errors that fail the current unit of work
	// (one task, one branch) but not the cycle.
	SeverityError
	// SeverityFatal marks errors that must abort startup.
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ConfigError indicates invalid or missing configuration.
type ConfigError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
	}
	return "config: " + e.Msg
}

func (e *ConfigError) Unwrap() error      { return e.Err }
func (e *ConfigError) Severity() Severity { return SeverityFatal }
func (e *ConfigError) Hint() string       { return "fix the configuration and restart" }

// NewConfigError creates a ConfigError for the given field.
func NewConfigError(field, msg string, err error) *ConfigError {
	return &ConfigError{Field: field, Msg: msg, Err: err}
}

// UpstreamError indicates a hosting API failure.
type UpstreamError struct {
	Op        string // e.g. "listOpenIssues", "createPR"
	Group     string // endpoint group, e.g. "issues", "pulls"
	Retryable bool
	Err       error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream: %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error      { return e.Err }
func (e *UpstreamError) Severity() Severity { return SeverityWarning }

func (e *UpstreamError) Hint() string {
	if e.Retryable {
		return "transient hosting API failure; the fallback path covers it"
	}
	return "hosting API rejected the request; check token scopes"
}

// NewUpstreamError creates an UpstreamError for the given operation.
func NewUpstreamError(op, group string, retryable bool, err error) *UpstreamError {
	return &UpstreamError{Op: op, Group: group, Retryable: retryable, Err: err}
}

// AgentError indicates a coding-agent invocation failure.
type AgentError struct {
	Agent string
	Msg   string
	Err   error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %s", e.Agent, e.Msg)
}

func (e *AgentError) Unwrap() error      { return e.Err }
func (e *AgentError) Severity() Severity { return SeverityError }

func (e *AgentError) Hint() string {
	return "inspect the agent CLI output; the task is labeled needs-review"
}

// NewAgentError creates an AgentError.
func NewAgentError(agent, msg string, err error) *AgentError {
	return &AgentError{Agent: agent, Msg: msg, Err: err}
}

// WorkerError indicates a per-task execution failure.
type WorkerError struct {
	IssueID int
	Branch  string
	Timeout bool
	Err     error
}

func (e *WorkerError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("worker: issue %d: timeout", e.IssueID)
	}
	return fmt.Sprintf("worker: issue %d: %v", e.IssueID, e.Err)
}

func (e *WorkerError) Unwrap() error      { return e.Err }
func (e *WorkerError) Severity() Severity { return SeverityError }

func (e *WorkerError) Hint() string {
	if e.Timeout {
		return "raise execution.timeoutMinutes or simplify the task"
	}
	return "the issue is labeled needs-review for manual follow-up"
}

// NewWorkerError creates a WorkerError.
func NewWorkerError(issueID int, branch string, timeout bool, err error) *WorkerError {
	return &WorkerError{IssueID: issueID, Branch: branch, Timeout: timeout, Err: err}
}

// MergeError indicates a per-branch merge failure.
type MergeError struct {
	Branch   string
	Attempts int
	Conflict bool
	Err      error
}

func (e *MergeError) Error() string {
	if e.Conflict {
		return fmt.Sprintf("merge %s: conflict after %d attempts", e.Branch, e.Attempts)
	}
	return fmt.Sprintf("merge %s: %v", e.Branch, e.Err)
}

func (e *MergeError) Unwrap() error      { return e.Err }
func (e *MergeError) Severity() Severity { return SeverityError }

func (e *MergeError) Hint() string {
	return "resolve the branch manually; remaining branches were still attempted"
}

// NewMergeError creates a MergeError.
func NewMergeError(branch string, attempts int, conflict bool, err error) *MergeError {
	return &MergeError{Branch: branch, Attempts: attempts, Conflict: conflict, Err: err}
}

// classified is implemented by all variants in this package.
type classified interface {
	Severity() Severity
	Hint() string
}

// SeverityOf returns the severity of err, or SeverityError for
// unclassified errors.
func SeverityOf(err error) Severity {
	var c classified
	if errors.As(err, &c) {
		return c.Severity()
	}
	return SeverityError
}

// HintOf returns the recovery hint of err, or "" for unclassified errors.
func HintOf(err error) string {
	var c classified
	if errors.As(err, &c) {
		return c.Hint()
	}
	return ""
}

// IsFatal reports whether err must abort startup.
func IsFatal(err error) bool {
	return SeverityOf(err) == SeverityFatal
}

// IsRetryable reports whether err represents a transient upstream
// failure worth retrying.
func IsRetryable(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable
	}
	return false
}
