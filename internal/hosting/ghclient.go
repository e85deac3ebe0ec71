package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/marcus/groundskeeper/internal/errors"
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

// GHClient implements Client via the gh CLI.
type GHClient struct {
	repo   string // "owner/name"
	runner CommandRunner
}

// GHOption configures a GHClient.
type GHOption func(*GHClient)

// WithRunner sets a custom command runner (for testing).
func WithRunner(r CommandRunner) GHOption {
	return func(c *GHClient) {
		c.runner = r
	}
}

// NewGHClient creates a gh-backed client for owner/name.
func NewGHClient(repo string, opts ...GHOption) *GHClient {
	c := &GHClient{
		repo:   repo,
		runner: &ExecRunner{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// gh runs a gh subcommand against the configured repo.
func (c *GHClient) gh(ctx context.Context, op string, args ...string) (string, error) {
	stdout, stderr, exitCode, err := c.runner.Run(ctx, "gh", args, "", "")
	if err != nil || exitCode != 0 {
		detail := strings.TrimSpace(stderr)
		if detail == "" && err != nil {
			detail = err.Error()
		}
		retryable := isTransient(detail)
		return "", errors.NewUpstreamError(op, groupFor(op), retryable, fmt.Errorf("gh exit %d: %s", exitCode, detail))
	}
	return stdout, nil
}

// isTransient classifies gh failures worth retrying. Rate limiting and
// 5xx responses are transient; everything else is treated as terminal.
func isTransient(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, marker := range []string{"rate limit", "timeout", "502", "503", "504", "connection refused", "temporarily unavailable"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// groupFor maps an operation to its circuit-breaker endpoint group.
func groupFor(op string) string {
	switch op {
	case "createPR", "mergePR":
		return "pulls"
	default:
		return "issues"
	}
}

// ghIssue mirrors gh's JSON issue output.
type ghIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

// ListOpenIssues fetches open issues carrying the given label.
func (c *GHClient) ListOpenIssues(ctx context.Context, label string) ([]Issue, error) {
	args := []string{
		"issue", "list",
		"--repo", c.repo,
		"--state", "open",
		"--json", "number,title,body,labels",
	}
	if label != "" {
		args = append(args, "--label", label)
	}

	out, err := c.gh(ctx, "listOpenIssues", args...)
	if err != nil {
		return nil, err
	}

	var raw []ghIssue
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, errors.NewUpstreamError("listOpenIssues", "issues", false, fmt.Errorf("parsing issue list: %w", err))
	}

	issues := make([]Issue, 0, len(raw))
	for _, gi := range raw {
		labels := make([]string, len(gi.Labels))
		for i, l := range gi.Labels {
			labels[i] = l.Name
		}
		issues = append(issues, Issue{
			ID:     gi.Number,
			Title:  gi.Title,
			Body:   gi.Body,
			Labels: labels,
		})
	}
	return issues, nil
}

// CreateIssue opens a new issue and returns it with its assigned number.
func (c *GHClient) CreateIssue(ctx context.Context, issue NewIssue) (Issue, error) {
	args := []string{
		"issue", "create",
		"--repo", c.repo,
		"--title", issue.Title,
		"--body", issue.Body,
	}
	for _, l := range issue.Labels {
		args = append(args, "--label", l)
	}

	out, err := c.gh(ctx, "createIssue", args...)
	if err != nil {
		return Issue{}, err
	}

	// gh prints the issue URL; the number is its last path segment.
	id, err := trailingNumber(out)
	if err != nil {
		return Issue{}, errors.NewUpstreamError("createIssue", "issues", false, err)
	}

	return Issue{ID: id, Title: issue.Title, Body: issue.Body, Labels: issue.Labels}, nil
}

// AddLabels adds labels to an issue.
func (c *GHClient) AddLabels(ctx context.Context, id int, labels []string) error {
	args := []string{
		"issue", "edit", strconv.Itoa(id),
		"--repo", c.repo,
		"--add-label", strings.Join(labels, ","),
	}
	_, err := c.gh(ctx, "addLabels", args...)
	return err
}

// RemoveLabel removes a label from an issue.
func (c *GHClient) RemoveLabel(ctx context.Context, id int, label string) error {
	args := []string{
		"issue", "edit", strconv.Itoa(id),
		"--repo", c.repo,
		"--remove-label", label,
	}
	_, err := c.gh(ctx, "removeLabel", args...)
	return err
}

// AddComment adds a comment to an issue.
func (c *GHClient) AddComment(ctx context.Context, id int, text string) error {
	args := []string{
		"issue", "comment", strconv.Itoa(id),
		"--repo", c.repo,
		"--body", text,
	}
	_, err := c.gh(ctx, "addComment", args...)
	return err
}

// CloseIssue closes an issue with a final comment.
func (c *GHClient) CloseIssue(ctx context.Context, id int, comment string) error {
	args := []string{
		"issue", "close", strconv.Itoa(id),
		"--repo", c.repo,
	}
	if comment != "" {
		args = append(args, "--comment", comment)
	}
	_, err := c.gh(ctx, "closeIssue", args...)
	return err
}

// CreatePR opens a pull request from head into base.
func (c *GHClient) CreatePR(ctx context.Context, pr NewPullRequest) (PullRequest, error) {
	args := []string{
		"pr", "create",
		"--repo", c.repo,
		"--title", pr.Title,
		"--body", pr.Body,
		"--head", pr.Head,
		"--base", pr.Base,
	}

	out, err := c.gh(ctx, "createPR", args...)
	if err != nil {
		return PullRequest{}, err
	}

	url := strings.TrimSpace(out)
	number, err := trailingNumber(url)
	if err != nil {
		return PullRequest{}, errors.NewUpstreamError("createPR", "pulls", false, err)
	}

	return PullRequest{Number: number, URL: url}, nil
}

// RateLimitRemaining reports the remaining core API quota.
func (c *GHClient) RateLimitRemaining(ctx context.Context) (int, error) {
	out, err := c.gh(ctx, "rateLimit", "api", "rate_limit", "--jq", ".resources.core.remaining")
	if err != nil {
		return 0, err
	}
	remaining, convErr := strconv.Atoi(strings.TrimSpace(out))
	if convErr != nil {
		return 0, errors.NewUpstreamError("rateLimit", "issues", false, fmt.Errorf("parsing rate limit: %w", convErr))
	}
	return remaining, nil
}

// trailingNumber extracts the final path segment of a URL as an int.
func trailingNumber(s string) (int, error) {
	s = strings.TrimSpace(s)
	// Take the last line in case gh printed extra output.
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(s, "/")
	idx := strings.LastIndexByte(s, '/')
	if idx < 0 || idx == len(s)-1 {
		return 0, fmt.Errorf("no number in %q", s)
	}
	return strconv.Atoi(s[idx+1:])
}
