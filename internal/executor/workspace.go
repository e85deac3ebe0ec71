package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/marcus/groundskeeper/internal/logging"
)

// WorkspaceManager provisions an isolated checkout per branch and
// pushes the finished branch to the remote.
type WorkspaceManager interface {
	// Prepare creates (or reuses) a workspace for branchName rooted at
	// baseBranch and returns its path.
	Prepare(ctx context.Context, branchName, baseBranch string) (string, error)
	// Push publishes the workspace's branch to origin.
	Push(ctx context.Context, workspace, branchName string) error
	// Cleanup removes the workspace. Best-effort.
	Cleanup(workspace string)
}

// CommandRunner abstracts command execution for testing.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (stdout, stderr string, err error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// GitWorkspaces manages per-branch clones of a source repository under
// a shared work directory. Workspace paths are {workDir}/{branchName},
// so branch-name uniqueness gives workspace isolation for free.
type GitWorkspaces struct {
	repoPath string
	workDir  string
	runner   CommandRunner
	log      *logging.Logger
}

// GitOption configures GitWorkspaces.
type GitOption func(*GitWorkspaces)

// WithRunner swaps the command runner (used by tests).
func WithRunner(r CommandRunner) GitOption {
	return func(g *GitWorkspaces) {
		g.runner = r
	}
}

// NewGitWorkspaces creates a workspace manager cloning from repoPath
// into workDir.
func NewGitWorkspaces(repoPath, workDir string, opts ...GitOption) *GitWorkspaces {
	g := &GitWorkspaces{
		repoPath: repoPath,
		workDir:  workDir,
		runner:   ExecRunner{},
		log:      logging.Component("workspace"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GitWorkspaces) Prepare(ctx context.Context, branchName, baseBranch string) (string, error) {
	workspace := filepath.Join(g.workDir, filepath.FromSlash(branchName))

	if err := os.RemoveAll(workspace); err != nil {
		return "", fmt.Errorf("clearing workspace %s: %w", workspace, err)
	}
	if err := os.MkdirAll(filepath.Dir(workspace), 0o755); err != nil {
		return "", fmt.Errorf("creating work dir: %w", err)
	}

	if _, stderr, err := g.runner.Run(ctx, "", "git", "clone", "--branch", baseBranch, "--single-branch", g.repoPath, workspace); err != nil {
		return "", fmt.Errorf("git clone: %w: %s", err, strings.TrimSpace(stderr))
	}
	if _, stderr, err := g.runner.Run(ctx, workspace, "git", "checkout", "-b", branchName); err != nil {
		return "", fmt.Errorf("git checkout -b %s: %w: %s", branchName, err, strings.TrimSpace(stderr))
	}

	g.log.Debugf("prepared workspace %s", workspace)
	return workspace, nil
}

func (g *GitWorkspaces) Push(ctx context.Context, workspace, branchName string) error {
	// Nothing committed means nothing to review; treat as a failed push.
	stdout, _, err := g.runner.Run(ctx, workspace, "git", "rev-list", "--count", branchName, "^origin/HEAD")
	if err == nil && strings.TrimSpace(stdout) == "0" {
		return fmt.Errorf("branch %s has no commits", branchName)
	}

	if _, stderr, err := g.runner.Run(ctx, workspace, "git", "push", "--set-upstream", "origin", branchName); err != nil {
		return fmt.Errorf("git push %s: %w: %s", branchName, err, strings.TrimSpace(stderr))
	}
	return nil
}

func (g *GitWorkspaces) Cleanup(workspace string) {
	if workspace == "" || g.workDir == "" {
		return
	}
	// Refuse to remove anything outside the managed work dir.
	rel, err := filepath.Rel(g.workDir, workspace)
	if err != nil || strings.HasPrefix(rel, "..") {
		g.log.Warnf("refusing to clean workspace outside work dir: %s", workspace)
		return
	}
	if err := os.RemoveAll(workspace); err != nil {
		g.log.Warnf("cleanup of %s failed: %v", workspace, err)
	}
}
