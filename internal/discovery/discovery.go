// Package discovery finds improvement tasks for a repository. The
// default discoverer prompts a coding agent to survey the repo and
// emit candidate tasks as strict JSON.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marcus/groundskeeper/internal/agents"
	"github.com/marcus/groundskeeper/internal/errors"
	"github.com/marcus/groundskeeper/internal/hosting"
	"github.com/marcus/groundskeeper/internal/logging"
)

// Task is a discovered improvement candidate. Immutable once created.
type Task struct {
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	Category            string   `json:"category"`             // e.g. refactor, test, docs, bug
	Priority            string   `json:"priority"`             // low, medium, high
	EstimatedComplexity string   `json:"estimated_complexity"` // low, medium, high
	AffectedPaths       []string `json:"affected_paths"`
	RelatedIssueIDs     []int    `json:"related_issue_ids,omitempty"`
}

// Request bounds one discovery invocation.
type Request struct {
	RepoPath      string
	ExcludePaths  []string
	TasksPerCycle int
	// ExistingIssues gives the discoverer context to steer away from
	// work that is already tracked.
	ExistingIssues []hosting.Issue
}

// Discoverer produces improvement tasks for a repository.
type Discoverer interface {
	DiscoverTasks(ctx context.Context, req Request) ([]Task, error)
}

// AgentDiscoverer discovers tasks by prompting a coding agent.
type AgentDiscoverer struct {
	agent agents.Agent
	log   *logging.Logger
}

// NewAgentDiscoverer creates a discoverer backed by the given agent.
func NewAgentDiscoverer(agent agents.Agent) *AgentDiscoverer {
	return &AgentDiscoverer{
		agent: agent,
		log:   logging.Component("discovery"),
	}
}

// DiscoverTasks prompts the agent and parses its JSON task list.
func (d *AgentDiscoverer) DiscoverTasks(ctx context.Context, req Request) ([]Task, error) {
	if req.TasksPerCycle <= 0 {
		return nil, nil
	}

	prompt := buildPrompt(req)

	result, err := d.agent.Execute(ctx, agents.ExecuteOptions{
		Prompt:  prompt,
		WorkDir: req.RepoPath,
	})
	if err != nil {
		return nil, errors.NewAgentError(d.agent.Name(), "discovery execution", err)
	}
	if !result.IsSuccess() {
		return nil, errors.NewAgentError(d.agent.Name(), "discovery returned error: "+result.Error, nil)
	}

	raw := result.JSON
	if raw == nil {
		raw = agents.ExtractJSON([]byte(result.Output))
	}
	if raw == nil {
		return nil, errors.NewAgentError(d.agent.Name(), "discovery output contained no JSON", nil)
	}

	var payload struct {
		Tasks []Task `json:"tasks"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.NewAgentError(d.agent.Name(), "parsing discovery output", err)
	}

	tasks := make([]Task, 0, len(payload.Tasks))
	for _, task := range payload.Tasks {
		if strings.TrimSpace(task.Title) == "" {
			d.log.Warn("dropping discovered task with empty title")
			continue
		}
		tasks = append(tasks, task)
	}

	if len(tasks) > req.TasksPerCycle {
		tasks = tasks[:req.TasksPerCycle]
	}

	d.log.InfoCtx("discovery complete", map[string]any{"tasks": len(tasks)})
	return tasks, nil
}

func buildPrompt(req Request) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, `You are a repository maintenance agent. Survey this repository and propose up to %d concrete improvement tasks.

## Instructions
0. You are running autonomously. Prefer small, well-scoped tasks that deliver value.
1. Skip anything already covered by the existing issues listed below.
2. Never propose tasks touching these paths: %s
3. Output only valid JSON (no markdown, no extra text). The output is read by a machine. Use this schema:

{
  "tasks": [
    {
      "title": "short imperative title",
      "description": "what to do and why",
      "category": "refactor|test|docs|bug|chore",
      "priority": "low|medium|high",
      "estimated_complexity": "low|medium|high",
      "affected_paths": ["relative/path.go", ...],
      "related_issue_ids": [1, 2]
    }
  ]
}
`, req.TasksPerCycle, strings.Join(req.ExcludePaths, ", "))

	if len(req.ExistingIssues) > 0 {
		sb.WriteString("\n## Existing open issues\n")
		for _, issue := range req.ExistingIssues {
			fmt.Fprintf(&sb, "- #%d: %s\n", issue.ID, issue.Title)
		}
	}

	return sb.String()
}
