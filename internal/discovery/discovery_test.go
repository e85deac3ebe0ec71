package discovery

import (
	"context"
	"strings"
	"testing"

	"github.com/marcus/groundskeeper/internal/agents"
	"github.com/marcus/groundskeeper/internal/errors"
	"github.com/marcus/groundskeeper/internal/hosting"
)

// mockAgent implements agents.Agent for testing.
type mockAgent struct {
	result *agents.ExecuteResult
	err    error
	prompt string
}

func (m *mockAgent) Name() string { return "mock" }

func (m *mockAgent) Execute(_ context.Context, opts agents.ExecuteOptions) (*agents.ExecuteResult, error) {
	m.prompt = opts.Prompt
	if m.err != nil {
		return &agents.ExecuteResult{Error: m.err.Error(), ExitCode: 1}, m.err
	}
	return m.result, nil
}

func taskJSON(titles ...string) string {
	var items []string
	for _, title := range titles {
		items = append(items, `{"title": "`+title+`", "description": "d", "category": "test", "priority": "medium", "estimated_complexity": "low", "affected_paths": ["a.go"]}`)
	}
	return `{"tasks": [` + strings.Join(items, ",") + `]}`
}

func TestDiscoverTasks(t *testing.T) {
	out := taskJSON("Add coverage for parser", "Document config schema")
	agent := &mockAgent{result: &agents.ExecuteResult{Output: out, JSON: []byte(out)}}
	d := NewAgentDiscoverer(agent)

	tasks, err := d.DiscoverTasks(context.Background(), Request{
		RepoPath:      "/repo",
		TasksPerCycle: 5,
		ExistingIssues: []hosting.Issue{
			{ID: 3, Title: "Fix flaky test"},
		},
	})
	if err != nil {
		t.Fatalf("DiscoverTasks error: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].Title != "Add coverage for parser" {
		t.Errorf("tasks[0].Title = %q", tasks[0].Title)
	}
	if tasks[0].AffectedPaths[0] != "a.go" {
		t.Errorf("AffectedPaths = %v", tasks[0].AffectedPaths)
	}
	if !strings.Contains(agent.prompt, "#3: Fix flaky test") {
		t.Error("prompt missing existing issue context")
	}
}

func TestDiscoverTasksTruncatesToBudget(t *testing.T) {
	out := taskJSON("a", "b", "c", "d")
	agent := &mockAgent{result: &agents.ExecuteResult{Output: out, JSON: []byte(out)}}
	d := NewAgentDiscoverer(agent)

	tasks, err := d.DiscoverTasks(context.Background(), Request{TasksPerCycle: 2})
	if err != nil {
		t.Fatalf("DiscoverTasks error: %v", err)
	}
	if len(tasks) != 2 {
		t.Errorf("got %d tasks, want 2", len(tasks))
	}
}

func TestDiscoverTasksZeroBudget(t *testing.T) {
	agent := &mockAgent{}
	d := NewAgentDiscoverer(agent)

	tasks, err := d.DiscoverTasks(context.Background(), Request{TasksPerCycle: 0})
	if err != nil {
		t.Fatalf("DiscoverTasks error: %v", err)
	}
	if tasks != nil {
		t.Errorf("expected nil tasks, got %v", tasks)
	}
	if agent.prompt != "" {
		t.Error("agent should not be invoked with zero budget")
	}
}

func TestDiscoverTasksDropsEmptyTitles(t *testing.T) {
	out := `{"tasks": [{"title": "  "}, {"title": "real task"}]}`
	agent := &mockAgent{result: &agents.ExecuteResult{Output: out, JSON: []byte(out)}}
	d := NewAgentDiscoverer(agent)

	tasks, err := d.DiscoverTasks(context.Background(), Request{TasksPerCycle: 5})
	if err != nil {
		t.Fatalf("DiscoverTasks error: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "real task" {
		t.Errorf("tasks = %+v", tasks)
	}
}

func TestDiscoverTasksAgentFailure(t *testing.T) {
	agent := &mockAgent{err: errors.New("boom")}
	d := NewAgentDiscoverer(agent)

	_, err := d.DiscoverTasks(context.Background(), Request{TasksPerCycle: 3})
	if err == nil {
		t.Fatal("expected error")
	}
	var ae *errors.AgentError
	if !errors.As(err, &ae) {
		t.Errorf("expected AgentError, got %T", err)
	}
}

func TestDiscoverTasksNoJSON(t *testing.T) {
	agent := &mockAgent{result: &agents.ExecuteResult{Output: "I could not find anything to do."}}
	d := NewAgentDiscoverer(agent)

	_, err := d.DiscoverTasks(context.Background(), Request{TasksPerCycle: 3})
	if err == nil {
		t.Fatal("expected error for JSON-free output")
	}
}
