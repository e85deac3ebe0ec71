package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marcus/groundskeeper/internal/agents"
	"github.com/marcus/groundskeeper/internal/hosting"
)

func TestBranchName(t *testing.T) {
	tests := []struct {
		name  string
		id    int
		title string
		want  string
	}{
		{"simple", 42, "Fix logging", "auto/42-fix-logging"},
		{"punctuation collapsed", 7, "Fix: the (broken) logger!!", "auto/7-fix-the-broken-logger"},
		{"uppercase lowered", 1, "README Updates", "auto/1-readme-updates"},
		{
			"long title truncated",
			99,
			"a very long title that should definitely exceed the forty character slug limit",
			"auto/99-a-very-long-title-that-should-definitely",
		},
		{"leading trailing junk", 3, "---weird title---", "auto/3-weird-title"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BranchName(tt.id, tt.title)
			if got != tt.want {
				t.Errorf("BranchName(%d, %q) = %q, want %q", tt.id, tt.title, got, tt.want)
			}
			if len(strings.TrimPrefix(got, fmt.Sprintf("auto/%d-", tt.id))) > BranchSlugLen {
				t.Errorf("slug exceeds %d chars: %q", BranchSlugLen, got)
			}
		})
	}
}

func TestBranchNameDeterministicAndUnique(t *testing.T) {
	if BranchName(5, "Same Title") != BranchName(5, "Same Title") {
		t.Error("same id+title must derive the same branch name")
	}
	if BranchName(5, "Same Title") == BranchName(6, "Same Title") {
		t.Error("different ids must derive different branch names")
	}
}

// mockAgent simulates agent executions with configurable behavior and
// tracks the peak number of concurrent calls.
type mockAgent struct {
	mu        sync.Mutex
	running   int
	peak      int
	delay     time.Duration
	failIssue string // substring of prompt that should fail
}

func (m *mockAgent) Name() string { return "mock" }

func (m *mockAgent) Execute(ctx context.Context, opts agents.ExecuteOptions) (*agents.ExecuteResult, error) {
	m.mu.Lock()
	m.running++
	if m.running > m.peak {
		m.peak = m.running
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running--
		m.mu.Unlock()
	}()

	select {
	case <-time.After(m.delay):
	case <-ctx.Done():
		return &agents.ExecuteResult{ExitCode: -1, Error: "interrupted"}, ctx.Err()
	}

	if m.failIssue != "" && strings.Contains(opts.Prompt, m.failIssue) {
		return &agents.ExecuteResult{ExitCode: 1, Error: "agent reported failure"}, nil
	}
	return &agents.ExecuteResult{Output: "done", ExitCode: 0}, nil
}

func (m *mockAgent) Peak() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// mockWorkspaces satisfies WorkspaceManager without touching git.
type mockWorkspaces struct {
	mu       sync.Mutex
	prepared []string
	pushed   []string
	pushErr  error
}

func (m *mockWorkspaces) Prepare(ctx context.Context, branchName, baseBranch string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prepared = append(m.prepared, branchName)
	return "/tmp/ws/" + branchName, nil
}

func (m *mockWorkspaces) Push(ctx context.Context, workspace, branchName string) error {
	if m.pushErr != nil {
		return m.pushErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushed = append(m.pushed, branchName)
	return nil
}

func (m *mockWorkspaces) Cleanup(workspace string) {}

func makeTasks(n int) []WorkerTask {
	tasks := make([]WorkerTask, n)
	for i := range tasks {
		issue := hosting.Issue{ID: i + 1, Title: fmt.Sprintf("task number %d", i+1)}
		tasks[i] = WorkerTask{Issue: issue, BranchName: BranchName(issue.ID, issue.Title)}
	}
	return tasks
}

func TestExecuteTasksOrderAndLength(t *testing.T) {
	agent := &mockAgent{delay: 5 * time.Millisecond}
	e := New(agent, &mockWorkspaces{}, WithMaxWorkers(3))

	tasks := makeTasks(5)
	results := e.ExecuteTasks(context.Background(), tasks)

	if len(results) != len(tasks) {
		t.Fatalf("got %d results, want %d", len(results), len(tasks))
	}
	for i, r := range results {
		if r.Issue.ID != tasks[i].Issue.ID {
			t.Errorf("result %d is for issue %d, want %d", i, r.Issue.ID, tasks[i].Issue.ID)
		}
		if !r.Success {
			t.Errorf("result %d unexpectedly failed: %s", i, r.Error)
		}
	}
}

func TestExecuteTasksRespectsWorkerCap(t *testing.T) {
	agent := &mockAgent{delay: 20 * time.Millisecond}
	e := New(agent, &mockWorkspaces{}, WithMaxWorkers(2))

	results := e.ExecuteTasks(context.Background(), makeTasks(5))

	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}
	if peak := agent.Peak(); peak > 2 {
		t.Errorf("peak concurrency %d exceeds cap 2", peak)
	}
}

func TestExecuteTasksTimeout(t *testing.T) {
	agent := &mockAgent{delay: time.Second}
	e := New(agent, &mockWorkspaces{}, WithMaxWorkers(1), WithTimeout(10*time.Millisecond))

	results := e.ExecuteTasks(context.Background(), makeTasks(1))

	if results[0].Success {
		t.Error("timed-out task should fail")
	}
	if results[0].Error != "timeout" {
		t.Errorf("error = %q, want %q", results[0].Error, "timeout")
	}
}

func TestPushFailureDowngradesSuccess(t *testing.T) {
	agent := &mockAgent{}
	ws := &mockWorkspaces{pushErr: fmt.Errorf("remote rejected")}
	e := New(agent, ws, WithMaxWorkers(1))

	results := e.ExecuteTasks(context.Background(), makeTasks(1))

	if results[0].Success {
		t.Error("push failure must downgrade an agent-reported success")
	}
	if !strings.Contains(results[0].Error, "push") {
		t.Errorf("error should mention push, got %q", results[0].Error)
	}
}

func TestAgentFailureSurfacesError(t *testing.T) {
	agent := &mockAgent{failIssue: "task number 2"}
	e := New(agent, &mockWorkspaces{}, WithMaxWorkers(2))

	results := e.ExecuteTasks(context.Background(), makeTasks(3))

	if results[0].Success != true || results[2].Success != true {
		t.Error("unaffected tasks should succeed")
	}
	if results[1].Success {
		t.Error("failing task should not succeed")
	}
	if results[1].Error != "agent reported failure" {
		t.Errorf("error = %q", results[1].Error)
	}
}

func TestTelemetryPanicDoesNotAffectOutcome(t *testing.T) {
	agent := &mockAgent{}
	e := New(agent, &mockWorkspaces{}, WithMaxWorkers(1),
		WithTelemetry(func(ctx context.Context, r WorkerResult) {
			panic("telemetry exploded")
		}))

	results := e.ExecuteTasks(context.Background(), makeTasks(1))

	if !results[0].Success {
		t.Errorf("task should succeed despite telemetry panic: %s", results[0].Error)
	}
}

func TestExecuteTasksEmptyInput(t *testing.T) {
	e := New(&mockAgent{}, &mockWorkspaces{})
	results := e.ExecuteTasks(context.Background(), nil)
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}
