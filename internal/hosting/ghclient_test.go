package hosting

import (
	"context"
	"strings"
	"testing"

	"github.com/marcus/groundskeeper/internal/errors"
)

// mockRunner implements CommandRunner for testing.
type mockRunner struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
	calls    [][]string
}

func (m *mockRunner) Run(_ context.Context, name string, args []string, _ string, _ string) (string, string, int, error) {
	m.calls = append(m.calls, append([]string{name}, args...))
	return m.stdout, m.stderr, m.exitCode, m.err
}

func TestListOpenIssues(t *testing.T) {
	runner := &mockRunner{
		stdout: `[
			{"number": 3, "title": "Fix flaky test", "body": "details", "labels": [{"name": "groundskeeper"}]},
			{"number": 7, "title": "Add docs", "body": "", "labels": []}
		]`,
	}
	client := NewGHClient("marcus/widgets", WithRunner(runner))

	issues, err := client.ListOpenIssues(context.Background(), "groundskeeper")
	if err != nil {
		t.Fatalf("ListOpenIssues error: %v", err)
	}

	if len(issues) != 2 {
		t.Fatalf("got %d issues, want 2", len(issues))
	}
	if issues[0].ID != 3 || issues[0].Title != "Fix flaky test" {
		t.Errorf("issue[0] = %+v", issues[0])
	}
	if !issues[0].HasLabel("groundskeeper") {
		t.Error("expected label on issue 3")
	}
	if issues[1].HasLabel("groundskeeper") {
		t.Error("issue 7 should have no labels")
	}

	call := strings.Join(runner.calls[0], " ")
	if !strings.Contains(call, "--repo marcus/widgets") || !strings.Contains(call, "--label groundskeeper") {
		t.Errorf("unexpected gh invocation: %s", call)
	}
}

func TestListOpenIssuesFailure(t *testing.T) {
	runner := &mockRunner{stderr: "HTTP 503 service unavailable", exitCode: 1, err: errors.New("exit status 1")}
	client := NewGHClient("marcus/widgets", WithRunner(runner))

	_, err := client.ListOpenIssues(context.Background(), "")
	if err == nil {
		t.Fatal("expected error")
	}

	var ue *errors.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %T", err)
	}
	if ue.Op != "listOpenIssues" || ue.Group != "issues" {
		t.Errorf("op=%q group=%q", ue.Op, ue.Group)
	}
	if !ue.Retryable {
		t.Error("503 should be retryable")
	}
}

func TestCreateIssueParsesNumber(t *testing.T) {
	runner := &mockRunner{stdout: "https://github.com/marcus/widgets/issues/42\n"}
	client := NewGHClient("marcus/widgets", WithRunner(runner))

	issue, err := client.CreateIssue(context.Background(), NewIssue{
		Title:  "Refactor parser",
		Body:   "split the lexer",
		Labels: []string{"groundskeeper"},
	})
	if err != nil {
		t.Fatalf("CreateIssue error: %v", err)
	}
	if issue.ID != 42 {
		t.Errorf("ID = %d, want 42", issue.ID)
	}
}

func TestCreatePRParsesNumber(t *testing.T) {
	runner := &mockRunner{stdout: "https://github.com/marcus/widgets/pull/101\n"}
	client := NewGHClient("marcus/widgets", WithRunner(runner))

	pr, err := client.CreatePR(context.Background(), NewPullRequest{
		Title: "auto: refactor parser",
		Head:  "auto/42-refactor-parser",
		Base:  "main",
	})
	if err != nil {
		t.Fatalf("CreatePR error: %v", err)
	}
	if pr.Number != 101 {
		t.Errorf("Number = %d, want 101", pr.Number)
	}
	if pr.URL != "https://github.com/marcus/widgets/pull/101" {
		t.Errorf("URL = %q", pr.URL)
	}
}

func TestCreatePRNotRetryableOn403(t *testing.T) {
	runner := &mockRunner{stderr: "HTTP 403 forbidden", exitCode: 1, err: errors.New("exit status 1")}
	client := NewGHClient("marcus/widgets", WithRunner(runner))

	_, err := client.CreatePR(context.Background(), NewPullRequest{Head: "x", Base: "main"})
	var ue *errors.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %T", err)
	}
	if ue.Retryable {
		t.Error("403 should not be retryable")
	}
	if ue.Group != "pulls" {
		t.Errorf("group = %q, want pulls", ue.Group)
	}
}

func TestRateLimitRemaining(t *testing.T) {
	runner := &mockRunner{stdout: "4321\n"}
	client := NewGHClient("marcus/widgets", WithRunner(runner))

	remaining, err := client.RateLimitRemaining(context.Background())
	if err != nil {
		t.Fatalf("RateLimitRemaining error: %v", err)
	}
	if remaining != 4321 {
		t.Errorf("remaining = %d, want 4321", remaining)
	}
}

func TestTrailingNumber(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"https://github.com/a/b/issues/7", 7, false},
		{"https://github.com/a/b/pull/123\n", 123, false},
		{"Creating issue...\nhttps://github.com/a/b/issues/9", 9, false},
		{"no url here", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := trailingNumber(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("trailingNumber(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("trailingNumber(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}
