package merge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Rican7/retry/strategy"

	"github.com/marcus/groundskeeper/internal/hosting"
)

// scriptedRunner fakes git. Merge commands fail according to the
// per-branch script; everything else succeeds.
type scriptedRunner struct {
	mu sync.Mutex
	// failures maps a branch to how many merge attempts should fail
	// before succeeding. -1 means always fail.
	failures map[string]int
	conflict bool // failures look like merge conflicts
	attempts map[string]int
}

func newScriptedRunner(conflict bool) *scriptedRunner {
	return &scriptedRunner{
		failures: make(map[string]int),
		conflict: conflict,
		attempts: make(map[string]int),
	}
}

func (s *scriptedRunner) Run(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	if len(args) == 0 || args[0] != "merge" || args[len(args)-1] == "--abort" {
		return "", "", nil
	}
	branch := strings.TrimPrefix(args[len(args)-1], "origin/")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[branch]++
	remaining, ok := s.failures[branch]
	if !ok || remaining == 0 {
		return "", "", nil
	}
	if remaining > 0 {
		s.failures[branch] = remaining - 1
	}
	if s.conflict {
		return "CONFLICT (content): Merge conflict in main.go", "", fmt.Errorf("exit status 1")
	}
	return "", "fatal: refusing to merge unrelated histories", fmt.Errorf("exit status 128")
}

func (s *scriptedRunner) Attempts(branch string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[branch]
}

func noWait() []strategy.Strategy {
	return []strategy.Strategy{strategy.Limit(3)}
}

func TestMergeSequentiallyAllSucceed(t *testing.T) {
	runner := newScriptedRunner(false)
	r := New("/repo", "main", WithRunner(runner), WithMethod(MethodMerge))

	candidates := []MergeCandidate{
		{BranchName: "auto/1-first", PR: &hosting.PullRequest{Number: 101}},
		{BranchName: "auto/2-second", PR: &hosting.PullRequest{Number: 102}},
	}
	results := r.MergeSequentially(context.Background(), candidates)

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i, res := range results {
		if !res.Merged {
			t.Errorf("candidate %d not merged: %s", i, res.Error)
		}
		if res.BranchName != candidates[i].BranchName {
			t.Errorf("result %d out of order: %s", i, res.BranchName)
		}
	}
	if results[0].PR == nil || results[0].PR.Number != 101 {
		t.Error("result should carry the candidate's PR")
	}
}

func TestMergeFailureDoesNotBlockLaterCandidates(t *testing.T) {
	runner := newScriptedRunner(false)
	runner.failures["auto/2-second"] = -1
	r := New("/repo", "main",
		WithRunner(runner),
		WithMethod(MethodMerge),
		WithConflictStrategy(StrategyAbort),
	)

	candidates := []MergeCandidate{
		{BranchName: "auto/1-first"},
		{BranchName: "auto/2-second"},
		{BranchName: "auto/3-third"},
	}
	results := r.MergeSequentially(context.Background(), candidates)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !results[0].Merged || results[1].Merged || !results[2].Merged {
		t.Errorf("merged flags = [%v %v %v], want [true false true]",
			results[0].Merged, results[1].Merged, results[2].Merged)
	}
	if results[1].Error == "" {
		t.Error("failed candidate should carry an error")
	}
	if runner.Attempts("auto/3-third") == 0 {
		t.Error("third candidate was never attempted")
	}
}

func TestConflictRetrySucceedsOnSecondAttempt(t *testing.T) {
	runner := newScriptedRunner(true)
	runner.failures["auto/5-flaky"] = 1
	r := New("/repo", "main",
		WithRunner(runner),
		WithMethod(MethodMerge),
		WithConflictStrategy(StrategyRetry),
		WithRetryStrategies(noWait()...),
	)

	results := r.MergeSequentially(context.Background(), []MergeCandidate{{BranchName: "auto/5-flaky"}})

	if !results[0].Merged {
		t.Fatalf("expected merge after retry, got error %q", results[0].Error)
	}
	if runner.Attempts("auto/5-flaky") < 2 {
		t.Errorf("expected at least 2 attempts, got %d", runner.Attempts("auto/5-flaky"))
	}
}

func TestAbortStrategyAttemptsOnce(t *testing.T) {
	runner := newScriptedRunner(true)
	runner.failures["auto/7-stuck"] = -1
	r := New("/repo", "main",
		WithRunner(runner),
		WithMethod(MethodMerge),
		WithConflictStrategy(StrategyAbort),
	)

	results := r.MergeSequentially(context.Background(), []MergeCandidate{{BranchName: "auto/7-stuck"}})

	if results[0].Merged {
		t.Error("conflicting merge should not succeed")
	}
	if got := runner.Attempts("auto/7-stuck"); got != 1 {
		t.Errorf("abort strategy made %d attempts, want 1", got)
	}

	if !strings.Contains(strings.ToLower(results[0].Error), "conflict") {
		t.Errorf("error should mention conflict: %q", results[0].Error)
	}
}

func TestRetryExhaustionReportsConflict(t *testing.T) {
	runner := newScriptedRunner(true)
	runner.failures["auto/9-doomed"] = -1
	r := New("/repo", "main",
		WithRunner(runner),
		WithMethod(MethodMerge),
		WithConflictStrategy(StrategyRetry),
		WithMaxRetries(3),
		WithRetryStrategies(noWait()...),
	)

	results := r.MergeSequentially(context.Background(), []MergeCandidate{{BranchName: "auto/9-doomed"}})

	if results[0].Merged {
		t.Error("exhausted retries should not yield a merge")
	}
	if !strings.Contains(strings.ToLower(results[0].Error), "conflict") {
		t.Errorf("error should mention conflict: %q", results[0].Error)
	}
}

// recordingRunner accepts every git invocation and records it.
type recordingRunner struct {
	mu       sync.Mutex
	commands []string
}

func (r *recordingRunner) Run(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, name+" "+strings.Join(args, " "))
	return "", "", nil
}

func (r *recordingRunner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

// Worker branches exist only on origin, so every method must address
// them through remote-qualified refs; a bare branch name is a command
// against a branch the resolver's clone does not have.
func TestMergeMethodCommandSequences(t *testing.T) {
	tests := []struct {
		method string
		want   []string
	}{
		{
			method: MethodMerge,
			want: []string{
				"git fetch origin",
				"git checkout main",
				"git reset --hard origin/main",
				"git merge --no-ff -m Merge branch auto/7-tidy origin/auto/7-tidy",
				"git push origin main",
			},
		},
		{
			method: MethodSquash,
			want: []string{
				"git fetch origin",
				"git checkout main",
				"git reset --hard origin/main",
				"git merge --squash origin/auto/7-tidy",
				"git commit -m Merge branch auto/7-tidy",
				"git push origin main",
			},
		},
		{
			method: MethodRebase,
			want: []string{
				"git fetch origin",
				"git checkout main",
				"git reset --hard origin/main",
				"git checkout -B groundskeeper/rebase origin/auto/7-tidy",
				"git rebase main",
				"git checkout main",
				"git merge --ff-only groundskeeper/rebase",
				"git branch -D groundskeeper/rebase",
				"git push origin main",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			runner := &recordingRunner{}
			r := New("/repo", "main", WithRunner(runner), WithMethod(tt.method))

			results := r.MergeSequentially(context.Background(), []MergeCandidate{{BranchName: "auto/7-tidy"}})
			if !results[0].Merged {
				t.Fatalf("clean merge failed: %s", results[0].Error)
			}

			got := runner.Commands()
			if len(got) != len(tt.want) {
				t.Fatalf("got %d commands, want %d:\n%s", len(got), len(tt.want), strings.Join(got, "\n"))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("command %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestMergeSequentiallyEmptyInput(t *testing.T) {
	r := New("/repo", "main", WithRunner(newScriptedRunner(false)))
	results := r.MergeSequentially(context.Background(), nil)
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}
