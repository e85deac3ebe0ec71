package dedup

import (
	"reflect"
	"testing"

	"github.com/marcus/groundskeeper/internal/discovery"
	"github.com/marcus/groundskeeper/internal/hosting"
)

func TestJaccardScore(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{"identical", "fix the logger", "fix the logger", 1.0},
		{"disjoint", "alpha beta", "gamma delta", 0.0},
		{"empty left", "", "something", 0.0},
		{"both empty", "", "", 0.0},
		{"case and punctuation ignored", "Fix: The Logger!", "fix the logger", 1.0},
		{"half overlap", "fix logger output", "fix logger format", 0.5},
	}

	var scorer JaccardScorer
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scorer.Score(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("Score(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestJaccardSymmetric(t *testing.T) {
	var scorer JaccardScorer
	a := "refactor config loading into viper"
	b := "config loading should use viper defaults"
	if scorer.Score(a, b) != scorer.Score(b, a) {
		t.Error("Score is not symmetric")
	}
}

func TestAnnotateFlagsDuplicateOfExistingIssue(t *testing.T) {
	d := New()
	tasks := []discovery.Task{
		{Title: "Fix flaky timeout in scheduler tests", Description: "the scheduler tests time out under load"},
		{Title: "Add retry to merge path", Description: "merges should retry on transient failures"},
	}
	existing := []hosting.Issue{
		{ID: 12, Title: "Fix flaky timeout in scheduler tests", Body: "scheduler tests time out under load"},
	}

	out := d.Annotate(tasks, existing)
	if len(out) != 2 {
		t.Fatalf("expected 2 annotated tasks, got %d", len(out))
	}
	if !out[0].IsPotentialDuplicate {
		t.Error("first task should be flagged as duplicate of existing issue")
	}
	if out[1].IsPotentialDuplicate {
		t.Error("second task should not be flagged")
	}
}

func TestProcessThreeTasksOneDuplicate(t *testing.T) {
	d := New()
	tasks := []discovery.Task{
		{Title: "Improve error messages in config validation", Description: "validation errors lack field names"},
		{Title: "Improve error messages in config validation", Description: "config validation errors lack field names"},
		{Title: "Document the monitor endpoint", Description: "no docs for the health endpoint"},
	}

	out := d.Process(tasks, nil)
	if len(out) != 2 {
		t.Fatalf("expected 2 tasks after dedup, got %d", len(out))
	}
	if out[0].Title != "Improve error messages in config validation" {
		t.Errorf("unexpected first task: %q", out[0].Title)
	}
	if out[1].Title != "Document the monitor endpoint" {
		t.Errorf("unexpected second task: %q", out[1].Title)
	}
}

func TestAnnotateDuplicateWithinBatch(t *testing.T) {
	d := New()
	tasks := []discovery.Task{
		{Title: "Tighten lint rules for the daemon package", Description: "enable stricter lint checks"},
		{Title: "Tighten lint rules for the daemon package", Description: "stricter lint checks should be enabled"},
	}

	out := d.Annotate(tasks, nil)
	if out[0].IsPotentialDuplicate {
		t.Error("first occurrence should survive")
	}
	if !out[1].IsPotentialDuplicate {
		t.Error("second occurrence should be flagged against the first")
	}
}

func TestFilterDuplicatesIdempotent(t *testing.T) {
	tasks := []DeduplicatedTask{
		{Task: discovery.Task{Title: "a"}},
		{Task: discovery.Task{Title: "b"}, IsPotentialDuplicate: true},
		{Task: discovery.Task{Title: "c"}},
	}

	once := FilterDuplicates(tasks)
	twice := FilterDuplicates(once)
	if !reflect.DeepEqual(once, twice) {
		t.Error("FilterDuplicates is not idempotent")
	}
	if len(once) != 2 || once[0].Title != "a" || once[1].Title != "c" {
		t.Errorf("unexpected filtered set: %+v", once)
	}
}

func TestConflictSafeOrderStablePartition(t *testing.T) {
	tasks := []DeduplicatedTask{
		{Task: discovery.Task{Title: "risky-1"}, Conflict: ConflictPrediction{HasHighConflictRisk: true}},
		{Task: discovery.Task{Title: "safe-1"}},
		{Task: discovery.Task{Title: "risky-2"}, Conflict: ConflictPrediction{HasHighConflictRisk: true}},
		{Task: discovery.Task{Title: "safe-2"}},
	}

	out := ConflictSafeOrder(tasks)
	got := make([]string, len(out))
	for i, t := range out {
		got[i] = t.Title
	}
	want := []string{"safe-1", "safe-2", "risky-1", "risky-2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestAnnotatePredictsPathConflicts(t *testing.T) {
	d := New()
	tasks := []discovery.Task{
		{Title: "Refactor gateway retries", Description: "x", AffectedPaths: []string{"internal/gateway/gateway.go"}},
		{Title: "Completely unrelated docs change", Description: "y", AffectedPaths: []string{"README.md"}},
		{Title: "Rework gateway health reporting metrics output", Description: "z", AffectedPaths: []string{"internal/gateway/gateway.go", "internal/monitor/monitor.go"}},
	}

	out := d.Annotate(tasks, nil)
	if !out[0].Conflict.HasHighConflictRisk || !out[2].Conflict.HasHighConflictRisk {
		t.Error("overlapping tasks should both carry high conflict risk")
	}
	if out[1].Conflict.HasHighConflictRisk {
		t.Error("non-overlapping task should not carry conflict risk")
	}
	if !reflect.DeepEqual(out[0].Conflict.OverlappingPaths, []string{"internal/gateway/gateway.go"}) {
		t.Errorf("unexpected overlap paths: %v", out[0].Conflict.OverlappingPaths)
	}
}

func TestProcessEmptyBatch(t *testing.T) {
	d := New()
	out := d.Process(nil, nil)
	if len(out) != 0 {
		t.Errorf("expected empty output, got %d tasks", len(out))
	}
}

type fixedScorer struct{ score float64 }

func (f fixedScorer) Score(a, b string) float64 { return f.score }

func TestWithScorerAndThreshold(t *testing.T) {
	d := New(WithScorer(fixedScorer{score: 0.5}), WithThreshold(0.5))
	tasks := []discovery.Task{{Title: "anything"}}
	existing := []hosting.Issue{{ID: 1, Title: "something else"}}

	out := d.Annotate(tasks, existing)
	if !out[0].IsPotentialDuplicate {
		t.Error("score at threshold should flag duplicate")
	}
}
