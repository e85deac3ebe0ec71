// Package dedup filters duplicate tasks out of a discovery batch and
// orders the survivors so that low-conflict-risk tasks run first.
// The similarity metric is a pluggable strategy; the default is
// token-set Jaccard over normalized title+description.
package dedup

import (
	"strings"
	"unicode"

	"github.com/marcus/groundskeeper/internal/discovery"
	"github.com/marcus/groundskeeper/internal/hosting"
	"github.com/marcus/groundskeeper/internal/logging"
)

// DefaultSimilarityThreshold marks a task as duplicate at or above
// this score.
const DefaultSimilarityThreshold = 0.7

// Scorer computes a similarity score in [0, 1] between two texts.
type Scorer interface {
	Score(a, b string) float64
}

// ConflictPrediction flags path-level overlap between tasks in the
// same batch.
type ConflictPrediction struct {
	HasHighConflictRisk bool
	OverlappingPaths    []string
}

// DeduplicatedTask is a Task annotated with duplicate and conflict
// flags. Lifetime is one cycle.
type DeduplicatedTask struct {
	discovery.Task
	IsPotentialDuplicate bool
	Conflict             ConflictPrediction
}

// Deduplicator converts a raw task batch into a filtered, ordered queue.
type Deduplicator struct {
	scorer    Scorer
	threshold float64
	log       *logging.Logger
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithScorer sets a custom similarity scorer.
func WithScorer(s Scorer) Option {
	return func(d *Deduplicator) {
		d.scorer = s
	}
}

// WithThreshold sets the duplicate similarity threshold.
func WithThreshold(t float64) Option {
	return func(d *Deduplicator) {
		d.threshold = t
	}
}

// New creates a Deduplicator with the default Jaccard scorer.
func New(opts ...Option) *Deduplicator {
	d := &Deduplicator{
		scorer:    JaccardScorer{},
		threshold: DefaultSimilarityThreshold,
		log:       logging.Component("dedup"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Process annotates, filters, and orders a raw task batch against the
// existing open issues. An empty batch yields an empty output.
func (d *Deduplicator) Process(tasks []discovery.Task, existing []hosting.Issue) []DeduplicatedTask {
	annotated := d.Annotate(tasks, existing)
	return ConflictSafeOrder(FilterDuplicates(annotated))
}

// Annotate marks potential duplicates and predicts path conflicts.
// Each task is compared against every existing open issue and against
// earlier tasks already accepted in this batch.
func (d *Deduplicator) Annotate(tasks []discovery.Task, existing []hosting.Issue) []DeduplicatedTask {
	out := make([]DeduplicatedTask, 0, len(tasks))

	for _, task := range tasks {
		dt := DeduplicatedTask{Task: task}
		taskText := task.Title + " " + task.Description

		best := 0.0
		for _, issue := range existing {
			if score := d.scorer.Score(taskText, issue.Title+" "+issue.Body); score > best {
				best = score
			}
		}
		for _, prior := range out {
			if prior.IsPotentialDuplicate {
				continue
			}
			if score := d.scorer.Score(taskText, prior.Title+" "+prior.Description); score > best {
				best = score
			}
		}

		if best >= d.threshold {
			dt.IsPotentialDuplicate = true
			d.log.InfoCtx("task flagged as potential duplicate", map[string]any{
				"title": task.Title,
				"score": best,
			})
		}

		out = append(out, dt)
	}

	// Pairwise path overlap among tasks that survived duplicate marking.
	for i := range out {
		if out[i].IsPotentialDuplicate {
			continue
		}
		for j := i + 1; j < len(out); j++ {
			if out[j].IsPotentialDuplicate {
				continue
			}
			overlap := intersectPaths(out[i].AffectedPaths, out[j].AffectedPaths)
			if len(overlap) == 0 {
				continue
			}
			out[i].Conflict.HasHighConflictRisk = true
			out[i].Conflict.OverlappingPaths = unionPaths(out[i].Conflict.OverlappingPaths, overlap)
			out[j].Conflict.HasHighConflictRisk = true
			out[j].Conflict.OverlappingPaths = unionPaths(out[j].Conflict.OverlappingPaths, overlap)
		}
	}

	return out
}

// FilterDuplicates drops tasks flagged as potential duplicates.
// Idempotent: re-running it on its own output returns the same set.
func FilterDuplicates(tasks []DeduplicatedTask) []DeduplicatedTask {
	out := make([]DeduplicatedTask, 0, len(tasks))
	for _, t := range tasks {
		if t.IsPotentialDuplicate {
			continue
		}
		out = append(out, t)
	}
	return out
}

// ConflictSafeOrder stable-partitions tasks so that conflict-free
// tasks precede high-conflict-risk ones, preserving relative discovery
// order within each group.
func ConflictSafeOrder(tasks []DeduplicatedTask) []DeduplicatedTask {
	out := make([]DeduplicatedTask, 0, len(tasks))
	for _, t := range tasks {
		if !t.Conflict.HasHighConflictRisk {
			out = append(out, t)
		}
	}
	for _, t := range tasks {
		if t.Conflict.HasHighConflictRisk {
			out = append(out, t)
		}
	}
	return out
}

// JaccardScorer scores token-set Jaccard similarity over normalized
// text.
type JaccardScorer struct{}

// Score returns |A∩B| / |A∪B| over the token sets of a and b.
// Returns 0 when either side has no tokens.
func (JaccardScorer) Score(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// tokenSet lowercases the text and splits on non-alphanumeric runes.
func tokenSet(s string) map[string]bool {
	tokens := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// intersectPaths returns paths present in both slices, in a's order.
func intersectPaths(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	inB := make(map[string]bool, len(b))
	for _, p := range b {
		inB[p] = true
	}
	var out []string
	for _, p := range a {
		if inB[p] {
			out = append(out, p)
		}
	}
	return out
}

// unionPaths merges b into a without duplicates, preserving order.
func unionPaths(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string(nil), a...)
	for _, p := range a {
		seen[p] = true
	}
	for _, p := range b {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
