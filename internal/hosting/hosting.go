// Package hosting defines the hosting-API client used to track issues
// and pull requests. The concrete implementation shells out to the gh
// CLI; the Client interface is what the rest of groundskeeper consumes.
package hosting

import (
	"context"
)

// Issue is a tracked work item owned by the hosting API.
type Issue struct {
	ID     int      `json:"number"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels"`
}

// HasLabel reports whether the issue carries the given label.
func (i Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// NewIssue describes an issue to create.
type NewIssue struct {
	Title  string
	Body   string
	Labels []string
}

// PullRequest identifies a created pull request.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// NewPullRequest describes a pull request to create.
type NewPullRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// Client is the hosting API surface groundskeeper depends on.
// Implementations must be safe for concurrent use.
type Client interface {
	ListOpenIssues(ctx context.Context, label string) ([]Issue, error)
	CreateIssue(ctx context.Context, issue NewIssue) (Issue, error)
	AddLabels(ctx context.Context, id int, labels []string) error
	RemoveLabel(ctx context.Context, id int, label string) error
	AddComment(ctx context.Context, id int, text string) error
	CloseIssue(ctx context.Context, id int, comment string) error
	CreatePR(ctx context.Context, pr NewPullRequest) (PullRequest, error)

	// RateLimitRemaining reports the remaining API quota, for
	// observability only.
	RateLimitRemaining(ctx context.Context) (int, error)
}
