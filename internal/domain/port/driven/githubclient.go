package driven

import (
	"context"

	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
)

// GitHubClient defines the driven port for the pull-request host.
type GitHubClient interface {
	// ListOpenPullRequests lists every open PR of repo. When etag is non-empty
	// the request is conditional and an unchanged listing comes back with
	// NotModified set.
	ListOpenPullRequests(ctx context.Context, repoFullName, etag string) (model.Listing, error)

	// UpsertComment edits the PR comment whose body starts with marker, or
	// creates one. It returns the comment's HTML URL.
	UpsertComment(ctx context.Context, repoFullName string, prNumber int, marker, body string) (string, error)
}
