package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
)

// ErrFetchFailed marks a failure to fetch a PR head from the remote. It is
// transient, unlike other worktree failures.
var ErrFetchFailed = errors.New("fetch pull request head")

// WorktreeManager creates and destroys isolated checkouts keyed by (repo, PR).
type WorktreeManager interface {
	// Acquire fetches the PR head into the repository mirror and creates a
	// detached worktree at headSHA, replacing any leftover checkout.
	Acquire(ctx context.Context, repo string, number int, headSHA string) (model.Worktree, error)
	// Release removes the checkout and its git registration.
	Release(ctx context.Context, wt model.Worktree) error
	// Reconcile removes every worktree on disk that owned does not claim and
	// returns how many were removed.
	Reconcile(ctx context.Context, owned func(model.WorkKey) bool) (int, error)
}
