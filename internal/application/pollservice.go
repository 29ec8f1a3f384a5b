// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
	"github.com/ericfisherdev/reviewbridge/internal/domain/port/driven"
)

// RepoSource supplies the watched repositories. It is consulted at the start
// of every poll cycle, so configuration changes apply without a restart.
type RepoSource interface {
	LoadRepos() ([]model.RepoConfig, error)
}

// pollRequest represents a manual poll trigger.
type pollRequest struct {
	done chan error
}

// CycleStats summarizes one poll cycle.
type CycleStats struct {
	FinishedAt  time.Time
	Repos       int
	NotModified int
	Dispatched  int
	Deferred    int
	Pruned      int
	Errors      int
}

// repoBackoff tracks a repository whose listing keeps failing.
type repoBackoff struct {
	policy *backoff.ExponentialBackOff
	next   time.Time
}

// PollService drives the poll loop: per interval and per repository it lists
// open PRs conditionally, diffs them against the ledger, dispatches work and
// prunes closed PRs. It never waits for reviews.
type PollService struct {
	github    driven.GitHubClient
	store     driven.StateStore
	scheduler *Scheduler
	repos     RepoSource
	interval  time.Duration
	fatal     func(error)
	now       func() time.Time

	pollCh  chan pollRequest
	nudgeCh chan struct{}

	lastCycle atomic.Pointer[CycleStats]

	// Owned by the loop goroutine.
	lastRepos []model.RepoConfig
	seen      map[string]model.RepoConfig
	backoffs  map[string]*repoBackoff
}

// NewPollService creates a new PollService with all required dependencies.
func NewPollService(
	github driven.GitHubClient,
	store driven.StateStore,
	scheduler *Scheduler,
	repos RepoSource,
	interval time.Duration,
	fatal func(error),
) *PollService {
	return &PollService{
		github:    github,
		store:     store,
		scheduler: scheduler,
		repos:     repos,
		interval:  interval,
		fatal:     fatal,
		now:       time.Now,
		pollCh:    make(chan pollRequest),
		nudgeCh:   make(chan struct{}, 1),
		seen:      make(map[string]model.RepoConfig),
		backoffs:  make(map[string]*repoBackoff),
	}
}

// Start begins the polling loop. It runs an immediate poll, then polls on the
// configured interval. It also serves manual poll requests. Start blocks
// until the context is canceled.
func (s *PollService) Start(ctx context.Context) {
	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("poll service stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		case <-s.nudgeCh:
			s.runCycle(ctx)
		case req := <-s.pollCh:
			req.done <- s.runCycle(ctx)
		}
	}
}

// TriggerPoll runs a poll cycle now, bypassing the interval. It blocks until
// the cycle completes or ctx is canceled.
func (s *PollService) TriggerPoll(ctx context.Context) error {
	done := make(chan error, 1)

	select {
	case s.pollCh <- pollRequest{done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Nudge asks for a poll cycle without waiting for it. Nudges that arrive while
// one is pending are coalesced.
func (s *PollService) Nudge() {
	select {
	case s.nudgeCh <- struct{}{}:
	default:
	}
}

// LastCycle returns the stats of the most recent completed cycle.
func (s *PollService) LastCycle() (CycleStats, bool) {
	if st := s.lastCycle.Load(); st != nil {
		return *st, true
	}
	return CycleStats{}, false
}

// Rerun requests a fresh review of a PR regardless of its last outcome. The
// record is marked pending and the repository's ETag dropped, so the next
// cycle emits the PR even when its head SHA did not move. The requeue happens
// under the scheduler lock so a review dispatched concurrently cannot
// overwrite it.
func (s *PollService) Rerun(repo string, number int) error {
	key := model.WorkKey{Repo: repo, Number: number}
	err := s.scheduler.WhileIdle(key, func() error {
		if err := s.store.Requeue(repo, number); err != nil {
			return err
		}
		s.store.ClearETag(repo)
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.store.Commit(); err != nil {
		err = fmt.Errorf("commit state after re-run request: %w", err)
		s.fatal(err)
		return err
	}

	slog.Info("re-run requested", "repo", repo, "pr", number)
	s.Nudge()
	return nil
}

// runCycle polls every enabled repository once.
func (s *PollService) runCycle(ctx context.Context) error {
	start := s.now()

	repos, err := s.repos.LoadRepos()
	if err != nil {
		slog.Error("failed to load repositories, keeping previous list", "error", err)
		repos = s.lastRepos
	} else {
		s.lastRepos = repos
	}

	var stats CycleStats
	var errs []error
	for _, repo := range repos {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !repo.Enabled {
			continue
		}
		stats.Repos++

		if b, ok := s.backoffs[repo.Name]; ok && s.now().Before(b.next) {
			slog.Debug("repository in backoff", "repo", repo.Name, "retry_at", b.next)
			continue
		}

		if err := s.pollRepo(ctx, repo, &stats); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.Errors++
			errs = append(errs, err)
		}
	}

	stats.FinishedAt = s.now()
	s.lastCycle.Store(&stats)
	slog.Info("poll cycle complete",
		"repos", stats.Repos,
		"not_modified", stats.NotModified,
		"dispatched", stats.Dispatched,
		"deferred", stats.Deferred,
		"pruned", stats.Pruned,
		"errors", stats.Errors,
		"duration", stats.FinishedAt.Sub(start).Round(time.Millisecond),
	)

	return errors.Join(errs...)
}

// pollRepo runs one repository through fetch, diff, dispatch and prune.
func (s *PollService) pollRepo(ctx context.Context, repo model.RepoConfig, stats *CycleStats) error {
	etag := s.store.ETag(repo.Name)
	if prev, ok := s.seen[repo.Name]; !ok || !prev.Equal(repo) {
		// New or changed configuration: the last listing was diffed under
		// other rules, so it must not short-circuit.
		etag = ""
	}

	listing, err := s.github.ListOpenPullRequests(ctx, repo.Name, etag)
	if err != nil {
		s.backOff(repo.Name, err)
		return fmt.Errorf("polling %s: %w", repo.Name, err)
	}
	delete(s.backoffs, repo.Name)
	s.seen[repo.Name] = repo

	if listing.NotModified {
		stats.NotModified++
		slog.Debug("pull requests not modified", "repo", repo.Name)
		return nil
	}

	s.store.EnsureRepo(repo.Name)
	ledger := s.store.Snapshot().Repos[repo.Name]
	diff := Diff(repo, listing.PRs, ledger)

	complete := true
	for _, item := range diff.Work {
		err := s.scheduler.Dispatch(item, s.claim(item))
		switch {
		case err == nil:
			stats.Dispatched++
		case errors.Is(err, ErrNotNeeded):
			slog.Debug("review finished since snapshot", "repo", item.Repo, "pr", item.Number, "head_sha", item.HeadSHA)
		case errors.Is(err, ErrAlreadyInFlight):
			complete = false
			slog.Debug("review already running", "repo", item.Repo, "pr", item.Number)
		case errors.Is(err, ErrPoolSaturated):
			complete = false
			stats.Deferred++
			slog.Info("review deferred, pool saturated", "repo", item.Repo, "pr", item.Number, "head_sha", item.HeadSHA)
		default:
			complete = false
			slog.Debug("review not dispatched", "repo", item.Repo, "pr", item.Number, "error", err)
		}
	}

	// Only this goroutine dispatches, so the running set can shrink but not
	// grow before Prune runs.
	running := make(map[int]bool)
	for _, item := range s.scheduler.Running() {
		if item.Repo == repo.Name {
			running[item.Number] = true
		}
	}
	stale := make(map[int]bool, len(diff.Stale))
	for _, n := range diff.Stale {
		stale[n] = true
	}
	removed := s.store.Prune(repo.Name, func(n int) bool {
		return !stale[n] || running[n]
	})
	stats.Pruned += len(removed)
	if len(removed) > 0 {
		slog.Info("pruned closed pull requests", "repo", repo.Name, "prs", removed)
	}

	// Only a fully dispatched listing may be cached; otherwise the next cycle
	// has to see the same PRs again.
	if complete {
		s.store.SetETag(repo.Name, listing.ETag)
	} else {
		s.store.ClearETag(repo.Name)
	}

	if err := s.store.Commit(); err != nil {
		err = fmt.Errorf("commit state after polling %s: %w", repo.Name, err)
		s.fatal(err)
		return err
	}

	return nil
}

// claim re-checks the item against the live record and marks it pending.
// It runs under the scheduler lock, after any earlier review of the PR has
// recorded its outcome, so a head SHA is never reviewed twice because the
// diff was computed from an older snapshot.
func (s *PollService) claim(item model.WorkItem) func() bool {
	return func() bool {
		rec, seen := s.store.Lookup(item.Repo, item.Number)
		if !needsReview(rec, seen, item.HeadSHA) {
			return false
		}
		s.store.MarkPending(item.Repo, item.Number)
		return true
	}
}

func (s *PollService) backOff(repo string, err error) {
	b, ok := s.backoffs[repo]
	if !ok {
		b = &repoBackoff{policy: newRepoBackOff()}
		s.backoffs[repo] = b
	}
	wait := b.policy.NextBackOff()
	b.next = s.now().Add(wait)

	slog.Warn("repository poll failed, backing off",
		"repo", repo,
		"retry_in", wait,
		"error", err,
	)
}

// newRepoBackOff starts at 30s and doubles up to 5m, without giving up.
func newRepoBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 30 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Reconcile prepares for the first cycle: repositories with pending records
// lose their ETag so interrupted reviews are listed and retried, and every
// worktree left on disk is removed since no worker owns one yet. Only a
// failed commit is returned; worktree cleanup problems are logged.
func Reconcile(ctx context.Context, store driven.StateStore, worktrees driven.WorktreeManager) error {
	pending := store.PendingRepos()
	for _, repo := range pending {
		store.ClearETag(repo)
	}
	if len(pending) > 0 {
		slog.Info("interrupted reviews found", "repos", pending)
		if err := store.Commit(); err != nil {
			return fmt.Errorf("commit state: %w", err)
		}
	}

	removed, err := worktrees.Reconcile(ctx, func(model.WorkKey) bool { return false })
	if removed > 0 {
		slog.Info("removed orphaned worktrees", "count", removed)
	}
	if err != nil {
		slog.Warn("worktree reconciliation incomplete", "error", err)
	}
	return nil
}
