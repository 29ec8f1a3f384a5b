package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
	"github.com/ericfisherdev/reviewbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ Worker = (*ReviewService)(nil)

const runLogTimeout = 10 * time.Second

// ReviewService is the per-item pipeline run by the scheduler:
// worktree, skill, agent, publish, record.
type ReviewService struct {
	worktrees driven.WorktreeManager
	skills    driven.SkillResolver
	runner    *ReviewRunner
	store     driven.StateStore
	runLog    driven.RunLog // optional
	fatal     func(error)
	now       func() time.Time
}

// NewReviewService creates a ReviewService. fatal is called when the ledger
// cannot be committed; the daemon cannot continue after that. runLog may be nil.
func NewReviewService(
	worktrees driven.WorktreeManager,
	skills driven.SkillResolver,
	runner *ReviewRunner,
	store driven.StateStore,
	runLog driven.RunLog,
	fatal func(error),
) *ReviewService {
	return &ReviewService{
		worktrees: worktrees,
		skills:    skills,
		runner:    runner,
		store:     store,
		runLog:    runLog,
		fatal:     fatal,
		now:       time.Now,
	}
}

// Process reviews one item and records the outcome. The dispatcher has
// already marked the record pending. The outcome is committed before Process
// returns, so the scheduler releases the PR only after the ledger reflects
// the attempt.
func (s *ReviewService) Process(ctx context.Context, item model.WorkItem) {
	started := s.now()

	slog.Info("review started", "repo", item.Repo, "pr", item.Number, "head_sha", item.HeadSHA, "skill", item.Skill)

	res := s.execute(ctx, item)
	s.finish(ctx, item, started, res)
}

func (s *ReviewService) execute(ctx context.Context, item model.WorkItem) RunResult {
	wt, err := s.worktrees.Acquire(ctx, item.Repo, item.Number, item.HeadSHA)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return RunResult{Outcome: model.OutcomeCanceled, Err: err}
		case errors.Is(err, driven.ErrFetchFailed):
			return RunResult{Outcome: model.OutcomeTransient, Err: err}
		default:
			return RunResult{Outcome: model.OutcomeFailed, Err: err}
		}
	}
	defer func() {
		if err := s.worktrees.Release(context.WithoutCancel(ctx), wt); err != nil {
			slog.Error("failed to release worktree", "repo", item.Repo, "pr", item.Number, "path", wt.Path, "error", err)
		}
	}()

	instructions, err := s.skills.Resolve(wt.Path, item.Skill)
	if err != nil {
		return RunResult{Outcome: model.OutcomeFailed, Err: err}
	}

	return s.runner.Run(ctx, item, wt.Path, instructions)
}

// finish records the outcome in the ledger and the run log. Completed and
// failed attempts advance head_sha; transient and canceled ones leave the
// record pending and drop the repo's ETag so the next cycle re-lists it.
func (s *ReviewService) finish(ctx context.Context, item model.WorkItem, started time.Time, res RunResult) {
	finished := s.now()

	switch res.Outcome {
	case model.OutcomeCompleted, model.OutcomeFailed:
		status := model.ReviewStatusCompleted
		if res.Outcome == model.OutcomeFailed {
			status = model.ReviewStatusFailed
		}
		s.store.Record(item.Repo, item.Number, model.ReviewRecord{
			HeadSHA:    item.HeadSHA,
			ReviewedAt: finished.UTC(),
			Status:     status,
		})
	default:
		s.store.ClearETag(item.Repo)
	}

	if err := s.store.Commit(); err != nil {
		s.fatal(fmt.Errorf("commit state after reviewing %s: %w", item.Key(), err))
	}

	s.logOutcome(item, started, finished, res)
	s.appendRun(ctx, item, started, finished, res)
}

// Recovered records a panicking review as failed so the pool stays usable
// and the commit is not retried in a loop.
func (s *ReviewService) Recovered(ctx context.Context, item model.WorkItem, panicValue any) {
	started := s.now()
	s.finish(ctx, item, started, RunResult{
		Outcome: model.OutcomeFailed,
		Err:     fmt.Errorf("review panicked: %v", panicValue),
	})
}

func (s *ReviewService) logOutcome(item model.WorkItem, started, finished time.Time, res RunResult) {
	attrs := []any{
		"repo", item.Repo,
		"pr", item.Number,
		"head_sha", item.HeadSHA,
		"outcome", res.Outcome,
		"duration", finished.Sub(started).Round(time.Millisecond),
	}

	switch res.Outcome {
	case model.OutcomeCompleted:
		slog.Info("review completed", append(attrs, "comment_url", res.CommentURL)...)
	case model.OutcomeFailed:
		slog.Error("review failed", append(attrs, "error", res.Err)...)
	case model.OutcomeTransient:
		slog.Warn("review will be retried", append(attrs, "error", res.Err)...)
	default:
		slog.Info("review interrupted", append(attrs, "error", res.Err)...)
	}
}

func (s *ReviewService) appendRun(ctx context.Context, item model.WorkItem, started, finished time.Time, res RunResult) {
	if s.runLog == nil {
		return
	}

	run := model.ReviewRun{
		Repo:       item.Repo,
		PRNumber:   item.Number,
		HeadSHA:    item.HeadSHA,
		Skill:      item.Skill,
		Status:     res.Outcome,
		Output:     res.Output,
		CommentURL: res.CommentURL,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runLogTimeout)
	defer cancel()

	if err := s.runLog.Insert(lctx, run); err != nil {
		slog.Warn("failed to append run log", "repo", item.Repo, "pr", item.Number, "error", err)
	}
}
