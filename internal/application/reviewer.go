package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
	"github.com/ericfisherdev/reviewbridge/internal/domain/port/driven"
)

// ErrReviewTimeout is the cancellation cause of a review that ran too long.
var ErrReviewTimeout = errors.New("review timed out")

const notifyTimeout = 15 * time.Second

// RunResult is the outcome of running and publishing one review.
type RunResult struct {
	Outcome    model.Outcome
	Output     string // review text, or diagnostics when the agent failed
	CommentURL string
	Err        error
}

// ReviewRunner runs the agent in a checkout and publishes its output.
type ReviewRunner struct {
	agent    driven.ReviewAgent
	github   driven.GitHubClient
	notifier driven.Notifier // optional
	timeout  time.Duration
	now      func() time.Time
}

// NewReviewRunner creates a ReviewRunner. notifier may be nil.
func NewReviewRunner(
	agent driven.ReviewAgent,
	github driven.GitHubClient,
	notifier driven.Notifier,
	timeout time.Duration,
) *ReviewRunner {
	return &ReviewRunner{
		agent:    agent,
		github:   github,
		notifier: notifier,
		timeout:  timeout,
		now:      time.Now,
	}
}

func buildPrompt(item model.WorkItem) string {
	return fmt.Sprintf(
		"Execute the following skill for PR #%d (branch `%s` targeting `%s`).\n\n"+
			"The repository is `%s`. You are in the PR's worktree.",
		item.Number, item.Branch, item.BaseBranch, item.Repo,
	)
}

// Run executes the agent once in dir with instructions appended to its system
// prompt. A non-zero exit or timeout fails the review and nothing is posted.
// Otherwise the output is published as the skill's comment on the PR.
func (r *ReviewRunner) Run(ctx context.Context, item model.WorkItem, dir, instructions string) RunResult {
	runCtx, cancel := context.WithTimeoutCause(ctx, r.timeout, ErrReviewTimeout)
	defer cancel()

	res, err := r.agent.Run(runCtx, driven.AgentRequest{
		Dir:          dir,
		Prompt:       buildPrompt(item),
		Instructions: instructions,
	})
	if err != nil {
		if ctx.Err() != nil {
			return RunResult{Outcome: model.OutcomeCanceled, Output: res.Diagnostics, Err: err}
		}
		if errors.Is(context.Cause(runCtx), ErrReviewTimeout) {
			err = fmt.Errorf("%w after %s", ErrReviewTimeout, r.timeout)
		}
		return RunResult{Outcome: model.OutcomeFailed, Output: res.Diagnostics, Err: err}
	}

	output := strings.TrimSpace(res.Output)
	if output == "" {
		output = emptyReviewText
	}

	body := FormatComment(item.Skill, output, item.HeadSHA, r.now())
	url, err := r.github.UpsertComment(ctx, item.Repo, item.Number, CommentMarker(item.Skill), body)
	if err != nil {
		outcome := model.OutcomeTransient
		if ctx.Err() != nil {
			outcome = model.OutcomeCanceled
		}
		return RunResult{Outcome: outcome, Output: output, Err: fmt.Errorf("publish review: %w", err)}
	}

	r.notify(ctx, item, output, url)

	return RunResult{Outcome: model.OutcomeCompleted, Output: output, CommentURL: url}
}

// notify is best effort; failures are only logged.
func (r *ReviewRunner) notify(ctx context.Context, item model.WorkItem, output, url string) {
	if r.notifier == nil {
		return
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	err := r.notifier.Notify(nctx, model.ReviewNotice{
		Repo:       item.Repo,
		PRNumber:   item.Number,
		Title:      item.Title,
		PRURL:      item.URL,
		CommentURL: url,
		Author:     item.Author,
		Review:     output,
	})
	if err != nil {
		slog.Warn("review notification failed", "repo", item.Repo, "pr", item.Number, "error", err)
	}
}
