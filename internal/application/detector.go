package application

import (
	"log/slog"
	"slices"

	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
)

// DiffResult is what one repository needs after comparing the remote
// listing with the ledger.
type DiffResult struct {
	Work  []model.WorkItem // sorted by PR number
	Stale []int            // PRs in the ledger that are no longer open
}

// Diff compares the open PRs of a repository with its ledger entry. Rules,
// first match wins:
//  1. base branch outside the allow-list: skip (the PR still counts as open)
//  2. no record: review
//  3. pending record: review (interrupted attempt or manual re-run)
//  4. different head SHA: review
//  5. same head SHA, completed or failed: skip (failures are sticky)
//
// Ledger PRs absent from the listing are returned as Stale.
func Diff(repo model.RepoConfig, open []model.PullRequest, state model.RepoState) DiffResult {
	var res DiffResult
	openSet := make(map[int]struct{}, len(open))

	for _, pr := range open {
		openSet[pr.Number] = struct{}{}

		if !repo.AllowsBranch(pr.BaseBranch) {
			continue
		}
		if pr.HeadSHA == "" {
			slog.Warn("skipping pull request without head sha", "repo", repo.Name, "pr", pr.Number)
			continue
		}

		rec, seen := state.PRs[pr.Number]
		if !needsReview(rec, seen, pr.HeadSHA) {
			continue
		}

		res.Work = append(res.Work, model.WorkItem{
			Repo:       repo.Name,
			Number:     pr.Number,
			HeadSHA:    pr.HeadSHA,
			Skill:      repo.Skill,
			Branch:     pr.Branch,
			BaseBranch: pr.BaseBranch,
			Title:      pr.Title,
			URL:        pr.URL,
			Author:     pr.Author,
		})
	}

	for n := range state.PRs {
		if _, ok := openSet[n]; !ok {
			res.Stale = append(res.Stale, n)
		}
	}

	slices.SortFunc(res.Work, func(a, b model.WorkItem) int { return a.Number - b.Number })
	slices.Sort(res.Stale)
	return res
}

// needsReview applies rules 2 to 5 of Diff to a single record.
func needsReview(rec model.ReviewRecord, seen bool, headSHA string) bool {
	return !seen || rec.Status == model.ReviewStatusPending || rec.HeadSHA != headSHA
}
