package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
)

// UpsertComment edits the issue comment on the PR whose body starts with
// marker, or creates a new comment when none exists. Each skill owns one
// comment per PR, so a re-review replaces the previous text.
func (c *Client) UpsertComment(ctx context.Context, repoFullName string, prNumber int, marker, body string) (string, error) {
	owner, repo, err := model.SplitRepoName(repoFullName)
	if err != nil {
		return "", err
	}

	existing, err := c.findComment(ctx, owner, repo, prNumber, marker)
	if err != nil {
		return "", fmt.Errorf("finding review comment on %s#%d: %w", repoFullName, prNumber, err)
	}

	comment := &gh.IssueComment{Body: gh.Ptr(body)}

	if existing != nil {
		updated, resp, err := c.gh.Issues.EditComment(ctx, owner, repo, existing.GetID(), comment)
		if err != nil {
			return "", fmt.Errorf("editing comment %d on %s#%d: %w", existing.GetID(), repoFullName, prNumber, err)
		}
		logRateLimit(resp, repoFullName, 0, 1)
		return updated.GetHTMLURL(), nil
	}

	created, resp, err := c.gh.Issues.CreateComment(ctx, owner, repo, prNumber, comment)
	if err != nil {
		return "", fmt.Errorf("creating comment on %s#%d: %w", repoFullName, prNumber, err)
	}
	logRateLimit(resp, repoFullName, 0, 1)
	return created.GetHTMLURL(), nil
}

// findComment pages through the PR's issue comments looking for marker.
// Requests go through the HTTP cache but force revalidation, so unchanged
// pages cost a 304.
func (c *Client) findComment(ctx context.Context, owner, repo string, prNumber int, marker string) (*gh.IssueComment, error) {
	page := 1
	for {
		u := fmt.Sprintf("repos/%s/%s/issues/%d/comments?per_page=%d&page=%d",
			url.PathEscape(owner), url.PathEscape(repo), prNumber, perPage, page)

		req, err := c.gh.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Cache-Control", "max-age=0")

		var comments []*gh.IssueComment
		resp, err := c.gh.Do(ctx, req, &comments)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		logRateLimit(resp, owner+"/"+repo, page, len(comments))

		for _, cm := range comments {
			if strings.HasPrefix(strings.TrimSpace(cm.GetBody()), marker) {
				return cm, nil
			}
		}

		if resp.NextPage == 0 {
			return nil, nil
		}
		page = resp.NextPage
	}
}
