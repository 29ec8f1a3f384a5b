// Package github implements the GitHubClient port using the go-github library.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
	"github.com/ericfisherdev/reviewbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.GitHubClient = (*Client)(nil)

const perPage = 100

// Client implements the driven.GitHubClient port using the go-github library.
type Client struct {
	gh *gh.Client
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag revalidation for comment listings)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
//
// apiURL selects a GitHub Enterprise endpoint; empty means api.github.com.
func NewClient(token, apiURL string) (*Client, error) {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}

	if apiURL != "" {
		u, err := parseBaseURL(apiURL)
		if err != nil {
			return nil, err
		}
		client.BaseURL = u
	}

	return &Client{gh: client}, nil
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	client.BaseURL = u

	return &Client{gh: client}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	return u, nil
}

// ListOpenPullRequests lists all open pull requests of a repository.
//
// The request carries If-None-Match when etag is set; a 304 returns a listing
// with NotModified and no PRs. The listing bypasses the HTTP cache because its
// validator is persisted by the caller. GitHub computes the ETag per page, so a
// listing that spans several pages returns an empty ETag and the next poll is
// unconditional.
func (c *Client) ListOpenPullRequests(ctx context.Context, repoFullName, etag string) (model.Listing, error) {
	owner, repo, err := model.SplitRepoName(repoFullName)
	if err != nil {
		return model.Listing{}, err
	}

	listing := model.Listing{PRs: []model.PullRequest{}}
	page := 1

	for {
		u := fmt.Sprintf("repos/%s/%s/pulls?state=open&sort=created&direction=asc&per_page=%d&page=%d",
			url.PathEscape(owner), url.PathEscape(repo), perPage, page)

		req, err := c.gh.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return model.Listing{}, fmt.Errorf("building pull request listing for %s: %w", repoFullName, err)
		}
		req.Header.Set("Cache-Control", "no-store")
		if page == 1 && etag != "" {
			req.Header.Set("If-None-Match", etag)
		}

		var prs []*gh.PullRequest
		resp, err := c.gh.Do(ctx, req, &prs)
		if resp != nil && resp.StatusCode == http.StatusNotModified {
			logRateLimit(resp, repoFullName, page, 0)
			return model.Listing{PRs: []model.PullRequest{}, ETag: etag, NotModified: true}, nil
		}
		if err != nil {
			return model.Listing{}, fmt.Errorf("listing pull requests for %s (page %d): %w", repoFullName, page, err)
		}

		logRateLimit(resp, repoFullName, page, len(prs))

		if page == 1 {
			listing.ETag = resp.Header.Get("ETag")
		}
		for _, pr := range prs {
			listing.PRs = append(listing.PRs, mapPullRequest(pr))
		}

		if resp.NextPage == 0 {
			break
		}
		listing.ETag = ""
		page = resp.NextPage
	}

	return listing, nil
}

// logRateLimit logs rate limit information from a GitHub API response.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"status", resp.StatusCode,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// mapPullRequest converts a go-github PullRequest to a domain model PullRequest.
// It uses GetXxx() helper methods exclusively to avoid nil pointer panics.
func mapPullRequest(pr *gh.PullRequest) model.PullRequest {
	return model.PullRequest{
		Number:     pr.GetNumber(),
		Title:      pr.GetTitle(),
		Author:     pr.GetUser().GetLogin(),
		URL:        pr.GetHTMLURL(),
		HeadSHA:    pr.GetHead().GetSHA(),
		Branch:     pr.GetHead().GetRef(),
		BaseBranch: pr.GetBase().GetRef(),
	}
}
