package model

import "time"

// ReviewRecord is the durable fact about the most recent review attempt of a PR.
type ReviewRecord struct {
	HeadSHA    string       `json:"head_sha"`
	ReviewedAt time.Time    `json:"reviewed_at"`
	Status     ReviewStatus `json:"review_status"`
}

// ReviewRun is one attempt as kept in the run log. Unlike ReviewRecord it keeps
// every attempt along with its output.
type ReviewRun struct {
	ID         string
	Repo       string
	PRNumber   int
	HeadSHA    string
	Skill      string
	Status     Outcome
	Output     string
	Error      string
	CommentURL string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the attempt ran.
func (r ReviewRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunFilter narrows a run log query. Zero values mean no filter.
type RunFilter struct {
	Repo     string
	PRNumber int
	Limit    int
}

// ReviewNotice is what gets announced after a review is published.
type ReviewNotice struct {
	Repo       string
	PRNumber   int
	Title      string
	PRURL      string
	CommentURL string
	Author     string
	Review     string
}
