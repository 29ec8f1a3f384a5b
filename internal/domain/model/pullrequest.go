package model

// PullRequest is the subset of an open GitHub pull request the daemon needs.
type PullRequest struct {
	Number     int
	Title      string
	Author     string
	URL        string
	HeadSHA    string
	Branch     string
	BaseBranch string
}

// Listing is the result of a conditional open-PR listing for one repository.
type Listing struct {
	PRs         []PullRequest
	ETag        string
	NotModified bool // 304: PRs is empty and ETag echoes the request.
}
