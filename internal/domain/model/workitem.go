package model

import "fmt"

// WorkKey identifies a pull request across repositories.
type WorkKey struct {
	Repo   string
	Number int
}

func (k WorkKey) String() string {
	return fmt.Sprintf("%s#%d", k.Repo, k.Number)
}

// WorkItem is one review to run: a PR at a specific head commit with a skill.
type WorkItem struct {
	Repo       string
	Number     int
	HeadSHA    string
	Skill      string
	Branch     string
	BaseBranch string
	Title      string
	URL        string
	Author     string
}

// Key returns the in-flight key of the item.
func (w WorkItem) Key() WorkKey {
	return WorkKey{Repo: w.Repo, Number: w.Number}
}

// Worktree is an isolated checkout owned by one worker for one review.
type Worktree struct {
	Repo    string
	Number  int
	HeadSHA string
	Path    string
}
