package model

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// DefaultSkill is the skill used when a repository entry does not name one.
const DefaultSkill = "review-pr"

var (
	// ErrInvalidRepoName is returned when a repository name is not of the form owner/name.
	ErrInvalidRepoName = errors.New("invalid repository name")
	// ErrInvalidSkillName is returned for skill names that are not a single path component.
	ErrInvalidSkillName = errors.New("invalid skill name")
)

// RepoConfig describes one watched repository. It is immutable after load.
type RepoConfig struct {
	Name     string   // owner/name
	Skill    string   // skill document to run, default DefaultSkill
	Branches []string // base-branch allow-list, empty means all
	Enabled  bool
}

// AllowsBranch reports whether PRs targeting base should be reviewed.
func (r RepoConfig) AllowsBranch(base string) bool {
	if len(r.Branches) == 0 {
		return true
	}
	return slices.Contains(r.Branches, base)
}

// Equal reports whether two configs describe the same review behavior.
func (r RepoConfig) Equal(o RepoConfig) bool {
	return r.Name == o.Name &&
		r.Skill == o.Skill &&
		r.Enabled == o.Enabled &&
		slices.Equal(r.Branches, o.Branches)
}

// SplitRepoName splits "owner/name" into its components.
func SplitRepoName(fullName string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("%w: %q (expected owner/name)", ErrInvalidRepoName, fullName)
	}
	return owner, name, nil
}

// ValidateSkillName rejects skill names that could escape the skills directory.
func ValidateSkillName(skill string) error {
	if skill == "" || skill == "." || skill == ".." ||
		strings.ContainsAny(skill, `/\`) || strings.Contains(skill, "..") ||
		strings.ContainsRune(skill, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidSkillName, skill)
	}
	return nil
}
