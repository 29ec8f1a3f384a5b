package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitRepoName(t *testing.T) {
	owner, name, err := SplitRepoName("acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", name)

	for _, bad := range []string{"", "acme", "/widgets", "acme/", "acme/widgets/extra"} {
		_, _, err := SplitRepoName(bad)
		assert.ErrorIs(t, err, ErrInvalidRepoName, bad)
	}
}

func TestRepoConfig_AllowsBranch(t *testing.T) {
	all := RepoConfig{Name: "acme/widgets"}
	assert.True(t, all.AllowsBranch("main"))
	assert.True(t, all.AllowsBranch("release/1.x"))

	restricted := RepoConfig{Name: "acme/widgets", Branches: []string{"main", "develop"}}
	assert.True(t, restricted.AllowsBranch("develop"))
	assert.False(t, restricted.AllowsBranch("feature"))
}

func TestRepoConfig_Equal(t *testing.T) {
	a := RepoConfig{Name: "acme/widgets", Skill: "review-pr", Branches: []string{"main"}, Enabled: true}
	b := a
	b.Branches = []string{"main"}
	assert.True(t, a.Equal(b))

	b.Skill = "security-review"
	assert.False(t, a.Equal(b))
}

func TestValidateSkillName(t *testing.T) {
	assert.NoError(t, ValidateSkillName("review-pr"))
	assert.NoError(t, ValidateSkillName("security_review.v2"))

	for _, bad := range []string{"", ".", "..", "../etc", "a/b", `a\b`, "x..y"} {
		assert.ErrorIs(t, ValidateSkillName(bad), ErrInvalidSkillName, bad)
	}
}

func TestStateDocument_CloneIsDeep(t *testing.T) {
	doc := NewStateDocument()
	doc.Repos["acme/widgets"] = RepoState{
		ETag: `"v1"`,
		PRs:  map[int]ReviewRecord{7: {HeadSHA: "abc123", Status: ReviewStatusCompleted}},
	}

	cp := doc.Clone()
	cp.Repos["acme/widgets"].PRs[7] = ReviewRecord{HeadSHA: "def456", Status: ReviewStatusPending}

	rec, ok := doc.Record("acme/widgets", 7)
	require.True(t, ok)
	assert.Equal(t, "abc123", rec.HeadSHA)

	_, ok = doc.Record("acme/gadgets", 1)
	assert.False(t, ok)
}
