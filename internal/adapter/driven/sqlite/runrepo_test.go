package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
)

func makeRun(repo string, number int, status model.Outcome, startedAt time.Time) model.ReviewRun {
	return model.ReviewRun{
		Repo:       repo,
		PRNumber:   number,
		HeadSHA:    "abc123",
		Skill:      "review-pr",
		Status:     status,
		Output:     "## Summary\nfine",
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(90 * time.Second),
	}
}

func TestRunRepo_InsertAndList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunRepo(db)
	ctx := context.Background()
	base := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)

	run := makeRun("acme/widgets", 7, model.OutcomeCompleted, base)
	run.ID = "run-1"
	run.CommentURL = "https://github.com/acme/widgets/pull/7#issuecomment-1"
	require.NoError(t, repo.Insert(ctx, run))

	failed := makeRun("acme/widgets", 7, model.OutcomeFailed, base.Add(time.Hour))
	failed.Error = "skill not found"
	require.NoError(t, repo.Insert(ctx, failed))

	runs, err := repo.List(ctx, model.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, model.OutcomeFailed, runs[0].Status, "newest first")
	assert.NotEmpty(t, runs[0].ID, "id is generated")
	assert.Equal(t, "skill not found", runs[0].Error)

	got := runs[1]
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, "acme/widgets", got.Repo)
	assert.Equal(t, 7, got.PRNumber)
	assert.Equal(t, "abc123", got.HeadSHA)
	assert.Equal(t, "review-pr", got.Skill)
	assert.Equal(t, "## Summary\nfine", got.Output)
	assert.Equal(t, "https://github.com/acme/widgets/pull/7#issuecomment-1", got.CommentURL)
	assert.True(t, base.Equal(got.StartedAt))
	assert.Equal(t, 90*time.Second, got.Duration())
}

func TestRunRepo_ListFilters(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunRepo(db)
	ctx := context.Background()
	base := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(ctx, makeRun("acme/widgets", 1, model.OutcomeCompleted, base)))
	require.NoError(t, repo.Insert(ctx, makeRun("acme/widgets", 2, model.OutcomeCompleted, base.Add(time.Minute))))
	require.NoError(t, repo.Insert(ctx, makeRun("acme/gadgets", 1, model.OutcomeCompleted, base.Add(2*time.Minute))))

	runs, err := repo.List(ctx, model.RunFilter{Repo: "acme/widgets"})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = repo.List(ctx, model.RunFilter{Repo: "acme/widgets", PRNumber: 2})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].PRNumber)

	runs, err = repo.List(ctx, model.RunFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "acme/gadgets", runs[0].Repo)
}

func TestRunRepo_ListEmpty(t *testing.T) {
	db := setupTestDB(t)

	runs, err := NewRunRepo(db).List(context.Background(), model.RunFilter{Repo: "nobody/nothing"})
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

func TestRunRepo_RejectsUnknownStatus(t *testing.T) {
	db := setupTestDB(t)

	err := NewRunRepo(db).Insert(context.Background(), makeRun("acme/widgets", 1, model.Outcome("weird"), time.Now()))
	assert.Error(t, err)
}

func TestParseTime(t *testing.T) {
	want := time.Date(2026, 2, 10, 10, 0, 0, 123, time.UTC)
	got, err := parseTime(formatTime(want))
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	_, err = parseTime("yesterday")
	assert.Error(t, err)
}
