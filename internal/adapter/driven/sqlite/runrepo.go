package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
	"github.com/ericfisherdev/reviewbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RunLog = (*RunRepo)(nil)

const defaultRunLimit = 50

// RunRepo is the SQLite implementation of the RunLog port interface.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new RunRepo backed by the given DB.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// Insert stores one review attempt. A missing ID is generated.
func (r *RunRepo) Insert(ctx context.Context, run model.ReviewRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	const query = `
		INSERT INTO review_runs (id, repo, pr_number, head_sha, skill, status, output, error, comment_url, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Writer.ExecContext(ctx, query,
		run.ID, run.Repo, run.PRNumber, run.HeadSHA, run.Skill, string(run.Status),
		run.Output, run.Error, run.CommentURL,
		formatTime(run.StartedAt), formatTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert review run for %s#%d: %w", run.Repo, run.PRNumber, err)
	}

	return nil
}

// List returns runs newest first, filtered by repo and PR when set.
func (r *RunRepo) List(ctx context.Context, filter model.RunFilter) ([]model.ReviewRun, error) {
	var (
		where []string
		args  []any
	)
	if filter.Repo != "" {
		where = append(where, "repo = ?")
		args = append(args, filter.Repo)
	}
	if filter.PRNumber > 0 {
		where = append(where, "pr_number = ?")
		args = append(args, filter.PRNumber)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}

	query := `
		SELECT id, repo, pr_number, head_sha, skill, status, output, error, comment_url, started_at, finished_at
		FROM review_runs`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY started_at DESC, id\n\t\tLIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query review runs: %w", err)
	}
	defer rows.Close()

	runs := []model.ReviewRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review runs: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*model.ReviewRun, error) {
	var run model.ReviewRun
	var status, startedAt, finishedAt string

	err := s.Scan(
		&run.ID, &run.Repo, &run.PRNumber, &run.HeadSHA, &run.Skill, &status,
		&run.Output, &run.Error, &run.CommentURL, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Status = model.Outcome(status)

	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}

	return &run, nil
}

// formatTime stores timestamps as fixed-width UTC text so they sort lexically.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05.000000000Z",
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %q", s)
}
