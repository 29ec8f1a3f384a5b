package main

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	httphandler "github.com/ericfisherdev/reviewbridge/internal/adapter/driving/http"
	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = cellStyle.Faint(true)
	okStyle     = cellStyle.Foreground(lipgloss.Color("2"))
	errStyle    = cellStyle.Foreground(lipgloss.Color("196"))
	warnStyle   = cellStyle.Foreground(lipgloss.Color("214"))
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case string(model.ReviewStatusCompleted):
		return okStyle
	case string(model.ReviewStatusFailed):
		return errStyle
	case string(model.ReviewStatusPending), string(model.OutcomeTransient), string(model.OutcomeCanceled):
		return warnStyle
	default:
		return cellStyle
	}
}

// renderTable draws rows under headers, coloring the status column.
func renderTable(headers []string, rows [][]string, statusCol int) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == statusCol && row >= 0 && row < len(rows):
				return statusStyle(rows[row][col])
			default:
				return cellStyle
			}
		})
	return t.String()
}

// renderState draws the ledger as a table, one row per recorded PR.
func renderState(doc model.StateDocument, now time.Time) string {
	if len(doc.Repos) == 0 {
		return dimStyle.Render("no repositories recorded yet") + "\n"
	}

	var rows [][]string
	counts := map[model.ReviewStatus]int{}

	for _, repo := range slices.Sorted(maps.Keys(doc.Repos)) {
		rs := doc.Repos[repo]
		if len(rs.PRs) == 0 {
			rows = append(rows, []string{repo, "-", "-", "-", "-"})
			continue
		}
		for _, n := range slices.Sorted(maps.Keys(rs.PRs)) {
			rec := rs.PRs[n]
			counts[rec.Status]++
			rows = append(rows, []string{repo, "#" + strconv.Itoa(n), string(rec.Status), shortSHA(rec.HeadSHA), ago(rec.ReviewedAt, now)})
		}
	}

	summary := fmt.Sprintf("%d completed, %d failed, %d pending",
		counts[model.ReviewStatusCompleted], counts[model.ReviewStatusFailed], counts[model.ReviewStatusPending])
	headers := []string{"REPO", "PR", "STATUS", "HEAD", "REVIEWED"}
	return renderTable(headers, rows, 2) + "\n" + dimStyle.Render(summary) + "\n"
}

// renderRuns draws run log entries, newest first as returned by the API.
func renderRuns(runs []httphandler.RunResponse) string {
	if len(runs) == 0 {
		return dimStyle.Render("no review runs recorded") + "\n"
	}

	sorted := slices.Clone(runs)
	slices.SortStableFunc(sorted, func(a, b httphandler.RunResponse) int {
		return cmp.Compare(b.StartedAt, a.StartedAt)
	})

	rows := make([][]string, 0, len(sorted))
	for _, r := range sorted {
		result := r.CommentURL
		if r.Error != "" {
			result = truncate(r.Error, 60)
		}
		rows = append(rows, []string{
			r.StartedAt,
			r.Repo,
			"#" + strconv.Itoa(r.PRNumber),
			shortSHA(r.HeadSHA),
			r.Status,
			time.Duration(r.Seconds * float64(time.Second)).Round(time.Second).String(),
			result,
		})
	}
	headers := []string{"STARTED", "REPO", "PR", "HEAD", "STATUS", "DURATION", "RESULT"}
	return renderTable(headers, rows, 4) + "\n"
}

func shortSHA(sha string) string {
	if sha == "" {
		return "-"
	}
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func ago(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
