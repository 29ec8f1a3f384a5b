package application

import (
	"fmt"
	"time"
)

const (
	// maxCommentLength stays under GitHub's 65536 character comment limit.
	maxCommentLength = 65000
	truncationNotice = "\n\n---\n*Output truncated (exceeded GitHub comment limit)*"
	emptyReviewText  = "Review completed but produced no output."
)

// CommentMarker is the hidden first line identifying the comment owned by a
// skill, so re-reviews edit it instead of adding another.
func CommentMarker(skill string) string {
	return fmt.Sprintf("<!-- reviewbridge:%s -->", skill)
}

// FormatComment builds the comment body: marker, review text and a footer
// naming the reviewed commit. Long reviews are cut so the whole body fits.
func FormatComment(skill, review, headSHA string, at time.Time) string {
	header := CommentMarker(skill) + "\n"

	footer := "\n\n---\n*"
	if headSHA != "" {
		footer += fmt.Sprintf("Reviewed commit: `%s` ", shortSHA(headSHA))
	}
	footer += "at " + at.UTC().Format("2006-01-02 15:04") + " UTC*"

	budget := maxCommentLength - runeLen(header) - runeLen(footer)
	if runeLen(review) > budget {
		keep := max(budget-runeLen(truncationNotice), 0)
		review = string([]rune(review)[:keep]) + truncationNotice
	}

	return header + review + footer
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func runeLen(s string) int {
	return len([]rune(s))
}
