package slack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTLDR(t *testing.T) {
	tests := []struct {
		name   string
		review string
		want   string
	}{
		{
			name: "summary section",
			review: `<!-- reviewbridge:review-pr -->
# Code review

Intro paragraph that is not the summary.

## Summary

The change adds **retry** logic to the [uploader](https://example.com).
It looks good.

## Details

Lots of detail.
`,
			want: "The change adds retry logic to the uploader. It looks good.",
		},
		{
			name:   "tldr heading is case insensitive",
			review: "## tl;dr\n\nShip it.\n",
			want:   "Ship it.",
		},
		{
			name:   "overview with list",
			review: "## Overview\n\n- one `thing`\n- two\n\n### Sub\n\nsub text\n\n## Next\n\nignored",
			want:   "one thing two Sub sub text",
		},
		{
			name:   "fallback to first paragraph",
			review: "<!-- marker -->\n# Title\n\nFirst *paragraph* here.\n\nSecond.",
			want:   "First paragraph here.",
		},
		{
			name:   "empty summary falls back",
			review: "## Summary\n## Findings\n\nNothing serious.",
			want:   "Nothing serious.",
		},
		{
			name:   "entities are decoded",
			review: "## Summary\n\nUse a < b && c > d.",
			want:   "Use a < b && c > d.",
		},
		{
			name:   "nothing",
			review: "# Only a heading\n",
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTLDR(tt.review, MaxTLDRLength))
		})
	}
}

func TestExtractTLDR_TruncatesAtWordBoundary(t *testing.T) {
	review := "## Summary\n\n" + strings.Repeat("word ", 100)

	got := ExtractTLDR(review, 42)
	assert.True(t, strings.HasSuffix(got, "word..."), got)
	assert.LessOrEqual(t, len(got), 45)
}

func TestTruncateWords(t *testing.T) {
	assert.Equal(t, "short", truncateWords("short", 10))
	assert.Equal(t, "hello...", truncateWords("hello world", 8))
	assert.Equal(t, "abcdefgh...", truncateWords("abcdefghijkl", 8))
}
