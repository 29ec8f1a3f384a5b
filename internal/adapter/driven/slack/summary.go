package slack

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// MaxTLDRLength bounds the summary shown in a notification.
const MaxTLDRLength = 300

var (
	summaryHeading = regexp.MustCompile(`(?i)^(summary|tl;dr|tldr|overview)$`)
	whitespace     = regexp.MustCompile(`\s+`)

	mdParser  = goldmark.New(goldmark.WithExtensions(extension.GFM))
	stripTags = bluemonday.StrictPolicy()
)

// ExtractTLDR returns a plain-text summary of a review: the section under a
// "## Summary", "## TL;DR", "## TLDR" or "## Overview" heading, otherwise the
// first paragraph. Markup is removed and the result is cut at a word boundary.
func ExtractTLDR(review string, maxLen int) string {
	src := []byte(review)
	doc := mdParser.Parser().Parse(text.NewReader(src))

	nodes := summarySection(doc, src)
	if len(nodes) == 0 {
		nodes = firstParagraph(doc)
	}
	if len(nodes) == 0 {
		return ""
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		if err := mdParser.Renderer().Render(&buf, src, n); err != nil {
			return ""
		}
		buf.WriteByte(' ')
	}

	plain := html.UnescapeString(stripTags.Sanitize(buf.String()))
	plain = strings.TrimSpace(whitespace.ReplaceAllString(plain, " "))
	return truncateWords(plain, maxLen)
}

// summarySection returns the blocks following the first level-2 summary
// heading, up to the next heading of level 2 or above.
func summarySection(doc ast.Node, src []byte) []ast.Node {
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 2 {
			continue
		}
		if !summaryHeading.MatchString(strings.TrimSpace(string(h.Text(src)))) {
			continue
		}

		var section []ast.Node
		for s := n.NextSibling(); s != nil; s = s.NextSibling() {
			if sh, ok := s.(*ast.Heading); ok && sh.Level <= 2 {
				break
			}
			section = append(section, s)
		}
		if len(section) > 0 {
			return section
		}
	}
	return nil
}

func firstParagraph(doc ast.Node) []ast.Node {
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if n.Kind() == ast.KindParagraph {
			return []ast.Node{n}
		}
	}
	return nil
}

func truncateWords(s string, maxLen int) string {
	if maxLen <= 0 || len([]rune(s)) <= maxLen {
		return s
	}
	cut := string([]rune(s)[:maxLen])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:") + "..."
}
