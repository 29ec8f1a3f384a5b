// Package slack posts review notifications to a Slack incoming webhook.
package slack

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
	"github.com/ericfisherdev/reviewbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Notifier = (*Notifier)(nil)

// Notifier sends a Block Kit message per published review.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// NewNotifier creates a Notifier posting to webhookURL.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// buildMessage lays out the notification: title line, TL;DR and a button
// linking to the review comment.
func buildMessage(n model.ReviewNotice) *slackapi.WebhookMessage {
	title := n.Title
	if title == "" {
		title = fmt.Sprintf("PR #%d", n.PRNumber)
	}
	prURL := n.PRURL
	if prURL == "" {
		prURL = fmt.Sprintf("https://github.com/%s/pull/%d", n.Repo, n.PRNumber)
	}

	blocks := []slackapi.Block{
		section(fmt.Sprintf(":mag: *Review posted: <%s|%s>*\n`%s#%d`", prURL, escape(title), n.Repo, n.PRNumber)),
	}

	if tldr := ExtractTLDR(n.Review, MaxTLDRLength); tldr != "" {
		blocks = append(blocks, section("*TL;DR:* "+escape(tldr)))
	}

	if n.CommentURL != "" {
		button := slackapi.NewButtonBlockElement("view_review", "",
			slackapi.NewTextBlockObject(slackapi.PlainTextType, "View Review", false, false))
		button.URL = n.CommentURL
		blocks = append(blocks, slackapi.NewActionBlock("", button))
	}

	return &slackapi.WebhookMessage{
		Text:   fmt.Sprintf("Review posted: %s#%d %s", n.Repo, n.PRNumber, title),
		Blocks: &slackapi.Blocks{BlockSet: blocks},
	}
}

func section(mrkdwn string) *slackapi.SectionBlock {
	return slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.MarkdownType, mrkdwn, false, false), nil, nil)
}

// escape applies Slack's mrkdwn control character escaping.
var escape = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace

// Notify posts the notice to the webhook.
func (s *Notifier) Notify(ctx context.Context, n model.ReviewNotice) error {
	if err := slackapi.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.client, buildMessage(n)); err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}
	return nil
}
