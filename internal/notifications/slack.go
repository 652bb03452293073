package notifications

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackChannel posts crawl events to a single fixed Slack channel, in
// contrast to a per-user-DM fan-out that would look up workspace
// connections and linked users from a database per organisation. An
// engine has no notion of an organisation or linked users, only a channel
// to report into.
type SlackChannel struct {
	client    *slack.Client
	channelID string
}

// NewSlackChannel builds a channel posting with token to channelID.
func NewSlackChannel(token, channelID string) (*SlackChannel, error) {
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("notifications: slack channel requires both a token and a channel id")
	}
	return &SlackChannel{client: slack.New(token), channelID: channelID}, nil
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Deliver(ctx context.Context, event Event) error {
	blocks := c.buildBlocks(event)
	fallback := fmt.Sprintf("%s: %s", event.Kind, event.Summary)

	_, _, err := c.client.PostMessageContext(ctx, c.channelID,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(fallback, false),
	)
	return err
}

func (c *SlackChannel) buildBlocks(event Event) []slack.Block {
	header := fmt.Sprintf("*%s* — %s", event.Kind, event.Spider)
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", header, false, false), nil, nil),
	}

	if event.Summary != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", event.Summary, false, false), nil, nil,
		))
	}

	if event.URL != "" {
		blocks = append(blocks, slack.NewContextBlock("", slack.NewTextBlockObject("mrkdwn", event.URL, false, false)))
	}

	if event.Detail != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", "```\n"+event.Detail+"\n```", false, false), nil, nil,
		))
	}

	return blocks
}
