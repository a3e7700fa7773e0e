package notify

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts notifications to a Slack channel.
type Slack struct {
	client    slackClient
	channelID string
}

// NewSlack creates a Slack sink from a bot token and channel ID.
func NewSlack(botToken, channelID string) *Slack {
	return &Slack{
		client:    slackapi.New(botToken),
		channelID: channelID,
	}
}

// Post implements Sink.
func (s *Slack) Post(ctx context.Context, text string) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channelID,
		slackapi.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack post to %s: %w", s.channelID, err)
	}
	return nil
}
