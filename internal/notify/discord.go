package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// discordSession abstracts the discordgo.Session methods we use, enabling
// test mocks. Sends are plain REST calls; no gateway connection is opened.
type discordSession interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts notifications to a Discord channel.
type Discord struct {
	sess      discordSession
	channelID string
}

// NewDiscord creates a Discord sink from a bot token and channel ID.
func NewDiscord(botToken, channelID string) (*Discord, error) {
	dg, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("notify: discord session: %w", err)
	}
	return &Discord{sess: dg, channelID: channelID}, nil
}

// Post implements Sink.
func (d *Discord) Post(ctx context.Context, text string) error {
	_, err := d.sess.ChannelMessageSend(d.channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord post to %s: %w", d.channelID, err)
	}
	return nil
}
