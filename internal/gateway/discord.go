package gateway

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

const discordLimit = 2000

// channelSender is the part of *discordgo.Session the notifier needs.
type channelSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts run reports to a channel over the REST API. It never
// opens the gateway websocket.
type DiscordNotifier struct {
	Session channelSender
}

func NewDiscordNotifier(token string) (*DiscordNotifier, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: %w", err)
	}
	return &DiscordNotifier{Session: s}, nil
}

// Send posts text to the channel, split to fit Discord's message limit.
func (d *DiscordNotifier) Send(channelID string, text string) error {
	if channelID == "" {
		return fmt.Errorf("invalid channel ID: %q", channelID)
	}
	for _, chunk := range splitMessage(text, discordLimit) {
		if _, err := d.Session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}
