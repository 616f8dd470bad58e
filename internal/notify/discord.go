package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordNotifier posts to a fixed Discord channel.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

// NewDiscordNotifier creates a Discord notifier from a bot token and a
// channel ID. The session is opened lazily by discordgo on first send.
func NewDiscordNotifier(botToken, channelID string, logger *zap.Logger) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordNotifier{
		session:   session,
		channelID: channelID,
		logger:    logger,
	}, nil
}

func (n *DiscordNotifier) Name() string { return "discord" }

// Notify posts the message to the configured channel.
func (n *DiscordNotifier) Notify(_ context.Context, subject, body string) error {
	_, err := n.session.ChannelMessageSend(n.channelID,
		fmt.Sprintf("**%s**\n%s", subject, body))
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Close shuts the Discord session down.
func (n *DiscordNotifier) Close() error {
	return n.session.Close()
}
