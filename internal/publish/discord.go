package publish

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/openminutes/openminutes/internal/meeting"
)

// DiscordChat announces completed meetings as embeds in one channel.
// Re-publishing edits the previously sent message when it still exists.
type DiscordChat struct {
	session   *discordgo.Session
	channelID string
	log       *logrus.Entry
}

// NewDiscordChat builds the connector. The session is used REST-only; no
// gateway connection is opened.
func NewDiscordChat(botToken, channelID string, log *logrus.Entry) (*DiscordChat, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &DiscordChat{session: session, channelID: channelID, log: log}, nil
}

// Publish implements ChatPublisher.
func (c *DiscordChat) Publish(ctx context.Context, m *meeting.Meeting, mappings []meeting.SpeakerMapping) (Result, error) {
	title, body := ChatMessage(m, mappings)
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: body,
		Color:       0x5865F2,
	}

	if m.ChatMessageID != "" && m.ChatChannel == c.channelID {
		msg, err := c.session.ChannelMessageEditEmbed(
			c.channelID, m.ChatMessageID, embed, discordgo.WithContext(ctx))
		if err == nil {
			return Result{ID: msg.ID}, nil
		}
		c.log.WithError(err).WithField("message_id", m.ChatMessageID).
			Warn("chat message edit failed, sending a new one")
	}

	msg, err := c.session.ChannelMessageSendEmbed(c.channelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return Result{}, fmt.Errorf("send chat message: %w", err)
	}
	return Result{ID: msg.ID}, nil
}

// ChannelID returns the configured target channel.
func (c *DiscordChat) ChannelID() string { return c.channelID }
