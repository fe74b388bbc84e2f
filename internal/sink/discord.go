package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/nidhogg/nuka-stream/internal/broadcast"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// embedSender is the part of *discordgo.Session the sink uses.
type embedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSink posts messages as embeds to one Discord channel.
type DiscordSink struct {
	session   embedSender
	closer    func() error
	channelID string
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewDiscordSink creates a bot session for token. Only the REST API is
// used, so no gateway connection is opened.
func NewDiscordSink(token, channelID string, perMinute int, logger *zap.Logger) (*DiscordSink, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordSink{
		session:   session,
		closer:    session.Close,
		channelID: channelID,
		limiter:   newLimiter(perMinute),
		logger:    logger,
	}, nil
}

func (s *DiscordSink) Name() string { return "discord" }

// Deliver implements Sink.
func (s *DiscordSink) Deliver(ctx context.Context, msg broadcast.Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("discord rate limit: %w", err)
	}
	if _, err := s.session.ChannelMessageSendEmbed(s.channelID, Embed(msg), discordgo.WithContext(ctx)); err != nil {
		s.logger.Error("discord send failed",
			zap.String("channel", s.channelID), zap.Error(err))
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Close shuts down the Discord session.
func (s *DiscordSink) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

// Embed renders a message as a Discord embed colored by priority.
func Embed(msg broadcast.Message) *discordgo.MessageEmbed {
	title, body := Format(msg)
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: body,
		Color:       priorityColor(msg.Priority),
		Timestamp:   msg.Timestamp.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Priority", Value: fmt.Sprintf("%d", msg.Priority), Inline: true},
			{Name: "Type", Value: string(msg.Type), Inline: true},
		},
	}
	if msg.SessionID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Session", Value: msg.SessionID, Inline: true})
	}
	return embed
}

func priorityColor(p int) int {
	switch {
	case p >= 8:
		return 0xE74C3C
	case p >= 5:
		return 0xF1C40F
	default:
		return 0x3498DB
	}
}
