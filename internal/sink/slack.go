package sink

import (
	"context"
	"fmt"

	"github.com/nidhogg/nuka-stream/internal/broadcast"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SlackSink posts messages to one Slack channel.
type SlackSink struct {
	client  *slack.Client
	channel string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewSlackSink creates a Slack sink. perMinute bounds the post rate.
func NewSlackSink(client *slack.Client, channel string, perMinute int, logger *zap.Logger) *SlackSink {
	return &SlackSink{
		client:  client,
		channel: channel,
		limiter: newLimiter(perMinute),
		logger:  logger,
	}
}

func (s *SlackSink) Name() string { return "slack" }

// Deliver implements Sink.
func (s *SlackSink) Deliver(ctx context.Context, msg broadcast.Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("slack rate limit: %w", err)
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(Text(msg), false),
	)
	if err != nil {
		s.logger.Error("slack send failed",
			zap.String("channel", s.channel), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// Close is a no-op; the Slack web client holds no connection.
func (s *SlackSink) Close() error { return nil }

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute)
}
