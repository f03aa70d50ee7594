package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/lottolabs/sollotto/internal/lottery"
	"github.com/lottolabs/sollotto/internal/retry"
)

// slackAPI is the slice of the Slack client the sink needs.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type SlackSinkConfig struct {
	Logger *slog.Logger
	// BotToken authenticates against the Slack API. Ignored when API is set.
	BotToken string
	// Channel receives draw announcements and reminders.
	Channel string
	API     slackAPI
	Retry   retry.Config
}

func (cfg *SlackSinkConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Channel == "" {
		return errors.New("channel is required")
	}
	if cfg.API == nil {
		if cfg.BotToken == "" {
			return errors.New("bot token is required")
		}
		cfg.API = slack.New(cfg.BotToken)
	}
	if cfg.Retry == (retry.Config{}) {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// SlackSink announces draw results and reminders to a Slack channel.
type SlackSink struct {
	log *slog.Logger
	cfg SlackSinkConfig
}

func NewSlackSink(cfg SlackSinkConfig) (*SlackSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SlackSink{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Publish posts a settled draw result to the channel.
func (s *SlackSink) Publish(ctx context.Context, result lottery.DrawResult) error {
	return s.Announce(ctx, FormatDrawResult(result))
}

// Announce posts a raw mrkdwn message to the channel, with retries.
func (s *SlackSink) Announce(ctx context.Context, text string) error {
	err := retry.Do(ctx, s.cfg.Retry, func() error {
		_, _, err := s.cfg.API.PostMessageContext(ctx, s.cfg.Channel,
			slack.MsgOptionText(text, false),
			slack.MsgOptionDisableLinkUnfurl(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to post to slack channel %s: %w", s.cfg.Channel, err)
	}
	s.log.Debug("notify: posted to slack", "channel", s.cfg.Channel)
	return nil
}
