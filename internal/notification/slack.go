package notification

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackNotifier posts alerts to a Slack channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier creates a Slack notifier from a bot token.
func NewSlackNotifier(token, channel string, opts ...slack.Option) *SlackNotifier {
	return &SlackNotifier{client: slack.New(token, opts...), channel: channel}
}

func (s *SlackNotifier) Send(ctx context.Context, alert Alert) error {
	text := fmt.Sprintf("[%s] *%s*\n%s", alert.Level, alert.Title, alert.Message)
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}
