// Package slack posts supervisor alerts to a Slack channel.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/visitline/internal/notify"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Broadcaster implements notify.Broadcaster for Slack.
type Broadcaster struct {
	client    slackClient
	channelID string
}

// Opts holds parameters for creating a Slack Broadcaster.
type Opts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string // supervisors' channel
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack Broadcaster.
func New(opts Opts) (*Broadcaster, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel id is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	return &Broadcaster{client: client, channelID: opts.ChannelID}, nil
}

// Broadcast posts the alert as an attachment with a severity color.
func (b *Broadcaster) Broadcast(ctx context.Context, alert notify.Alert) error {
	options := []slackapi.MsgOption{
		slackapi.MsgOptionText(alert.Title, false),
		slackapi.MsgOptionAttachments(alertToAttachment(alert)),
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := b.client.PostMessage(b.channelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func alertToAttachment(alert notify.Alert) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    alert.Title,
		Text:     alert.Body,
		Color:    notify.Color(alert.Severity),
		Fallback: alert.Title,
	}
	for _, f := range alert.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return att
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
