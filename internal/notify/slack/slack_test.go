package slack

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/visitline/internal/notify"
)

type mockSlackClient struct {
	mu       sync.Mutex
	channels []string
	options  [][]slackapi.MsgOption
	errs     []error // returned in order, then nil
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", "", err
	}
	m.channels = append(m.channels, channelID)
	m.options = append(m.options, options)
	return channelID, "1700000000.000100", nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Opts{ChannelID: "C1"})
	assert.Error(t, err)
	_, err = New(Opts{BotToken: "xoxb-1"})
	assert.Error(t, err)
	_, err = New(Opts{BotToken: "xoxb-1", ChannelID: "C1"})
	assert.NoError(t, err)
}

func TestBroadcast(t *testing.T) {
	mock := &mockSlackClient{}
	b, err := New(Opts{ChannelID: "C-sup", Client: mock})
	require.NoError(t, err)

	err = b.Broadcast(context.Background(), notify.Alert{Title: "Missed entry punch", Severity: notify.SeverityError})
	require.NoError(t, err)
	assert.Equal(t, []string{"C-sup"}, mock.channels)
	assert.Len(t, mock.options[0], 2, "text + attachment")
}

func TestAlertToAttachment(t *testing.T) {
	att := alertToAttachment(notify.Alert{
		Title:    "Missed entry punch",
		Body:     "Ana is 12 minutes late",
		Severity: notify.SeverityError,
		Fields:   []notify.Field{{Name: "Checkpoint", Value: "ENTRY", Short: true}},
	})
	assert.Equal(t, "Missed entry punch", att.Title)
	assert.Equal(t, "Missed entry punch", att.Fallback)
	assert.Equal(t, "Ana is 12 minutes late", att.Text)
	assert.Equal(t, "#d00000", att.Color)
	require.Len(t, att.Fields, 1)
	assert.Equal(t, slackapi.AttachmentField{Title: "Checkpoint", Value: "ENTRY", Short: true}, att.Fields[0])
}

func TestBroadcast_RateLimitRetry(t *testing.T) {
	mock := &mockSlackClient{errs: []error{&slackapi.RateLimitedError{RetryAfter: time.Millisecond}}}
	b, err := New(Opts{ChannelID: "C1", Client: mock})
	require.NoError(t, err)
	require.NoError(t, b.Broadcast(context.Background(), notify.Alert{Title: "x"}))
	assert.Len(t, mock.channels, 1)
}

func TestBroadcast_Error(t *testing.T) {
	mock := &mockSlackClient{errs: []error{errors.New("channel_not_found")}}
	b, err := New(Opts{ChannelID: "C1", Client: mock})
	require.NoError(t, err)
	err = b.Broadcast(context.Background(), notify.Alert{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestRetryOnRateLimit_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retryOnRateLimit(ctx, func() error {
		return &slackapi.RateLimitedError{RetryAfter: time.Hour}
	})
	assert.ErrorIs(t, err, context.Canceled)
}
