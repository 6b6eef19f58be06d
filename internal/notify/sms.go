package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// SMSGatewayOpts configures an SMSGateway.
type SMSGatewayOpts struct {
	BaseURL string // gateway root, e.g. https://sms.example.com/api
	Token   string // bearer token
	Sender  string // sender id or number shown to the recipient
	Timeout time.Duration
	Retries int
}

// SMSGateway sends texts through an HTTP SMS/WhatsApp gateway that accepts
// POST /messages with a JSON body {to, from, text}.
type SMSGateway struct {
	client *resty.Client
	sender string
}

type smsRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

type smsError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewSMSGateway creates a gateway client.
func NewSMSGateway(opts SMSGatewayOpts) (*SMSGateway, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("notify: sms base url is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if opts.Token != "" {
		client.SetAuthToken(opts.Token)
	}
	return &SMSGateway{client: client, sender: opts.Sender}, nil
}

// SendText implements TextSender.
func (g *SMSGateway) SendText(ctx context.Context, phone, text string) error {
	if phone == "" {
		return fmt.Errorf("notify: sms: recipient phone is empty")
	}
	var apiErr smsError
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(smsRequest{To: phone, From: g.sender, Text: text}).
		SetError(&apiErr).
		Post("/messages")
	if err != nil {
		return fmt.Errorf("notify: sms to %s: %w", phone, err)
	}
	if resp.IsError() {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error
		}
		if msg == "" {
			msg = resp.Status()
		}
		return fmt.Errorf("notify: sms to %s: gateway returned %d: %s", phone, resp.StatusCode(), msg)
	}
	return nil
}
