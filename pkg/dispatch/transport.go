// Package dispatch delivers prep notifications over an ordered list of
// channels, falling back to the next channel on failure. Delivery is guarded
// by the meeting's notification marker so replays and concurrent executions
// send at most one notification per prep cycle.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/prepd/config"
	"github.com/otherjamesbrown/prepd/pkg/meeting"
)

// Notification is the message handed to a transport.
type Notification struct {
	MeetingID   string
	UserID      string
	Recipient   string // channel-specific address: chat user id, phone, email
	Subject     string
	Body        string
	ResumeToken string // lets the chat collaborator resolve the response gate
}

// Transport delivers a notification over one channel and returns the
// provider's delivery id.
type Transport interface {
	Channel() meeting.Channel
	Send(ctx context.Context, n *Notification) (string, error)
}

const defaultSendTimeout = 10 * time.Second

// httpTransport is the shared HTTP delivery mechanics behind the chat, SMS,
// and email transports.
type httpTransport struct {
	channel  meeting.Channel
	endpoint string
	token    string
	from     string
	client   *http.Client
}

func newHTTPTransport(channel meeting.Channel, cfg config.TransportConfig) *httpTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &httpTransport{
		channel:  channel,
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		from:     cfg.From,
		client:   &http.Client{Timeout: timeout},
	}
}

func (t *httpTransport) Channel() meeting.Channel { return t.channel }

func (t *httpTransport) post(ctx context.Context, body interface{}) (string, error) {
	if t.endpoint == "" {
		return "", fmt.Errorf("%s transport not configured", t.channel)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s request: %w", t.channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to build %s request: %w", t.channel, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s delivery failed: %w", t.channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%s delivery failed: status %d: %s", t.channel, resp.StatusCode, snippet)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.ID == "" {
		// Provider did not return an id; mint one so the delivery is
		// still traceable.
		return uuid.New().String(), nil
	}
	return out.ID, nil
}

// ChatTransport posts to the chat collaborator's webhook.
type ChatTransport struct {
	*httpTransport
}

// NewChatTransport creates the chat webhook transport.
func NewChatTransport(cfg config.TransportConfig) *ChatTransport {
	return &ChatTransport{newHTTPTransport(meeting.ChannelChat, cfg)}
}

func (t *ChatTransport) Send(ctx context.Context, n *Notification) (string, error) {
	return t.post(ctx, map[string]interface{}{
		"user_id":      n.Recipient,
		"meeting_id":   n.MeetingID,
		"subject":      n.Subject,
		"text":         n.Body,
		"resume_token": n.ResumeToken,
	})
}

// SMSTransport posts to an SMS gateway.
type SMSTransport struct {
	*httpTransport
}

// NewSMSTransport creates the SMS gateway transport.
func NewSMSTransport(cfg config.TransportConfig) *SMSTransport {
	return &SMSTransport{newHTTPTransport(meeting.ChannelSMS, cfg)}
}

func (t *SMSTransport) Send(ctx context.Context, n *Notification) (string, error) {
	return t.post(ctx, map[string]interface{}{
		"to":   n.Recipient,
		"from": t.from,
		"body": n.Body,
	})
}

// EmailTransport posts to an email delivery API.
type EmailTransport struct {
	*httpTransport
}

// NewEmailTransport creates the email API transport.
func NewEmailTransport(cfg config.TransportConfig) *EmailTransport {
	return &EmailTransport{newHTTPTransport(meeting.ChannelEmail, cfg)}
}

func (t *EmailTransport) Send(ctx context.Context, n *Notification) (string, error) {
	return t.post(ctx, map[string]interface{}{
		"to":      n.Recipient,
		"from":    t.from,
		"subject": n.Subject,
		"body":    n.Body,
	})
}

var (
	_ Transport = (*ChatTransport)(nil)
	_ Transport = (*SMSTransport)(nil)
	_ Transport = (*EmailTransport)(nil)
)
