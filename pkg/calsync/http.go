package calsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/otherjamesbrown/prepd/config"
	"github.com/otherjamesbrown/prepd/pkg/meeting"
)

const defaultFetchTimeout = 30 * time.Second

// HTTPClient fetches events from a calendar provider gateway over REST.
// The gateway is expected to expose
// GET {endpoint}/users/{userID}/events?from=RFC3339&to=RFC3339 returning
// a JSON array of events.
type HTTPClient struct {
	source   string
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPClient creates a calendar client from provider configuration.
func NewHTTPClient(cfg config.CalendarConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &HTTPClient{
		source:   cfg.Source,
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		client:   &http.Client{Timeout: timeout},
	}
}

// Source identifies the provider this client talks to.
func (c *HTTPClient) Source() string { return c.source }

// FetchEvents returns the user's events with start time in [from, to).
func (c *HTTPClient) FetchEvents(ctx context.Context, user *meeting.User, from, to time.Time) ([]ExternalEvent, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("calendar provider not configured")
	}

	u := fmt.Sprintf("%s/users/%s/events?from=%s&to=%s",
		c.endpoint,
		url.PathEscape(user.ID),
		url.QueryEscape(from.UTC().Format(time.RFC3339)),
		url.QueryEscape(to.UTC().Format(time.RFC3339)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build calendar request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("calendar provider returned %d: %s", resp.StatusCode, string(body))
	}

	var events []ExternalEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("failed to decode calendar response: %w", err)
	}
	return events, nil
}

var _ CalendarClient = (*HTTPClient)(nil)
