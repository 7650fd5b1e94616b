package calsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/prepd/config"
	"github.com/otherjamesbrown/prepd/pkg/meeting"
)

func TestHTTPClientFetchEvents(t *testing.T) {
	start := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	var gotPath, gotAuth, gotFrom, gotTo string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotFrom = r.URL.Query().Get("from")
		gotTo = r.URL.Query().Get("to")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]ExternalEvent{{
			ID:        "ext-1",
			Title:     "Quarterly Review",
			StartTime: start,
			EndTime:   start.Add(time.Hour),
			Attendees: []string{"a@x.com"},
		}})
	}))
	defer srv.Close()

	c := NewHTTPClient(config.CalendarConfig{
		Source:   "google",
		Endpoint: srv.URL,
		Token:    "cal-secret",
	})
	assert.Equal(t, "google", c.Source())

	from := time.Now().UTC()
	to := from.Add(14 * 24 * time.Hour)
	events, err := c.FetchEvents(context.Background(), &meeting.User{ID: "u-1"}, from, to)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ext-1", events[0].ID)
	assert.True(t, events[0].StartTime.Equal(start))

	assert.Equal(t, "/users/u-1/events", gotPath)
	assert.Equal(t, "Bearer cal-secret", gotAuth)
	assert.Equal(t, from.Format(time.RFC3339), gotFrom)
	assert.Equal(t, to.Format(time.RFC3339), gotTo)
}

func TestHTTPClientProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(config.CalendarConfig{Source: "google", Endpoint: srv.URL})
	_, err := c.FetchEvents(context.Background(), &meeting.User{ID: "u-1"}, time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestHTTPClientUnconfigured(t *testing.T) {
	c := NewHTTPClient(config.CalendarConfig{Source: "google"})
	_, err := c.FetchEvents(context.Background(), &meeting.User{ID: "u-1"}, time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
}
