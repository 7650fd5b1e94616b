package dispatch

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

func TestChatTransportSend(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "chat-123"})
	}))
	defer srv.Close()

	tr := NewChatTransport(config.TransportConfig{
		Endpoint: srv.URL,
		Token:    "secret",
		Timeout:  5 * time.Second,
	})
	assert.Equal(t, meeting.ChannelChat, tr.Channel())

	id, err := tr.Send(context.Background(), &Notification{
		MeetingID:   "m-1",
		Recipient:   "u-1",
		Body:        "prep time",
		ResumeToken: "tok-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "chat-123", id)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "tok-1", gotBody["resume_token"])
	assert.Equal(t, "u-1", gotBody["user_id"])
}

func TestTransportNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr := NewSMSTransport(config.TransportConfig{Endpoint: srv.URL, From: "+15550000"})
	_, err := tr.Send(context.Background(), &Notification{Recipient: "+15550100", Body: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestTransportMintsIDWhenProviderOmitsOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := NewEmailTransport(config.TransportConfig{Endpoint: srv.URL, From: "prepd@example.com"})
	id, err := tr.Send(context.Background(), &Notification{Recipient: "u@example.com", Subject: "s", Body: "b"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestTransportUnconfiguredEndpoint(t *testing.T) {
	tr := NewChatTransport(config.TransportConfig{})
	_, err := tr.Send(context.Background(), &Notification{})
	assert.Error(t, err)
}
