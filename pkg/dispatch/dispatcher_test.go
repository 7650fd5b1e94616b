package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pderrors "github.com/otherjamesbrown/prepd/pkg/errors"
	"github.com/otherjamesbrown/prepd/pkg/logging"
	"github.com/otherjamesbrown/prepd/pkg/meeting"
	"github.com/otherjamesbrown/prepd/pkg/observability"
)

// fakeTransport records sends and fails on demand.
type fakeTransport struct {
	channel meeting.Channel
	fail    bool
	sent    []*Notification
}

func (f *fakeTransport) Channel() meeting.Channel { return f.channel }

func (f *fakeTransport) Send(ctx context.Context, n *Notification) (string, error) {
	if f.fail {
		return "", errors.New("provider unavailable")
	}
	f.sent = append(f.sent, n)
	return "prov-" + string(f.channel), nil
}

func newDispatchFixture() (*meeting.Meeting, *meeting.User) {
	m := &meeting.Meeting{
		ID:         "m-1",
		ExternalID: "ext-1",
		UserID:     "u-1",
		Title:      "Quarterly Business Review",
		StartTime:  time.Now().Add(72 * time.Hour),
		EndTime:    time.Now().Add(73 * time.Hour),
		Status:     meeting.StatusPrepScheduled,
	}
	user := &meeting.User{
		ID:          "u-1",
		Email:       "u@example.com",
		PhoneNumber: "+15550100",
	}
	return m, user
}

func testMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

func TestDispatchFirstChannelWins(t *testing.T) {
	m, user := newDispatchFixture()
	chat := &fakeTransport{channel: meeting.ChannelChat}
	sms := &fakeTransport{channel: meeting.ChannelSMS}

	d := New([]Transport{chat, sms},
		[]meeting.Channel{meeting.ChannelChat, meeting.ChannelSMS},
		logging.NewNop(), testMetrics())

	res, err := d.Dispatch(context.Background(), m, user, &Notification{
		MeetingID: m.ID,
		UserID:    user.ID,
		Body:      "prep time",
	})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, meeting.ChannelChat, res.Channel)
	assert.Equal(t, "prov-chat", res.NotificationID)
	assert.False(t, res.SentAt.IsZero())
	assert.Len(t, chat.sent, 1)
	assert.Equal(t, "u-1", chat.sent[0].Recipient)
	assert.Empty(t, sms.sent)

	// Recording the delivery marker is the caller's job.
	assert.False(t, m.NotificationSent())
}

func TestDispatchFallsBackInOrder(t *testing.T) {
	m, user := newDispatchFixture()
	chat := &fakeTransport{channel: meeting.ChannelChat, fail: true}
	sms := &fakeTransport{channel: meeting.ChannelSMS}
	email := &fakeTransport{channel: meeting.ChannelEmail}

	d := New([]Transport{chat, sms, email},
		[]meeting.Channel{meeting.ChannelChat, meeting.ChannelSMS, meeting.ChannelEmail},
		logging.NewNop(), testMetrics())

	res, err := d.Dispatch(context.Background(), m, user, &Notification{MeetingID: m.ID})
	require.NoError(t, err)
	assert.Equal(t, meeting.ChannelSMS, res.Channel)
	assert.Equal(t, "+15550100", sms.sent[0].Recipient)
	assert.Empty(t, email.sent)
}

func TestDispatchAllChannelsFail(t *testing.T) {
	m, user := newDispatchFixture()
	chat := &fakeTransport{channel: meeting.ChannelChat, fail: true}
	email := &fakeTransport{channel: meeting.ChannelEmail, fail: true}

	d := New([]Transport{chat, email},
		[]meeting.Channel{meeting.ChannelChat, meeting.ChannelEmail},
		logging.NewNop(), testMetrics())

	_, err := d.Dispatch(context.Background(), m, user, &Notification{MeetingID: m.ID})
	assert.ErrorIs(t, err, pderrors.ErrChannelsExhausted)
}

func TestDispatchSkipsWhenMarkerSet(t *testing.T) {
	m, user := newDispatchFixture()
	sent := time.Now().UTC()
	m.NotificationSentAt = &sent
	chat := &fakeTransport{channel: meeting.ChannelChat}

	d := New([]Transport{chat},
		[]meeting.Channel{meeting.ChannelChat},
		logging.NewNop(), testMetrics())

	res, err := d.Dispatch(context.Background(), m, user, &Notification{MeetingID: m.ID})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, chat.sent)
}

func TestDispatchSkipsUnreachableChannels(t *testing.T) {
	m, user := newDispatchFixture()
	user.PhoneNumber = ""
	sms := &fakeTransport{channel: meeting.ChannelSMS}
	email := &fakeTransport{channel: meeting.ChannelEmail}

	d := New([]Transport{sms, email},
		[]meeting.Channel{meeting.ChannelSMS, meeting.ChannelEmail},
		logging.NewNop(), testMetrics())

	res, err := d.Dispatch(context.Background(), m, user, &Notification{MeetingID: m.ID})
	require.NoError(t, err)
	assert.Equal(t, meeting.ChannelEmail, res.Channel)
	assert.Empty(t, sms.sent)
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 30 * time.Second,
		MaxBackoff:     30 * time.Minute,
		BackoffFactor:  2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{7, 30 * time.Minute}, // capped
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.CalculateBackoff(tt.attempt), "attempt %d", tt.attempt)
	}

	assert.False(t, p.Exhausted(4))
	assert.True(t, p.Exhausted(5))
}
