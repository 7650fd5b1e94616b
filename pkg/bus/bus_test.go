package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	trigger := time.Date(2025, 6, 7, 10, 0, 0, 0, time.UTC)
	env, err := NewEnvelope(TopicPrepRequired, PrepRequired{
		MeetingID:   "m-1",
		UserID:      "u-1",
		MeetingType: "one_on_one",
		TriggerTime: trigger,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, TopicPrepRequired, env.Topic)
	assert.Zero(t, env.Attempts)

	var got PrepRequired
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, "m-1", got.MeetingID)
	assert.True(t, got.TriggerTime.Equal(trigger))
}

func TestEnvelopeDecodeMismatch(t *testing.T) {
	env, err := NewEnvelope(TopicChatCompleted, ChatCompleted{ResumeToken: "tok"})
	require.NoError(t, err)

	var wrong []string
	assert.Error(t, env.Decode(&wrong))
}

func TestMemoryBusDeliversToHandler(t *testing.T) {
	b := NewMemory()

	var seen []string
	b.Subscribe(TopicReminderDue, func(ctx context.Context, env *Envelope) error {
		var ev ReminderDue
		if err := env.Decode(&ev); err != nil {
			return err
		}
		seen = append(seen, ev.MeetingID)
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), TopicReminderDue, ReminderDue{MeetingID: "m-1"}))
	require.NoError(t, b.Publish(context.Background(), TopicReminderDue, ReminderDue{MeetingID: "m-2"}))

	assert.Equal(t, []string{"m-1", "m-2"}, seen)
	assert.Len(t, b.Published(TopicReminderDue), 2)
	assert.Empty(t, b.Published(TopicPrepRequired))
}

func TestMemoryBusRecordOnly(t *testing.T) {
	b := NewMemory()
	b.Deliver = false

	called := false
	b.Subscribe(TopicReminderDue, func(ctx context.Context, env *Envelope) error {
		called = true
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), TopicReminderDue, ReminderDue{MeetingID: "m-1"}))
	assert.False(t, called)
	assert.Len(t, b.Published(""), 1)
}
