package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pderrors "github.com/otherjamesbrown/prepd/pkg/errors"
	"github.com/otherjamesbrown/prepd/pkg/meeting"
)

func newTestMeeting(id, userID, externalID string, start time.Time) *meeting.Meeting {
	return &meeting.Meeting{
		ID:         id,
		ExternalID: externalID,
		UserID:     userID,
		Source:     "google_calendar",
		Title:      "Quarterly Business Review",
		StartTime:  start,
		EndTime:    start.Add(time.Hour),
		Attendees:  []string{"a@example.com", "b@example.com"},
		Status:     meeting.StatusDiscovered,
	}
}

func TestMemoryCreateMeeting(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	start := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	m := newTestMeeting("m-1", "u-1", "ext-1", start)
	require.NoError(t, s.CreateMeeting(ctx, m))
	assert.False(t, m.CreatedAt.IsZero())

	// Same (user, external id) pair is a duplicate.
	dup := newTestMeeting("m-2", "u-1", "ext-1", start)
	err := s.CreateMeeting(ctx, dup)
	assert.ErrorIs(t, err, pderrors.ErrAlreadyExists)

	// Same external id under a different user is fine.
	other := newTestMeeting("m-3", "u-2", "ext-1", start)
	assert.NoError(t, s.CreateMeeting(ctx, other))

	got, err := s.GetMeetingByExternalID(ctx, "u-1", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "m-1", got.ID)

	_, err = s.GetMeeting(ctx, "nope")
	assert.ErrorIs(t, err, pderrors.ErrNotFound)
}

func TestMemoryListMeetings(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	base := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"m-1", "m-2", "m-3"} {
		m := newTestMeeting(id, "u-1", "ext-"+id, base.AddDate(0, 0, i))
		require.NoError(t, s.CreateMeeting(ctx, m))
	}

	// Window is [from, to).
	got, err := s.ListMeetingsByUser(ctx, "u-1", base, base.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m-1", got[0].ID)
	assert.Equal(t, "m-2", got[1].ID)

	byStatus, err := s.ListMeetingsByStatus(ctx, meeting.StatusDiscovered)
	require.NoError(t, err)
	assert.Len(t, byStatus, 3)

	byStatus, err = s.ListMeetingsByStatus(ctx, meeting.StatusPrepScheduled)
	require.NoError(t, err)
	assert.Empty(t, byStatus)
}

func TestMemoryUpdateMeetingStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	m := newTestMeeting("m-1", "u-1", "ext-1", time.Now().Add(48*time.Hour))
	require.NoError(t, s.CreateMeeting(ctx, m))

	swapped, err := s.UpdateMeetingStatus(ctx, "m-1",
		[]meeting.Status{meeting.StatusDiscovered}, meeting.StatusClassified)
	require.NoError(t, err)
	assert.True(t, swapped)

	// Replay of the same transition loses the CAS without error.
	swapped, err = s.UpdateMeetingStatus(ctx, "m-1",
		[]meeting.Status{meeting.StatusDiscovered}, meeting.StatusClassified)
	require.NoError(t, err)
	assert.False(t, swapped)

	// Illegal edges are rejected outright, not reported as a lost CAS.
	_, err = s.UpdateMeetingStatus(ctx, "m-1",
		[]meeting.Status{meeting.StatusClassified}, meeting.StatusCompleted)
	assert.ErrorIs(t, err, pderrors.ErrInvalidState)

	// Unknown meeting is a lost CAS.
	swapped, err = s.UpdateMeetingStatus(ctx, "nope",
		[]meeting.Status{meeting.StatusDiscovered}, meeting.StatusClassified)
	require.NoError(t, err)
	assert.False(t, swapped)
}

func TestMemoryMarkNotifiedIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	m := newTestMeeting("m-1", "u-1", "ext-1", time.Now().Add(48*time.Hour))
	require.NoError(t, s.CreateMeeting(ctx, m))

	// Not yet dispatchable.
	ok, err := s.MarkNotified(ctx, "m-1", "n-1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	advance(t, s, "m-1", meeting.StatusDiscovered, meeting.StatusClassified)
	advance(t, s, "m-1", meeting.StatusClassified, meeting.StatusPrepScheduled)

	sentAt := time.Date(2025, 6, 7, 10, 0, 0, 0, time.UTC)
	ok, err = s.MarkNotified(ctx, "m-1", "n-1", sentAt)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second delivery of the same event loses the CAS.
	ok, err = s.MarkNotified(ctx, "m-1", "n-2", sentAt.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetMeeting(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "n-1", got.NotificationID)
	require.NotNil(t, got.NotificationSentAt)
	assert.True(t, got.NotificationSentAt.Equal(sentAt))
}

func TestMemoryUpdateMeetingSyncFields(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	m := newTestMeeting("m-1", "u-1", "ext-1", time.Now().Add(48*time.Hour))
	require.NoError(t, s.CreateMeeting(ctx, m))

	m.Title = "Renamed"
	m.Status = meeting.StatusClassified
	ok, err := s.UpdateMeetingSyncFields(ctx, m)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetMeeting(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, meeting.StatusClassified, got.Status)

	// Once the workflow owns the record, sync writes are refused.
	advance(t, s, "m-1", meeting.StatusClassified, meeting.StatusPrepScheduled)
	m.Title = "Renamed again"
	ok, err = s.UpdateMeetingSyncFields(ctx, m)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = s.GetMeeting(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
}

func TestMemorySingleOpenSession(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	m := newTestMeeting("m-1", "u-1", "ext-1", time.Now().Add(48*time.Hour))
	require.NoError(t, s.CreateMeeting(ctx, m))

	first := &meeting.ChatSession{
		ID:          "s-1",
		MeetingID:   "m-1",
		UserID:      "u-1",
		State:       meeting.SessionWaiting,
		ResumeToken: "tok-1",
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, s.CreateSession(ctx, first))

	second := &meeting.ChatSession{
		ID:          "s-2",
		MeetingID:   "m-1",
		UserID:      "u-1",
		State:       meeting.SessionCreated,
		ResumeToken: "tok-2",
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}
	err := s.CreateSession(ctx, second)
	assert.ErrorIs(t, err, pderrors.ErrConflict)

	// Closing the first session frees the slot.
	ok, err := s.TransitionSession(ctx, "s-1", meeting.SessionWaiting, meeting.SessionExpired)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, s.CreateSession(ctx, second))

	open, err := s.ListOpenSessions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "s-2", open[0].ID)
}

func TestMemoryResolveSessionByToken(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	sess := &meeting.ChatSession{
		ID:          "s-1",
		MeetingID:   "m-1",
		UserID:      "u-1",
		State:       meeting.SessionWaiting,
		ResumeToken: "tok-1",
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, s.CreateSession(ctx, sess))

	responses := map[string]string{"q1": "ship the roadmap"}
	got, ok, err := s.ResolveSessionByToken(ctx, "tok-1", responses)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, meeting.SessionCompleted, got.State)
	assert.Equal(t, responses, got.Responses)

	// The token is single-use.
	_, ok, err = s.ResolveSessionByToken(ctx, "tok-1", responses)
	require.NoError(t, err)
	assert.False(t, ok)

	// Unknown token is a lost CAS, not an error.
	_, ok, err = s.ResolveSessionByToken(ctx, "nope", responses)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryUsers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	u := &meeting.User{
		ID:                "u-1",
		Email:             "user@example.com",
		CalendarConnected: true,
	}
	require.NoError(t, s.UpsertUser(ctx, u))
	created := u.CreatedAt

	u.Name = "Pat"
	require.NoError(t, s.UpsertUser(ctx, u))

	got, err := s.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "Pat", got.Name)
	assert.True(t, got.CreatedAt.Equal(created))

	require.NoError(t, s.UpsertUser(ctx, &meeting.User{ID: "u-2", Email: "x@example.com"}))

	connected, err := s.ListConnectedUsers(ctx)
	require.NoError(t, err)
	require.Len(t, connected, 1)
	assert.Equal(t, "u-1", connected[0].ID)

	_, err = s.GetUser(ctx, "nope")
	assert.ErrorIs(t, err, pderrors.ErrNotFound)
}

func advance(t *testing.T, s *Memory, id string, from, to meeting.Status) {
	t.Helper()
	ok, err := s.UpdateMeetingStatus(context.Background(), id, []meeting.Status{from}, to)
	require.NoError(t, err)
	require.True(t, ok)
}
