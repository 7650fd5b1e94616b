// Package store provides persistence for meetings, chat sessions, and users.
//
// Every status mutation is a per-record conditional write: the update
// succeeds only when the record's current state matches the expected prior
// state, and the boolean result is the compare-and-swap verdict. Callers
// treat a false verdict as "another execution already advanced this record"
// and move on; this is the engine's only concurrency-control mechanism.
//
// Two implementations exist: Postgres (production) and Memory (tests and
// local development).
package store

import (
	"context"
	"time"

	"github.com/otherjamesbrown/prepd/pkg/meeting"
)

// MeetingStore persists meetings. Absent meetings are reported as
// pkg/errors.ErrNotFound.
type MeetingStore interface {
	// CreateMeeting inserts a new meeting. Returns ErrAlreadyExists when a
	// meeting with the same (userID, externalID) already exists.
	CreateMeeting(ctx context.Context, m *meeting.Meeting) error

	// GetMeeting fetches a meeting by its internal id.
	GetMeeting(ctx context.Context, id string) (*meeting.Meeting, error)

	// GetMeetingByExternalID fetches a meeting by the provider event id.
	// This is the upsert key during calendar sync.
	GetMeetingByExternalID(ctx context.Context, userID, externalID string) (*meeting.Meeting, error)

	// ListMeetingsByUser returns a user's meetings with start_time in
	// [from, to), ordered by start time.
	ListMeetingsByUser(ctx context.Context, userID string, from, to time.Time) ([]*meeting.Meeting, error)

	// ListMeetingsByStatus returns meetings currently in any of the given
	// statuses, ordered by start time.
	ListMeetingsByStatus(ctx context.Context, statuses ...meeting.Status) ([]*meeting.Meeting, error)

	// UpdateMeetingSyncFields overwrites scheduling and classification
	// fields (title, times, attendees, type, prep trigger). The write is
	// conditional on the meeting still being pre-prep (DISCOVERED or
	// CLASSIFIED); it reports false once the workflow owns the record.
	UpdateMeetingSyncFields(ctx context.Context, m *meeting.Meeting) (bool, error)

	// UpdateMeetingStatus conditionally moves the meeting from any of the
	// expected statuses to the new status. Returns (false, nil) when the
	// precondition no longer holds; that is not an error.
	UpdateMeetingStatus(ctx context.Context, id string, expected []meeting.Status, to meeting.Status) (bool, error)

	// MarkNotified records the delivery marker. Conditional on
	// status = PREP_SCHEDULED and the marker still being unset, which
	// closes the dispatch check-then-act race.
	MarkNotified(ctx context.Context, id, notificationID string, sentAt time.Time) (bool, error)

	// SetSessionID records the chat session opened for the prep cycle.
	SetSessionID(ctx context.Context, id, sessionID string) error

	// SetMaterialsRef records the generated materials reference.
	SetMaterialsRef(ctx context.Context, id, ref string) error

	// RecordDispatchFailure increments the dispatch attempt counter and
	// returns the new count.
	RecordDispatchFailure(ctx context.Context, id string) (int, error)

	// MarkFollowUp flags the meeting for manual operator follow-up after
	// dispatch retries are exhausted.
	MarkFollowUp(ctx context.Context, id string) error
}

// SessionStore persists chat sessions opened by the response gate.
type SessionStore interface {
	// CreateSession inserts a new session. Returns ErrConflict when a
	// non-terminal session already exists for the meeting.
	CreateSession(ctx context.Context, s *meeting.ChatSession) error

	// GetSession fetches a session by id.
	GetSession(ctx context.Context, id string) (*meeting.ChatSession, error)

	// GetSessionByToken fetches a session by its resume token.
	GetSessionByToken(ctx context.Context, token string) (*meeting.ChatSession, error)

	// ListOpenSessions returns all non-terminal sessions.
	ListOpenSessions(ctx context.Context) ([]*meeting.ChatSession, error)

	// ResolveSessionByToken conditionally moves the session identified by
	// the resume token from WAITING to COMPLETED, storing the responses.
	// The verdict is false when the token exists but the session is no
	// longer waiting (stale token) or the token is unknown.
	ResolveSessionByToken(ctx context.Context, token string, responses map[string]string) (*meeting.ChatSession, bool, error)

	// TransitionSession conditionally moves the session from the expected
	// state to the new state.
	TransitionSession(ctx context.Context, id string, expected, to meeting.SessionState) (bool, error)
}

// UserStore persists users.
type UserStore interface {
	// GetUser fetches a user by id.
	GetUser(ctx context.Context, id string) (*meeting.User, error)

	// UpsertUser inserts or updates a user record.
	UpsertUser(ctx context.Context, u *meeting.User) error

	// ListConnectedUsers returns all users with calendar access.
	ListConnectedUsers(ctx context.Context) ([]*meeting.User, error)
}

// Store combines meeting, session, and user persistence.
type Store interface {
	MeetingStore
	SessionStore
	UserStore
}
