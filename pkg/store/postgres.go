package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	pderrors "github.com/otherjamesbrown/prepd/pkg/errors"
	"github.com/otherjamesbrown/prepd/pkg/logging"
	"github.com/otherjamesbrown/prepd/pkg/meeting"
)

// Postgres implements Store on a pgx connection pool. All conditional writes
// are single-statement UPDATEs whose WHERE clause carries the expected prior
// state; RowsAffected is the compare-and-swap verdict.
type Postgres struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPostgres creates a Postgres store.
func NewPostgres(pool *pgxpool.Pool, logger logging.Logger) *Postgres {
	return &Postgres{
		pool:   pool,
		logger: logger.With(logging.F("component", "store")),
	}
}

// Pool returns the underlying database pool.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

const meetingColumns = `
	meeting_id, external_id, user_id, source,
	title, description, location, start_time, end_time, attendees, organizer,
	meeting_type, status, prep_trigger_time, prep_hours_before,
	notification_id, notification_sent_at, chat_session_id, materials_ref,
	dispatch_attempts, needs_follow_up,
	created_at, updated_at, last_synced_at`

// ==================== Meetings ====================

// CreateMeeting inserts a new meeting.
func (p *Postgres) CreateMeeting(ctx context.Context, m *meeting.Meeting) error {
	query := `
		INSERT INTO meetings (
			meeting_id, external_id, user_id, source,
			title, description, location, start_time, end_time, attendees, organizer,
			meeting_type, status, prep_trigger_time, prep_hours_before,
			created_at, updated_at, last_synced_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			NOW(), NOW(), $16
		)
		RETURNING created_at, updated_at
	`

	err := p.pool.QueryRow(ctx, query,
		m.ID, m.ExternalID, m.UserID, m.Source,
		m.Title, m.Description, m.Location, m.StartTime, m.EndTime, m.Attendees, m.Organizer,
		m.MeetingType, m.Status, m.PrepTriggerTime, m.PrepHoursBefore,
		m.LastSyncedAt,
	).Scan(&m.CreatedAt, &m.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("meeting %s/%s: %w", m.UserID, m.ExternalID, pderrors.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create meeting: %w", err)
	}

	p.logger.Debug("Meeting created",
		logging.F("meeting_id", m.ID),
		logging.F("external_id", m.ExternalID))

	return nil
}

// GetMeeting fetches a meeting by its internal id.
func (p *Postgres) GetMeeting(ctx context.Context, id string) (*meeting.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE meeting_id = $1`
	return p.scanMeeting(ctx, query, id)
}

// GetMeetingByExternalID fetches a meeting by the provider event id.
func (p *Postgres) GetMeetingByExternalID(ctx context.Context, userID, externalID string) (*meeting.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE user_id = $1 AND external_id = $2`
	return p.scanMeeting(ctx, query, userID, externalID)
}

// ListMeetingsByUser returns a user's meetings with start_time in [from, to).
func (p *Postgres) ListMeetingsByUser(ctx context.Context, userID string, from, to time.Time) ([]*meeting.Meeting, error) {
	query := `SELECT ` + meetingColumns + `
		FROM meetings
		WHERE user_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time`

	rows, err := p.pool.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}
	defer rows.Close()

	return collectMeetings(rows)
}

// ListMeetingsByStatus returns meetings currently in any of the given statuses.
func (p *Postgres) ListMeetingsByStatus(ctx context.Context, statuses ...meeting.Status) ([]*meeting.Meeting, error) {
	query := `SELECT ` + meetingColumns + `
		FROM meetings
		WHERE status = ANY($1)
		ORDER BY start_time`

	ss := make([]string, len(statuses))
	for i, s := range statuses {
		ss[i] = string(s)
	}

	rows, err := p.pool.Query(ctx, query, ss)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings by status: %w", err)
	}
	defer rows.Close()

	return collectMeetings(rows)
}

// UpdateMeetingSyncFields overwrites scheduling and classification fields,
// conditional on the meeting still being pre-prep.
func (p *Postgres) UpdateMeetingSyncFields(ctx context.Context, m *meeting.Meeting) (bool, error) {
	query := `
		UPDATE meetings SET
			title = $2, description = $3, location = $4,
			start_time = $5, end_time = $6, attendees = $7, organizer = $8,
			meeting_type = $9, status = $10,
			prep_trigger_time = $11, prep_hours_before = $12,
			last_synced_at = $13, updated_at = NOW()
		WHERE meeting_id = $1 AND status IN ('discovered', 'classified')
	`

	tag, err := p.pool.Exec(ctx, query,
		m.ID,
		m.Title, m.Description, m.Location,
		m.StartTime, m.EndTime, m.Attendees, m.Organizer,
		m.MeetingType, m.Status,
		m.PrepTriggerTime, m.PrepHoursBefore,
		m.LastSyncedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update meeting sync fields: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateMeetingStatus conditionally moves the meeting to a new status.
func (p *Postgres) UpdateMeetingStatus(ctx context.Context, id string, expected []meeting.Status, to meeting.Status) (bool, error) {
	for _, from := range expected {
		if !meeting.CanTransition(from, to) {
			return false, fmt.Errorf("transition %s -> %s: %w", from, to, pderrors.ErrInvalidState)
		}
	}

	exp := make([]string, len(expected))
	for i, s := range expected {
		exp[i] = string(s)
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE meetings SET status = $2, updated_at = NOW()
		WHERE meeting_id = $1 AND status = ANY($3)`,
		id, to, exp)
	if err != nil {
		return false, fmt.Errorf("failed to update meeting status: %w", err)
	}

	swapped := tag.RowsAffected() == 1
	if !swapped {
		// Another execution already advanced this meeting; expected under
		// at-least-once event delivery.
		p.logger.Debug("Meeting status CAS lost",
			logging.F("meeting_id", id),
			logging.F("to", string(to)))
	}
	return swapped, nil
}

// MarkNotified records the notification delivery marker, conditional on the
// meeting still awaiting its notification.
func (p *Postgres) MarkNotified(ctx context.Context, id, notificationID string, sentAt time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE meetings
		SET notification_id = $2, notification_sent_at = $3, updated_at = NOW()
		WHERE meeting_id = $1 AND status = 'prep_scheduled' AND notification_sent_at IS NULL`,
		id, notificationID, sentAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark meeting notified: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetSessionID records the chat session opened for the prep cycle.
func (p *Postgres) SetSessionID(ctx context.Context, id, sessionID string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE meetings SET chat_session_id = $2, updated_at = NOW()
		WHERE meeting_id = $1`,
		id, sessionID)
	if err != nil {
		return fmt.Errorf("failed to set session id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("meeting %s: %w", id, pderrors.ErrNotFound)
	}
	return nil
}

// SetMaterialsRef records the generated materials reference.
func (p *Postgres) SetMaterialsRef(ctx context.Context, id, ref string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE meetings SET materials_ref = $2, updated_at = NOW()
		WHERE meeting_id = $1`,
		id, ref)
	if err != nil {
		return fmt.Errorf("failed to set materials ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("meeting %s: %w", id, pderrors.ErrNotFound)
	}
	return nil
}

// RecordDispatchFailure increments the dispatch attempt counter.
func (p *Postgres) RecordDispatchFailure(ctx context.Context, id string) (int, error) {
	var attempts int
	err := p.pool.QueryRow(ctx, `
		UPDATE meetings SET dispatch_attempts = dispatch_attempts + 1, updated_at = NOW()
		WHERE meeting_id = $1
		RETURNING dispatch_attempts`,
		id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("meeting %s: %w", id, pderrors.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to record dispatch failure: %w", err)
	}
	return attempts, nil
}

// MarkFollowUp flags the meeting for manual operator follow-up.
func (p *Postgres) MarkFollowUp(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE meetings SET needs_follow_up = TRUE, updated_at = NOW()
		WHERE meeting_id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("failed to mark follow-up: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("meeting %s: %w", id, pderrors.ErrNotFound)
	}
	return nil
}

func (p *Postgres) scanMeeting(ctx context.Context, query string, args ...interface{}) (*meeting.Meeting, error) {
	row := p.pool.QueryRow(ctx, query, args...)
	m, err := scanMeetingRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pderrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMeetingRow(row rowScanner) (*meeting.Meeting, error) {
	var m meeting.Meeting
	err := row.Scan(
		&m.ID, &m.ExternalID, &m.UserID, &m.Source,
		&m.Title, &m.Description, &m.Location, &m.StartTime, &m.EndTime, &m.Attendees, &m.Organizer,
		&m.MeetingType, &m.Status, &m.PrepTriggerTime, &m.PrepHoursBefore,
		&m.NotificationID, &m.NotificationSentAt, &m.SessionID, &m.MaterialsRef,
		&m.DispatchAttempts, &m.NeedsFollowUp,
		&m.CreatedAt, &m.UpdatedAt, &m.LastSyncedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func collectMeetings(rows pgx.Rows) ([]*meeting.Meeting, error) {
	var out []*meeting.Meeting
	for rows.Next() {
		m, err := scanMeetingRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meeting: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate meetings: %w", err)
	}
	return out, nil
}

// ==================== Chat sessions ====================

const sessionColumns = `
	session_id, meeting_id, user_id, state, resume_token, responses,
	expires_at, created_at, updated_at`

// CreateSession inserts a new session. The partial unique index on open
// sessions per meeting enforces the single-active-session invariant.
func (p *Postgres) CreateSession(ctx context.Context, s *meeting.ChatSession) error {
	query := `
		INSERT INTO chat_sessions (
			session_id, meeting_id, user_id, state, resume_token, responses,
			expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	responses := s.Responses
	if responses == nil {
		responses = map[string]string{}
	}

	err := p.pool.QueryRow(ctx, query,
		s.ID, s.MeetingID, s.UserID, s.State, s.ResumeToken, responses, s.ExpiresAt,
	).Scan(&s.CreatedAt, &s.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("open session for meeting %s: %w", s.MeetingID, pderrors.ErrConflict)
		}
		return fmt.Errorf("failed to create chat session: %w", err)
	}

	p.logger.Debug("Chat session created",
		logging.F("session_id", s.ID),
		logging.F("meeting_id", s.MeetingID))

	return nil
}

// GetSession fetches a session by id.
func (p *Postgres) GetSession(ctx context.Context, id string) (*meeting.ChatSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE session_id = $1`
	return p.scanSession(ctx, query, id)
}

// GetSessionByToken fetches a session by its resume token.
func (p *Postgres) GetSessionByToken(ctx context.Context, token string) (*meeting.ChatSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE resume_token = $1`
	return p.scanSession(ctx, query, token)
}

// ListOpenSessions returns all non-terminal sessions.
func (p *Postgres) ListOpenSessions(ctx context.Context) ([]*meeting.ChatSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM chat_sessions
		WHERE state NOT IN ('completed', 'expired', 'cancelled')
		ORDER BY created_at`

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list open sessions: %w", err)
	}
	defer rows.Close()

	var out []*meeting.ChatSession
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return out, nil
}

// ResolveSessionByToken conditionally completes the waiting session that
// owns the resume token, storing the responses in the same write.
func (p *Postgres) ResolveSessionByToken(ctx context.Context, token string, responses map[string]string) (*meeting.ChatSession, bool, error) {
	if responses == nil {
		responses = map[string]string{}
	}

	query := `
		UPDATE chat_sessions
		SET state = 'completed', responses = $2, updated_at = NOW()
		WHERE resume_token = $1 AND state = 'waiting'
		RETURNING ` + sessionColumns

	row := p.pool.QueryRow(ctx, query, token, responses)
	s, err := scanSessionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Token unknown, or session no longer waiting. Either way the
			// CAS is lost; the gate decides how to report it.
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to resolve session: %w", err)
	}
	return s, true, nil
}

// TransitionSession conditionally moves the session between states.
func (p *Postgres) TransitionSession(ctx context.Context, id string, expected, to meeting.SessionState) (bool, error) {
	if !meeting.CanTransitionSession(expected, to) {
		return false, fmt.Errorf("session transition %s -> %s: %w", expected, to, pderrors.ErrInvalidState)
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE chat_sessions SET state = $3, updated_at = NOW()
		WHERE session_id = $1 AND state = $2`,
		id, expected, to)
	if err != nil {
		return false, fmt.Errorf("failed to transition session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) scanSession(ctx context.Context, query string, args ...interface{}) (*meeting.ChatSession, error) {
	row := p.pool.QueryRow(ctx, query, args...)
	s, err := scanSessionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pderrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func scanSessionRow(row rowScanner) (*meeting.ChatSession, error) {
	var s meeting.ChatSession
	err := row.Scan(
		&s.ID, &s.MeetingID, &s.UserID, &s.State, &s.ResumeToken, &s.Responses,
		&s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ==================== Users ====================

// GetUser fetches a user by id.
func (p *Postgres) GetUser(ctx context.Context, id string) (*meeting.User, error) {
	query := `
		SELECT user_id, email, name, phone_number, timezone,
		       calendar_connected, channels, created_at, updated_at
		FROM users WHERE user_id = $1`

	u, err := scanUserRow(p.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pderrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// UpsertUser inserts or updates a user record.
func (p *Postgres) UpsertUser(ctx context.Context, u *meeting.User) error {
	channels := make([]string, len(u.Channels))
	for i, ch := range u.Channels {
		channels[i] = string(ch)
	}

	query := `
		INSERT INTO users (user_id, email, name, phone_number, timezone,
		                   calendar_connected, channels, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			phone_number = EXCLUDED.phone_number,
			timezone = EXCLUDED.timezone,
			calendar_connected = EXCLUDED.calendar_connected,
			channels = EXCLUDED.channels,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err := p.pool.QueryRow(ctx, query,
		u.ID, u.Email, u.Name, u.PhoneNumber, u.Timezone,
		u.CalendarConnected, channels,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// ListConnectedUsers returns all users with calendar access.
func (p *Postgres) ListConnectedUsers(ctx context.Context) ([]*meeting.User, error) {
	query := `
		SELECT user_id, email, name, phone_number, timezone,
		       calendar_connected, channels, created_at, updated_at
		FROM users WHERE calendar_connected ORDER BY user_id`

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list connected users: %w", err)
	}
	defer rows.Close()

	var out []*meeting.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return out, nil
}

func scanUserRow(row rowScanner) (*meeting.User, error) {
	var u meeting.User
	var channels []string
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.PhoneNumber, &u.Timezone,
		&u.CalendarConnected, &channels, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	for _, ch := range channels {
		u.Channels = append(u.Channels, meeting.Channel(ch))
	}
	return &u, nil
}

// Interface guard.
var _ Store = (*Postgres)(nil)
