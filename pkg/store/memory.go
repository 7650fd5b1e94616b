package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	pderrors "github.com/otherjamesbrown/prepd/pkg/errors"
	"github.com/otherjamesbrown/prepd/pkg/meeting"
)

// Memory is an in-memory Store for tests and local development. It enforces
// the same conditional-write semantics as the Postgres implementation,
// including the single-open-session-per-meeting invariant.
type Memory struct {
	mu sync.Mutex

	meetings map[string]*meeting.Meeting // by meeting id
	byExt    map[string]string           // userID|externalID -> meeting id

	sessions map[string]*meeting.ChatSession // by session id
	byToken  map[string]string               // resume token -> session id

	users map[string]*meeting.User
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		meetings: make(map[string]*meeting.Meeting),
		byExt:    make(map[string]string),
		sessions: make(map[string]*meeting.ChatSession),
		byToken:  make(map[string]string),
		users:    make(map[string]*meeting.User),
	}
}

func extKey(userID, externalID string) string {
	return userID + "|" + externalID
}

func copyMeeting(m *meeting.Meeting) *meeting.Meeting {
	c := *m
	c.Attendees = append([]string(nil), m.Attendees...)
	if m.PrepTriggerTime != nil {
		t := *m.PrepTriggerTime
		c.PrepTriggerTime = &t
	}
	if m.NotificationSentAt != nil {
		t := *m.NotificationSentAt
		c.NotificationSentAt = &t
	}
	if m.LastSyncedAt != nil {
		t := *m.LastSyncedAt
		c.LastSyncedAt = &t
	}
	return &c
}

func copySession(s *meeting.ChatSession) *meeting.ChatSession {
	c := *s
	c.Responses = make(map[string]string, len(s.Responses))
	for k, v := range s.Responses {
		c.Responses[k] = v
	}
	return &c
}

func copyUser(u *meeting.User) *meeting.User {
	c := *u
	c.Channels = append([]meeting.Channel(nil), u.Channels...)
	return &c
}

// ==================== Meetings ====================

func (s *Memory) CreateMeeting(ctx context.Context, m *meeting.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := extKey(m.UserID, m.ExternalID)
	if _, ok := s.byExt[key]; ok {
		return fmt.Errorf("meeting %s/%s: %w", m.UserID, m.ExternalID, pderrors.ErrAlreadyExists)
	}
	if _, ok := s.meetings[m.ID]; ok {
		return fmt.Errorf("meeting %s: %w", m.ID, pderrors.ErrAlreadyExists)
	}

	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	s.meetings[m.ID] = copyMeeting(m)
	s.byExt[key] = m.ID
	return nil
}

func (s *Memory) GetMeeting(ctx context.Context, id string) (*meeting.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[id]
	if !ok {
		return nil, pderrors.ErrNotFound
	}
	return copyMeeting(m), nil
}

func (s *Memory) GetMeetingByExternalID(ctx context.Context, userID, externalID string) (*meeting.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byExt[extKey(userID, externalID)]
	if !ok {
		return nil, pderrors.ErrNotFound
	}
	return copyMeeting(s.meetings[id]), nil
}

func (s *Memory) ListMeetingsByUser(ctx context.Context, userID string, from, to time.Time) ([]*meeting.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*meeting.Meeting
	for _, m := range s.meetings {
		if m.UserID != userID {
			continue
		}
		if m.StartTime.Before(from) || !m.StartTime.Before(to) {
			continue
		}
		out = append(out, copyMeeting(m))
	}
	sortMeetings(out)
	return out, nil
}

func (s *Memory) ListMeetingsByStatus(ctx context.Context, statuses ...meeting.Status) ([]*meeting.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[meeting.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	var out []*meeting.Meeting
	for _, m := range s.meetings {
		if want[m.Status] {
			out = append(out, copyMeeting(m))
		}
	}
	sortMeetings(out)
	return out, nil
}

func sortMeetings(ms []*meeting.Meeting) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].StartTime.Equal(ms[j].StartTime) {
			return ms[i].ID < ms[j].ID
		}
		return ms[i].StartTime.Before(ms[j].StartTime)
	})
}

func (s *Memory) UpdateMeetingSyncFields(ctx context.Context, m *meeting.Meeting) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.meetings[m.ID]
	if !ok {
		return false, nil
	}
	if cur.Status != meeting.StatusDiscovered && cur.Status != meeting.StatusClassified {
		return false, nil
	}

	upd := copyMeeting(m)
	upd.NotificationID = cur.NotificationID
	upd.NotificationSentAt = cur.NotificationSentAt
	upd.SessionID = cur.SessionID
	upd.MaterialsRef = cur.MaterialsRef
	upd.DispatchAttempts = cur.DispatchAttempts
	upd.NeedsFollowUp = cur.NeedsFollowUp
	upd.CreatedAt = cur.CreatedAt
	upd.UpdatedAt = time.Now().UTC()

	s.meetings[m.ID] = upd
	return true, nil
}

func (s *Memory) UpdateMeetingStatus(ctx context.Context, id string, expected []meeting.Status, to meeting.Status) (bool, error) {
	for _, from := range expected {
		if !meeting.CanTransition(from, to) {
			return false, fmt.Errorf("transition %s -> %s: %w", from, to, pderrors.ErrInvalidState)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[id]
	if !ok {
		return false, nil
	}
	for _, from := range expected {
		if m.Status == from {
			m.Status = to
			m.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (s *Memory) MarkNotified(ctx context.Context, id, notificationID string, sentAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[id]
	if !ok {
		return false, nil
	}
	if m.Status != meeting.StatusPrepScheduled || m.NotificationSentAt != nil {
		return false, nil
	}

	t := sentAt
	m.NotificationID = notificationID
	m.NotificationSentAt = &t
	m.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Memory) SetSessionID(ctx context.Context, id, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[id]
	if !ok {
		return fmt.Errorf("meeting %s: %w", id, pderrors.ErrNotFound)
	}
	m.SessionID = sessionID
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) SetMaterialsRef(ctx context.Context, id, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[id]
	if !ok {
		return fmt.Errorf("meeting %s: %w", id, pderrors.ErrNotFound)
	}
	m.MaterialsRef = ref
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) RecordDispatchFailure(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[id]
	if !ok {
		return 0, fmt.Errorf("meeting %s: %w", id, pderrors.ErrNotFound)
	}
	m.DispatchAttempts++
	m.UpdatedAt = time.Now().UTC()
	return m.DispatchAttempts, nil
}

func (s *Memory) MarkFollowUp(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[id]
	if !ok {
		return fmt.Errorf("meeting %s: %w", id, pderrors.ErrNotFound)
	}
	m.NeedsFollowUp = true
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// ==================== Chat sessions ====================

func (s *Memory) CreateSession(ctx context.Context, sess *meeting.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sessions {
		if existing.MeetingID == sess.MeetingID && !existing.State.IsTerminal() {
			return fmt.Errorf("open session for meeting %s: %w", sess.MeetingID, pderrors.ErrConflict)
		}
	}
	if _, ok := s.byToken[sess.ResumeToken]; ok {
		return fmt.Errorf("resume token collision: %w", pderrors.ErrConflict)
	}

	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	s.sessions[sess.ID] = copySession(sess)
	s.byToken[sess.ResumeToken] = sess.ID
	return nil
}

func (s *Memory) GetSession(ctx context.Context, id string) (*meeting.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, pderrors.ErrNotFound
	}
	return copySession(sess), nil
}

func (s *Memory) GetSessionByToken(ctx context.Context, token string) (*meeting.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byToken[token]
	if !ok {
		return nil, pderrors.ErrNotFound
	}
	return copySession(s.sessions[id]), nil
}

func (s *Memory) ListOpenSessions(ctx context.Context) ([]*meeting.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*meeting.ChatSession
	for _, sess := range s.sessions {
		if !sess.State.IsTerminal() {
			out = append(out, copySession(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Memory) ResolveSessionByToken(ctx context.Context, token string, responses map[string]string) (*meeting.ChatSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byToken[token]
	if !ok {
		return nil, false, nil
	}
	sess := s.sessions[id]
	if sess.State != meeting.SessionWaiting {
		return nil, false, nil
	}

	sess.State = meeting.SessionCompleted
	sess.Responses = make(map[string]string, len(responses))
	for k, v := range responses {
		sess.Responses[k] = v
	}
	sess.UpdatedAt = time.Now().UTC()
	return copySession(sess), true, nil
}

func (s *Memory) TransitionSession(ctx context.Context, id string, expected, to meeting.SessionState) (bool, error) {
	if !meeting.CanTransitionSession(expected, to) {
		return false, fmt.Errorf("session transition %s -> %s: %w", expected, to, pderrors.ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false, nil
	}
	if sess.State != expected {
		return false, nil
	}
	sess.State = to
	sess.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ==================== Users ====================

func (s *Memory) GetUser(ctx context.Context, id string) (*meeting.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, pderrors.ErrNotFound
	}
	return copyUser(u), nil
}

func (s *Memory) UpsertUser(ctx context.Context, u *meeting.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.users[u.ID]; ok {
		u.CreatedAt = existing.CreatedAt
	} else {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	s.users[u.ID] = copyUser(u)
	return nil
}

func (s *Memory) ListConnectedUsers(ctx context.Context) ([]*meeting.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*meeting.User
	for _, u := range s.users {
		if u.CalendarConnected {
			out = append(out, copyUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Interface guard.
var _ Store = (*Memory)(nil)
