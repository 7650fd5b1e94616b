// Package meeting defines the core domain model for prepd: calendar meetings
// under preparation management, the chat sessions that gather a user's
// free-form prep responses, and the state machines both move through.
package meeting

import "time"

// Type classifies a meeting. Values are defined by the classification rules
// in the runtime configuration; TypeUnknown is the fallback when no rule
// matches.
type Type string

// TypeUnknown is the default classification when no rule matches.
const TypeUnknown Type = "unknown"

// Status is the preparation status of a meeting. Transitions are strictly
// forward-moving except StatusCancelled, which is reachable from any
// non-terminal status.
type Status string

const (
	StatusDiscovered     Status = "discovered"       // Found in calendar, not yet classified
	StatusClassified     Status = "classified"       // Type determined, prep not started
	StatusPrepScheduled  Status = "prep_scheduled"   // Prep notification being dispatched
	StatusPrepInProgress Status = "prep_in_progress" // Notification delivered, waiting on user
	StatusPrepCompleted  Status = "prep_completed"   // Responses collected (or gate expired)
	StatusReminderSent   Status = "reminder_sent"    // Final reminder armed/delivered
	StatusCompleted      Status = "completed"        // Terminal
	StatusCancelled      Status = "cancelled"        // Terminal, reachable from any non-terminal state
)

// SessionState is the state of a chat session opened by the response gate.
type SessionState string

const (
	SessionCreated   SessionState = "created"
	SessionActive    SessionState = "active"
	SessionWaiting   SessionState = "waiting"
	SessionCompleted SessionState = "completed"
	SessionExpired   SessionState = "expired"
	SessionCancelled SessionState = "cancelled"
)

// Channel identifies a notification transport.
type Channel string

const (
	ChannelChat  Channel = "chat"
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Meeting represents one calendar occurrence under management.
//
// Field ownership: the synchronizer is the only writer of scheduling and
// classification fields prior to StatusPrepScheduled; the workflow
// orchestrator is the only writer of Status from then on. Meetings are never
// physically deleted; they soft-terminate at StatusCompleted or
// StatusCancelled.
type Meeting struct {
	// Identity
	ID         string `json:"meeting_id"`
	ExternalID string `json:"external_id"` // provider event id, unique per user; upsert key during sync
	UserID     string `json:"user_id"`
	Source     string `json:"source"` // "google_calendar", "microsoft_calendar", or "manual"

	// Calendar details
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Attendees   []string  `json:"attendees"`
	Organizer   string    `json:"organizer,omitempty"`

	// Classification
	MeetingType     Type       `json:"meeting_type"`
	Status          Status     `json:"status"`
	PrepTriggerTime *time.Time `json:"prep_trigger_time,omitempty"`
	PrepHoursBefore int        `json:"prep_hours_before,omitempty"`

	// Idempotency markers. NotificationSentAt presence is the sole
	// idempotency guard for prep notification delivery.
	NotificationID     string     `json:"notification_id,omitempty"`
	NotificationSentAt *time.Time `json:"notification_sent_at,omitempty"`

	// References
	SessionID    string `json:"chat_session_id,omitempty"`
	MaterialsRef string `json:"materials_ref,omitempty"`

	// Dispatch bookkeeping
	DispatchAttempts int  `json:"dispatch_attempts,omitempty"`
	NeedsFollowUp    bool `json:"needs_follow_up,omitempty"`

	// Metadata
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// NotificationSent reports whether the prep notification for this meeting
// has already been delivered.
func (m *Meeting) NotificationSent() bool {
	return m.NotificationSentAt != nil
}

// MaterialChange reports whether other differs from m in the fields that
// warrant reclassification: title, start/end time, or attendee set.
func (m *Meeting) MaterialChange(other *Meeting) bool {
	if m.Title != other.Title {
		return true
	}
	if !m.StartTime.Equal(other.StartTime) || !m.EndTime.Equal(other.EndTime) {
		return true
	}
	if len(m.Attendees) != len(other.Attendees) {
		return true
	}
	for i := range m.Attendees {
		if m.Attendees[i] != other.Attendees[i] {
			return true
		}
	}
	return false
}

// ChatSession represents one open human-response window for a meeting's
// prep cycle. At most one non-terminal session exists per meeting.
type ChatSession struct {
	ID        string       `json:"session_id"`
	MeetingID string       `json:"meeting_id"`
	UserID    string       `json:"user_id"`
	State     SessionState `json:"state"`

	// ResumeToken is the opaque single-use token the external chat
	// collaborator presents to resolve the response gate.
	ResumeToken string `json:"resume_token"`

	// Responses are the user's answers to prep questions, keyed by question id.
	Responses map[string]string `json:"responses,omitempty"`

	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a meeting owner the engine notifies.
type User struct {
	ID                string    `json:"user_id"`
	Email             string    `json:"email"`
	Name              string    `json:"name,omitempty"`
	PhoneNumber       string    `json:"phone_number,omitempty"`
	Timezone          string    `json:"timezone,omitempty"`
	CalendarConnected bool      `json:"calendar_connected"`
	Channels          []Channel `json:"channels,omitempty"` // preferred notification order; empty means service default
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NotificationChannels returns the user's preferred channel order, filtered
// to channels the user can actually receive, falling back to the given
// service default.
func (u *User) NotificationChannels(defaults []Channel) []Channel {
	order := u.Channels
	if len(order) == 0 {
		order = defaults
	}
	out := make([]Channel, 0, len(order))
	for _, ch := range order {
		if ch == ChannelSMS && u.PhoneNumber == "" {
			continue
		}
		if ch == ChannelEmail && u.Email == "" {
			continue
		}
		out = append(out, ch)
	}
	return out
}
