// Package calsync mirrors users' upcoming calendar events into the meeting
// store, classifies new and materially changed meetings, and arms the
// durable prep trigger timers that start each preparation workflow.
package calsync

import (
	"context"
	"time"

	"github.com/otherjamesbrown/prepd/pkg/meeting"
)

// ExternalEvent is one calendar event as fetched from a provider.
type ExternalEvent struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Attendees   []string  `json:"attendees"`
	Organizer   string    `json:"organizer,omitempty"`
	Cancelled   bool      `json:"cancelled,omitempty"`
}

// CalendarClient fetches a user's events from a calendar provider.
type CalendarClient interface {
	// Source identifies the provider, e.g. "google_calendar".
	Source() string

	// FetchEvents returns the user's events with start time in [from, to).
	FetchEvents(ctx context.Context, user *meeting.User, from, to time.Time) ([]ExternalEvent, error)
}

// Canceller terminates a meeting's workflow when its calendar event is
// cancelled. Implemented by the workflow orchestrator.
type Canceller interface {
	CancelMeeting(ctx context.Context, meetingID string) error
}
