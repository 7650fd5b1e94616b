// Package bus provides at-least-once event delivery between the engine's
// components. Events are JSON envelopes on per-topic Redis lists; a
// dead-letter list catches envelopes that exhaust their retries.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Topics carried by the bus.
const (
	TopicPrepRequired  = "events.prep.required"
	TopicChatCompleted = "events.chat.completed"
	TopicReminderDue   = "events.reminder.due"
)

// Envelope wraps an event payload with delivery metadata. Consumers may see
// the same envelope more than once; handlers must be idempotent.
type Envelope struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Attempts    int             `json:"attempts"`
	PublishedAt time.Time       `json:"published_at"`
	Payload     json.RawMessage `json:"payload"`
}

// PrepRequired is published when a meeting's preparation window opens.
type PrepRequired struct {
	MeetingID   string    `json:"meeting_id"`
	UserID      string    `json:"user_id"`
	MeetingType string    `json:"meeting_type"`
	TriggerTime time.Time `json:"trigger_time"`
}

// ChatCompleted is published by the chat collaborator callback when the user
// finishes (or abandons) the prep conversation.
type ChatCompleted struct {
	ResumeToken string            `json:"resume_token"`
	Responses   map[string]string `json:"responses,omitempty"`
}

// ReminderDue is published when a meeting's final reminder timer fires (or
// the user snoozes for a later nudge). Consumed by the external notification
// collaborator.
type ReminderDue struct {
	MeetingID string `json:"meeting_id"`
}

// NewEnvelope wraps payload for publication on topic.
func NewEnvelope(topic string, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return &Envelope{
		ID:          uuid.New().String(),
		Topic:       topic,
		PublishedAt: time.Now().UTC(),
		Payload:     raw,
	}, nil
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Topic, err)
	}
	return nil
}
