// Package scheduler provides durable one-shot timers. Timers live in Redis,
// keyed by a caller-chosen id, and survive process restarts; a poller fires
// them when their deadline passes. Scheduling the same id again replaces the
// existing timer, and firing is claim-based so concurrent pollers deliver
// each timer once.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Timer kinds.
const (
	KindPrepTrigger   = "prep_trigger"
	KindGateTimeout   = "gate_timeout"
	KindReminder      = "reminder"
	KindComplete      = "complete"
	KindDispatchRetry = "dispatch_retry"
	KindSnooze        = "snooze"
)

// Timer is one durable one-shot deadline.
type Timer struct {
	// ID is the caller-chosen dedupe key, e.g. "reminder:<meeting-id>".
	// Re-scheduling an id replaces the pending timer.
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	FireAt  time.Time       `json:"fire_at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewTimer builds a timer with a JSON-encoded payload.
func NewTimer(id, kind string, fireAt time.Time, payload interface{}) (*Timer, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal timer payload: %w", err)
		}
		raw = data
	}
	return &Timer{ID: id, Kind: kind, FireAt: fireAt, Payload: raw}, nil
}

// Decode unmarshals the timer payload into v.
func (t *Timer) Decode(v interface{}) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s timer payload: %w", t.Kind, err)
	}
	return nil
}

// Handler fires when a timer's deadline passes. A non-nil error re-arms the
// timer a short interval later.
type Handler func(ctx context.Context, t *Timer) error

// Scheduler arms and cancels durable timers.
type Scheduler interface {
	// Schedule arms (or replaces) the timer.
	Schedule(ctx context.Context, t *Timer) error

	// Cancel removes a pending timer. Cancelling an unknown or already
	// fired timer is a no-op.
	Cancel(ctx context.Context, id string) error

	// Subscribe registers the handler for a timer kind. Must be called
	// before Run; one handler per kind.
	Subscribe(kind string, h Handler)

	// Run polls for due timers until ctx is cancelled.
	Run(ctx context.Context) error
}

// Memory is an in-process Scheduler for tests. Timers never fire on their
// own; tests call Fire to advance the clock.
type Memory struct {
	mu       sync.Mutex
	timers   map[string]*Timer
	handlers map[string]Handler
}

// NewMemory creates an empty in-process scheduler.
func NewMemory() *Memory {
	return &Memory{
		timers:   make(map[string]*Timer),
		handlers: make(map[string]Handler),
	}
}

func (m *Memory) Schedule(ctx context.Context, t *Timer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.timers[t.ID] = &cp
	return nil
}

func (m *Memory) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timers, id)
	return nil
}

func (m *Memory) Subscribe(kind string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[kind] = h
}

func (m *Memory) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// Pending returns the ids of timers not yet fired, sorted.
func (m *Memory) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.timers))
	for id := range m.timers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns a pending timer by id, or nil.
func (m *Memory) Get(id string) *Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.timers[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// Fire delivers every timer due at or before now and returns how many fired.
// Handler errors leave the timer armed, matching the durable behavior.
func (m *Memory) Fire(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	var due []*Timer
	for _, t := range m.timers {
		if !t.FireAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	m.mu.Unlock()

	fired := 0
	for _, t := range due {
		// Claim before firing so a handler re-arming the same id is
		// not wiped afterwards.
		m.mu.Lock()
		cur, ok := m.timers[t.ID]
		if !ok || !cur.FireAt.Equal(t.FireAt) {
			m.mu.Unlock()
			continue
		}
		delete(m.timers, t.ID)
		h := m.handlers[t.Kind]
		m.mu.Unlock()
		if h == nil {
			continue
		}
		if err := h(ctx, t); err != nil {
			m.mu.Lock()
			if _, replaced := m.timers[t.ID]; !replaced {
				m.timers[t.ID] = cur
			}
			m.mu.Unlock()
			return fired, err
		}
		fired++
	}
	return fired, nil
}

var _ Scheduler = (*Memory)(nil)
