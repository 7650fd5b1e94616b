package bus

import (
	"context"
	"sync"
)

// Handler processes one envelope. A non-nil error triggers redelivery until
// the retry budget is spent.
type Handler func(ctx context.Context, env *Envelope) error

// Bus publishes and consumes events. Delivery is at-least-once.
type Bus interface {
	// Publish enqueues payload on topic.
	Publish(ctx context.Context, topic string, payload interface{}) error

	// Subscribe registers the handler for a topic. Must be called before
	// Run; one handler per topic.
	Subscribe(topic string, h Handler)

	// Run consumes subscribed topics until ctx is cancelled.
	Run(ctx context.Context) error
}

// Memory is an in-process Bus for tests. Publish delivers synchronously to
// the subscribed handler; Run is a no-op kept for interface parity.
type Memory struct {
	mu       sync.Mutex
	handlers map[string]Handler

	// Published retains every envelope in publication order for assertions.
	published []*Envelope

	// Deliver controls synchronous delivery; when false, Publish only
	// records the envelope.
	Deliver bool
}

// NewMemory creates an in-process bus with synchronous delivery enabled.
func NewMemory() *Memory {
	return &Memory{
		handlers: make(map[string]Handler),
		Deliver:  true,
	}
}

func (b *Memory) Publish(ctx context.Context, topic string, payload interface{}) error {
	env, err := NewEnvelope(topic, payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.published = append(b.published, env)
	h := b.handlers[topic]
	deliver := b.Deliver
	b.mu.Unlock()

	if deliver && h != nil {
		env.Attempts++
		return h(ctx, env)
	}
	return nil
}

func (b *Memory) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = h
}

func (b *Memory) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// Published returns the envelopes published so far, optionally filtered by
// topic.
func (b *Memory) Published(topic string) []*Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*Envelope
	for _, env := range b.published {
		if topic == "" || env.Topic == topic {
			out = append(out, env)
		}
	}
	return out
}

var _ Bus = (*Memory)(nil)
