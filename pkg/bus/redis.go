package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/prepd/pkg/logging"
)

// Redis key prefixes
const (
	keyPrefixTopic = "bus:"
	suffixDLQ      = ":dlq"
)

const (
	defaultMaxAttempts  = 5
	defaultPollTimeout  = 5 * time.Second
	defaultRetryBackoff = 2 * time.Second
)

// RedisBus implements Bus on Redis lists, one list per topic. Consumers pop
// with a blocking read; failed handlers re-enqueue the envelope until the
// attempt budget is spent, then it lands on the topic's dead-letter list.
type RedisBus struct {
	client       *redis.Client
	logger       logging.Logger
	maxAttempts  int
	pollTimeout  time.Duration
	retryBackoff time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
}

// RedisBusOption customizes a RedisBus.
type RedisBusOption func(*RedisBus)

// WithMaxAttempts overrides the per-envelope delivery budget.
func WithMaxAttempts(n int) RedisBusOption {
	return func(b *RedisBus) { b.maxAttempts = n }
}

// WithPollTimeout overrides the blocking-pop timeout.
func WithPollTimeout(d time.Duration) RedisBusOption {
	return func(b *RedisBus) { b.pollTimeout = d }
}

// NewRedisBus creates a Redis-backed bus.
func NewRedisBus(client *redis.Client, logger logging.Logger, opts ...RedisBusOption) *RedisBus {
	b := &RedisBus{
		client:       client,
		logger:       logger.With(logging.F("component", "bus")),
		maxAttempts:  defaultMaxAttempts,
		pollTimeout:  defaultPollTimeout,
		retryBackoff: defaultRetryBackoff,
		handlers:     make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func topicKey(topic string) string { return keyPrefixTopic + topic }

// Publish enqueues payload on topic.
func (b *RedisBus) Publish(ctx context.Context, topic string, payload interface{}) error {
	env, err := NewEnvelope(topic, payload)
	if err != nil {
		return err
	}
	return b.push(ctx, env)
}

func (b *RedisBus) push(ctx context.Context, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := b.client.LPush(ctx, topicKey(env.Topic), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", env.Topic, err)
	}

	b.logger.Debug("Event published",
		logging.F("topic", env.Topic),
		logging.F("event_id", env.ID))

	return nil
}

// Subscribe registers the handler for a topic.
func (b *RedisBus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = h
}

// Run consumes every subscribed topic until ctx is cancelled, one consumer
// goroutine per topic.
func (b *RedisBus) Run(ctx context.Context) error {
	b.mu.Lock()
	topics := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		topics = append(topics, t)
	}
	b.mu.Unlock()

	if len(topics) == 0 {
		return fmt.Errorf("no topics subscribed")
	}

	var wg sync.WaitGroup
	for _, topic := range topics {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			b.consume(ctx, topic)
		}(topic)
	}
	wg.Wait()
	return ctx.Err()
}

// ConsumeOnce blocks for up to the poll timeout on every subscribed topic and
// processes at most one envelope. It reports whether an envelope was handled.
// Multiple callers may consume concurrently; the blocking pop hands each
// envelope to exactly one of them.
func (b *RedisBus) ConsumeOnce(ctx context.Context) (bool, error) {
	b.mu.Lock()
	keys := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		keys = append(keys, topicKey(t))
	}
	b.mu.Unlock()

	if len(keys) == 0 {
		return false, fmt.Errorf("no topics subscribed")
	}

	data, err := b.client.BRPop(ctx, b.pollTimeout, keys...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}

	var env Envelope
	if err := json.Unmarshal([]byte(data[1]), &env); err != nil {
		b.logger.Error("Dropping malformed envelope",
			logging.F("key", data[0]),
			logging.Err(err))
		return false, nil
	}

	b.mu.Lock()
	h := b.handlers[env.Topic]
	b.mu.Unlock()
	if h == nil {
		b.logger.Error("No handler for topic",
			logging.F("topic", env.Topic),
			logging.F("event_id", env.ID))
		return false, nil
	}

	b.handle(ctx, h, &env)
	return true, nil
}

func (b *RedisBus) consume(ctx context.Context, topic string) {
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()

	key := topicKey(topic)
	for {
		if ctx.Err() != nil {
			return
		}

		data, err := b.client.BRPop(ctx, b.pollTimeout, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			b.logger.Warn("Failed to pop event",
				logging.F("topic", topic),
				logging.Err(err))
			select {
			case <-time.After(b.retryBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		// BRPop returns [key, value].
		var env Envelope
		if err := json.Unmarshal([]byte(data[1]), &env); err != nil {
			b.logger.Error("Dropping malformed envelope",
				logging.F("topic", topic),
				logging.Err(err))
			continue
		}

		b.handle(ctx, h, &env)
	}
}

func (b *RedisBus) handle(ctx context.Context, h Handler, env *Envelope) {
	env.Attempts++

	err := h(ctx, env)
	if err == nil {
		return
	}

	b.logger.Warn("Event handler failed",
		logging.F("topic", env.Topic),
		logging.F("event_id", env.ID),
		logging.F("attempts", env.Attempts),
		logging.Err(err))

	if env.Attempts >= b.maxAttempts {
		b.deadLetter(ctx, env, err)
		return
	}

	if pushErr := b.push(ctx, env); pushErr != nil {
		b.logger.Error("Failed to re-enqueue event",
			logging.F("topic", env.Topic),
			logging.F("event_id", env.ID),
			logging.Err(pushErr))
	}
}

func (b *RedisBus) deadLetter(ctx context.Context, env *Envelope, cause error) {
	entry := map[string]interface{}{
		"envelope": env,
		"reason":   cause.Error(),
		"moved_at": time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		b.logger.Error("Failed to marshal dead-letter entry",
			logging.F("event_id", env.ID),
			logging.Err(err))
		return
	}

	if err := b.client.LPush(ctx, topicKey(env.Topic)+suffixDLQ, data).Err(); err != nil {
		b.logger.Error("Failed to dead-letter event",
			logging.F("topic", env.Topic),
			logging.F("event_id", env.ID),
			logging.Err(err))
		return
	}

	b.logger.Error("Event moved to dead-letter queue",
		logging.F("topic", env.Topic),
		logging.F("event_id", env.ID),
		logging.F("attempts", env.Attempts))
}

// Depth returns the number of pending envelopes on a topic.
func (b *RedisBus) Depth(ctx context.Context, topic string) (int64, error) {
	return b.client.LLen(ctx, topicKey(topic)).Result()
}

var _ Bus = (*RedisBus)(nil)
