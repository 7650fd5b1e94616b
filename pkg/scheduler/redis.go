package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/prepd/pkg/logging"
)

// Redis keys
const (
	keyTimerSet    = "timers"        // sorted set, score = fire time (unix seconds)
	keyPrefixTimer = "timers:entry:" // timer data
)

const (
	defaultPollInterval = time.Second
	defaultRetryDelay   = 30 * time.Second
	defaultBatchSize    = 100
)

// RedisScheduler implements Scheduler on a Redis sorted set scored by fire
// time. Firing claims the member with ZRem first, so overlapping pollers
// deliver each timer exactly once per arming.
type RedisScheduler struct {
	client       *redis.Client
	logger       logging.Logger
	pollInterval time.Duration
	retryDelay   time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
}

// RedisSchedulerOption customizes a RedisScheduler.
type RedisSchedulerOption func(*RedisScheduler)

// WithPollInterval overrides how often the poller scans for due timers.
func WithPollInterval(d time.Duration) RedisSchedulerOption {
	return func(s *RedisScheduler) { s.pollInterval = d }
}

// WithRetryDelay overrides how far a failed timer is pushed back.
func WithRetryDelay(d time.Duration) RedisSchedulerOption {
	return func(s *RedisScheduler) { s.retryDelay = d }
}

// NewRedisScheduler creates a Redis-backed scheduler.
func NewRedisScheduler(client *redis.Client, logger logging.Logger, opts ...RedisSchedulerOption) *RedisScheduler {
	s := &RedisScheduler{
		client:       client,
		logger:       logger.With(logging.F("component", "scheduler")),
		pollInterval: defaultPollInterval,
		retryDelay:   defaultRetryDelay,
		handlers:     make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule arms (or replaces) the timer.
func (s *RedisScheduler) Schedule(ctx context.Context, t *Timer) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal timer: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, keyPrefixTimer+t.ID, data, 0)
	pipe.ZAdd(ctx, keyTimerSet, redis.Z{
		Score:  float64(t.FireAt.Unix()),
		Member: t.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to schedule timer %s: %w", t.ID, err)
	}

	s.logger.Debug("Timer armed",
		logging.F("timer_id", t.ID),
		logging.F("kind", t.Kind),
		logging.F("fire_at", t.FireAt.UTC().Format(time.RFC3339)))

	return nil
}

// Cancel removes a pending timer.
func (s *RedisScheduler) Cancel(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, keyTimerSet, id)
	pipe.Del(ctx, keyPrefixTimer+id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cancel timer %s: %w", id, err)
	}
	return nil
}

// Subscribe registers the handler for a timer kind.
func (s *RedisScheduler) Subscribe(kind string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

// Run polls for due timers until ctx is cancelled.
func (s *RedisScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.fireDue(ctx, time.Now()); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				s.logger.Warn("Timer poll failed", logging.Err(err))
			}
		}
	}
}

func (s *RedisScheduler) fireDue(ctx context.Context, now time.Time) error {
	ids, err := s.client.ZRangeByScore(ctx, keyTimerSet, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: defaultBatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to scan due timers: %w", err)
	}

	for _, id := range ids {
		// Claim before firing; losing the claim means another poller
		// owns this timer.
		removed, err := s.client.ZRem(ctx, keyTimerSet, id).Result()
		if err != nil {
			return fmt.Errorf("failed to claim timer %s: %w", id, err)
		}
		if removed == 0 {
			continue
		}
		s.fire(ctx, id)
	}
	return nil
}

func (s *RedisScheduler) fire(ctx context.Context, id string) {
	key := keyPrefixTimer + id

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Cancelled between claim and fetch.
		return
	}
	if err != nil {
		s.logger.Error("Failed to load timer",
			logging.F("timer_id", id),
			logging.Err(err))
		return
	}

	var t Timer
	if err := json.Unmarshal(data, &t); err != nil {
		s.logger.Error("Dropping malformed timer",
			logging.F("timer_id", id),
			logging.Err(err))
		s.client.Del(ctx, key)
		return
	}

	s.mu.Lock()
	h := s.handlers[t.Kind]
	s.mu.Unlock()

	if h == nil {
		s.logger.Error("No handler for timer kind",
			logging.F("timer_id", id),
			logging.F("kind", t.Kind))
		return
	}

	if err := h(ctx, &t); err != nil {
		s.logger.Warn("Timer handler failed, re-arming",
			logging.F("timer_id", id),
			logging.F("kind", t.Kind),
			logging.Err(err))
		t.FireAt = time.Now().Add(s.retryDelay)
		if schedErr := s.Schedule(ctx, &t); schedErr != nil {
			s.logger.Error("Failed to re-arm timer",
				logging.F("timer_id", id),
				logging.Err(schedErr))
		}
		return
	}

	s.client.Del(ctx, key)
}

// Pending returns how many timers are armed.
func (s *RedisScheduler) Pending(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, keyTimerSet).Result()
}

var _ Scheduler = (*RedisScheduler)(nil)
