package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/prepd/pkg/logging"
)

// fakeConsumer hands out a fixed number of envelopes, then reports idle.
type fakeConsumer struct {
	remaining atomic.Int64
	err       error
	errCount  atomic.Int64
}

func (f *fakeConsumer) ConsumeOnce(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if f.err != nil {
		f.errCount.Add(1)
		return false, f.err
	}
	if f.remaining.Add(-1) >= 0 {
		return true, nil
	}
	// Idle poll.
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(time.Millisecond):
		return false, nil
	}
}

func testConfig(count int) Config {
	return Config{
		Count:           count,
		ErrorBackoff:    time.Millisecond,
		ShutdownTimeout: time.Second,
	}
}

func TestPoolProcessesPendingWork(t *testing.T) {
	consumer := &fakeConsumer{}
	consumer.remaining.Store(10)

	pool := NewPool(testConfig(3), consumer, logging.NewNop())
	pool.Start(context.Background())
	defer pool.Stop()

	require.Eventually(t, func() bool {
		var total int64
		for _, w := range pool.Snapshot() {
			total += w.Processed
		}
		return total == 10
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPoolStopDrainsWorkers(t *testing.T) {
	consumer := &fakeConsumer{}

	pool := NewPool(testConfig(2), consumer, logging.NewNop())
	pool.Start(context.Background())

	for _, w := range pool.Snapshot() {
		assert.Equal(t, StatusHealthy, w.Status)
	}

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not drain within a second")
	}

	for _, w := range pool.Snapshot() {
		assert.Equal(t, StatusStopped, w.Status)
	}
}

func TestPoolBacksOffOnConsumeError(t *testing.T) {
	consumer := &fakeConsumer{err: errors.New("redis gone")}

	pool := NewPool(testConfig(1), consumer, logging.NewNop())
	pool.Start(context.Background())
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return consumer.errCount.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	snap := pool.Snapshot()
	require.Len(t, snap, 1)
	assert.GreaterOrEqual(t, snap[0].Failed, int64(3))
	assert.Zero(t, snap[0].Processed)
}

func TestPoolZeroConfigGetsDefaults(t *testing.T) {
	pool := NewPool(Config{}, &fakeConsumer{}, logging.NewNop())
	pool.Start(context.Background())
	defer pool.Stop()

	assert.Len(t, pool.Snapshot(), DefaultConfig().Count)
}

func TestPoolRunStopsOnContextCancel(t *testing.T) {
	consumer := &fakeConsumer{}
	consumer.remaining.Store(5)

	pool := NewPool(testConfig(2), consumer, logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
