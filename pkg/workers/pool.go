// Package workers provides the consumer pool that drains the event bus.
package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/prepd/pkg/logging"
)

// Status is a worker's lifecycle state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusHealthy  Status = "healthy"
	StatusDraining Status = "draining"
	StatusStopped  Status = "stopped"
)

// Consumer pops and handles one envelope per call. A (false, nil) return
// means nothing was pending within the poll window.
type Consumer interface {
	ConsumeOnce(ctx context.Context) (bool, error)
}

// Config configures the pool.
type Config struct {
	// Count is the number of concurrent workers.
	Count int

	// ErrorBackoff is how long a worker sleeps after a consume error.
	ErrorBackoff time.Duration

	// ShutdownTimeout bounds how long Stop waits for in-flight work.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns pool defaults.
func DefaultConfig() Config {
	return Config{
		Count:           4,
		ErrorBackoff:    2 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Worker is one consumer loop inside a pool.
type Worker struct {
	ID string

	status atomic.Value // Status

	Processed atomic.Int64
	Failed    atomic.Int64

	LastActivity atomic.Int64 // unix nanos
}

func newWorker() *Worker {
	w := &Worker{ID: uuid.New().String()}
	w.status.Store(StatusStarting)
	return w
}

// Status returns the worker's current lifecycle state.
func (w *Worker) Status() Status {
	return w.status.Load().(Status)
}

// Pool runs a fixed number of workers against one Consumer. Workers compete
// for envelopes, so the pool scales consumption without reordering guarantees
// beyond the bus's own.
type Pool struct {
	cfg      Config
	consumer Consumer
	logger   logging.Logger

	mu      sync.Mutex
	workers []*Worker

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPool creates a worker pool. Zero config fields fall back to defaults.
func NewPool(cfg Config, consumer Consumer, logger logging.Logger) *Pool {
	def := DefaultConfig()
	if cfg.Count <= 0 {
		cfg.Count = def.Count
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = def.ErrorBackoff
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	return &Pool{
		cfg:      cfg,
		consumer: consumer,
		logger:   logger.With(logging.F("component", "workers")),
	}
}

// Run starts the workers and blocks until ctx is cancelled, then drains.
func (p *Pool) Run(ctx context.Context) error {
	p.Start(ctx)
	<-ctx.Done()
	p.Stop()
	return ctx.Err()
}

// Start launches the workers. Call Stop to drain them.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	p.workers = make([]*Worker, 0, p.cfg.Count)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Count; i++ {
		w := newWorker()
		p.workers = append(p.workers, w)
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			p.runWorker(runCtx, w)
		}(w)
	}
	done := p.done
	p.mu.Unlock()

	go func() {
		wg.Wait()
		close(done)
	}()

	p.logger.Info("Worker pool started", logging.F("count", p.cfg.Count))
}

// Stop cancels the workers and waits for them to drain, up to the shutdown
// timeout.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	workers := p.workers
	p.mu.Unlock()

	if cancel == nil {
		return
	}

	for _, w := range workers {
		w.status.Store(StatusDraining)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownTimeout):
		p.logger.Warn("Worker pool drain timed out",
			logging.F("timeout", p.cfg.ShutdownTimeout.String()))
	}

	for _, w := range workers {
		w.status.Store(StatusStopped)
	}
	p.logger.Info("Worker pool stopped")
}

func (p *Pool) runWorker(ctx context.Context, w *Worker) {
	w.status.Store(StatusHealthy)

	for {
		if ctx.Err() != nil {
			return
		}

		handled, err := p.consumer.ConsumeOnce(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.Failed.Add(1)
			p.logger.Warn("Consume failed",
				logging.F("worker_id", w.ID),
				logging.Err(err))
			select {
			case <-time.After(p.cfg.ErrorBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		if handled {
			w.Processed.Add(1)
			w.LastActivity.Store(time.Now().UnixNano())
		}
	}
}

// WorkerInfo is a point-in-time view of one worker.
type WorkerInfo struct {
	ID        string
	Status    Status
	Processed int64
	Failed    int64
}

// Snapshot reports the state of every worker.
func (p *Pool) Snapshot() []WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]WorkerInfo, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, WorkerInfo{
			ID:        w.ID,
			Status:    w.Status(),
			Processed: w.Processed.Load(),
			Failed:    w.Failed.Load(),
		})
	}
	return out
}
