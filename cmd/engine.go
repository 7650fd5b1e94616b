package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/prepd/config"
	"github.com/otherjamesbrown/prepd/pkg/bus"
	"github.com/otherjamesbrown/prepd/pkg/calsync"
	"github.com/otherjamesbrown/prepd/pkg/classify"
	"github.com/otherjamesbrown/prepd/pkg/db"
	"github.com/otherjamesbrown/prepd/pkg/dispatch"
	"github.com/otherjamesbrown/prepd/pkg/gate"
	"github.com/otherjamesbrown/prepd/pkg/logging"
	"github.com/otherjamesbrown/prepd/pkg/materials"
	"github.com/otherjamesbrown/prepd/pkg/meeting"
	"github.com/otherjamesbrown/prepd/pkg/observability"
	"github.com/otherjamesbrown/prepd/pkg/scheduler"
	"github.com/otherjamesbrown/prepd/pkg/store"
	"github.com/otherjamesbrown/prepd/pkg/workers"
	"github.com/otherjamesbrown/prepd/pkg/workflow"
)

// engine bundles the assembled workflow components plus the connections
// they run on. Close releases the connections.
type engine struct {
	Store        *store.Postgres
	Bus          *bus.RedisBus
	Scheduler    *scheduler.RedisScheduler
	Workers      *workers.Pool
	Orchestrator *workflow.Orchestrator
	Synchronizer *calsync.Synchronizer
	Materials    *materials.RedisStore
	Registry     *prometheus.Registry

	redis *redis.Client
	pool  func()
}

// Close releases the engine's database and Redis connections.
func (e *engine) Close() {
	_ = e.redis.Close()
	e.pool()
}

// buildEngine connects to Postgres and Redis and assembles the full
// preparation workflow: store, event bus, timer scheduler, dispatcher,
// response gate, orchestrator, and calendar synchronizer.
func buildEngine(ctx context.Context, cfg *config.Config, logger logging.Logger) (*engine, error) {
	pool, err := db.Connect(ctx, db.FromAppConfig(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		db.Close(pool)
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(db.NewPoolStatsCollector(pool))
	metrics := observability.NewMetrics(registry)

	st := store.NewPostgres(pool, logger)
	eventBus := bus.NewRedisBus(rdb, logger)
	sched := scheduler.NewRedisScheduler(rdb, logger)
	matStore := materials.NewRedisStore(rdb)

	dispatcher := dispatch.New(buildTransports(cfg.Channels), cfg.Channels.Order, logger, metrics)
	g := gate.New(st, sched, cfg.Workflow.GateTimeout, logger, metrics)

	orch := workflow.New(st, eventBus, sched, dispatcher, g,
		materials.NewTemplateGenerator(), matStore,
		retryPolicy(cfg.Workflow), cfg.Workflow.ReminderOffset, logger, metrics)
	orch.Register()

	sync := calsync.NewSynchronizer(st, calsync.NewHTTPClient(cfg.Calendar),
		classify.New(cfg.Classification), sched, eventBus, orch,
		time.Duration(cfg.Sync.LookaheadDays)*24*time.Hour, logger, metrics)

	workerPool := workers.NewPool(workers.Config{
		Count:           cfg.Workers.Count,
		ShutdownTimeout: cfg.Workers.ShutdownTimeout,
	}, eventBus, logger)

	return &engine{
		Store:        st,
		Bus:          eventBus,
		Scheduler:    sched,
		Workers:      workerPool,
		Orchestrator: orch,
		Synchronizer: sync,
		Materials:    matStore,
		Registry:     registry,
		redis:        rdb,
		pool:         func() { db.Close(pool) },
	}, nil
}

// buildTransports constructs one transport per supported channel.
// Unconfigured transports fail at send time and fall through to the next
// channel in the order.
func buildTransports(cc config.ChannelsConfig) []dispatch.Transport {
	return []dispatch.Transport{
		dispatch.NewChatTransport(cc.Chat),
		dispatch.NewSMSTransport(cc.SMS),
		dispatch.NewEmailTransport(cc.Email),
	}
}

// retryPolicy maps workflow configuration onto a dispatch retry policy.
func retryPolicy(wc config.WorkflowConfig) dispatch.RetryPolicy {
	p := dispatch.DefaultRetryPolicy()
	if wc.DispatchMaxAttempts > 0 {
		p.MaxAttempts = wc.DispatchMaxAttempts
	}
	if wc.DispatchInitialBackoff > 0 {
		p.InitialBackoff = wc.DispatchInitialBackoff
	}
	if wc.DispatchMaxBackoff > 0 {
		p.MaxBackoff = wc.DispatchMaxBackoff
	}
	return p
}

// channelNames renders a channel list for table output.
func channelNames(chs []meeting.Channel) string {
	out := ""
	for i, ch := range chs {
		if i > 0 {
			out += ","
		}
		out += string(ch)
	}
	return out
}
