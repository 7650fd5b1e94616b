package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/prepd/pkg/buildinfo"
	"github.com/otherjamesbrown/prepd/pkg/db"
	"github.com/otherjamesbrown/prepd/pkg/logging"
)

// NewServeCommand creates the 'serve' command.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the preparation workflow engine",
		Long: `Run the preparation workflow engine.

Starts the event bus and timer consumers, the periodic calendar sync pass,
and an HTTP endpoint serving /metrics, /healthz, and /version.

The engine is safe to run as multiple replicas: every state transition is a
conditional write, so concurrent executions of the same step collapse to
one effect.

Examples:
  # Run with the default config (~/.prepd/config.yaml)
  prepd serve

  # Run with an explicit config file
  prepd serve --config /etc/prepd/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, err := buildEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			return runEngine(ctx, cfg.Service.MetricsAddr, cfg.Sync.Interval, eng, logger)
		},
	}
}

// runEngine runs the consumers, the sync ticker, and the HTTP endpoint
// until ctx is cancelled or one of them fails.
func runEngine(ctx context.Context, addr string, syncInterval time.Duration, eng *engine, logger logging.Logger) error {
	logger.Info("starting prepd engine",
		logging.F("version", buildinfo.String()),
		logging.F("metrics_addr", addr),
		logging.F("sync_interval", syncInterval.String()))

	errCh := make(chan error, 4)

	go func() { errCh <- eng.Workers.Run(ctx) }()
	go func() { errCh <- eng.Scheduler.Run(ctx) }()
	go func() { errCh <- runSyncLoop(ctx, syncInterval, eng, logger) }()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(eng.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/version", buildinfo.Handler("prepd"))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := db.Check(r.Context(), eng.Store.Pool())
		if !status.Healthy {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		if errors.Is(runErr, context.Canceled) {
			runErr = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", logging.Err(err))
	}

	logger.Info("prepd engine stopped")
	return runErr
}

// runSyncLoop runs one sync pass immediately and then on every tick.
func runSyncLoop(ctx context.Context, interval time.Duration, eng *engine, logger logging.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := eng.Synchronizer.SyncAll(ctx)
		if err != nil {
			logger.Error("sync pass failed", logging.Err(err))
		} else {
			logger.Info("sync pass complete",
				logging.F("users", report.UsersSynced),
				logging.F("created", report.Created),
				logging.F("updated", report.Updated),
				logging.F("cancelled", report.Cancelled),
				logging.F("user_errors", len(report.UserErrors)))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
