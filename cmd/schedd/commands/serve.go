package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/schedd/internal/config"
	"github.com/t77yq/schedd/internal/events"
	"github.com/t77yq/schedd/internal/executor"
	"github.com/t77yq/schedd/internal/monitor"
	"github.com/t77yq/schedd/internal/scheduler"
	"github.com/t77yq/schedd/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler daemon",
	Long: `Run the scheduler daemon in the foreground.

Loads persisted schedules, starts the cron trigger engine and worker pool,
and executes due schedules until interrupted. With NATS enabled, lifecycle
and execution events are published to JetStream and the alerter and metrics
collector run on top of them.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	defer logger.Sync()

	store, err := storage.NewSQLiteStore(logger, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	registry, closeRegistry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRegistry()

	// Event publishing is optional; without NATS everything still runs.
	publisher := events.Publisher(events.NopPublisher{})
	var js nats.JetStreamContext
	if cfg.NATS.Enabled {
		nc, err := connectNATS(cfg, logger)
		if err != nil {
			return err
		}
		defer nc.Close()

		js, err = nc.JetStream()
		if err != nil {
			return fmt.Errorf("failed to create JetStream context: %w", err)
		}
		publisher, err = events.NewJetStreamPublisher(js, logger)
		if err != nil {
			return err
		}
	}

	coordinator := executor.NewCoordinator(store, registry.Execute, logger)
	manager := scheduler.NewManager(scheduler.ManagerConfig{
		Workers:   cfg.Scheduler.Workers,
		QueueSize: cfg.Scheduler.QueueSize,
	}, store, coordinator, publisher, logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		return err
	}

	var alerter *monitor.Alerter
	if cfg.NATS.Enabled && cfg.Alerts.Enabled {
		alerter = monitor.NewAlerter(js, publisher, cfg.Alerts.FailureThreshold, logger)
		if err := alerter.Start(ctx); err != nil {
			logger.Error("Failed to start alerter", zap.Error(err))
			alerter = nil
		}
	}

	var collector *monitor.Collector
	if cfg.Metrics.Enabled {
		collector = monitor.NewCollector(manager, publisher, cfg.Metrics.Interval, logger)
		collector.Start(ctx)
	}

	go retentionLoop(ctx, manager, cfg.History.RetentionDays)

	logger.Info("schedd started",
		zap.String("database", cfg.Database.Path),
		zap.Strings("executors", registry.Names()),
		zap.Bool("nats", cfg.NATS.Enabled))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	// Stop components in reverse order of startup.
	if collector != nil {
		collector.Stop()
	}
	if alerter != nil {
		alerter.Stop()
	}
	manager.Stop()

	logger.Info("schedd stopped")
	return nil
}

// connectNATS dials NATS with bounded retries.
func connectNATS(cfg *config.Config, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	var err error
	for attempt := 1; attempt <= 5; attempt++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))
			return nc, nil
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", attempt),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(attempt))
	}
	return nil, fmt.Errorf("failed to connect to NATS after retries: %w", err)
}

// retentionLoop purges execution history older than the retention window
// once a day.
func retentionLoop(ctx context.Context, manager *scheduler.Manager, days int) {
	if days <= 0 {
		return
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -days)
			if _, err := manager.PurgeHistoryBefore(ctx, cutoff); err != nil {
				logger.Error("Failed to purge execution history", zap.Error(err))
			}
		}
	}
}
