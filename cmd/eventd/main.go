package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/exportlens/eventd/internal/config"
	"github.com/exportlens/eventd/internal/eventbus"
	"github.com/exportlens/eventd/internal/janitor"
	"github.com/exportlens/eventd/internal/schema"
	"github.com/exportlens/eventd/internal/store"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "error", err)
		os.Exit(1)
	}

	var (
		st         eventbus.Store
		pruner     janitor.PruneStore
		closeStore func() error
	)
	switch cfg.StoreDriver {
	case "sqlite":
		db, err := store.Open(cfg.DBPath)
		if err != nil {
			logger.Error("open db", "error", err)
			os.Exit(1)
		}
		sqlStore := store.NewSQLite(db)
		st, pruner, closeStore = sqlStore, sqlStore, db.Close
	case "redis":
		rds, err := store.NewRedis(store.RedisConfig{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Error("open redis store", "error", err)
			os.Exit(1)
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = rds.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Error("ping redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		st, pruner, closeStore = rds, rds, rds.Close
	default:
		logger.Error("unknown store driver", "driver", cfg.StoreDriver)
		os.Exit(1)
	}

	bus := eventbus.New(st,
		eventbus.WithLogger(logger),
		eventbus.WithTickInterval(cfg.TickInterval),
	)

	registerConsumers(bus, logger)

	jan, err := janitor.New(pruner, cfg.RetentionSchedule, cfg.RetentionMaxAge, janitor.WithLogger(logger))
	if err != nil {
		logger.Error("configure janitor", "error", err)
		os.Exit(1)
	}
	jan.Start()

	if _, err := bus.Publish(context.Background(), eventbus.PublishInput{
		Type:    schema.EventSystemStarted,
		Payload: map[string]any{"store_driver": cfg.StoreDriver},
		Source:  "eventd",
	}); err != nil {
		logger.Warn("publish startup event", "error", err)
	}

	statsCtx, stopStats := context.WithCancel(context.Background())
	go logStats(statsCtx, bus, logger)

	logger.Info("eventd running", "store_driver", cfg.StoreDriver, "tick_interval", cfg.TickInterval.String())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	stopStats()
	jan.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bus.Stop(ctx); err != nil {
		logger.Error("bus shutdown", "error", err)
	}
	if err := closeStore(); err != nil {
		logger.Error("close store", "error", err)
	}
}

// registerConsumers wires the assessment pipeline: a verified business kicks
// off an assessment, a completed assessment that came back export-ready
// queues a notification, and queued notifications get delivered.
func registerConsumers(bus *eventbus.Bus, logger *slog.Logger) {
	mustSubscribe(logger, bus, schema.EventBusinessVerified, func(ctx context.Context, evt eventbus.Event) error {
		logger.Info("business verified",
			"event_id", evt.ID,
			"business_id", schema.MetaString(evt.Metadata, schema.MetaBusinessID))
		_, err := bus.Publish(ctx, eventbus.PublishInput{
			Type:     schema.EventAssessmentStarted,
			Payload:  evt.Payload,
			Source:   "assessments",
			Metadata: evt.Metadata,
		})
		return err
	},
		eventbus.WithPriorities(schema.PriorityHigh, schema.PriorityCritical),
		eventbus.WithMaxRetries(2),
	)

	mustSubscribe(logger, bus, schema.EventAssessmentCompleted, func(ctx context.Context, evt eventbus.Event) error {
		logger.Info("assessment export-ready, queueing notification",
			"event_id", evt.ID,
			"assessment_id", schema.MetaString(evt.Metadata, schema.MetaAssessmentID))
		_, err := bus.Publish(ctx, eventbus.PublishInput{
			Type:     schema.EventNotificationQueued,
			Payload:  map[string]any{"channel": "email", "template": "export-ready"},
			Source:   "assessments",
			Metadata: evt.Metadata,
		})
		return err
	},
		eventbus.WithMatch(eventbus.MatchPayloadPath("export_ready", "true")),
	)

	mustSubscribe(logger, bus, schema.EventNotificationQueued, func(ctx context.Context, evt eventbus.Event) error {
		logger.Info("notification dispatched",
			"event_id", evt.ID,
			"channel", eventbus.PayloadString(evt, "channel"))
		return nil
	},
		eventbus.WithSources("assessments"),
		eventbus.WithMaxRetries(1),
		eventbus.WithRetryDelay(2*time.Second),
	)
}

func mustSubscribe(logger *slog.Logger, bus *eventbus.Bus, eventType string, handler eventbus.Handler, opts ...eventbus.SubscribeOption) {
	if _, err := bus.Subscribe(eventType, handler, opts...); err != nil {
		logger.Error("subscribe", "event_type", eventType, "error", err)
		os.Exit(1)
	}
}

func logStats(ctx context.Context, bus *eventbus.Bus, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := bus.Stats()
			logger.Info("bus stats",
				"published", s.Published,
				"processed", s.Processed,
				"delivered", s.Delivered,
				"retries", s.Retries,
				"handler_failures", s.HandlerFailures,
				"pending", bus.PendingCount(),
				"subscriptions", bus.SubscriptionCount())
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
