package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/support-bridge/internal/api/http"
	"github.com/spec-kit/support-bridge/internal/api/http/handlers"
	"github.com/spec-kit/support-bridge/internal/config"
	"github.com/spec-kit/support-bridge/internal/events"
	"github.com/spec-kit/support-bridge/internal/intake"
	"github.com/spec-kit/support-bridge/internal/observability"
	"github.com/spec-kit/support-bridge/internal/persistence"
	"github.com/spec-kit/support-bridge/internal/platform"
	"github.com/spec-kit/support-bridge/internal/repository"
	"github.com/spec-kit/support-bridge/internal/service"
	"github.com/spec-kit/support-bridge/internal/session"
	"github.com/spec-kit/support-bridge/internal/worker"
)

const (
	drainTimeout    = 15 * time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	store, storeHealth, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()
	readiness := []handlers.Dependency{storeHealth}

	var (
		sessions session.Store   = session.NewMemoryStore()
		deduper  session.Deduper = session.NewMemoryDeduper(cfg.Bridge.DedupeSize, cfg.Bridge.DedupeTTL)
		locker   session.Locker  = session.NewMemoryLocker()
	)
	if cfg.Redis.Enabled {
		redis := persistence.NewRedis(ctx, cfg.Redis, logger)
		defer redis.Close()
		sessions = session.NewRedisStore(redis.Client)
		deduper = session.NewRedisDeduper(redis.Client, cfg.Bridge.DedupeTTL)
		if cfg.Bridge.LockBackend == config.LockBackendRedis {
			locker = session.NewRedisLocker(redis.Client, cfg.Bridge.LockTTL)
		}
		readiness = append(readiness, handlers.Dependency{Name: "redis", Pinger: redis})
	}

	telegram, err := platform.NewTelegramClient(cfg.Telegram, logger)
	if err != nil {
		logger.Fatal("failed to init telegram client", zap.Error(err))
	}
	botUsername, err := telegram.BotUsername(ctx)
	if err != nil {
		logger.Warn("unable to resolve bot username; commands addressed to other bots are accepted", zap.Error(err))
	}

	dispatcher := worker.NewDispatcher(telegram, cfg.Dispatch, logger, metrics)
	bus := events.NewInMemoryDispatcher()

	notifications := service.NewNotificationService(bus, store.Events, dispatcher, logger, cfg.Bridge)
	notifications.RegisterHandlers()

	bridge := service.NewBridgeService(service.BridgeDependencies{
		Tickets:    store.Tickets,
		Mirrors:    store.Mirrors,
		Sessions:   sessions,
		Locker:     locker,
		Dispatcher: dispatcher,
		Events:     bus,
		Groups:     cfg.Groups,
		Config:     cfg.Bridge,
		Logger:     logger,
		Metrics:    metrics,
	})
	dispatcher.SetResultHandler(bridge)

	pipeline := intake.New(intake.NewNormalizer(cfg.Groups, botUsername), deduper, bridge, metrics, logger)
	pipeline.SetThrottler(intake.NewThrottler(cfg.Bridge.ThrottleInterval, cfg.Bridge.ThrottleBurst))

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		WebhookPath: cfg.Telegram.WebhookPath,
		Health:      handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, readiness...),
		Webhook:     handlers.NewWebhookHandler(pipeline, cfg.Telegram.SecretToken, logger),
		Metrics:     handlers.NewMetricsHandler(metrics),
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.App.Addr()))
		return app.Listen(cfg.App.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	g.Go(func() error {
		return dispatcher.Run(gctx, drainTimeout)
	})

	switch cfg.Telegram.UpdatesMode {
	case config.UpdatesModePolling:
		g.Go(func() error {
			updates, err := telegram.PollUpdates(gctx, time.Duration(cfg.Telegram.PollTimeoutS)*time.Second)
			if err != nil {
				return err
			}
			logger.Info("long polling started")
			return pipeline.Poll(gctx, updates)
		})
	case config.UpdatesModeWebhook:
		if cfg.Telegram.WebhookURL != "" {
			if err := telegram.SetWebhook(ctx, cfg.Telegram.WebhookURL, cfg.Telegram.SecretToken); err != nil {
				logger.Fatal("failed to register webhook", zap.Error(err))
			}
			logger.Info("webhook registered", zap.String("url", cfg.Telegram.WebhookURL))
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("bridge stopped", zap.Error(err))
		return
	}
	logger.Info("bridge stopped")
}

// openStore connects the configured ticket storage backend.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, handlers.Dependency, func()) {
	switch cfg.Storage.Driver {
	case config.StorageDriverSQLite:
		db, err := persistence.NewSQLite(ctx, cfg.SQLite, logger)
		if err != nil {
			logger.Fatal("failed to open sqlite", zap.Error(err))
		}
		return repository.NewSQLiteStore(db.DB), handlers.Dependency{Name: "sqlite", Pinger: db}, db.Close
	default:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), persistence.DefaultMigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		return repository.NewPostgresStore(pg.PoolHandle()), handlers.Dependency{Name: "postgres", Pinger: pg}, pg.Close
	}
}
