package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/event-reservation/internal/config"
	"github.com/iliyamo/event-reservation/internal/database"
	"github.com/iliyamo/event-reservation/internal/handler"
	"github.com/iliyamo/event-reservation/internal/imagestore"
	"github.com/iliyamo/event-reservation/internal/logger"
	"github.com/iliyamo/event-reservation/internal/middleware"
	"github.com/iliyamo/event-reservation/internal/queue"
	"github.com/iliyamo/event-reservation/internal/repository"
	"github.com/iliyamo/event-reservation/internal/router"
	"github.com/iliyamo/event-reservation/internal/service"
	"github.com/iliyamo/event-reservation/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

type activityPublisher interface {
	service.ActivityPublisher
	Close() error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Env)
	if err != nil {
		return err
	}

	db, err := database.Open(database.DSN(cfg), cfg.DBMaxOpenConns)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	users := repository.NewUserRepo(db)
	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		id, err := users.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword, cfg.BcryptCost)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		log.Info("admin account ready", zap.Uint64("user_id", id))
	}

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		log.Warn("redis unreachable; rate limiting and listing cache disabled")
	} else {
		defer rdb.Close()
	}

	var wg sync.WaitGroup
	var pub activityPublisher = queue.NopPublisher{}
	if cfg.ActivityEnabled {
		pub = queue.NewPublisher(cfg.RabbitURL, log)
		consumer := queue.NewConsumer(cfg.RabbitURL, cfg.ActivityLogDir, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Run(ctx)
		}()
	}

	events := repository.NewEventRepo(db)
	reservations := repository.NewReservationRepo(db)
	coord := service.NewCoordinator(repository.NewTxRunner(db), events, reservations,
		service.WithPublisher(pub),
		service.WithLockTimeout(cfg.LockTimeout),
		service.WithLogger(log.Named("coordinator")),
	)
	eventSvc := service.NewEventService(coord, events, reservations, imagestore.NewResolver(nil), log.Named("events"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(log.Named("http")))
	e.Use(echomw.CORS())
	e.Use(echomw.BodyLimit("5M"))

	cacheCfg := config.LoadCacheConfig()
	invalidate := middleware.NewCacheInvalidator(cacheCfg, rdb, log)

	router.RegisterRoutes(e, db)
	router.RegisterAuth(e,
		handler.NewAuthHandler(cfg, users, repository.NewTokenRepo(db), log),
		handler.NewSettingsHandler(repository.NewSettingsRepo(db), log),
		cfg.JWTSecret)
	router.RegisterEvents(e, handler.NewEventHandler(eventSvc, log), cfg.JWTSecret, router.EventMiddleware{
		RateLimit:  middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log),
		Cache:      middleware.NewEventsCache(cacheCfg, rdb, log),
		Invalidate: invalidate,
	})
	router.RegisterAdmin(e, handler.NewAdminHandler(users, log), cfg.JWTSecret, invalidate)

	addr := ":" + cfg.Port
	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	runErr := awaitServer(ctx, serveErr, log)
	stop()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	wg.Wait()
	if err := pub.Close(); err != nil {
		log.Warn("close publisher", zap.Error(err))
	}
	if err := shutdownTracing(sctx); err != nil {
		log.Warn("shutdown tracing", zap.Error(err))
	}
	return runErr
}

// awaitServer blocks until a shutdown signal or the listener failing.  A
// listener failure is returned so the process exits non-zero.
func awaitServer(ctx context.Context, serveErr <-chan error, log *zap.Logger) error {
	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-serveErr:
		if err == nil {
			return nil
		}
		log.Error("server failed", zap.Error(err))
		return fmt.Errorf("serve: %w", err)
	}
}
