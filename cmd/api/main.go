package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"authsession/internal/cache"
	"authsession/internal/config"
	"authsession/internal/database"
	"authsession/internal/events"
	"authsession/internal/handlers"
	"authsession/internal/jobs"
	"authsession/internal/log"
	"authsession/internal/middleware"
	"authsession/internal/repository"
	"authsession/internal/security"
	"authsession/internal/server"
	"authsession/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.LogLevel)

	ctx := context.Background()

	var (
		users  service.UserRepository
		dbPool *pgxpool.Pool
		checks []handlers.HealthCheck
	)
	switch cfg.Storage.Driver {
	case config.StorageDriverPostgres:
		dbPool, err = database.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect postgres")
		}
		if cfg.Postgres.AutoMigrate {
			if err := database.Migrate(ctx, dbPool); err != nil {
				logger.Fatal().Err(err).Msg("failed to migrate postgres")
			}
		}
		users = repository.NewUserRepository(dbPool)
		checks = append(checks, handlers.HealthCheck{Name: "database", Ping: dbPool.Ping})
	default:
		users = repository.NewMemoryUserRepository()
		logger.Warn().Msg("using in-memory user storage, accounts are lost on restart")
	}

	var (
		redisClient *redis.Client
		stream      *events.StreamPublisher
		publisher   events.Publisher = events.NopPublisher{}
		revokeList  service.RevocationList
		revokeCheck middleware.RevocationChecker
	)
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis, "authsession-api")
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		stream = events.NewStreamPublisher(redisClient, cfg.Events.Stream, cfg.Events.MaxLen)
		publisher = stream
		checks = append(checks, handlers.HealthCheck{Name: "cache", Ping: cache.Ping(redisClient)})

		if cfg.Security.Revocation {
			list := cache.NewRedisRevocationList(redisClient)
			revokeList = list
			revokeCheck = list
		}
	}

	hasher, err := security.NewPasswordHasher(cfg.Security.PasswordAlgorithm, cfg.Security.BcryptCost)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid password hashing config")
	}
	tokens := security.NewTokenService(cfg.Security.JWTSecret, cfg.Security.TokenTTL)
	creds := service.NewCredentialStore(users, hasher, cfg.Security.MinPasswordLength)
	auth := service.NewAuthService(creds, tokens, revokeList, publisher, logger)

	var (
		metrics  *middleware.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = middleware.NewMetrics(cfg.Metrics.Namespace, registry)
		gatherer = registry
	}

	handlerSet := handlers.NewHandlerSet(logger, cfg, handlers.Deps{
		Auth:        auth,
		Tokens:      tokens,
		Revocations: revokeCheck,
		Metrics:     metrics,
		Checks:      checks,
	})
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet, metrics, gatherer)

	var trimmer jobs.StreamTrimmer
	if stream != nil {
		trimmer = stream
	}
	scheduler := jobs.NewScheduler(trimmer, cfg.Events.TrimSchedule, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	logger.Info().
		Str("storage", cfg.Storage.Driver).
		Bool("redis", cfg.Redis.Enabled).
		Bool("revocation", revokeCheck != nil).
		Str("password_algorithm", hasher.Algorithm()).
		Msg("auth service configured")

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, dbPool, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("forced shutdown failed")
		}
	}

	if scheduler != nil {
		scheduler.Stop()
	}

	if db != nil {
		db.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}

	logger.Info().Msg("server exited cleanly")
}
