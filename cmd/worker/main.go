package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"authsession/internal/audit"
	"authsession/internal/cache"
	"authsession/internal/config"
	"authsession/internal/log"
	"authsession/internal/queue"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.LogLevel)

	client, err := cache.NewRedisClient(context.Background(), config.RedisConfig{
		Enabled:  true,
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, "authsession-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	processor := audit.NewProcessor(logger, audit.Options{
		FailureThreshold: cfg.Audit.FailureThreshold,
		FailureWindow:    cfg.Audit.FailureWindow,
	})
	consumer := queue.NewConsumer(client, queue.Options{
		Stream:        cfg.Redis.Stream,
		Group:         cfg.Redis.Group,
		Consumer:      cfg.Redis.Consumer,
		BatchSize:     cfg.Queues.BatchSize,
		Block:         cfg.Queues.Block,
		ClaimInterval: cfg.Queues.ClaimInterval,
	}, logger, processor)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal().Err(err).Msg("consumer stopped unexpectedly")
		}
	}()

	logger.Info().Str("stream", cfg.Redis.Stream).Str("group", cfg.Redis.Group).Msg("audit worker started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	select {
	case <-done:
	case <-time.After(cfg.Queues.Block + time.Second):
		logger.Warn().Msg("consumer did not stop in time")
	}
}
