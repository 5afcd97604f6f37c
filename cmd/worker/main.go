package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"facetag/internal/cache"
	"facetag/internal/config"
	"facetag/internal/database"
	"facetag/internal/jobs"
	"facetag/internal/log"
	"facetag/internal/queue"
	"facetag/internal/repository"
	"facetag/internal/service"
	"facetag/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.LogLevel).With().Str("component", "worker").Logger()

	if err := cfg.ValidateWorker(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	defer dbPool.Close()

	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	detections, err := repository.NewDetectionRepository(client, cfg.Detection)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build detection repository")
	}
	producer := queue.NewProducer(client, cfg.Queue.Stream)
	fanout := service.NewFanoutService(repository.NewPostRepository(dbPool), detections, producer, cfg.Jobs.ReconcileWindow, logger)

	consumer := queue.NewConsumer(client, queue.ConsumerOptions{
		Stream:        cfg.Queue.Stream,
		Group:         cfg.Queue.Group,
		Consumer:      cfg.Queue.Consumer,
		ClaimInterval: cfg.Queue.ClaimInterval,
		MaxDeliveries: cfg.Queue.MaxDeliveries,
	}, logger, tasks.NewProcessor(fanout, logger))

	scheduler := jobs.NewScheduler(producer, cfg.Jobs.ReconcileSpec, logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("scheduler start failed")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("consumer stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	select {
	case <-scheduler.Stop().Done():
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("reconcile job still running at shutdown")
	}
	<-done
	logger.Info().Msg("worker exited cleanly")
}
