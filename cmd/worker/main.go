package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/averbadrop/internal/app"
	"github.com/dharsanguruparan/averbadrop/internal/config"
	"github.com/dharsanguruparan/averbadrop/internal/logging"
	"github.com/dharsanguruparan/averbadrop/internal/queue"
	"github.com/dharsanguruparan/averbadrop/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, _ := logging.New(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	if !cfg.QueueEnabled() {
		logger.Fatal("REDIS_ADDR is required to run the worker")
	}
	a, err := app.Build(ctx, cfg, logger, app.Options{MetricsNamespace: "averbadrop_worker"})
	if err != nil {
		logger.Fatal("init", zap.Error(err))
	}
	defer a.Close()
	if a.StoreErr != nil {
		logger.Fatal("object store unavailable", zap.Error(a.StoreErr))
	}

	server := asynq.NewServer(queue.RedisOpt(cfg.Queue), asynq.Config{
		Concurrency: cfg.Queue.Concurrency,
		Logger:      logger.Named("asynq").Sugar(),
	})
	processor := worker.NewProcessor(a.Repo, a.Store, logger)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()
	go func() {
		if err := worker.ServeMetrics(ctx, cfg.Queue.MetricsAddress, a.Registry, logger); err != nil {
			logger.Error("worker metrics stopped", zap.Error(err))
		}
	}()

	if err := server.Run(mux); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
}
