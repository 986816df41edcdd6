package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/averbadrop/internal/api"
	"github.com/dharsanguruparan/averbadrop/internal/app"
	"github.com/dharsanguruparan/averbadrop/internal/config"
	"github.com/dharsanguruparan/averbadrop/internal/logging"
	"github.com/dharsanguruparan/averbadrop/internal/objectstore"
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

	a, err := app.Build(ctx, cfg, logger, app.Options{Migrate: true})
	if err != nil {
		logger.Fatal("init", zap.Error(err))
	}
	defer a.Close()

	opts := []api.Option{api.WithMetrics(a.Registry)}
	if a.Memory != nil {
		opts = append(opts, api.WithObjectHandler(objectstore.MemoryPathPrefix+a.Memory.Bucket()+"/", a.Memory))
	}
	srv := api.New(cfg.Address, a.Uploads, logger, opts...)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}
