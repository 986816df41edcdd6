// Package app wires the averbadrop components from a config.Config. Every
// binary in cmd/ builds its dependencies through Build.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/averbadrop/internal/apperr"
	"github.com/dharsanguruparan/averbadrop/internal/config"
	"github.com/dharsanguruparan/averbadrop/internal/database"
	"github.com/dharsanguruparan/averbadrop/internal/objectstore"
	"github.com/dharsanguruparan/averbadrop/internal/parent"
	"github.com/dharsanguruparan/averbadrop/internal/queue"
	"github.com/dharsanguruparan/averbadrop/internal/repository"
	"github.com/dharsanguruparan/averbadrop/internal/uploads"
)

// Options control optional start-up steps.
type Options struct {
	// Migrate applies pending schema migrations before anything else.
	Migrate bool
	// MetricsNamespace prefixes the object store metrics.
	MetricsNamespace string
}

// App holds the wired components. Store is nil when storage is
// misconfigured; StoreErr then says why.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Pool     *pgxpool.Pool
	Registry *prometheus.Registry
	Store    objectstore.Store
	StoreErr error
	// Memory is set when the in-memory driver is active so its signed URL
	// handler can be mounted.
	Memory  *objectstore.Memory
	Repo    *repository.UploadRepository
	Linker  *parent.Linker
	Queue   *queue.Client
	Uploads *uploads.Service
}

// Build connects to Postgres, opens the object store and assembles the
// upload service.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if opts.Migrate {
		if err := database.Migrate(cfg.DatabaseURL, logger); err != nil {
			return nil, err
		}
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Pool:     pool,
		Registry: prometheus.NewRegistry(),
		Repo:     repository.NewUploadRepository(pool),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := a.openStore(ctx, opts.MetricsNamespace); err != nil {
		pool.Close()
		return nil, err
	}

	tables := parent.DefaultTables(cfg.Parents)
	if cfg.Parents.ProbeSchema {
		probed, err := parent.Probe(ctx, pool, tables, logger)
		if err != nil {
			logger.Warn("parent schema probe failed, using declared shapes", zap.Error(err))
		} else {
			tables = probed
		}
	}
	a.Linker = parent.NewLinker(pool, tables, logger)

	deps := uploads.Deps{
		Store:    a.Store,
		StoreErr: a.StoreErr,
		Repo:     a.Repo,
		Linker:   a.Linker,
		Logger:   logger,
	}
	if cfg.QueueEnabled() {
		a.Queue = queue.NewClient(cfg.Queue)
		deps.Queue = a.Queue
	}
	a.Uploads = uploads.New(deps, uploads.OptionsFromConfig(cfg))
	return a, nil
}

// openStore keeps a configuration error instead of failing so that listing
// keeps working; presign and completion report it per request.
func (a *App) openStore(ctx context.Context, namespace string) error {
	store, err := objectstore.Open(ctx, a.Config.Storage, a.Logger)
	if err != nil {
		if errors.Is(err, apperr.ErrConfiguration) {
			a.Logger.Error("object store disabled", zap.Error(err))
			a.StoreErr = err
			return nil
		}
		return fmt.Errorf("open object store: %w", err)
	}
	switch s := store.(type) {
	case *objectstore.Memory:
		a.Memory = s
	case *objectstore.Minio:
		if err := s.EnsureBucket(ctx); err != nil {
			a.Logger.Warn("ensure bucket failed", zap.String("bucket", s.Bucket()), zap.Error(err))
		}
	}
	if namespace == "" {
		namespace = "averbadrop"
	}
	obs, err := objectstore.NewObserver(namespace, a.Registry)
	if err != nil {
		return err
	}
	a.Store = objectstore.Instrument(store, obs)
	return nil
}

// Close releases the pool and the queue client.
func (a *App) Close() {
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.Logger.Warn("close queue client", zap.Error(err))
		}
	}
	a.Pool.Close()
}
