// Package api exposes the upload lifecycle over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/averbadrop/internal/model"
	"github.com/dharsanguruparan/averbadrop/internal/uploads"
)

// UploadService is the part of uploads.Service the handlers call.
type UploadService interface {
	PreparePut(ctx context.Context, req uploads.PrepareRequest) (*uploads.PrepareResult, error)
	CompleteUpload(ctx context.Context, req uploads.CompleteRequest) (*uploads.CompleteResult, error)
	DeleteUpload(ctx context.Context, id int64) (*uploads.DeleteResult, error)
	ListUploads(ctx context.Context, req uploads.ListRequest) ([]model.Upload, error)
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics serves the gatherer's metrics at /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.metrics = g }
}

// WithObjectHandler mounts h under prefix, used for the in-memory store's
// signed PUT and GET URLs.
func WithObjectHandler(prefix string, h http.Handler) Option {
	return func(s *Server) {
		s.objectPrefix = prefix
		s.objects = h
	}
}

// Server exposes HTTP endpoints for the upload lifecycle.
type Server struct {
	addr   string
	svc    UploadService
	logger *zap.Logger

	metrics      prometheus.Gatherer
	objectPrefix string
	objects      http.Handler

	server *http.Server
	once   sync.Once
}

// New constructs a Server listening on addr.
func New(addr string, svc UploadService, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{addr: addr, svc: svc, logger: logger.Named("api")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	}
	if s.objects != nil {
		r.Handle(s.objectPrefix+"*", http.StripPrefix(s.objectPrefix, s.objects))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/uploads", func(r chi.Router) {
			r.Post("/prepare", s.handlePrepare)
			r.Post("/complete", s.handleComplete)
			r.Get("/", s.handleList)
			r.Delete("/{id}", s.handleDelete)
		})
		r.Get("/parents/{parentType}/{parentId}/uploads", s.handleParentUploads)
	})
	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.addr,
			Handler:           s.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", zap.String("addr", s.addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]string{"status": "ok"})
}
