package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer exports object store latency and failures to Prometheus.
type Observer struct {
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

// NewObserver registers the store metrics on reg, reusing collectors that are
// already registered under the same names.
func NewObserver(namespace string, reg prometheus.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = "objectstore"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &Observer{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of object store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Object store operations that failed. A HEAD miss is not a failure.",
		}, []string{"operation"}),
	}
	if err := reg.Register(o.duration); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register store histogram: %w", err)
		}
		existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, fmt.Errorf("register store histogram: %w", err)
		}
		o.duration = existing
	}
	if err := reg.Register(o.errors); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register store counter: %w", err)
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("register store counter: %w", err)
		}
		o.errors = existing
	}
	return o, nil
}

func (o *Observer) record(op string, start time.Time, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, ErrObjectNotFound) {
		o.errors.WithLabelValues(op).Inc()
	}
}

type instrumented struct {
	Store
	obs *Observer
}

// Instrument wraps store so every network operation is observed.
func Instrument(store Store, obs *Observer) Store {
	if obs == nil {
		return store
	}
	return &instrumented{Store: store, obs: obs}
}

func (s *instrumented) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	start := time.Now()
	u, err := s.Store.PresignPut(ctx, key, contentType, ttl)
	s.obs.record("presign_put", start, err)
	return u, err
}

func (s *instrumented) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	start := time.Now()
	u, err := s.Store.PresignGet(ctx, key, ttl)
	s.obs.record("presign_get", start, err)
	return u, err
}

func (s *instrumented) Head(ctx context.Context, key string) (ObjectInfo, error) {
	start := time.Now()
	info, err := s.Store.Head(ctx, key)
	s.obs.record("head", start, err)
	return info, err
}

func (s *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.Store.Delete(ctx, key)
	s.obs.record("delete", start, err)
	return err
}

func (s *instrumented) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.Store.Open(ctx, key)
	s.obs.record("open", start, err)
	return rc, err
}
