// Package objectstore talks to the S3-compatible object store. Every driver
// satisfies Store so the upload service never depends on a concrete SDK.
package objectstore

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/averbadrop/internal/apperr"
	"github.com/dharsanguruparan/averbadrop/internal/config"
)

// ErrObjectNotFound is returned by Head and Open when the key is absent.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo is what a HEAD probe reveals about an object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// Store is the object storage contract used by the upload pipeline.
type Store interface {
	Bucket() string
	// PublicURL derives the object's URL without a network round trip.
	PublicURL(key string) string
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Head(ctx context.Context, key string) (ObjectInfo, error)
	// Delete is best effort; the store may apply it eventually.
	Delete(ctx context.Context, key string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Open validates cfg and builds the configured driver.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case config.DriverMinio:
		return NewMinio(cfg)
	case config.DriverS3:
		return NewS3(ctx, cfg)
	case config.DriverMemory:
		logger.Warn("using in-memory object store, objects are lost on restart")
		return NewMemory(cfg), nil
	default:
		return nil, apperr.Configuration("unknown storage driver %q", cfg.Driver)
	}
}

// publicURL joins base and key, escaping each key segment.
func publicURL(base, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segments, "/")
}

// endpointBase turns "host:port" into a URL honouring useSSL; endpoints that
// already carry a scheme are kept as they are.
func endpointBase(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/")
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + strings.TrimRight(endpoint, "/")
}
