// Package worker runs the follow-up tasks the upload service enqueues.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/averbadrop/internal/objectstore"
	pdfutil "github.com/dharsanguruparan/averbadrop/internal/pdf"
	"github.com/dharsanguruparan/averbadrop/internal/queue"
)

// MetadataWriter merges inspection results into an upload's metadata.
type MetadataWriter interface {
	MergeMetadata(ctx context.Context, bucket, key string, extra map[string]any) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	repo   MetadataWriter
	store  objectstore.Store
	logger *zap.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(repo MetadataWriter, store objectstore.Store, logger *zap.Logger) *Processor {
	return &Processor{repo: repo, store: store, logger: logger.Named("worker")}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.PurgeObjectTask, p.handlePurge)
	mux.HandleFunc(queue.InspectUploadTask, p.handleInspect)
	return mux
}

// handlePurge deletes the object again and fails, so asynq retries, while a
// HEAD still finds it.
func (p *Processor) handlePurge(ctx context.Context, task *asynq.Task) error {
	var payload queue.PurgePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.Bucket != "" && payload.Bucket != p.store.Bucket() {
		p.logger.Warn("purge for another bucket dropped", zap.String("bucket", payload.Bucket), zap.String("key", payload.Key))
		return nil
	}
	if err := p.store.Delete(ctx, payload.Key); err != nil {
		return fmt.Errorf("delete %s: %w", payload.Key, err)
	}
	_, err := p.store.Head(ctx, payload.Key)
	switch {
	case errors.Is(err, objectstore.ErrObjectNotFound):
		p.logger.Info("object purged", zap.Int64("upload_id", payload.UploadID), zap.String("key", payload.Key))
		return nil
	case err != nil:
		return fmt.Errorf("head %s: %w", payload.Key, err)
	default:
		return fmt.Errorf("object %s still present after delete", payload.Key)
	}
}

func (p *Processor) handleInspect(ctx context.Context, task *asynq.Task) error {
	var payload queue.InspectPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	body, err := p.store.Open(ctx, payload.Key)
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			p.logger.Info("inspected object is gone", zap.String("key", payload.Key))
			return nil
		}
		return fmt.Errorf("open %s: %w", payload.Key, err)
	}
	defer body.Close()

	info, err := pdfutil.InspectReader(body)
	if err != nil {
		// A malformed PDF will not parse on retry either.
		p.logger.Warn("inspect pdf failed", zap.String("key", payload.Key), zap.Error(err))
		return fmt.Errorf("inspect %s: %w: %w", payload.Key, err, asynq.SkipRetry)
	}
	bucket := payload.Bucket
	if bucket == "" {
		bucket = p.store.Bucket()
	}
	if err := p.repo.MergeMetadata(ctx, bucket, payload.Key, map[string]any{
		"pages":   info.Pages,
		"hasText": info.HasText,
	}); err != nil {
		return fmt.Errorf("record inspection: %w", err)
	}
	p.logger.Info("upload inspected", zap.String("key", payload.Key), zap.Int("pages", info.Pages))
	return nil
}
