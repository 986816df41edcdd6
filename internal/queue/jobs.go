// Package queue defines the asynq tasks the upload pipeline hands off to the
// worker binary.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/averbadrop/internal/config"
)

const (
	// PurgeObjectTask retries deleting an object that still existed after
	// DeleteUpload.
	PurgeObjectTask = "upload:purge"
	// InspectUploadTask records facts about a completed PDF upload.
	InspectUploadTask = "upload:inspect"
)

const purgeMaxRetry = 5

// PurgePayload names the object to delete.
type PurgePayload struct {
	UploadID int64  `json:"upload_id"`
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
}

// InspectPayload names the upload to inspect.
type InspectPayload struct {
	UploadID int64  `json:"upload_id,omitempty"`
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
}

// RedisOpt converts the queue settings to asynq connection options.
func RedisOpt(cfg config.QueueConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// NewPurgeTask builds a purge task.
func NewPurgeTask(payload PurgePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode purge payload: %w", err)
	}
	return asynq.NewTask(PurgeObjectTask, data, asynq.MaxRetry(purgeMaxRetry)), nil
}

// NewInspectTask builds an inspect task.
func NewInspectTask(payload InspectPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode inspect payload: %w", err)
	}
	return asynq.NewTask(InspectUploadTask, data, asynq.MaxRetry(3)), nil
}

// Client enqueues upload tasks.
type Client struct {
	client *asynq.Client
}

// NewClient connects to the Redis instance in cfg.
func NewClient(cfg config.QueueConfig) *Client {
	return &Client{client: asynq.NewClient(RedisOpt(cfg))}
}

// EnqueuePurge schedules a purge retry.
func (c *Client) EnqueuePurge(ctx context.Context, payload PurgePayload) error {
	task, err := NewPurgeTask(payload)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue purge: %w", err)
	}
	return nil
}

// EnqueueInspect schedules a PDF inspection.
func (c *Client) EnqueueInspect(ctx context.Context, payload InspectPayload) error {
	task, err := NewInspectTask(payload)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue inspect: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
