package worker

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/averbadrop/internal/config"
	"github.com/dharsanguruparan/averbadrop/internal/objectstore"
	"github.com/dharsanguruparan/averbadrop/internal/queue"
)

type metadataSpy struct {
	merged map[string]map[string]any
}

func (m *metadataSpy) MergeMetadata(_ context.Context, _, key string, extra map[string]any) error {
	if m.merged == nil {
		m.merged = map[string]map[string]any{}
	}
	m.merged[key] = extra
	return nil
}

type stickyStore struct {
	*objectstore.Memory
}

func (stickyStore) Delete(context.Context, string) error { return nil }

func newStore() *objectstore.Memory {
	return objectstore.NewMemory(config.StorageConfig{Bucket: "docs", SigningSecret: []byte("k")})
}

func TestHandlePurge(t *testing.T) {
	store := newStore()
	store.Put("averbacoes/a.pdf", []byte("x"), "application/pdf")
	p := NewProcessor(&metadataSpy{}, store, zap.NewNop())

	task, err := queue.NewPurgeTask(queue.PurgePayload{UploadID: 7, Bucket: "docs", Key: "averbacoes/a.pdf"})
	require.NoError(t, err)
	require.NoError(t, p.handlePurge(context.Background(), task))

	_, err = store.Head(context.Background(), "averbacoes/a.pdf")
	assert.ErrorIs(t, err, objectstore.ErrObjectNotFound)

	// Purging an already missing object succeeds.
	assert.NoError(t, p.handlePurge(context.Background(), task))
}

func TestHandlePurgeRetriesWhileObjectLingers(t *testing.T) {
	store := newStore()
	store.Put("k", []byte("x"), "")
	p := NewProcessor(&metadataSpy{}, stickyStore{store}, zap.NewNop())

	task, err := queue.NewPurgeTask(queue.PurgePayload{Bucket: "docs", Key: "k"})
	require.NoError(t, err)
	err = p.handlePurge(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleInspectRecordsPageFacts(t *testing.T) {
	data, err := os.ReadFile("../pdf/testdata/one-page.pdf")
	require.NoError(t, err)
	store := newStore()
	store.Put("averbacoes/a.pdf", data, "application/pdf")
	spy := &metadataSpy{}
	p := NewProcessor(spy, store, zap.NewNop())

	task, err := queue.NewInspectTask(queue.InspectPayload{UploadID: 7, Key: "averbacoes/a.pdf"})
	require.NoError(t, err)
	require.NoError(t, p.handleInspect(context.Background(), task))
	assert.Equal(t, map[string]any{"pages": 1, "hasText": true}, spy.merged["averbacoes/a.pdf"])
}

func TestHandleInspectSkipsMalformedPDF(t *testing.T) {
	store := newStore()
	store.Put("a.pdf", []byte("not really a pdf"), "application/pdf")
	spy := &metadataSpy{}
	p := NewProcessor(spy, store, zap.NewNop())

	task, err := queue.NewInspectTask(queue.InspectPayload{Bucket: "docs", Key: "a.pdf"})
	require.NoError(t, err)
	err = p.handleInspect(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, spy.merged)
}

func TestHandleInspectMissingObject(t *testing.T) {
	p := NewProcessor(&metadataSpy{}, newStore(), zap.NewNop())
	task, err := queue.NewInspectTask(queue.InspectPayload{Key: "gone.pdf"})
	require.NoError(t, err)
	assert.NoError(t, p.handleInspect(context.Background(), task))
}

func TestHandlerRejectsBadPayload(t *testing.T) {
	p := NewProcessor(&metadataSpy{}, newStore(), zap.NewNop())
	err := p.Handler().ProcessTask(context.Background(), asynq.NewTask(queue.PurgeObjectTask, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
