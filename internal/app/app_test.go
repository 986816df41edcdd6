package app

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/averbadrop/internal/apperr"
	"github.com/dharsanguruparan/averbadrop/internal/config"
)

func newApp(storage config.StorageConfig) *App {
	return &App{
		Config:   &config.Config{Storage: storage},
		Logger:   zap.NewNop(),
		Registry: prometheus.NewRegistry(),
	}
}

func TestOpenStoreKeepsConfigurationError(t *testing.T) {
	a := newApp(config.StorageConfig{Driver: config.DriverMinio})
	require.NoError(t, a.openStore(context.Background(), ""))
	assert.Nil(t, a.Store)
	assert.ErrorIs(t, a.StoreErr, apperr.ErrConfiguration)
}

func TestOpenStoreMemory(t *testing.T) {
	a := newApp(config.StorageConfig{Driver: config.DriverMemory, Bucket: "docs", SigningSecret: []byte("k")})
	require.NoError(t, a.openStore(context.Background(), "test"))
	require.NotNil(t, a.Store)
	require.NotNil(t, a.Memory)
	assert.NoError(t, a.StoreErr)
	assert.Equal(t, "docs", a.Store.Bucket())

	_, _ = a.Store.Head(context.Background(), "missing")
	families, err := a.Registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_operation_duration_seconds"])
}
