package objectstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/averbadrop/internal/config"
)

func newTestMemory() *Memory {
	return NewMemory(config.StorageConfig{
		Driver:        config.DriverMemory,
		Bucket:        "docs",
		SigningSecret: []byte("secret"),
	})
}

func TestMemoryHeadDeleteOpen(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	_, err := m.Head(ctx, "averbacoes/a.pdf")
	require.ErrorIs(t, err, ErrObjectNotFound)

	m.Put("averbacoes/a.pdf", []byte("%PDF-1.4 body"), "application/pdf")
	info, err := m.Head(ctx, "averbacoes/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(13), info.Size)
	assert.Equal(t, "application/pdf", info.ContentType)

	rc, err := m.Open(ctx, "averbacoes/a.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 body", string(data))

	require.NoError(t, m.Delete(ctx, "averbacoes/a.pdf"))
	require.NoError(t, m.Delete(ctx, "averbacoes/a.pdf"), "deleting a missing key is not an error")
	_, err = m.Head(ctx, "averbacoes/a.pdf")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestMemoryPublicURL(t *testing.T) {
	m := newTestMemory()
	assert.Equal(t, "http://localhost:8080/storage/docs/averbacoes/1-x-a.pdf", m.PublicURL("averbacoes/1-x-a.pdf"))
}

func TestMemoryPresignedPutThenGet(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	handler := http.StripPrefix(MemoryPathPrefix+"docs/", m)

	putURL, err := m.PresignPut(ctx, "averbacoes/1-x-a.pdf", "application/pdf", time.Minute)
	require.NoError(t, err)
	u, err := url.Parse(putURL)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, u.RequestURI(), strings.NewReader("%PDF-1.7"))
	req.Header.Set("Content-Type", "application/pdf")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	info, err := m.Head(ctx, "averbacoes/1-x-a.pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(8), info.Size)

	// A PUT signature must not authorize a GET.
	req = httptest.NewRequest(http.MethodGet, u.RequestURI(), nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	getURL, err := m.PresignGet(ctx, "averbacoes/1-x-a.pdf", time.Minute)
	require.NoError(t, err)
	u, err = url.Parse(getURL)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, u.RequestURI(), nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.7", rec.Body.String())
}

func TestMemoryRejectsExpiredURL(t *testing.T) {
	m := newTestMemory()
	handler := http.StripPrefix(MemoryPathPrefix+"docs/", m)
	putURL, err := m.PresignPut(context.Background(), "k.pdf", "", time.Minute)
	require.NoError(t, err)
	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	u, err := url.Parse(putURL)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, u.RequestURI(), strings.NewReader("x")))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	_, err = m.Head(context.Background(), "k.pdf")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestMemoryRejectsOversizedPut(t *testing.T) {
	m := newTestMemory()
	m.maxObject = 4
	handler := http.StripPrefix(MemoryPathPrefix+"docs/", m)
	putURL, err := m.PresignPut(context.Background(), "big.pdf", "application/pdf", time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(putURL)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, u.RequestURI(), strings.NewReader("%PDF-1.7 body")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	_, err = m.Head(context.Background(), "big.pdf")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
