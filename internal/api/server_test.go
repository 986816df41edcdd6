package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/averbadrop/internal/apperr"
	"github.com/dharsanguruparan/averbadrop/internal/config"
	"github.com/dharsanguruparan/averbadrop/internal/model"
	"github.com/dharsanguruparan/averbadrop/internal/objectstore"
	"github.com/dharsanguruparan/averbadrop/internal/uploads"
)

type fakeService struct {
	prepareErr  error
	completeErr error
	lastPrepare uploads.PrepareRequest
	lastComp    uploads.CompleteRequest
	lastList    uploads.ListRequest
	deletedID   int64
}

func (f *fakeService) PreparePut(_ context.Context, req uploads.PrepareRequest) (*uploads.PrepareResult, error) {
	f.lastPrepare = req
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	return &uploads.PrepareResult{URL: "http://minio/put", Key: "averbacoes/1-x-" + req.Filename, ExpiresIn: 600}, nil
}

func (f *fakeService) CompleteUpload(_ context.Context, req uploads.CompleteRequest) (*uploads.CompleteResult, error) {
	f.lastComp = req
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	res := &uploads.CompleteResult{StoredName: "1-x-a.pdf", URL: "http://minio/docs/" + req.Key}
	if req.Parent != nil {
		id := req.Parent.ID
		res.AttachedParentID = &id
	}
	return res, nil
}

func (f *fakeService) DeleteUpload(_ context.Context, id int64) (*uploads.DeleteResult, error) {
	f.deletedID = id
	if id == 404 {
		return nil, apperr.NotFound("upload %d", id)
	}
	return &uploads.DeleteResult{DeletedID: id, StorageDeleted: true, UploadsRowUpdated: 1}, nil
}

func (f *fakeService) ListUploads(_ context.Context, req uploads.ListRequest) ([]model.Upload, error) {
	f.lastList = req
	return []model.Upload{{ID: 2, Key: "b"}, {ID: 1, Key: "a"}}, nil
}

func newTestServer(svc UploadService, opts ...Option) http.Handler {
	return New(":0", svc, zap.NewNop(), opts...).Routes()
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env Envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestPrepare(t *testing.T) {
	svc := &fakeService{}
	rec, env := do(t, newTestServer(svc), http.MethodPost, "/api/v1/uploads/prepare",
		`{"filename":"relatorio.pdf","contentType":"application/pdf","folder":"averbacoes"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "averbacoes", svc.lastPrepare.Folder)
	data := env.Data.(map[string]any)
	assert.Equal(t, "averbacoes/1-x-relatorio.pdf", data["key"])
	assert.EqualValues(t, 600, data["expiresIn"])
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"validation", apperr.Validation("filename is required"), http.StatusBadRequest, "validation error: filename is required"},
		{"configuration", apperr.Configuration("missing STORAGE_BUCKET"), http.StatusInternalServerError, "configuration error: missing STORAGE_BUCKET"},
		{"storage", apperr.Storage("presign put", errors.New("timeout")), http.StatusBadGateway, "storage error: presign put: timeout"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, newTestServer(&fakeService{prepareErr: tt.err}), http.MethodPost,
				"/api/v1/uploads/prepare", `{"filename":"a.pdf"}`)
			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, env.Success)
			assert.Equal(t, tt.msg, env.Error)
		})
	}
}

func TestPrepareRejectsBadJSON(t *testing.T) {
	rec, env := do(t, newTestServer(&fakeService{}), http.MethodPost, "/api/v1/uploads/prepare", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error, "invalid JSON body")
}

func TestComplete(t *testing.T) {
	svc := &fakeService{}
	rec, env := do(t, newTestServer(svc), http.MethodPost, "/api/v1/uploads/complete",
		`{"key":"averbacoes/1-x-a.pdf","metadata":{"livro":"B"},"parentEntityId":42,"parentType":"averbacao"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.lastComp.Parent)
	assert.Equal(t, model.ParentRef{ID: 42, Type: "averbacao"}, *svc.lastComp.Parent)
	assert.Equal(t, "B", svc.lastComp.Metadata["livro"])
	assert.EqualValues(t, 42, env.Data.(map[string]any)["attachedParentId"])
}

func TestCompleteNotYetAvailable(t *testing.T) {
	svc := &fakeService{completeErr: apperr.NotFound("object %q not found or not yet available", "k")}
	rec, env := do(t, newTestServer(svc), http.MethodPost, "/api/v1/uploads/complete", `{"key":"k"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, env.Error, "not yet available")
	assert.Nil(t, svc.lastComp.Parent)
}

func TestCompleteRejectsNonPositiveParent(t *testing.T) {
	rec, _ := do(t, newTestServer(&fakeService{}), http.MethodPost, "/api/v1/uploads/complete", `{"key":"k","parentEntityId":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestList(t *testing.T) {
	svc := &fakeService{}
	rec, env := do(t, newTestServer(svc), http.MethodGet,
		"/api/v1/uploads?parentEntityId=42&parentType=averbacao&excludeDeleted=true", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uploads.ListRequest{Parent: model.ParentRef{ID: 42, Type: "averbacao"}, ExcludeDeleted: true}, svc.lastList)
	assert.Len(t, env.Data.([]any), 2)

	rec, _ = do(t, newTestServer(svc), http.MethodGet, "/api/v1/uploads?parentEntityId=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, newTestServer(svc), http.MethodGet, "/api/v1/uploads?parentEntityId=1&excludeDeleted=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParentUploads(t *testing.T) {
	svc := &fakeService{}
	rec, _ := do(t, newTestServer(svc), http.MethodGet, "/api/v1/parents/averbacao_legacy/9/uploads", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ParentRef{ID: 9, Type: "averbacao_legacy"}, svc.lastList.Parent)
	assert.False(t, svc.lastList.ExcludeDeleted)
}

func TestDelete(t *testing.T) {
	svc := &fakeService{}
	rec, env := do(t, newTestServer(svc), http.MethodDelete, "/api/v1/uploads/7", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7), svc.deletedID)
	assert.Equal(t, true, env.Data.(map[string]any)["storageDeleted"])

	rec, _ = do(t, newTestServer(svc), http.MethodDelete, "/api/v1/uploads/404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, newTestServer(svc), http.MethodDelete, "/api/v1/uploads/-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "averbadrop_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()
	h := newTestServer(&fakeService{}, WithMetrics(reg))

	rec, env := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mrec := httptest.NewRecorder()
	h.ServeHTTP(mrec, req)
	assert.Equal(t, http.StatusOK, mrec.Code)
	assert.Contains(t, mrec.Body.String(), "averbadrop_test_total 1")
}

func TestMemoryObjectMount(t *testing.T) {
	store := objectstore.NewMemory(config.StorageConfig{Bucket: "docs", SigningSecret: []byte("k")})
	prefix := objectstore.MemoryPathPrefix + "docs/"
	h := newTestServer(&fakeService{}, WithObjectHandler(prefix, store))

	putURL, err := store.PresignPut(context.Background(), "averbacoes/a.pdf", "application/pdf", time.Minute)
	require.NoError(t, err)
	target := strings.TrimPrefix(putURL, "http://localhost:8080")

	req := httptest.NewRequest(http.MethodPut, target, strings.NewReader("%PDF-1.4"))
	req.Header.Set("Content-Type", "application/pdf")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	info, err := store.Head(context.Background(), "averbacoes/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(len("%PDF-1.4")), info.Size)
}
