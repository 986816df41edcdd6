package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dharsanguruparan/averbadrop/internal/config"
	"github.com/dharsanguruparan/averbadrop/internal/signing"
)

// MemoryPathPrefix is where the API mounts a Memory store's HTTP handler.
const MemoryPathPrefix = "/storage/"

const defaultMemoryBase = "http://localhost:8080" + MemoryPathPrefix

// defaultMaxMemoryObject caps the body of a signed PUT.
const defaultMaxMemoryObject = 64 << 20

type memoryObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// Memory is an in-process object store for local runs and tests. Presigned
// URLs point at its own HTTP handler and are HMAC signed, so a browser can PUT
// to them exactly as it would against S3.
type Memory struct {
	mu         sync.RWMutex
	objects    map[string]*memoryObject
	bucket     string
	publicBase string
	signer     *signing.Signer
	maxObject  int64
	now        func() time.Time
}

// NewMemory constructs a Memory store.
func NewMemory(cfg config.StorageConfig) *Memory {
	base := cfg.PublicBaseURL
	if base == "" {
		base = defaultMemoryBase + cfg.Bucket
	}
	return &Memory{
		objects:    make(map[string]*memoryObject),
		bucket:     cfg.Bucket,
		publicBase: base,
		signer:     signing.NewSigner(cfg.SigningSecret),
		maxObject:  defaultMaxMemoryObject,
		now:        time.Now,
	}
}

func (m *Memory) Bucket() string { return m.bucket }

func (m *Memory) PublicURL(key string) string {
	return publicURL(m.publicBase, key)
}

func (m *Memory) PresignPut(_ context.Context, key, _ string, ttl time.Duration) (string, error) {
	return m.presign(http.MethodPut, key, ttl), nil
}

func (m *Memory) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return m.presign(http.MethodGet, key, ttl), nil
}

func (m *Memory) presign(method, key string, ttl time.Duration) string {
	expires := m.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("method", method)
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", m.signer.Sign(method, key, expires))
	return m.PublicURL(key) + "?" + q.Encode()
}

// Put stores data under key, replacing any previous object.
func (m *Memory) Put(key string, data []byte, contentType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	m.objects[key] = &memoryObject{
		data:        append([]byte(nil), data...),
		contentType: contentType,
		modified:    m.now().UTC(),
	}
}

func (m *Memory) Head(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, ErrObjectNotFound
	}
	return ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		LastModified: obj.modified,
	}, nil
}

// Delete mirrors S3: removing a missing key is not an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// ServeHTTP accepts signed PUT and GET requests. The request path must be the
// object key, so mount it behind http.StripPrefix(MemoryPathPrefix+bucket+"/").
func (m *Memory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")
	q := r.URL.Query()
	expires := q.Get("expires")
	if key == "" || expires == "" || q.Get("signature") == "" {
		http.Error(w, "missing parameters", http.StatusBadRequest)
		return
	}
	expiryUnix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		http.Error(w, "invalid expires", http.StatusBadRequest)
		return
	}
	if time.Unix(expiryUnix, 0).Before(m.now()) {
		http.Error(w, "url expired", http.StatusForbidden)
		return
	}
	if q.Get("method") != r.Method || !m.signer.Validate(r.Method, key, expires, q.Get("signature")) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}
	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, m.maxObject))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "object too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		m.Put(key, data, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		rc, err := m.Open(r.Context(), key)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer rc.Close()
		info, _ := m.Head(r.Context(), key)
		w.Header().Set("Content-Type", info.ContentType)
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
		_, _ = io.Copy(w, rc)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
