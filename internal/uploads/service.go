// Package uploads implements the upload lifecycle: presigning direct PUTs,
// verifying and finalizing completed uploads, attaching them to parent
// records, deleting them and listing a parent's uploads.
//
// Only the storage round trip decides the outcome of an operation. Metadata
// bookkeeping, parent linking and follow-up tasks are best effort and are
// logged when they fail.
package uploads

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/averbadrop/internal/apperr"
	"github.com/dharsanguruparan/averbadrop/internal/config"
	"github.com/dharsanguruparan/averbadrop/internal/model"
	"github.com/dharsanguruparan/averbadrop/internal/objectstore"
	"github.com/dharsanguruparan/averbadrop/internal/parent"
	"github.com/dharsanguruparan/averbadrop/internal/queue"
)

// Repository is the uploads table.
type Repository interface {
	Insert(ctx context.Context, up *model.Upload) error
	Get(ctx context.Context, id int64) (*model.Upload, error)
	Complete(ctx context.Context, bucket, key string, c model.Completion) (*model.Upload, error)
	SoftDelete(ctx context.Context, id int64) (int64, error)
	ListByParent(ctx context.Context, ref model.ParentRef, excludeDeleted bool) ([]model.Upload, error)
}

// Linker maintains back-references on parent rows.
type Linker interface {
	Attach(ctx context.Context, p model.ParentRef, ref model.Reference) parent.AttachResult
	Detach(ctx context.Context, p model.ParentRef, ref model.Reference) int64
	Fetch(ctx context.Context, p model.ParentRef) (map[string]any, error)
	Tables() []parent.Table
}

// Enqueuer hands follow-up work to the worker.
type Enqueuer interface {
	EnqueuePurge(ctx context.Context, payload queue.PurgePayload) error
	EnqueueInspect(ctx context.Context, payload queue.InspectPayload) error
}

// Deps are the collaborators of a Service. Store may be nil when StoreErr
// explains why storage could not be configured; Queue may be nil.
type Deps struct {
	Store    objectstore.Store
	StoreErr error
	Repo     Repository
	Linker   Linker
	Queue    Enqueuer
	Logger   *zap.Logger
}

// Options tune key building and URL lifetimes.
type Options struct {
	DefaultFolder      string
	DefaultContentType string
	MaxNameLength      int
	PutTTL             time.Duration
	GetTTL             time.Duration
	SignedDownloads    bool
}

// OptionsFromConfig maps the runtime configuration to service options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DefaultFolder:      cfg.Uploads.DefaultFolder,
		DefaultContentType: cfg.Uploads.DefaultContentType,
		MaxNameLength:      cfg.Uploads.MaxNameLength,
		PutTTL:             cfg.Storage.PutTTL,
		GetTTL:             cfg.Storage.GetTTL,
		SignedDownloads:    cfg.Storage.SignedDownloads,
	}
}

// Service coordinates object storage, the uploads table and parent rows.
type Service struct {
	store    objectstore.Store
	storeErr error
	repo     Repository
	linker   Linker
	queue    Enqueuer
	logger   *zap.Logger
	opts     Options

	now   func() time.Time
	newID func() string
}

// New builds a Service.
func New(deps Deps, opts Options) *Service {
	if opts.DefaultFolder == "" {
		opts.DefaultFolder = "uploads"
	}
	if opts.DefaultContentType == "" {
		opts.DefaultContentType = "application/octet-stream"
	}
	if opts.MaxNameLength <= 0 {
		opts.MaxNameLength = 120
	}
	if opts.PutTTL <= 0 {
		opts.PutTTL = 600 * time.Second
	}
	if opts.GetTTL <= 0 {
		opts.GetTTL = 300 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	storeErr := deps.StoreErr
	if deps.Store == nil && storeErr == nil {
		storeErr = apperr.Configuration("object store not configured")
	}
	return &Service{
		store:    deps.Store,
		storeErr: storeErr,
		repo:     deps.Repo,
		linker:   deps.Linker,
		queue:    deps.Queue,
		logger:   logger.Named("uploads"),
		opts:     opts,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// PrepareRequest asks for a presigned PUT.
type PrepareRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	Folder      string `json:"folder,omitempty"`
}

// PrepareResult is a grant to PUT one object.
type PrepareResult struct {
	URL         string `json:"url"`
	Key         string `json:"key"`
	ExpiresIn   int    `json:"expiresIn"`
	StoredName  string `json:"storedName"`
	Bucket      string `json:"bucket"`
	ContentType string `json:"contentType"`
	UploadID    *int64 `json:"uploadId,omitempty"`
}

// PreparePut issues a presigned PUT for a fresh key and records a prepared
// upload. The record is best effort: the URL is returned even when the
// uploads table cannot be written.
func (s *Service) PreparePut(ctx context.Context, req PrepareRequest) (*PrepareResult, error) {
	if s.storeErr != nil {
		return nil, s.storeErr
	}
	if strings.TrimSpace(req.Filename) == "" {
		return nil, apperr.Validation("filename is required")
	}
	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		contentType = s.opts.DefaultContentType
	}
	folder := NormalizeFolder(req.Folder, s.opts.DefaultFolder)
	key, storedName := BuildKey(folder, SanitizeName(req.Filename, s.opts.MaxNameLength), s.now(), s.newID())

	url, err := s.store.PresignPut(ctx, key, contentType, s.opts.PutTTL)
	if err != nil {
		return nil, apperr.Storage("presign put", err)
	}
	res := &PrepareResult{
		URL:         url,
		Key:         key,
		ExpiresIn:   int(s.opts.PutTTL / time.Second),
		StoredName:  storedName,
		Bucket:      s.store.Bucket(),
		ContentType: contentType,
	}

	up := &model.Upload{
		Key:          key,
		StoredName:   storedName,
		OriginalName: req.Filename,
		Bucket:       s.store.Bucket(),
		ContentType:  contentType,
		Status:       model.StatusPrepared,
		Metadata:     map[string]any{},
	}
	if err := s.repo.Insert(ctx, up); err != nil {
		s.logger.Warn("record prepared upload failed", zap.String("key", key), zap.Error(err))
	} else {
		id := up.ID
		res.UploadID = &id
	}
	return res, nil
}

// CompleteRequest reports that the client finished its PUT.
type CompleteRequest struct {
	Key      string
	Metadata map[string]any
	Parent   *model.ParentRef
}

// CompleteResult describes the verified object and what was linked to it.
type CompleteResult struct {
	StoredName       string         `json:"storedName"`
	URL              string         `json:"url"`
	DownloadURL      string         `json:"downloadUrl,omitempty"`
	AttachedParentID *int64         `json:"attachedParentId,omitempty"`
	ParentType       string         `json:"parentType,omitempty"`
	Parent           map[string]any `json:"parent,omitempty"`
	Uploads          []model.Upload `json:"uploads,omitempty"`
	Upload           *model.Upload  `json:"upload,omitempty"`
}

// CompleteUpload confirms the object exists, finalizes its record and, when
// a parent is given, attaches it. Calling it again for the same key merges
// the new metadata into what was recorded before.
func (s *Service) CompleteUpload(ctx context.Context, req CompleteRequest) (*CompleteResult, error) {
	if s.storeErr != nil {
		return nil, s.storeErr
	}
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return nil, apperr.Validation("key is required")
	}
	if err := s.validateParent(req.Parent); err != nil {
		return nil, err
	}

	info, err := s.store.Head(ctx, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			return nil, apperr.NotFound("object %q not found or not yet available", key)
		}
		return nil, apperr.Storage("head object", err)
	}

	res := &CompleteResult{
		StoredName: StoredName(key),
		URL:        s.store.PublicURL(key),
	}
	if s.opts.SignedDownloads {
		if url, err := s.store.PresignGet(ctx, key, s.opts.GetTTL); err != nil {
			s.logger.Warn("presign download failed", zap.String("key", key), zap.Error(err))
		} else {
			res.DownloadURL = url
		}
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	up, err := s.repo.Complete(ctx, s.store.Bucket(), key, model.Completion{
		Size:        info.Size,
		ContentType: info.ContentType,
		Metadata:    metadata,
		Parent:      req.Parent,
	})
	if err != nil {
		s.logger.Warn("finalize upload record failed", zap.String("key", key), zap.Error(err))
	} else {
		up.URL = res.URL
		res.Upload = up
	}

	ref := model.Reference{
		Key:         key,
		URL:         res.URL,
		StoredName:  res.StoredName,
		ContentType: info.ContentType,
		Size:        info.Size,
	}
	if up != nil {
		ref.UploadID = up.ID
		ref.OriginalName = up.OriginalName
	}

	if req.Parent != nil {
		attached := s.linker.Attach(ctx, *req.Parent, ref)
		res.AttachedParentID = attached.ParentID
		res.ParentType = attached.ParentType
		s.loadParent(ctx, *req.Parent, attached, res)
	}

	if isPDF(key, info.ContentType) {
		s.enqueueInspect(ctx, ref)
	}
	return res, nil
}

// validateParent rejects parent references the linker could never attach,
// so a bogus discriminator is not recorded on the upload row.
func (s *Service) validateParent(p *model.ParentRef) error {
	if p == nil {
		return nil
	}
	if p.ID <= 0 {
		return apperr.Validation("parentEntityId must be positive")
	}
	if p.Type == "" {
		return nil
	}
	for _, t := range s.linker.Tables() {
		if t.Type == p.Type {
			return nil
		}
	}
	return apperr.Validation("unknown parentType %q", p.Type)
}

// loadParent fills in the parent row and its uploads for the caller's
// convenience. Failures leave the fields empty.
func (s *Service) loadParent(ctx context.Context, p model.ParentRef, attached parent.AttachResult, res *CompleteResult) {
	if attached.ParentType != "" {
		p.Type = attached.ParentType
	}
	row, err := s.linker.Fetch(ctx, p)
	if err != nil {
		s.logger.Debug("fetch parent failed", zap.Int64("parent_id", p.ID), zap.Error(err))
	} else {
		res.Parent = row
	}
	list, err := s.ListUploads(ctx, ListRequest{Parent: p})
	if err != nil {
		s.logger.Debug("list parent uploads failed", zap.Int64("parent_id", p.ID), zap.Error(err))
		return
	}
	res.Uploads = list
}

func (s *Service) enqueueInspect(ctx context.Context, ref model.Reference) {
	if s.queue == nil {
		return
	}
	err := s.queue.EnqueueInspect(ctx, queue.InspectPayload{UploadID: ref.UploadID, Bucket: s.store.Bucket(), Key: ref.Key})
	if err != nil {
		s.logger.Warn("enqueue inspect failed", zap.String("key", ref.Key), zap.Error(err))
	}
}

// DeleteResult reports what DeleteUpload managed to do. StorageDeleted is
// true only when a HEAD after the delete found nothing.
type DeleteResult struct {
	DeletedID          int64  `json:"deletedId"`
	StorageDeleted     bool   `json:"storageDeleted"`
	StorageDeleteError string `json:"storageDeleteError,omitempty"`
	UploadsRowUpdated  int64  `json:"uploadsRowUpdated"`
	DetachedCount      int64  `json:"detachedCount"`
	PurgeQueued        bool   `json:"purgeQueued,omitempty"`
}

// DeleteUpload removes the object, soft deletes its record and clears parent
// back-references. Every step runs even when an earlier one failed, so the
// call can be repeated until StorageDeleted is true.
func (s *Service) DeleteUpload(ctx context.Context, id int64) (*DeleteResult, error) {
	if s.storeErr != nil {
		return nil, s.storeErr
	}
	up, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &DeleteResult{DeletedID: up.ID}

	var storageErrs []string
	if err := s.store.Delete(ctx, up.Key); err != nil {
		s.logger.Warn("delete object failed", zap.String("key", up.Key), zap.Error(err))
		storageErrs = append(storageErrs, err.Error())
	}
	switch _, err := s.store.Head(ctx, up.Key); {
	case errors.Is(err, objectstore.ErrObjectNotFound):
		res.StorageDeleted = true
	case err != nil:
		storageErrs = append(storageErrs, "head after delete: "+err.Error())
	}
	res.StorageDeleteError = strings.Join(storageErrs, "; ")

	if !up.Status.CanTransition(model.StatusDeleted) {
		s.logger.Warn("upload has unknown status, record left as is",
			zap.Int64("upload_id", up.ID), zap.String("status", string(up.Status)))
	} else if n, err := s.repo.SoftDelete(ctx, up.ID); err != nil {
		s.logger.Warn("soft delete upload failed", zap.Int64("upload_id", up.ID), zap.Error(err))
	} else {
		res.UploadsRowUpdated = n
	}

	if up.ParentEntityID != nil {
		p := model.ParentRef{ID: *up.ParentEntityID}
		if up.ParentType != nil {
			p.Type = *up.ParentType
		}
		res.DetachedCount = s.linker.Detach(ctx, p, model.Reference{
			UploadID:   up.ID,
			Key:        up.Key,
			URL:        s.store.PublicURL(up.Key),
			StoredName: up.StoredName,
		})
	}

	if !res.StorageDeleted && s.queue != nil {
		err := s.queue.EnqueuePurge(ctx, queue.PurgePayload{UploadID: up.ID, Bucket: up.Bucket, Key: up.Key})
		if err != nil {
			s.logger.Warn("enqueue purge failed", zap.String("key", up.Key), zap.Error(err))
		} else {
			res.PurgeQueued = true
		}
	}
	return res, nil
}

// ListRequest selects a parent's uploads.
type ListRequest struct {
	Parent         model.ParentRef
	ExcludeDeleted bool
}

// ListUploads returns the parent's uploads newest first, each with its
// public URL.
func (s *Service) ListUploads(ctx context.Context, req ListRequest) ([]model.Upload, error) {
	if req.Parent.ID <= 0 {
		return nil, apperr.Validation("parentEntityId must be positive")
	}
	list, err := s.repo.ListByParent(ctx, req.Parent, req.ExcludeDeleted)
	if err != nil {
		return nil, err
	}
	if s.store != nil {
		for i := range list {
			list[i].URL = s.store.PublicURL(list[i].Key)
		}
	}
	if list == nil {
		list = []model.Upload{}
	}
	return list, nil
}

func isPDF(key, contentType string) bool {
	if strings.EqualFold(strings.TrimSpace(strings.Split(contentType, ";")[0]), "application/pdf") {
		return true
	}
	return strings.EqualFold(path.Ext(key), ".pdf")
}
