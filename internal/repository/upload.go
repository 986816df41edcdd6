package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dharsanguruparan/averbadrop/internal/apperr"
	"github.com/dharsanguruparan/averbadrop/internal/model"
)

// DBTX is the subset of pgxpool.Pool and pgx.Tx the repositories use.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uploadColumns = `id, key, stored_name, original_name, bucket, content_type, size, status,
	metadata, parent_entity_id, parent_type, created_at, updated_at`

// UploadRepository wraps all SQL touching the uploads table.
type UploadRepository struct {
	db DBTX
}

// NewUploadRepository constructs a repository.
func NewUploadRepository(db DBTX) *UploadRepository {
	return &UploadRepository{db: db}
}

// Insert stores a prepared upload and fills in its id and timestamps.
func (r *UploadRepository) Insert(ctx context.Context, up *model.Upload) error {
	metadata, err := encodeMetadata(up.Metadata)
	if err != nil {
		return err
	}
	if up.Status == "" {
		up.Status = model.StatusPrepared
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO uploads (key, stored_name, original_name, bucket, content_type, size, status, metadata, parent_entity_id, parent_type)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8::jsonb,$9,$10)
		RETURNING id, created_at, updated_at
	`, up.Key, up.StoredName, up.OriginalName, up.Bucket, up.ContentType, up.Size, up.Status, metadata, up.ParentEntityID, up.ParentType)
	if err := row.Scan(&up.ID, &up.CreatedAt, &up.UpdatedAt); err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

// Get returns an upload by id.
func (r *UploadRepository) Get(ctx context.Context, id int64) (*model.Upload, error) {
	row := r.db.QueryRow(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id=$1`, id)
	up, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("upload %d", id)
		}
		return nil, fmt.Errorf("select upload: %w", err)
	}
	return up, nil
}

// Complete promotes the upload to complete, records what HEAD reported and
// merges metadata into what is already stored. Deleted rows are left alone and
// reported as not found.
func (r *UploadRepository) Complete(ctx context.Context, bucket, key string, c model.Completion) (*model.Upload, error) {
	metadata, err := encodeMetadata(c.Metadata)
	if err != nil {
		return nil, err
	}
	var parentID *int64
	var parentType *string
	if c.Parent != nil {
		id := c.Parent.ID
		parentID = &id
		if c.Parent.Type != "" {
			typ := c.Parent.Type
			parentType = &typ
		}
	}
	row := r.db.QueryRow(ctx, `
		UPDATE uploads
		SET size = $3,
			content_type = COALESCE(NULLIF($4, ''), content_type),
			status = 'complete',
			metadata = COALESCE(metadata, '{}'::jsonb) || $5::jsonb,
			parent_entity_id = COALESCE($6, parent_entity_id),
			parent_type = COALESCE($7, parent_type),
			updated_at = now()
		WHERE bucket = $1 AND key = $2 AND status <> 'deleted'
		RETURNING `+uploadColumns,
		bucket, key, c.Size, c.ContentType, metadata, parentID, parentType)
	up, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("upload %q", key)
		}
		return nil, fmt.Errorf("complete upload: %w", err)
	}
	return up, nil
}

// MergeMetadata adds keys to an upload's metadata without touching its status.
func (r *UploadRepository) MergeMetadata(ctx context.Context, bucket, key string, extra map[string]any) error {
	metadata, err := encodeMetadata(extra)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE uploads
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $3::jsonb, updated_at = now()
		WHERE bucket = $1 AND key = $2
	`, bucket, key, metadata)
	if err != nil {
		return fmt.Errorf("merge upload metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("upload %q", key)
	}
	return nil
}

// SoftDelete marks the upload deleted and returns how many rows changed. An
// already deleted upload yields zero.
func (r *UploadRepository) SoftDelete(ctx context.Context, id int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE uploads SET status = 'deleted', updated_at = now()
		WHERE id = $1 AND status <> 'deleted'
	`, id)
	if err != nil {
		return 0, fmt.Errorf("soft delete upload: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByParent returns the parent's uploads, newest first. A parent type
// narrows the match when the caller knows which table the id belongs to.
func (r *UploadRepository) ListByParent(ctx context.Context, ref model.ParentRef, excludeDeleted bool) ([]model.Upload, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+uploadColumns+`
		FROM uploads
		WHERE parent_entity_id = $1
			AND ($2 = '' OR parent_type IS NULL OR parent_type = $2)
			AND (NOT $3 OR status <> 'deleted')
		ORDER BY created_at DESC, id DESC
	`, ref.ID, ref.Type, excludeDeleted)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var result []model.Upload
	for rows.Next() {
		up, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		result = append(result, *up)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	return result, nil
}

func scanUpload(row pgx.Row) (*model.Upload, error) {
	var (
		up       model.Upload
		metadata []byte
	)
	if err := row.Scan(&up.ID, &up.Key, &up.StoredName, &up.OriginalName, &up.Bucket, &up.ContentType,
		&up.Size, &up.Status, &metadata, &up.ParentEntityID, &up.ParentType, &up.CreatedAt, &up.UpdatedAt); err != nil {
		return nil, err
	}
	up.Metadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &up.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &up, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}
