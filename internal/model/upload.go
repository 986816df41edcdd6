// Package model contains the records shared by the repository, the upload
// service and the HTTP layer.
package model

import (
	"time"
)

// Status describes where an upload is in its lifecycle.
type Status string

const (
	StatusPrepared Status = "prepared"
	StatusComplete Status = "complete"
	StatusDeleted  Status = "deleted"
)

// CanTransition reports whether moving from s to next keeps the lifecycle
// monotonic. Re-applying the current status is allowed so that completion and
// deletion stay repeatable.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusPrepared:
		return next == StatusComplete || next == StatusDeleted
	case StatusComplete:
		return next == StatusDeleted
	default:
		return false
	}
}

// Upload is one row of the uploads table.
type Upload struct {
	ID             int64          `json:"id"`
	Key            string         `json:"key"`
	StoredName     string         `json:"storedName"`
	OriginalName   string         `json:"originalName"`
	Bucket         string         `json:"bucket"`
	ContentType    string         `json:"contentType"`
	Size           int64          `json:"size"`
	Status         Status         `json:"status"`
	Metadata       map[string]any `json:"metadata"`
	ParentEntityID *int64         `json:"parentEntityId,omitempty"`
	ParentType     *string        `json:"parentType,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	// URL is derived on read and never stored.
	URL string `json:"url,omitempty"`
}

// ParentRef identifies the business record an upload belongs to. Type is the
// optional discriminator naming which parent table the id lives in.
type ParentRef struct {
	Type string
	ID   int64
}

// Completion carries what CompleteUpload learned about an object.
type Completion struct {
	Size        int64
	ContentType string
	Metadata    map[string]any
	Parent      *ParentRef
}

// Reference is what a parent row stores to point at an upload.
type Reference struct {
	UploadID     int64  `json:"uploadId,omitempty"`
	Key          string `json:"key"`
	URL          string `json:"url"`
	StoredName   string `json:"storedName"`
	OriginalName string `json:"originalName,omitempty"`
	ContentType  string `json:"contentType,omitempty"`
	Size         int64  `json:"size,omitempty"`
}
