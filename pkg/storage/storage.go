// Package storage archives raw statement uploads so an import can be audited
// or replayed later.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("file not found")

// FileInfo contains metadata about a stored file
type FileInfo struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Path        string    `json:"path"` // Internal storage path
	CreatedAt   time.Time `json:"created_at"`
}

// Storage stores uploads under a caller-chosen ID, normally the import ID.
type Storage interface {
	// Put stores a file under id and returns its metadata
	Put(ctx context.Context, tenantID, id uuid.UUID, filename, contentType string, r io.Reader) (*FileInfo, error)

	// Get opens a stored file
	Get(ctx context.Context, tenantID, id uuid.UUID) (io.ReadCloser, *FileInfo, error)

	// Delete removes a file and its metadata
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
}
