package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one archived object in cold storage.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads archive batches to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader serves archived batches back, for the archive browser and
// for restores.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves old audit entries to cold storage.
type Archiver interface {
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
}
