package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver snapshots operational records into cold storage.
type Archiver interface {
	ArchiveBalanceHistory(ctx context.Context) (string, error)
	ArchiveClosedPositions(ctx context.Context, since time.Time) (int, string, error)
	ArchiveAnalyses(ctx context.Context, limit int) (int, string, error)
}
