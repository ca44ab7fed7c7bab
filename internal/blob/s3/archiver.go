package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/quantleap/polyrunner/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// multipartThreshold is the payload size above which a snapshot goes through
// the multipart path. The equity log grows unboundedly between archive runs
// and is the only snapshot that realistically crosses it.
const multipartThreshold = 8 * 1024 * 1024

// multipartUploader is the optional fast path a writer may offer for
// oversized snapshots.
type multipartUploader interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// ArchiveImpl implements domain.Archiver by snapshotting operational records
// to object storage as JSONL. Archives are additive snapshots; nothing is
// deleted from the primary store here.
type ArchiveImpl struct {
	writer      domain.BlobWriter
	positions   domain.PositionStore
	analyses    domain.AnalysisStore
	balancePath string
}

// NewArchiver creates a new ArchiveImpl. balancePath is the local JSONL
// equity log uploaded by ArchiveBalanceHistory.
func NewArchiver(
	writer domain.BlobWriter,
	positions domain.PositionStore,
	analyses domain.AnalysisStore,
	balancePath string,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:      writer,
		positions:   positions,
		analyses:    analyses,
		balancePath: balancePath,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveBalanceHistory uploads the local equity log to
// archive/balance/<timestamp>.jsonl and returns the object path. A missing
// or empty local file archives nothing and returns an empty path.
func (a *ArchiveImpl) ArchiveBalanceHistory(ctx context.Context) (string, error) {
	data, err := os.ReadFile(a.balancePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("s3blob: read balance history: %w", err)
	}
	if len(data) == 0 {
		return "", nil
	}

	path := archivePath("balance", time.Now().UTC())
	if err := a.upload(ctx, path, data); err != nil {
		return "", fmt.Errorf("s3blob: archive balance history upload: %w", err)
	}
	return path, nil
}

// ArchiveClosedPositions snapshots all positions closed at or after the given
// time to archive/positions/<timestamp>.jsonl. It returns the record count
// and object path; zero records uploads nothing.
func (a *ArchiveImpl) ArchiveClosedPositions(ctx context.Context, since time.Time) (int, string, error) {
	closed, err := a.positions.ListClosedSince(ctx, since)
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: archive closed positions query: %w", err)
	}
	if len(closed) == 0 {
		return 0, "", nil
	}

	buf, err := marshalJSONL(closed)
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: archive closed positions marshal: %w", err)
	}

	path := archivePath("positions", time.Now().UTC())
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, "", fmt.Errorf("s3blob: archive closed positions upload: %w", err)
	}
	return len(closed), path, nil
}

// ArchiveAnalyses snapshots the most recent oracle evaluations, up to limit,
// to archive/analyses/<timestamp>.jsonl. It returns the record count and
// object path; zero records uploads nothing.
func (a *ArchiveImpl) ArchiveAnalyses(ctx context.Context, limit int) (int, string, error) {
	recent, err := a.analyses.ListRecent(ctx, limit)
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: archive analyses query: %w", err)
	}
	if len(recent) == 0 {
		return 0, "", nil
	}

	buf, err := marshalJSONL(recent)
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: archive analyses marshal: %w", err)
	}

	path := archivePath("analyses", time.Now().UTC())
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, "", fmt.Errorf("s3blob: archive analyses upload: %w", err)
	}
	return len(recent), path, nil
}

// upload pushes one snapshot, switching to the multipart path when the
// payload is large and the writer supports it.
func (a *ArchiveImpl) upload(ctx context.Context, path string, data []byte) error {
	if mp, ok := a.writer.(multipartUploader); ok && int64(len(data)) >= multipartThreshold {
		return mp.PutMultipart(ctx, path, bytes.NewReader(data), jsonlContentType, 0)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(data), jsonlContentType)
}

// archivePath builds the object key for an archive snapshot, e.g.
// archive/positions/2025-01-02T150405.jsonl.
func archivePath(kind string, at time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, at.Format("2006-01-02T150405"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
