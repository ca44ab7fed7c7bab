package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/polyrunner/internal/domain"
)

type stubArchive struct {
	sinces []time.Time
	limits []int
}

func (s *stubArchive) ArchiveBalanceHistory(ctx context.Context) (string, error) {
	return "archive/balance/x.jsonl", nil
}

func (s *stubArchive) ArchiveClosedPositions(ctx context.Context, since time.Time) (int, string, error) {
	s.sinces = append(s.sinces, since)
	return 3, "archive/positions/x.jsonl", nil
}

func (s *stubArchive) ArchiveAnalyses(ctx context.Context, limit int) (int, string, error) {
	s.limits = append(s.limits, limit)
	return 7, "archive/analyses/x.jsonl", nil
}

type stubReader struct {
	checked []string
}

func (r *stubReader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	return nil, domain.ErrNotFound
}

func (r *stubReader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	return nil, nil
}

func (r *stubReader) Exists(ctx context.Context, path string) (bool, error) {
	r.checked = append(r.checked, path)
	return true, nil
}

func TestRunOnceUsesIncrementalCutoff(t *testing.T) {
	ctx := context.Background()
	blob := &stubArchive{}
	reader := &stubReader{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a := NewArchiver(blob, reader, 6*time.Hour, 5000, logger)

	before := time.Now().UTC()
	require.NoError(t, a.RunOnce(ctx))

	// First run reaches one interval back.
	require.Len(t, blob.sinces, 1)
	assert.WithinDuration(t, before.Add(-6*time.Hour), blob.sinces[0], time.Second)
	assert.Equal(t, []int{5000}, blob.limits)

	// Second run cuts at the first run's start, never re-covering it.
	require.NoError(t, a.RunOnce(ctx))
	require.Len(t, blob.sinces, 2)
	assert.WithinDuration(t, before, blob.sinces[1], time.Second)

	// Every uploaded object was verified.
	assert.Equal(t, []string{
		"archive/positions/x.jsonl",
		"archive/analyses/x.jsonl",
		"archive/balance/x.jsonl",
		"archive/positions/x.jsonl",
		"archive/analyses/x.jsonl",
		"archive/balance/x.jsonl",
	}, reader.checked)
}

func TestRunOnceNilVerifierIsFine(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := NewArchiver(&stubArchive{}, nil, time.Hour, 100, logger)
	assert.NoError(t, a.RunOnce(context.Background()))
}
