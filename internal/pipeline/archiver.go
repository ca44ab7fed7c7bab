// Package pipeline runs the scheduled cold-storage archival job.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantleap/polyrunner/internal/domain"
)

// Archiver periodically snapshots closed positions, oracle analyses, and the
// equity log to object storage.
type Archiver struct {
	blob          domain.Archiver
	verify        domain.BlobReader
	interval      time.Duration
	analysesLimit int
	logger        *slog.Logger

	lastRun time.Time
}

// NewArchiver creates a new Archiver running every interval, archiving up to
// analysesLimit recent oracle evaluations per run. When verify is non-nil,
// every uploaded object is confirmed with a HEAD request after the run.
func NewArchiver(blob domain.Archiver, verify domain.BlobReader, interval time.Duration, analysesLimit int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blob:          blob,
		verify:        verify,
		interval:      interval,
		analysesLimit: analysesLimit,
		logger:        logger.With(slog.String("component", "pipeline")),
	}
}

// Run executes archive runs on the configured interval until the context is
// cancelled. The first run happens after one full interval.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("archiver started", slog.Duration("interval", a.interval))

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.RunOnce(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce executes a single archive run. Closed positions are archived
// incrementally from the previous run's cutoff; the first run covers the
// last interval.
func (a *Archiver) RunOnce(ctx context.Context) error {
	since := a.lastRun
	if since.IsZero() {
		since = time.Now().UTC().Add(-a.interval)
	}
	started := time.Now().UTC()

	a.logger.Info("starting archive run", slog.Time("since", since))

	var uploaded []string

	count, path, err := a.blob.ArchiveClosedPositions(ctx, since)
	if err != nil {
		return fmt.Errorf("pipeline: archive closed positions: %w", err)
	}
	if count > 0 {
		uploaded = append(uploaded, path)
		a.logger.Info("archived closed positions",
			slog.Int("count", count),
			slog.String("path", path),
		)
	}

	count, path, err = a.blob.ArchiveAnalyses(ctx, a.analysesLimit)
	if err != nil {
		return fmt.Errorf("pipeline: archive analyses: %w", err)
	}
	if count > 0 {
		uploaded = append(uploaded, path)
		a.logger.Info("archived analyses",
			slog.Int("count", count),
			slog.String("path", path),
		)
	}

	path, err = a.blob.ArchiveBalanceHistory(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: archive balance history: %w", err)
	}
	if path != "" {
		uploaded = append(uploaded, path)
		a.logger.Info("archived balance history", slog.String("path", path))
	}

	a.verifyUploads(ctx, uploaded)

	a.lastRun = started
	a.logger.Info("archive run complete")
	return nil
}

// verifyUploads confirms each uploaded object is visible in the bucket. A
// missing object is logged for the operator, not treated as fatal.
func (a *Archiver) verifyUploads(ctx context.Context, paths []string) {
	if a.verify == nil {
		return
	}
	for _, p := range paths {
		ok, err := a.verify.Exists(ctx, p)
		if err != nil {
			a.logger.Warn("upload verification failed",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			a.logger.Warn("uploaded object not found in bucket", slog.String("path", p))
		}
	}
}
