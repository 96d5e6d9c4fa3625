package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/swapmarket/internal/domain"
)

// ArchiveJob periodically moves closed orders and finished purchases older
// than the retention window to cold storage.
type ArchiveJob struct {
	archiver  domain.Archiver
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiveJob creates an ArchiveJob.
func NewArchiveJob(archiver domain.Archiver, retention, interval time.Duration, logger *slog.Logger) *ArchiveJob {
	return &ArchiveJob{
		archiver:  archiver,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archive_job")),
	}
}

// RunOnce archives everything that fell out of the retention window. Orders
// and purchases are archived independently; the first error is returned.
func (j *ArchiveJob) RunOnce(ctx context.Context) (orders, purchases int64, err error) {
	before := j.now().Add(-j.retention)

	orders, oerr := j.archiver.ArchiveOrders(ctx, before)
	if oerr != nil {
		j.logger.ErrorContext(ctx, "archive orders failed", slog.String("error", oerr.Error()))
	}
	purchases, perr := j.archiver.ArchivePurchases(ctx, before)
	if perr != nil {
		j.logger.ErrorContext(ctx, "archive purchases failed", slog.String("error", perr.Error()))
	}
	if orders > 0 || purchases > 0 {
		j.logger.InfoContext(ctx, "archived",
			slog.Int64("orders", orders),
			slog.Int64("purchases", purchases),
			slog.Time("before", before),
		)
	}
	if oerr != nil {
		return orders, purchases, oerr
	}
	return orders, purchases, perr
}

// Run calls RunOnce on every tick until ctx is done.
func (j *ArchiveJob) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, _, _ = j.RunOnce(ctx)
		}
	}
}
