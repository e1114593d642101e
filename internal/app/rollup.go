package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sitehive/internal/database"
	"sitehive/internal/ingest"
)

// RollupWorker aggregates raw metrics into hourly buckets and keeps the
// retention sweep running on idle systems. Every complete hour that received
// metrics since its last rollup is re-aggregated, however late they arrived.
type RollupWorker struct {
	store    *database.Store
	ingest   *ingest.Service
	log      *slog.Logger
	interval time.Duration
	now      func() time.Time
}

// NewRollupWorker constructs the hourly rollup service.
func NewRollupWorker(store *database.Store, svc *ingest.Service, interval time.Duration, logger *slog.Logger) *RollupWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &RollupWorker{
		store:    store,
		ingest:   svc,
		log:      logger.With("component", "rollup"),
		interval: interval,
		now:      time.Now,
	}
}

// Run starts the rollup loop until cancellation.
func (w *RollupWorker) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	w.log.Info("starting rollup loop", "interval", w.interval)

	if err := w.tick(ctx); err != nil {
		w.log.Error("initial rollup failed", "err", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("stopping rollup loop", "reason", ctx.Err())
			return
		case <-ticker.C:
			if err := w.tick(ctx); err != nil {
				w.log.Error("rollup failed", "err", err)
			}
		}
	}
}

func (w *RollupWorker) tick(ctx context.Context) error {
	if w.ingest != nil {
		w.ingest.MaybeSweep(ctx)
	}

	current := w.now().UTC().Truncate(time.Hour)
	buckets, err := w.store.ListPendingRollups(ctx, current)
	if err != nil {
		return err
	}

	for _, bucket := range buckets {
		var written int
		err := w.store.InTx(ctx, func(q *database.Queries) error {
			var err error
			if written, err = q.RollupHour(ctx, bucket); err != nil {
				return err
			}
			return q.ClearPendingRollup(ctx, bucket)
		})
		if err != nil {
			return fmt.Errorf("rollup %s: %w", bucket.Format(time.RFC3339), err)
		}
		if written > 0 {
			w.log.Debug("hour rolled up", "bucket", bucket, "devices", written)
		}
	}
	return nil
}
