package ingest

import (
	"context"
	"sync/atomic"
	"time"
)

// SweepGuard lets at most one retention sweep start per interval across all
// goroutines of the process.
type SweepGuard struct {
	interval time.Duration
	now      func() time.Time
	last     atomic.Int64
}

// NewSweepGuard builds a guard using now as its clock.
func NewSweepGuard(interval time.Duration, now func() time.Time) *SweepGuard {
	if now == nil {
		now = time.Now
	}
	return &SweepGuard{interval: interval, now: now}
}

// TryAcquire reports whether the caller should run the sweep now. The first
// call always succeeds.
func (g *SweepGuard) TryAcquire() bool {
	current := g.now().UnixNano()
	last := g.last.Load()
	if last != 0 && current-last < int64(g.interval) {
		return false
	}
	return g.last.CompareAndSwap(last, current)
}

// Sweep deletes raw metrics and hourly rollups past their retention window,
// along with rollup marks for hours whose raw metrics are gone.
func (s *Service) Sweep(ctx context.Context) (raw, hourly int64, err error) {
	now := s.now()
	rawCutoff := now.Add(-s.rawRetention)
	raw, err = s.store.DeleteMetricsOlderThan(ctx, rawCutoff)
	if err != nil {
		return 0, 0, err
	}
	if _, err = s.store.DeletePendingRollupsBefore(ctx, rawCutoff); err != nil {
		return raw, 0, err
	}
	hourly, err = s.store.DeleteHourlyOlderThan(ctx, now.Add(-s.hourlyRetention))
	if err != nil {
		return raw, 0, err
	}
	return raw, hourly, nil
}

// MaybeSweep runs Sweep when the guard allows it. Failures are logged and
// never returned.
func (s *Service) MaybeSweep(ctx context.Context) {
	if !s.sweep.TryAcquire() {
		return
	}
	raw, hourly, err := s.Sweep(ctx)
	if err != nil {
		s.log.Warn("retention sweep failed", "err", err)
		return
	}
	if raw > 0 || hourly > 0 {
		s.log.Info("retention sweep", "metrics_deleted", raw, "hourly_deleted", hourly)
	}
}
