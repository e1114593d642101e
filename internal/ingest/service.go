package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sitehive/internal/database"
)

const (
	defaultRawRetention    = 7 * 24 * time.Hour
	defaultHourlyRetention = 90 * 24 * time.Hour
	defaultSweepInterval   = 15 * time.Minute
)

// Options configures a Service. Zero values fall back to the defaults.
type Options struct {
	DefaultTimezone string
	// IngestKey is the global shared secret. Empty disables the check for
	// sites without their own key.
	IngestKey       string
	RawRetention    time.Duration
	HourlyRetention time.Duration
	SweepInterval   time.Duration
	Now             func() time.Time
}

// Service applies agent batches and heartbeats to the store.
type Service struct {
	store           *database.Store
	log             *slog.Logger
	now             func() time.Time
	defaultTimezone string
	globalKey       string
	rawRetention    time.Duration
	hourlyRetention time.Duration
	sweep           *SweepGuard
}

// New constructs a Service.
func New(store *database.Store, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultTimezone == "" {
		opts.DefaultTimezone = "UTC"
	}
	if opts.RawRetention <= 0 {
		opts.RawRetention = defaultRawRetention
	}
	if opts.HourlyRetention <= 0 {
		opts.HourlyRetention = defaultHourlyRetention
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}

	return &Service{
		store:           store,
		log:             logger.With("component", "ingest"),
		now:             func() time.Time { return opts.Now().UTC() },
		defaultTimezone: opts.DefaultTimezone,
		globalKey:       opts.IngestKey,
		rawRetention:    opts.RawRetention,
		hourlyRetention: opts.HourlyRetention,
		sweep:           NewSweepGuard(opts.SweepInterval, opts.Now),
	}
}

// Ingest validates and applies a batch. The key check, site resolution,
// device reconciliation and metric writes share one transaction, so the key
// is checked against the site the batch is written to and a rejected batch
// leaves no rows behind.
func (s *Service) Ingest(ctx context.Context, batch Batch) (Result, error) {
	if err := ValidateBatch(batch); err != nil {
		return Result{}, err
	}

	var result Result
	err := s.store.InTx(ctx, func(q *database.Queries) error {
		if err := s.authorizeTarget(ctx, q, batch.Target(), batch.Key); err != nil {
			return err
		}
		site, err := s.ResolveSite(ctx, q, batch.Target())
		if err != nil {
			return err
		}
		result.SiteID = site.ID
		result.SiteCode = site.Code

		ids, err := s.ReconcileDevices(ctx, q, site.ID, batch.Devices)
		if err != nil {
			return err
		}
		result.Devices = len(ids)

		written, err := s.WriteMetrics(ctx, q, site.ID, batch.Metrics, ids)
		if err != nil {
			return err
		}
		result.Metrics = written
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if dropped := len(batch.Metrics) - result.Metrics; dropped > 0 {
		s.log.Debug("dropped unattributed metrics", "site", result.SiteCode, "agent", batch.AgentID, "dropped", dropped)
	}
	s.log.Debug("batch ingested", "site", result.SiteCode, "agent", batch.AgentID, "devices", result.Devices, "metrics", result.Metrics)

	s.MaybeSweep(ctx)
	return result, nil
}

// Bootstrap registers the hut an agent runs in, creating it when unknown, and
// reports its current assignment.
func (s *Service) Bootstrap(ctx context.Context, hutCode string) (BootstrapResult, error) {
	var result BootstrapResult
	err := s.store.InTx(ctx, func(q *database.Queries) error {
		hut, err := q.EnsureHut(ctx, hutCode, s.now())
		if err != nil {
			return err
		}
		result.Hut = hut

		assignment, ok, err := q.FindOpenAssignmentForHut(ctx, hut.ID)
		if err != nil {
			return err
		}
		if ok {
			result.Assignment = &assignment
		}
		return nil
	})
	if err != nil {
		return BootstrapResult{}, fmt.Errorf("bootstrap hut %s: %w", hutCode, err)
	}
	return result, nil
}
