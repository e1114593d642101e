// Package huts maintains the time-versioned record of which hut sits on which
// site.
package huts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sitehive/internal/database"
)

// Ledger moves huts between sites. Every mutation runs in one transaction so
// a hut and a site each have at most one open assignment.
type Ledger struct {
	store *database.Store
	log   *slog.Logger
	now   func() time.Time
}

// NewLedger constructs a Ledger. A nil now uses the wall clock.
func NewLedger(store *database.Store, now func() time.Time, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		store: store,
		log:   logger.With("component", "huts"),
		now:   func() time.Time { return now().UTC() },
	}
}

// Assign closes the hut's open assignment and, when siteID is non-nil, opens
// a new one on that site, evicting whichever hut was there. A nil siteID
// unassigns the hut.
func (l *Ledger) Assign(ctx context.Context, hutID int64, siteID *int64) (*database.Assignment, error) {
	var created *database.Assignment
	err := l.store.InTx(ctx, func(q *database.Queries) error {
		a, err := assign(ctx, q, hutID, siteID, l.now())
		created = a
		return err
	})
	if err != nil {
		return nil, err
	}

	if created == nil {
		l.log.Info("hut unassigned", "hut_id", hutID)
	} else {
		l.log.Info("hut assigned", "hut_id", hutID, "site", created.SiteCode)
	}
	return created, nil
}

// AssignByCode is Assign keyed on business codes. An empty siteCode
// unassigns.
func (l *Ledger) AssignByCode(ctx context.Context, hutCode, siteCode string) (*database.Assignment, error) {
	var created *database.Assignment
	err := l.store.InTx(ctx, func(q *database.Queries) error {
		hut, err := q.FindHutByCode(ctx, hutCode)
		if err != nil {
			return err
		}

		var siteID *int64
		if code := strings.TrimSpace(siteCode); code != "" {
			site, err := q.FindSiteByCode(ctx, code)
			if err != nil {
				return err
			}
			siteID = &site.ID
		}

		created, err = assign(ctx, q, hut.ID, siteID, l.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	if created == nil {
		l.log.Info("hut unassigned", "hut", hutCode)
	} else {
		l.log.Info("hut assigned", "hut", hutCode, "site", created.SiteCode)
	}
	return created, nil
}

// DeleteHut closes the hut's open assignment and removes the hut.
func (l *Ledger) DeleteHut(ctx context.Context, hutCode string) error {
	err := l.store.InTx(ctx, func(q *database.Queries) error {
		hut, err := q.FindHutByCode(ctx, hutCode)
		if err != nil {
			return err
		}
		if _, err := q.CloseOpenAssignmentsForHut(ctx, hut.ID, l.now()); err != nil {
			return err
		}
		return q.DeleteHut(ctx, hut.ID)
	})
	if err != nil {
		return err
	}

	l.log.Info("hut deleted", "hut", hutCode)
	return nil
}

// Current returns the hut's open assignment, or nil when it is unassigned.
func (l *Ledger) Current(ctx context.Context, hutID int64) (*database.Assignment, error) {
	a, ok, err := l.store.FindOpenAssignmentForHut(ctx, hutID)
	if err != nil || !ok {
		return nil, err
	}
	return &a, nil
}

func assign(ctx context.Context, q *database.Queries, hutID int64, siteID *int64, now time.Time) (*database.Assignment, error) {
	if _, err := q.GetHut(ctx, hutID); err != nil {
		return nil, err
	}
	if _, err := q.CloseOpenAssignmentsForHut(ctx, hutID, now); err != nil {
		return nil, err
	}
	if siteID == nil {
		return nil, nil
	}

	if _, err := q.GetSite(ctx, *siteID); err != nil {
		return nil, err
	}
	if _, err := q.CloseOpenAssignmentsForSite(ctx, *siteID, now); err != nil {
		return nil, err
	}

	a, err := q.CreateAssignment(ctx, hutID, *siteID, now)
	if err != nil {
		return nil, fmt.Errorf("assign hut %d to site %d: %w", hutID, *siteID, err)
	}
	return &a, nil
}
