package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sitehive/internal/database"
)

// ResolveSite returns the site a batch must be written against. A hut code is
// resolved through the hut's open assignment on every call; a site code is
// created on first use.
func (s *Service) ResolveSite(ctx context.Context, q *database.Queries, target Target) (database.Site, error) {
	hutCode := strings.TrimSpace(target.HutCode)
	siteCode := strings.TrimSpace(target.SiteCode)

	switch {
	case hutCode != "":
		return siteForHut(ctx, q, hutCode)
	case siteCode != "":
		site, err := q.UpsertSite(ctx, siteCode, s.defaultTimezone, s.now())
		if err != nil {
			return database.Site{}, fmt.Errorf("resolve site %s: %w", siteCode, err)
		}
		return site, nil
	default:
		return database.Site{}, ErrSiteOrHutRequired
	}
}

// LookupSite resolves target without creating anything. The boolean is false
// when target names a site code that does not exist yet.
func (s *Service) LookupSite(ctx context.Context, q *database.Queries, target Target) (database.Site, bool, error) {
	hutCode := strings.TrimSpace(target.HutCode)
	siteCode := strings.TrimSpace(target.SiteCode)

	switch {
	case hutCode != "":
		site, err := siteForHut(ctx, q, hutCode)
		if err != nil {
			return database.Site{}, false, err
		}
		return site, true, nil
	case siteCode != "":
		site, err := q.FindSiteByCode(ctx, siteCode)
		if errors.Is(err, database.ErrSiteNotFound) {
			return database.Site{}, false, nil
		}
		if err != nil {
			return database.Site{}, false, err
		}
		return site, true, nil
	default:
		return database.Site{}, false, ErrSiteOrHutRequired
	}
}

func siteForHut(ctx context.Context, q *database.Queries, hutCode string) (database.Site, error) {
	hut, err := q.FindHutByCode(ctx, hutCode)
	if err != nil {
		return database.Site{}, err
	}

	assignment, ok, err := q.FindOpenAssignmentForHut(ctx, hut.ID)
	if err != nil {
		return database.Site{}, err
	}
	if !ok {
		return database.Site{}, fmt.Errorf("hut %s: %w", hutCode, ErrHutUnassigned)
	}

	return q.GetSite(ctx, assignment.SiteID)
}
