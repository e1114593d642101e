package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const assignmentSelect = `
	SELECT a.id, a.hut_id, a.site_id, s.code, a.starts_at, a.ends_at
	FROM hut_assignments a
	JOIN sites s ON s.id = a.site_id
`

func scanAssignment(row rowScanner) (Assignment, error) {
	var (
		a        Assignment
		hutID    sql.NullInt64
		startsAt nullTime
		endsAt   nullTime
	)

	if err := row.Scan(&a.ID, &hutID, &a.SiteID, &a.SiteCode, &startsAt, &endsAt); err != nil {
		return Assignment{}, err
	}
	a.HutID = hutID.Int64
	a.StartsAt = startsAt.Time
	a.EndsAt = endsAt.ptr()
	return a, nil
}

// FindOpenAssignmentForHut returns the hut's current assignment. The boolean is
// false when the hut is unassigned.
func (q *Queries) FindOpenAssignmentForHut(ctx context.Context, hutID int64) (Assignment, bool, error) {
	a, err := scanAssignment(q.db.QueryRowContext(ctx, assignmentSelect+`
		WHERE a.hut_id = ? AND a.ends_at IS NULL
	`, hutID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Assignment{}, false, nil
		}
		return Assignment{}, false, fmt.Errorf("query open assignment for hut %d: %w", hutID, err)
	}
	return a, true, nil
}

// FindOpenAssignmentForSite returns the assignment currently occupying the
// site. The boolean is false when the site hosts no hut.
func (q *Queries) FindOpenAssignmentForSite(ctx context.Context, siteID int64) (Assignment, bool, error) {
	a, err := scanAssignment(q.db.QueryRowContext(ctx, assignmentSelect+`
		WHERE a.site_id = ? AND a.ends_at IS NULL
	`, siteID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Assignment{}, false, nil
		}
		return Assignment{}, false, fmt.Errorf("query open assignment for site %d: %w", siteID, err)
	}
	return a, true, nil
}

// CloseOpenAssignmentsForHut ends every open assignment of the hut at the
// given instant and reports how many rows were closed.
func (q *Queries) CloseOpenAssignmentsForHut(ctx context.Context, hutID int64, at time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE hut_assignments
		SET ends_at = ?
		WHERE hut_id = ? AND ends_at IS NULL
	`, dbTime(at), hutID)
	if err != nil {
		return 0, fmt.Errorf("close assignments for hut %d: %w", hutID, err)
	}
	return res.RowsAffected()
}

// CloseOpenAssignmentsForSite ends every open assignment on the site.
func (q *Queries) CloseOpenAssignmentsForSite(ctx context.Context, siteID int64, at time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE hut_assignments
		SET ends_at = ?
		WHERE site_id = ? AND ends_at IS NULL
	`, dbTime(at), siteID)
	if err != nil {
		return 0, fmt.Errorf("close assignments for site %d: %w", siteID, err)
	}
	return res.RowsAffected()
}

// CreateAssignment opens a new assignment of hut to site starting at the given
// instant.
func (q *Queries) CreateAssignment(ctx context.Context, hutID, siteID int64, at time.Time) (Assignment, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO hut_assignments (hut_id, site_id, starts_at, ends_at)
		VALUES (?, ?, ?, NULL)
	`, hutID, siteID, dbTime(at))
	if err != nil {
		return Assignment{}, fmt.Errorf("insert assignment hut %d site %d: %w", hutID, siteID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Assignment{}, fmt.Errorf("read assignment id: %w", err)
	}

	a, err := scanAssignment(q.db.QueryRowContext(ctx, assignmentSelect+`WHERE a.id = ?`, id))
	if err != nil {
		return Assignment{}, fmt.Errorf("query assignment %d: %w", id, err)
	}
	return a, nil
}

// ListAssignmentsForHut returns the hut's assignment history, newest first.
func (q *Queries) ListAssignmentsForHut(ctx context.Context, hutID int64) ([]Assignment, error) {
	rows, err := q.db.QueryContext(ctx, assignmentSelect+`
		WHERE a.hut_id = ?
		ORDER BY a.starts_at DESC, a.id DESC
	`, hutID)
	if err != nil {
		return nil, fmt.Errorf("list assignments for hut %d: %w", hutID, err)
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return out, nil
}

// CountOpenAssignments reports open assignments per hut and per site that
// exceed one. Both maps are empty when the ledger invariants hold.
func (q *Queries) CountOpenAssignments(ctx context.Context) (map[int64]int, map[int64]int, error) {
	collect := func(column string) (map[int64]int, error) {
		rows, err := q.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT %[1]s, COUNT(*)
			FROM hut_assignments
			WHERE ends_at IS NULL AND %[1]s IS NOT NULL
			GROUP BY %[1]s
			HAVING COUNT(*) > 1
		`, column))
		if err != nil {
			return nil, fmt.Errorf("count open assignments by %s: %w", column, err)
		}
		defer rows.Close()

		out := make(map[int64]int)
		for rows.Next() {
			var id int64
			var n int
			if err := rows.Scan(&id, &n); err != nil {
				return nil, fmt.Errorf("scan open assignment count: %w", err)
			}
			out[id] = n
		}
		return out, rows.Err()
	}

	byHut, err := collect("hut_id")
	if err != nil {
		return nil, nil, err
	}
	bySite, err := collect("site_id")
	if err != nil {
		return nil, nil, err
	}
	return byHut, bySite, nil
}
