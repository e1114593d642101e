package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const siteColumns = `id, code, name, type, timezone, meta, ingest_key, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSite(row rowScanner) (Site, error) {
	var (
		site      Site
		siteType  string
		meta      string
		ingestKey sql.NullString
		createdAt nullTime
		updatedAt nullTime
	)

	if err := row.Scan(&site.ID, &site.Code, &site.Name, &siteType, &site.Timezone, &meta, &ingestKey, &createdAt, &updatedAt); err != nil {
		return Site{}, err
	}

	decoded, err := decodeMeta(meta)
	if err != nil {
		return Site{}, fmt.Errorf("site %s: %w", site.Code, err)
	}

	site.Type = SiteType(siteType)
	site.Meta = decoded
	site.IngestKey = stringPtrFromNull(ingestKey)
	site.CreatedAt = createdAt.Time
	site.UpdatedAt = updatedAt.Time
	return site, nil
}

// FindSiteByCode returns the site with the given business code.
func (q *Queries) FindSiteByCode(ctx context.Context, code string) (Site, error) {
	code = strings.TrimSpace(code)
	site, err := scanSite(q.db.QueryRowContext(ctx, `
		SELECT `+siteColumns+`
		FROM sites
		WHERE code = ?
	`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Site{}, fmt.Errorf("site %s: %w", code, ErrSiteNotFound)
		}
		return Site{}, fmt.Errorf("query site %s: %w", code, err)
	}
	return site, nil
}

// GetSite returns the site with the given id.
func (q *Queries) GetSite(ctx context.Context, id int64) (Site, error) {
	site, err := scanSite(q.db.QueryRowContext(ctx, `
		SELECT `+siteColumns+`
		FROM sites
		WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Site{}, fmt.Errorf("site %d: %w", id, ErrSiteNotFound)
		}
		return Site{}, fmt.Errorf("query site %d: %w", id, err)
	}
	return site, nil
}

// ListSites returns every site ordered by code.
func (q *Queries) ListSites(ctx context.Context) ([]Site, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+siteColumns+`
		FROM sites
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}

	return sites, nil
}

// UpsertSite makes sure a site with code exists. Unknown codes are created with
// type UNKNOWN and the supplied timezone; existing sites are left untouched.
func (q *Queries) UpsertSite(ctx context.Context, code, timezone string, at time.Time) (Site, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Site{}, fmt.Errorf("%w: site code is required", ErrInvalidInput)
	}
	if strings.TrimSpace(timezone) == "" {
		timezone = "UTC"
	}

	if _, err := q.db.ExecContext(ctx, `
		INSERT INTO sites (code, name, type, timezone, meta, created_at, updated_at)
		VALUES (?, ?, ?, ?, '{}', ?, ?)
		ON CONFLICT(code) DO NOTHING
	`, code, code, string(SiteTypeUnknown), timezone, dbTime(at), dbTime(at)); err != nil {
		return Site{}, fmt.Errorf("upsert site %s: %w", code, err)
	}

	return q.FindSiteByCode(ctx, code)
}

// CreateSite inserts a new site, failing with ErrSiteCodeTaken when the code is
// already in use.
func (q *Queries) CreateSite(ctx context.Context, input SiteInput, at time.Time) (Site, error) {
	if err := validateSiteInput(input); err != nil {
		return Site{}, err
	}

	code := strings.TrimSpace(input.Code)
	name := code
	if input.Name != nil && strings.TrimSpace(*input.Name) != "" {
		name = strings.TrimSpace(*input.Name)
	}
	siteType := SiteTypeUnknown
	if input.Type != nil {
		siteType = *input.Type
	}
	timezone := "UTC"
	if input.Timezone != nil && strings.TrimSpace(*input.Timezone) != "" {
		timezone = strings.TrimSpace(*input.Timezone)
	}
	meta, err := encodeMeta(input.Meta)
	if err != nil {
		return Site{}, err
	}

	if _, err := q.db.ExecContext(ctx, `
		INSERT INTO sites (code, name, type, timezone, meta, ingest_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, code, name, string(siteType), timezone, meta, nullableTrimmedString(input.IngestKey), dbTime(at), dbTime(at)); err != nil {
		if isUniqueViolation(err) {
			return Site{}, fmt.Errorf("site %s: %w", code, ErrSiteCodeTaken)
		}
		return Site{}, fmt.Errorf("insert site %s: %w", code, err)
	}

	return q.FindSiteByCode(ctx, code)
}

// UpdateSite applies the non-nil fields of input to the site identified by
// code. Meta, when supplied, replaces the stored metadata.
func (q *Queries) UpdateSite(ctx context.Context, code string, input SiteInput, at time.Time) (Site, error) {
	code = strings.TrimSpace(code)
	if input.Type != nil && !input.Type.Valid() {
		return Site{}, fmt.Errorf("%w: unknown site type %q", ErrInvalidInput, *input.Type)
	}

	var (
		sets []string
		args []any
	)

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return Site{}, fmt.Errorf("%w: site name cannot be empty", ErrInvalidInput)
		}
		sets = append(sets, "name = ?")
		args = append(args, name)
	}
	if input.Type != nil {
		sets = append(sets, "type = ?")
		args = append(args, string(*input.Type))
	}
	if input.Timezone != nil {
		tz := strings.TrimSpace(*input.Timezone)
		if tz == "" {
			return Site{}, fmt.Errorf("%w: site timezone cannot be empty", ErrInvalidInput)
		}
		sets = append(sets, "timezone = ?")
		args = append(args, tz)
	}
	if input.Meta != nil {
		meta, err := encodeMeta(input.Meta)
		if err != nil {
			return Site{}, err
		}
		sets = append(sets, "meta = ?")
		args = append(args, meta)
	}
	if input.IngestKey != nil {
		if strings.TrimSpace(*input.IngestKey) == "" {
			sets = append(sets, "ingest_key = NULL")
		} else {
			sets = append(sets, "ingest_key = ?")
			args = append(args, strings.TrimSpace(*input.IngestKey))
		}
	}

	if len(sets) == 0 {
		return q.FindSiteByCode(ctx, code)
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, dbTime(at), code)

	res, err := q.db.ExecContext(ctx, fmt.Sprintf("UPDATE sites SET %s WHERE code = ?", strings.Join(sets, ", ")), args...)
	if err != nil {
		return Site{}, fmt.Errorf("update site %s: %w", code, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Site{}, fmt.Errorf("update site rows affected: %w", err)
	}
	if affected == 0 {
		return Site{}, fmt.Errorf("site %s: %w", code, ErrSiteNotFound)
	}

	return q.FindSiteByCode(ctx, code)
}

// DeleteSite removes a site together with its devices, metrics and
// assignment history.
func (q *Queries) DeleteSite(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	res, err := q.db.ExecContext(ctx, `DELETE FROM sites WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("delete site %s: %w", code, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete site rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("site %s: %w", code, ErrSiteNotFound)
	}
	return nil
}

func validateSiteInput(input SiteInput) error {
	if strings.TrimSpace(input.Code) == "" {
		return fmt.Errorf("%w: site code is required", ErrInvalidInput)
	}
	if input.Type != nil && !input.Type.Valid() {
		return fmt.Errorf("%w: unknown site type %q", ErrInvalidInput, *input.Type)
	}
	return nil
}
