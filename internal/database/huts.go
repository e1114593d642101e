package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const hutColumns = `id, code, name, meta, created_at, updated_at`

func scanHut(row rowScanner) (Hut, error) {
	var (
		hut       Hut
		meta      string
		createdAt nullTime
		updatedAt nullTime
	)

	if err := row.Scan(&hut.ID, &hut.Code, &hut.Name, &meta, &createdAt, &updatedAt); err != nil {
		return Hut{}, err
	}

	decoded, err := decodeMeta(meta)
	if err != nil {
		return Hut{}, fmt.Errorf("hut %s: %w", hut.Code, err)
	}
	hut.Meta = decoded
	hut.CreatedAt = createdAt.Time
	hut.UpdatedAt = updatedAt.Time
	return hut, nil
}

// FindHutByCode returns the hut with the given code.
func (q *Queries) FindHutByCode(ctx context.Context, code string) (Hut, error) {
	code = strings.TrimSpace(code)
	hut, err := scanHut(q.db.QueryRowContext(ctx, `
		SELECT `+hutColumns+`
		FROM huts
		WHERE code = ?
	`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Hut{}, fmt.Errorf("hut %s: %w", code, ErrHutNotFound)
		}
		return Hut{}, fmt.Errorf("query hut %s: %w", code, err)
	}
	return hut, nil
}

// GetHut returns the hut with the given id.
func (q *Queries) GetHut(ctx context.Context, id int64) (Hut, error) {
	hut, err := scanHut(q.db.QueryRowContext(ctx, `
		SELECT `+hutColumns+`
		FROM huts
		WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Hut{}, fmt.Errorf("hut %d: %w", id, ErrHutNotFound)
		}
		return Hut{}, fmt.Errorf("query hut %d: %w", id, err)
	}
	return hut, nil
}

// ListHuts returns every hut ordered by code.
func (q *Queries) ListHuts(ctx context.Context) ([]Hut, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+hutColumns+`
		FROM huts
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("list huts: %w", err)
	}
	defer rows.Close()

	var huts []Hut
	for rows.Next() {
		hut, err := scanHut(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hut: %w", err)
		}
		huts = append(huts, hut)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate huts: %w", err)
	}

	return huts, nil
}

// CreateHut inserts a new hut, failing with ErrHutCodeTaken on duplicates.
func (q *Queries) CreateHut(ctx context.Context, input HutInput, at time.Time) (Hut, error) {
	code := strings.TrimSpace(input.Code)
	if code == "" {
		return Hut{}, fmt.Errorf("%w: hut code is required", ErrInvalidInput)
	}
	name := code
	if input.Name != nil && strings.TrimSpace(*input.Name) != "" {
		name = strings.TrimSpace(*input.Name)
	}
	meta, err := encodeMeta(input.Meta)
	if err != nil {
		return Hut{}, err
	}

	if _, err := q.db.ExecContext(ctx, `
		INSERT INTO huts (code, name, meta, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, code, name, meta, dbTime(at), dbTime(at)); err != nil {
		if isUniqueViolation(err) {
			return Hut{}, fmt.Errorf("hut %s: %w", code, ErrHutCodeTaken)
		}
		return Hut{}, fmt.Errorf("insert hut %s: %w", code, err)
	}

	return q.FindHutByCode(ctx, code)
}

// EnsureHut returns the hut with code, creating a bare one when absent.
func (q *Queries) EnsureHut(ctx context.Context, code string, at time.Time) (Hut, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Hut{}, fmt.Errorf("%w: hut code is required", ErrInvalidInput)
	}

	if _, err := q.db.ExecContext(ctx, `
		INSERT INTO huts (code, name, meta, created_at, updated_at)
		VALUES (?, ?, '{}', ?, ?)
		ON CONFLICT(code) DO NOTHING
	`, code, code, dbTime(at), dbTime(at)); err != nil {
		return Hut{}, fmt.Errorf("ensure hut %s: %w", code, err)
	}

	return q.FindHutByCode(ctx, code)
}

// UpdateHut applies the non-nil fields of input to the hut identified by code.
func (q *Queries) UpdateHut(ctx context.Context, code string, input HutInput, at time.Time) (Hut, error) {
	code = strings.TrimSpace(code)

	var (
		sets []string
		args []any
	)

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return Hut{}, fmt.Errorf("%w: hut name cannot be empty", ErrInvalidInput)
		}
		sets = append(sets, "name = ?")
		args = append(args, name)
	}
	if input.Meta != nil {
		meta, err := encodeMeta(input.Meta)
		if err != nil {
			return Hut{}, err
		}
		sets = append(sets, "meta = ?")
		args = append(args, meta)
	}

	if len(sets) == 0 {
		return q.FindHutByCode(ctx, code)
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, dbTime(at), code)

	res, err := q.db.ExecContext(ctx, fmt.Sprintf("UPDATE huts SET %s WHERE code = ?", strings.Join(sets, ", ")), args...)
	if err != nil {
		return Hut{}, fmt.Errorf("update hut %s: %w", code, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Hut{}, fmt.Errorf("update hut rows affected: %w", err)
	}
	if affected == 0 {
		return Hut{}, fmt.Errorf("hut %s: %w", code, ErrHutNotFound)
	}

	return q.FindHutByCode(ctx, code)
}

// DeleteHut removes the hut row. Callers are expected to close its open
// assignment first, inside the same transaction.
func (q *Queries) DeleteHut(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM huts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete hut %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete hut rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("hut %d: %w", id, ErrHutNotFound)
	}
	return nil
}
