package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const deviceColumns = `d.id, d.site_id, d.external_id, d.kind, d.name, d.meta, d.created_at, d.updated_at`

func scanDevice(row rowScanner, extra ...any) (Device, error) {
	var (
		device    Device
		kind      string
		name      sql.NullString
		meta      string
		createdAt nullTime
		updatedAt nullTime
	)

	dest := append([]any{&device.ID, &device.SiteID, &device.ExternalID, &kind, &name, &meta, &createdAt, &updatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Device{}, err
	}

	decoded, err := decodeMeta(meta)
	if err != nil {
		return Device{}, fmt.Errorf("device %s: %w", device.ExternalID, err)
	}
	device.Kind = DeviceKind(kind)
	device.Name = stringPtrFromNull(name)
	device.Meta = decoded
	device.CreatedAt = createdAt.Time
	device.UpdatedAt = updatedAt.Time
	return device, nil
}

// FindDevicesByExternalIDs batch-loads the site's devices matching externalIDs,
// keyed by external id. Unknown ids are simply absent from the result.
func (q *Queries) FindDevicesByExternalIDs(ctx context.Context, siteID int64, externalIDs []string) (map[string]Device, error) {
	out := make(map[string]Device, len(externalIDs))

	seen := make(map[string]struct{}, len(externalIDs))
	args := []any{siteID}
	for _, id := range externalIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		args = append(args, id)
	}
	if len(args) == 1 {
		return out, nil
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT `+deviceColumns+`
		FROM devices d
		WHERE d.site_id = ? AND d.external_id IN (`+placeholders(len(args)-1)+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query devices for site %d: %w", siteID, err)
	}
	defer rows.Close()

	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out[device.ExternalID] = device
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}

	return out, nil
}

// UpsertDevice inserts or updates the device keyed on (site_id, external_id)
// in one statement and returns its id.
func (q *Queries) UpsertDevice(ctx context.Context, params UpsertDeviceParams) (int64, error) {
	externalID := strings.TrimSpace(params.ExternalID)
	if externalID == "" {
		return 0, fmt.Errorf("%w: device external id is required", ErrInvalidInput)
	}
	if !params.Kind.Valid() {
		return 0, fmt.Errorf("%w: unknown device kind %q", ErrInvalidInput, params.Kind)
	}

	meta, err := encodeMeta(params.Meta)
	if err != nil {
		return 0, err
	}

	var id int64
	if err := q.db.QueryRowContext(ctx, `
		INSERT INTO devices (site_id, external_id, kind, name, meta, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(site_id, external_id) DO UPDATE SET
			kind = excluded.kind,
			name = COALESCE(excluded.name, devices.name),
			meta = excluded.meta,
			updated_at = excluded.updated_at
		RETURNING id
	`, params.SiteID, externalID, string(params.Kind), nullableTrimmedString(params.Name), meta, dbTime(params.At), dbTime(params.At)).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert device %s: %w", externalID, err)
	}

	return id, nil
}

// GetDevice returns a device by id.
func (q *Queries) GetDevice(ctx context.Context, id int64) (Device, error) {
	device, err := scanDevice(q.db.QueryRowContext(ctx, `
		SELECT `+deviceColumns+`
		FROM devices d
		WHERE d.id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Device{}, fmt.Errorf("device %d: %w", id, ErrDeviceNotFound)
		}
		return Device{}, fmt.Errorf("query device %d: %w", id, err)
	}
	return device, nil
}

// ListDevices returns every device of the site ordered by external id.
func (q *Queries) ListDevices(ctx context.Context, siteID int64) ([]Device, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+deviceColumns+`
		FROM devices d
		WHERE d.site_id = ?
		ORDER BY d.external_id
	`, siteID)
	if err != nil {
		return nil, fmt.Errorf("list devices for site %d: %w", siteID, err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}

	return devices, nil
}

// ListDeviceStatuses joins the site's devices with their latest status. When
// kind is non-nil only devices of that kind are returned.
func (q *Queries) ListDeviceStatuses(ctx context.Context, siteID int64, kind *DeviceKind) ([]DeviceWithStatus, error) {
	query := `
		SELECT ` + deviceColumns + `, st.ts, st.payload, st.updated_at
		FROM devices d
		LEFT JOIN device_status st ON st.device_id = d.id
		WHERE d.site_id = ?
	`
	args := []any{siteID}
	if kind != nil {
		query += " AND d.kind = ?"
		args = append(args, string(*kind))
	}
	query += " ORDER BY d.external_id"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list device statuses for site %d: %w", siteID, err)
	}
	defer rows.Close()

	var out []DeviceWithStatus
	for rows.Next() {
		var (
			ts        nullTime
			payload   sql.NullString
			updatedAt nullTime
		)
		device, err := scanDevice(rows, &ts, &payload, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan device status: %w", err)
		}

		entry := DeviceWithStatus{Device: device}
		if ts.Valid && payload.Valid {
			entry.Status = &DeviceStatus{
				DeviceID:  device.ID,
				TS:        ts.Time,
				Payload:   []byte(payload.String),
				UpdatedAt: updatedAt.Time,
			}
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device statuses: %w", err)
	}

	return out, nil
}
