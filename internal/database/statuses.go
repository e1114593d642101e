package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertDeviceStatus replaces the device's latest status with the given
// payload. Last write wins; ts is not compared against the stored value.
func (q *Queries) UpsertDeviceStatus(ctx context.Context, deviceID int64, ts time.Time, payload []byte, at time.Time) error {
	if _, err := q.db.ExecContext(ctx, `
		INSERT INTO device_status (device_id, ts, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			ts = excluded.ts,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, deviceID, dbTime(ts), payloadText(payload), dbTime(at)); err != nil {
		return fmt.Errorf("upsert status for device %d: %w", deviceID, err)
	}
	return nil
}

// GetDeviceStatus returns the latest status of a device. The boolean is false
// when no metric has been recorded yet.
func (q *Queries) GetDeviceStatus(ctx context.Context, deviceID int64) (DeviceStatus, bool, error) {
	var (
		status    = DeviceStatus{DeviceID: deviceID}
		ts        nullTime
		payload   string
		updatedAt nullTime
	)

	err := q.db.QueryRowContext(ctx, `
		SELECT ts, payload, updated_at
		FROM device_status
		WHERE device_id = ?
	`, deviceID).Scan(&ts, &payload, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DeviceStatus{}, false, nil
		}
		return DeviceStatus{}, false, fmt.Errorf("query status for device %d: %w", deviceID, err)
	}

	status.TS = ts.Time
	status.Payload = []byte(payload)
	status.UpdatedAt = updatedAt.Time
	return status, true, nil
}
