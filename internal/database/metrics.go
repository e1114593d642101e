package database

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// CreateMetric appends an immutable telemetry point for the device and marks
// its hour bucket for rollup.
func (q *Queries) CreateMetric(ctx context.Context, deviceID int64, ts time.Time, payload []byte) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO metrics (device_id, ts, payload)
		VALUES (?, ?, ?)
	`, deviceID, dbTime(ts), payloadText(payload))
	if err != nil {
		return 0, fmt.Errorf("insert metric for device %d: %w", deviceID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("metric id: %w", err)
	}

	if _, err := q.db.ExecContext(ctx, `
		INSERT INTO rollup_pending (bucket) VALUES (?)
		ON CONFLICT(bucket) DO NOTHING
	`, dbTime(ts.UTC().Truncate(time.Hour))); err != nil {
		return 0, fmt.Errorf("mark rollup bucket: %w", err)
	}
	return id, nil
}

// ListPendingRollups returns the hour buckets that received metrics since
// they were last rolled up, oldest first, limited to buckets starting before
// before.
func (q *Queries) ListPendingRollups(ctx context.Context, before time.Time) ([]time.Time, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT bucket
		FROM rollup_pending
		WHERE bucket < ?
		ORDER BY bucket
	`, dbTime(before))
	if err != nil {
		return nil, fmt.Errorf("list pending rollups: %w", err)
	}
	defer rows.Close()

	var buckets []time.Time
	for rows.Next() {
		var bucket nullTime
		if err := rows.Scan(&bucket); err != nil {
			return nil, fmt.Errorf("scan pending rollup: %w", err)
		}
		buckets = append(buckets, bucket.Time)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending rollups: %w", err)
	}
	return buckets, nil
}

// ClearPendingRollup unmarks a bucket after it has been rolled up.
func (q *Queries) ClearPendingRollup(ctx context.Context, bucket time.Time) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM rollup_pending WHERE bucket = ?`, dbTime(bucket.UTC().Truncate(time.Hour))); err != nil {
		return fmt.Errorf("clear pending rollup %s: %w", bucket.Format(time.RFC3339), err)
	}
	return nil
}

// DeletePendingRollupsBefore drops marks for buckets whose raw metrics have
// aged out.
func (q *Queries) DeletePendingRollupsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM rollup_pending WHERE bucket < ?`, dbTime(cutoff.UTC().Truncate(time.Hour)))
	if err != nil {
		return 0, fmt.Errorf("delete pending rollups before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return res.RowsAffected()
}

// ListMetrics returns the device's metrics newest first. A zero since returns
// the whole retained history; limit <= 0 means no limit.
func (q *Queries) ListMetrics(ctx context.Context, deviceID int64, since time.Time, limit int) ([]Metric, error) {
	query := `
		SELECT id, device_id, ts, payload
		FROM metrics
		WHERE device_id = ?
	`
	args := []any{deviceID}
	if !since.IsZero() {
		query += " AND ts >= ?"
		args = append(args, dbTime(since))
	}
	query += " ORDER BY ts DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list metrics for device %d: %w", deviceID, err)
	}
	defer rows.Close()

	var metrics []Metric
	for rows.Next() {
		var (
			m       Metric
			ts      nullTime
			payload string
		)
		if err := rows.Scan(&m.ID, &m.DeviceID, &ts, &payload); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.TS = ts.Time
		m.Payload = []byte(payload)
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metrics: %w", err)
	}

	return metrics, nil
}

// DeleteMetricsOlderThan removes raw metrics with ts strictly before cutoff.
func (q *Queries) DeleteMetricsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM metrics WHERE ts < ?`, dbTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete metrics before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return res.RowsAffected()
}

// DeleteHourlyOlderThan removes rollup buckets starting before cutoff.
func (q *Queries) DeleteHourlyOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM metrics_hourly WHERE bucket < ?`, dbTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete hourly rollups before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return res.RowsAffected()
}

// RollupHour aggregates the numeric top-level payload fields of every metric in
// [bucket, bucket+1h) and upserts one metrics_hourly row per device. It
// returns the number of rows written.
func (q *Queries) RollupHour(ctx context.Context, bucket time.Time) (int, error) {
	bucket = bucket.UTC().Truncate(time.Hour)
	end := bucket.Add(time.Hour)

	rows, err := q.db.QueryContext(ctx, `
		SELECT device_id, payload
		FROM metrics
		WHERE ts >= ? AND ts < ?
		ORDER BY device_id
	`, dbTime(bucket), dbTime(end))
	if err != nil {
		return 0, fmt.Errorf("query metrics for bucket %s: %w", bucket.Format(time.RFC3339), err)
	}

	type accumulator struct {
		samples int
		fields  map[string]*MetricStat
		sums    map[string]float64
	}
	perDevice := make(map[int64]*accumulator)

	for rows.Next() {
		var (
			deviceID int64
			payload  string
		)
		if err := rows.Scan(&deviceID, &payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan metric payload: %w", err)
		}

		acc, ok := perDevice[deviceID]
		if !ok {
			acc = &accumulator{fields: map[string]*MetricStat{}, sums: map[string]float64{}}
			perDevice[deviceID] = acc
		}
		acc.samples++

		for key, value := range numericFields(payload) {
			stat, ok := acc.fields[key]
			if !ok {
				stat = &MetricStat{Min: value, Max: value}
				acc.fields[key] = stat
			}
			stat.Min = math.Min(stat.Min, value)
			stat.Max = math.Max(stat.Max, value)
			stat.Count++
			acc.sums[key] += value
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate metrics: %w", err)
	}
	rows.Close()

	deviceIDs := make([]int64, 0, len(perDevice))
	for id := range perDevice {
		deviceIDs = append(deviceIDs, id)
	}
	sort.Slice(deviceIDs, func(i, j int) bool { return deviceIDs[i] < deviceIDs[j] })

	for _, deviceID := range deviceIDs {
		acc := perDevice[deviceID]
		stats := make(map[string]MetricStat, len(acc.fields))
		for key, stat := range acc.fields {
			stat.Avg = acc.sums[key] / float64(stat.Count)
			stats[key] = *stat
		}
		encoded, err := json.Marshal(stats)
		if err != nil {
			return 0, fmt.Errorf("encode rollup stats: %w", err)
		}

		if _, err := q.db.ExecContext(ctx, `
			INSERT INTO metrics_hourly (device_id, bucket, samples, stats)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(device_id, bucket) DO UPDATE SET
				samples = excluded.samples,
				stats = excluded.stats
		`, deviceID, dbTime(bucket), acc.samples, string(encoded)); err != nil {
			return 0, fmt.Errorf("upsert rollup for device %d: %w", deviceID, err)
		}
	}

	return len(deviceIDs), nil
}

// ListHourly returns the device's rollup buckets newest first.
func (q *Queries) ListHourly(ctx context.Context, deviceID int64, since time.Time) ([]HourlyRollup, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT device_id, bucket, samples, stats
		FROM metrics_hourly
		WHERE device_id = ? AND bucket >= ?
		ORDER BY bucket DESC
	`, deviceID, dbTime(since))
	if err != nil {
		return nil, fmt.Errorf("list hourly rollups for device %d: %w", deviceID, err)
	}
	defer rows.Close()

	var out []HourlyRollup
	for rows.Next() {
		var (
			r      HourlyRollup
			bucket nullTime
			stats  string
		)
		if err := rows.Scan(&r.DeviceID, &bucket, &r.Samples, &stats); err != nil {
			return nil, fmt.Errorf("scan hourly rollup: %w", err)
		}
		r.Bucket = bucket.Time
		r.Stats = map[string]MetricStat{}
		if err := json.Unmarshal([]byte(stats), &r.Stats); err != nil {
			return nil, fmt.Errorf("decode rollup stats: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hourly rollups: %w", err)
	}
	return out, nil
}

// numericFields extracts the top-level numeric values of a JSON object.
// Anything that is not an object yields nothing.
func numericFields(payload string) map[string]float64 {
	var object map[string]any
	if err := json.Unmarshal([]byte(payload), &object); err != nil {
		return nil
	}
	out := make(map[string]float64, len(object))
	for key, value := range object {
		if f, ok := value.(float64); ok {
			out[key] = f
		}
	}
	return out
}
