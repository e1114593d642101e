package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitehive/internal/database"
	"sitehive/internal/database/dbtest"
)

func seedDevice(t *testing.T, store *database.Store) int64 {
	t.Helper()
	ctx := context.Background()
	site, err := store.UpsertSite(ctx, "S-1", "UTC", t0)
	require.NoError(t, err)
	id, err := store.UpsertDevice(ctx, database.UpsertDeviceParams{SiteID: site.ID, ExternalID: "m1", Kind: database.DeviceKindMiner, At: t0})
	require.NoError(t, err)
	return id
}

func TestMetricsAppendOnly(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	deviceID := seedDevice(t, store)

	for i := 0; i < 3; i++ {
		_, err := store.CreateMetric(ctx, deviceID, t0, []byte(`{"v":1}`))
		require.NoError(t, err)
	}

	metrics, err := store.ListMetrics(ctx, deviceID, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, metrics, 3, "identical points are not collapsed")

	limited, err := store.ListMetrics(ctx, deviceID, time.Time{}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRetentionDeletes(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	deviceID := seedDevice(t, store)

	_, err := store.CreateMetric(ctx, deviceID, t0.Add(-8*24*time.Hour), []byte(`{"v":1}`))
	require.NoError(t, err)
	_, err = store.CreateMetric(ctx, deviceID, t0.Add(-time.Hour), []byte(`{"v":2}`))
	require.NoError(t, err)

	removed, err := store.DeleteMetricsOlderThan(ctx, t0.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	left, err := store.ListMetrics(ctx, deviceID, t0.Add(-2*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.JSONEq(t, `{"v":2}`, string(left[0].Payload))
}

func TestRollupHour(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	deviceID := seedDevice(t, store)

	bucket := t0.Truncate(time.Hour)
	for i, payload := range []string{
		`{"power_w":3000,"temp":60,"state":"ok"}`,
		`{"power_w":3400,"temp":70}`,
		`[1,2,3]`,
	} {
		_, err := store.CreateMetric(ctx, deviceID, bucket.Add(time.Duration(i)*time.Minute), []byte(payload))
		require.NoError(t, err)
	}
	_, err := store.CreateMetric(ctx, deviceID, bucket.Add(time.Hour), []byte(`{"power_w":1}`))
	require.NoError(t, err)

	written, err := store.RollupHour(ctx, bucket.Add(25*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	// re-running replaces the row
	_, err = store.RollupHour(ctx, bucket)
	require.NoError(t, err)

	rollups, err := store.ListHourly(ctx, deviceID, bucket.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	r := rollups[0]
	assert.True(t, r.Bucket.Equal(bucket))
	assert.Equal(t, 3, r.Samples)
	assert.Equal(t, database.MetricStat{Min: 3000, Max: 3400, Avg: 3200, Count: 2}, r.Stats["power_w"])
	assert.Equal(t, database.MetricStat{Min: 60, Max: 70, Avg: 65, Count: 2}, r.Stats["temp"])
	assert.NotContains(t, r.Stats, "state")

	removed, err := store.DeleteHourlyOlderThan(ctx, bucket.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}

func TestPendingRollupBuckets(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	deviceID := seedDevice(t, store)

	late := t0.Add(-30 * time.Hour).Add(17 * time.Minute)
	for _, ts := range []time.Time{t0.Add(5 * time.Minute), late, late.Add(time.Minute), t0.Add(-time.Hour)} {
		_, err := store.CreateMetric(ctx, deviceID, ts, []byte(`{"v":1}`))
		require.NoError(t, err)
	}

	pending, err := store.ListPendingRollups(ctx, t0)
	require.NoError(t, err)
	require.Len(t, pending, 2, "the open hour is excluded and buckets are not repeated")
	assert.True(t, pending[0].Equal(late.Truncate(time.Hour)))
	assert.True(t, pending[1].Equal(t0.Add(-time.Hour)))

	require.NoError(t, store.ClearPendingRollup(ctx, pending[1]))
	removed, err := store.DeletePendingRollupsBefore(ctx, t0.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	pending, err = store.ListPendingRollups(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Equal(t0))
}
