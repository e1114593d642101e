package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitehive/internal/database"
	"sitehive/internal/database/dbtest"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *database.Store
	svc   *Service
	clock *time.Time
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	store := dbtest.NewStore(t)
	clock := t0
	opts.Now = func() time.Time { return clock }
	return fixture{store: store, svc: New(store, opts, nil), clock: &clock}
}

func (f fixture) placeHut(t *testing.T, hutCode, siteCode string) {
	t.Helper()
	ctx := context.Background()
	hut, err := f.store.EnsureHut(ctx, hutCode, t0)
	require.NoError(t, err)
	site, err := f.store.UpsertSite(ctx, siteCode, "UTC", t0)
	require.NoError(t, err)
	_, err = f.store.CreateAssignment(ctx, hut.ID, site.ID, t0)
	require.NoError(t, err)
}

func countRows(t *testing.T, store *database.Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, store.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func minerBatch(siteCode string, meta database.Meta) Batch {
	return Batch{
		SiteCode: siteCode,
		AgentID:  "agent-1",
		Devices: []Device{
			{ExternalID: "m1", Kind: database.DeviceKindMiner, Meta: meta},
		},
		Metrics: []Metric{
			{DeviceExternalID: "m1", TS: t0, Payload: json.RawMessage(`{"ghs_5s":95000}`)},
		},
	}
}

func TestIngestIsIdempotentForDevices(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	first, err := f.svc.Ingest(ctx, minerBatch("W-1", database.Meta{"ip": "10.0.0.5"}))
	require.NoError(t, err)
	assert.Equal(t, "W-1", first.SiteCode)
	assert.Equal(t, 1, first.Devices)
	assert.Equal(t, 1, first.Metrics)

	second, err := f.svc.Ingest(ctx, minerBatch("W-1", database.Meta{"ip": "10.0.0.6"}))
	require.NoError(t, err)
	assert.Equal(t, first.SiteID, second.SiteID)

	devices, err := f.store.ListDevices(ctx, first.SiteID)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, database.Meta{"ip": "10.0.0.6"}, devices[0].Meta)

	assert.Equal(t, 2, countRows(t, f.store, "metrics"), "redelivery duplicates metric points")
	assert.Equal(t, 1, countRows(t, f.store, "device_status"))
}

func TestIngestPreservesLoc(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.svc.Ingest(ctx, minerBatch("W-1", database.Meta{"loc": "A01", "ip": "10.0.0.5"}))
	require.NoError(t, err)

	_, err = f.svc.Ingest(ctx, minerBatch("W-1", database.Meta{"ip": "10.0.0.6"}))
	require.NoError(t, err)

	devices, err := f.store.ListDevices(ctx, res.SiteID)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, database.Meta{"loc": "A01", "ip": "10.0.0.6"}, devices[0].Meta)

	_, err = f.svc.Ingest(ctx, minerBatch("W-1", database.Meta{"loc": "A02"}))
	require.NoError(t, err)

	devices, err = f.store.ListDevices(ctx, res.SiteID)
	require.NoError(t, err)
	assert.Equal(t, "A02", devices[0].Meta["loc"])
}

func TestIngestHutTakesPrecedence(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.placeHut(t, "GH180", "Y")

	batch := minerBatch("X", nil)
	batch.HutCode = "GH180"

	res, err := f.svc.Ingest(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, "Y", res.SiteCode)

	_, err = f.store.FindSiteByCode(ctx, "X")
	require.ErrorIs(t, err, database.ErrSiteNotFound, "siteCode is ignored when hutCode is set")
}

func TestIngestRejectsUnassignedHut(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.store.EnsureHut(ctx, "GH1", t0)
	require.NoError(t, err)

	batch := minerBatch("", nil)
	batch.HutCode = "GH1"

	_, err = f.svc.Ingest(ctx, batch)
	require.ErrorIs(t, err, ErrHutUnassigned)

	assert.Zero(t, countRows(t, f.store, "devices"))
	assert.Zero(t, countRows(t, f.store, "metrics"))
	assert.Zero(t, countRows(t, f.store, "device_status"))
}

func TestIngestResolutionErrors(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	batch := minerBatch("", nil)
	_, err := f.svc.Ingest(ctx, batch)
	require.ErrorIs(t, err, ErrSiteOrHutRequired)

	batch.HutCode = "nope"
	_, err = f.svc.Ingest(ctx, batch)
	require.ErrorIs(t, err, ErrHutNotFound)

	assert.Zero(t, countRows(t, f.store, "sites"))
}

func TestIngestDropsUnattributedMetrics(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	batch := minerBatch("W-1", nil)
	batch.Metrics = append(batch.Metrics, Metric{
		DeviceExternalID: "ghost", TS: t0, Payload: json.RawMessage(`{}`),
	})

	res, err := f.svc.Ingest(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Metrics)
	assert.Equal(t, 1, countRows(t, f.store, "metrics"))
}

func TestIngestAttributesPreviouslyKnownDevices(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, minerBatch("W-1", nil))
	require.NoError(t, err)

	res, err := f.svc.Ingest(ctx, Batch{
		SiteCode: "W-1",
		AgentID:  "agent-1",
		Metrics: []Metric{
			{DeviceExternalID: "m1", TS: t0.Add(time.Minute), Payload: json.RawMessage(`{"ghs_5s":1}`)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Devices)
	assert.Equal(t, 1, res.Metrics)
}

func TestIngestStatusFollowsBatchOrder(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	batch := minerBatch("W-1", nil)
	batch.Metrics = []Metric{
		{DeviceExternalID: "m1", TS: t0.Add(time.Minute), Payload: json.RawMessage(`{"n":1}`)},
		{DeviceExternalID: "m1", TS: t0, Payload: json.RawMessage(`{"n":2}`)},
	}
	res, err := f.svc.Ingest(ctx, batch)
	require.NoError(t, err)

	devices, err := f.store.ListDeviceStatuses(ctx, res.SiteID, nil)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.NotNil(t, devices[0].Status)
	assert.JSONEq(t, `{"n":2}`, string(devices[0].Status.Payload))
	assert.True(t, devices[0].Status.TS.Equal(t0))
}

func TestIngestRejectsInvalidBatch(t *testing.T) {
	f := newFixture(t, Options{})

	batch := minerBatch("W-1", nil)
	batch.Devices[0].Kind = "TOASTER"
	_, err := f.svc.Ingest(context.Background(), batch)
	require.ErrorIs(t, err, ErrInvalidBatch)
	assert.Zero(t, countRows(t, f.store, "sites"))
}

func TestBootstrap(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.svc.Bootstrap(ctx, "GH7")
	require.NoError(t, err)
	assert.Equal(t, "GH7", res.Hut.Code)
	assert.Nil(t, res.Assignment)

	f.placeHut(t, "GH7", "S-9")

	res, err = f.svc.Bootstrap(ctx, "GH7")
	require.NoError(t, err)
	require.NotNil(t, res.Assignment)
	assert.Equal(t, "S-9", res.Assignment.SiteCode)
	assert.Equal(t, 1, countRows(t, f.store, "huts"))
}
