package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitehive/internal/database"
)

func TestAuthorize(t *testing.T) {
	siteKey := "site-secret"
	withKey := &database.Site{Code: "S", IngestKey: &siteKey}
	withoutKey := &database.Site{Code: "T"}

	open := newFixture(t, Options{}).svc
	assert.NoError(t, open.Authorize(nil, ""))
	assert.NoError(t, open.Authorize(withoutKey, "anything"))
	assert.ErrorIs(t, open.Authorize(withKey, ""), ErrUnauthorized)
	assert.NoError(t, open.Authorize(withKey, siteKey))

	guarded := newFixture(t, Options{IngestKey: "global"}).svc
	assert.ErrorIs(t, guarded.Authorize(nil, ""), ErrUnauthorized)
	assert.NoError(t, guarded.Authorize(nil, "global"))
	assert.NoError(t, guarded.Authorize(withoutKey, "global"))
	assert.ErrorIs(t, guarded.Authorize(withKey, "global"), ErrUnauthorized, "site key replaces the global key")
}

func TestIngestChecksKeyOfResolvedSite(t *testing.T) {
	f := newFixture(t, Options{IngestKey: "global"})
	ctx := context.Background()

	yKey, zKey := "key-y", "key-z"
	_, err := f.store.CreateSite(ctx, database.SiteInput{Code: "Y", IngestKey: &yKey}, t0)
	require.NoError(t, err)
	z, err := f.store.CreateSite(ctx, database.SiteInput{Code: "Z", IngestKey: &zKey}, t0)
	require.NoError(t, err)
	f.placeHut(t, "GH180", "Y")

	batch := minerBatch("X", nil)
	batch.HutCode = "GH180"
	batch.Key = "global"
	_, err = f.svc.Ingest(ctx, batch)
	require.ErrorIs(t, err, ErrUnauthorized, "the hut's site key replaces the global key")

	// the hut moves before the agent's next batch
	hut, err := f.store.FindHutByCode(ctx, "GH180")
	require.NoError(t, err)
	_, err = f.store.CloseOpenAssignmentsForHut(ctx, hut.ID, t0)
	require.NoError(t, err)
	_, err = f.store.CreateAssignment(ctx, hut.ID, z.ID, t0)
	require.NoError(t, err)

	batch.Key = yKey
	_, err = f.svc.Ingest(ctx, batch)
	require.ErrorIs(t, err, ErrUnauthorized, "the old site's key no longer applies")
	assert.Zero(t, countRows(t, f.store, "devices"))

	batch.Key = zKey
	res, err := f.svc.Ingest(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, "Z", res.SiteCode)
}

func TestUnauthorizedCallsCreateNothing(t *testing.T) {
	f := newFixture(t, Options{IngestKey: "global"})
	ctx := context.Background()

	batch := minerBatch("NEW", nil)
	batch.Key = "wrong"
	_, err := f.svc.Ingest(ctx, batch)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.Heartbeat(ctx, Heartbeat{SiteCode: "NEW", AgentID: "pi-01", Key: "wrong"})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.store.FindSiteByCode(ctx, "NEW")
	require.ErrorIs(t, err, database.ErrSiteNotFound)

	batch.Key = "global"
	_, err = f.svc.Ingest(ctx, batch)
	require.NoError(t, err)
}
