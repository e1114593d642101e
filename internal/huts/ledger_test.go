package huts

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitehive/internal/database"
	"sitehive/internal/database/dbtest"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	store  *database.Store
	ledger *Ledger
	now    time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{store: dbtest.NewStore(t), now: t0}
	e.ledger = NewLedger(e.store, func() time.Time { return e.now }, nil)
	return e
}

func (e *env) tick() { e.now = e.now.Add(time.Minute) }

func (e *env) hut(t *testing.T, code string) database.Hut {
	t.Helper()
	h, err := e.store.EnsureHut(context.Background(), code, t0)
	require.NoError(t, err)
	return h
}

func (e *env) site(t *testing.T, code string) database.Site {
	t.Helper()
	s, err := e.store.UpsertSite(context.Background(), code, "UTC", t0)
	require.NoError(t, err)
	return s
}

func requireInvariants(t *testing.T, store *database.Store) {
	t.Helper()
	byHut, bySite, err := store.CountOpenAssignments(context.Background())
	require.NoError(t, err)
	require.Empty(t, byHut)
	require.Empty(t, bySite)
}

func TestAssignMovesHut(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	h := e.hut(t, "GH1")
	s1, s2 := e.site(t, "S1"), e.site(t, "S2")

	a, err := e.ledger.Assign(ctx, h.ID, &s1.ID)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "S1", a.SiteCode)

	e.tick()
	a, err = e.ledger.Assign(ctx, h.ID, &s2.ID)
	require.NoError(t, err)
	assert.Equal(t, "S2", a.SiteCode)
	assert.True(t, a.StartsAt.Equal(e.now))

	history, err := e.store.ListAssignmentsForHut(ctx, h.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.NotNil(t, history[1].EndsAt)
	assert.True(t, history[1].EndsAt.Equal(e.now))
	requireInvariants(t, e.store)
}

func TestAssignEvictsPreviousHut(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	h1, h2 := e.hut(t, "H1"), e.hut(t, "H2")
	s := e.site(t, "S")

	_, err := e.ledger.Assign(ctx, h1.ID, &s.ID)
	require.NoError(t, err)
	e.tick()
	_, err = e.ledger.Assign(ctx, h2.ID, &s.ID)
	require.NoError(t, err)

	current, err := e.ledger.Current(ctx, h1.ID)
	require.NoError(t, err)
	assert.Nil(t, current, "H1 was evicted")

	current, err = e.ledger.Current(ctx, h2.ID)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, s.ID, current.SiteID)
	requireInvariants(t, e.store)
}

func TestUnassign(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	h := e.hut(t, "H")
	s := e.site(t, "S")

	_, err := e.ledger.Assign(ctx, h.ID, &s.ID)
	require.NoError(t, err)

	a, err := e.ledger.Assign(ctx, h.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, a)

	current, err := e.ledger.Current(ctx, h.ID)
	require.NoError(t, err)
	assert.Nil(t, current)

	// unassigning twice is harmless
	_, err = e.ledger.Assign(ctx, h.ID, nil)
	require.NoError(t, err)
}

func TestAssignUnknownSiteRollsBack(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	h := e.hut(t, "H")
	s := e.site(t, "S")

	_, err := e.ledger.Assign(ctx, h.ID, &s.ID)
	require.NoError(t, err)

	missing := int64(9999)
	_, err = e.ledger.Assign(ctx, h.ID, &missing)
	require.ErrorIs(t, err, database.ErrSiteNotFound)

	current, err := e.ledger.Current(ctx, h.ID)
	require.NoError(t, err)
	require.NotNil(t, current, "the close of the old assignment was rolled back")
	assert.Equal(t, s.ID, current.SiteID)
}

func TestAssignByCode(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.hut(t, "GH180")
	e.site(t, "Y")

	a, err := e.ledger.AssignByCode(ctx, "GH180", "Y")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "Y", a.SiteCode)

	_, err = e.ledger.AssignByCode(ctx, "GH180", "Z")
	require.ErrorIs(t, err, database.ErrSiteNotFound)

	_, err = e.ledger.AssignByCode(ctx, "NOPE", "Y")
	require.ErrorIs(t, err, database.ErrHutNotFound)

	a, err = e.ledger.AssignByCode(ctx, "GH180", "")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestDeleteHutClosesAssignment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	h := e.hut(t, "H")
	s := e.site(t, "S")

	_, err := e.ledger.Assign(ctx, h.ID, &s.ID)
	require.NoError(t, err)

	require.NoError(t, e.ledger.DeleteHut(ctx, "H"))

	_, open, err := e.store.FindOpenAssignmentForSite(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, open, "the site is free again")

	require.ErrorIs(t, e.ledger.DeleteHut(ctx, "H"), database.ErrHutNotFound)
}

func TestInvariantsHoldUnderRandomMoves(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var hutIDs, siteIDs []int64
	for _, code := range []string{"H1", "H2", "H3", "H4"} {
		hutIDs = append(hutIDs, e.hut(t, code).ID)
	}
	for _, code := range []string{"S1", "S2", "S3"} {
		siteIDs = append(siteIDs, e.site(t, code).ID)
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		e.tick()
		hutID := hutIDs[rng.Intn(len(hutIDs))]
		var siteID *int64
		if pick := rng.Intn(len(siteIDs) + 1); pick < len(siteIDs) {
			siteID = &siteIDs[pick]
		}
		_, err := e.ledger.Assign(ctx, hutID, siteID)
		require.NoError(t, err)
		requireInvariants(t, e.store)
	}
}
