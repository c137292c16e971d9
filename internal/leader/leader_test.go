package leader

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/barreleye/barreleye/internal/catalog"
)

func newTestCatalog(t *testing.T) catalog.Catalog {
	t.Helper()
	cat, err := catalog.NewBoltCatalog(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })
	return cat
}

func TestCheckClaimsWhenNoMarkerExists(t *testing.T) {
	cat := newTestCatalog(t)
	l := New(cat)

	require.NoError(t, l.check())
	require.True(t, l.IsLeading())
}

func TestCheckRenewsOwnClaimWithinCooldown(t *testing.T) {
	cat := newTestCatalog(t)
	l := New(cat)

	require.NoError(t, l.check())
	require.True(t, l.IsLeading())

	require.NoError(t, l.check())
	require.True(t, l.IsLeading())
}

func TestCheckStandsDownForForeignFreshMarker(t *testing.T) {
	cat := newTestCatalog(t)

	foreign := New(cat)
	require.NoError(t, foreign.check())
	require.True(t, foreign.IsLeading())

	challenger := New(cat)
	require.NoError(t, challenger.check())
	require.False(t, challenger.IsLeading())
}

func TestCheckCASLosesToConcurrentWriter(t *testing.T) {
	cat := newTestCatalog(t)
	key := catalog.KeyPrimaryKey()

	l := New(cat)
	require.NoError(t, l.check())
	require.True(t, l.IsLeading())

	// A concurrent writer claims the key out from under l between l's read
	// and its renewal CAS; l's next check should lose the race and stand
	// down, matching check()'s "mine && age < cooldown" CAS-failure branch.
	var current primaryMarker
	existing, err := cat.ConfigGet(key, &current)
	require.NoError(t, err)
	require.NoError(t, cat.ConfigSet(key, primaryMarker{UUID: "interloper"}))

	won, err := cat.ConfigSetWhere(key, primaryMarker{UUID: l.id.String()}, current, existing.UpdatedAt)
	require.NoError(t, err)
	require.False(t, won, "CAS must fail once the interloper has already overwritten the key")
}
