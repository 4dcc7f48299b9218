package atomdict

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sdbkit/sdb/internal/pagedstore"
)

func openTestDict(t *testing.T) *Dict {
	t.Helper()
	path := filepath.Join(t.TempDir(), "atoms.db")
	store, err := pagedstore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	d, err := Open(store, 1)
	require.NoError(t, err)
	return d
}

func TestLookupAllocatesAndIsStable(t *testing.T) {
	d := openTestDict(t)
	a, err := d.Lookup("name", true)
	require.NoError(t, err)
	require.NotZero(t, a)

	again, err := d.Lookup("name", true)
	require.NoError(t, err)
	require.Equal(t, a, again)
}

func TestLookupWithoutCreateReturnsZero(t *testing.T) {
	d := openTestDict(t)
	a, err := d.Lookup("unknown", false)
	require.NoError(t, err)
	require.Zero(t, a)
}

func TestDistinctNamesGetDistinctAtoms(t *testing.T) {
	d := openTestDict(t)
	a, err := d.Lookup("first", true)
	require.NoError(t, err)
	b, err := d.Lookup("second", true)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestReverseResolvesName(t *testing.T) {
	d := openTestDict(t)
	a, err := d.Lookup("title", true)
	require.NoError(t, err)

	name, err := d.Reverse(a)
	require.NoError(t, err)
	require.Equal(t, "title", name)
}

func TestReverseUnknownAtomIsEmpty(t *testing.T) {
	d := openTestDict(t)
	name, err := d.Reverse(999)
	require.NoError(t, err)
	require.Empty(t, name)
}

func TestPresetIdempotentOnExactRepeat(t *testing.T) {
	d := openTestDict(t)
	require.NoError(t, d.Preset("owner", ReservedThreshold+1))
	require.NoError(t, d.Preset("owner", ReservedThreshold+1))

	a, err := d.Lookup("owner", false)
	require.NoError(t, err)
	require.Equal(t, uint32(ReservedThreshold+1), a)
}

func TestPresetClashesOnConflictingName(t *testing.T) {
	d := openTestDict(t)
	require.NoError(t, d.Preset("owner", ReservedThreshold+1))
	err := d.Preset("owner", ReservedThreshold+2)
	require.ErrorIs(t, err, ErrAtomClash)
}

func TestPresetClashesOnConflictingAtom(t *testing.T) {
	d := openTestDict(t)
	require.NoError(t, d.Preset("owner", ReservedThreshold+1))
	err := d.Preset("first-elm", ReservedThreshold+1)
	require.ErrorIs(t, err, ErrAtomClash)
}

func TestPresetAdvancesCounterPastReservedValue(t *testing.T) {
	d := openTestDict(t)
	require.NoError(t, d.Preset("owner", ReservedThreshold+5))

	a, err := d.Lookup("ordinary", true)
	require.NoError(t, err)
	require.Greater(t, a, uint32(ReservedThreshold+5))
}

func TestIsReservedBoundary(t *testing.T) {
	require.False(t, IsReserved(ReservedThreshold-1))
	require.True(t, IsReserved(ReservedThreshold))
}

func TestPresetClashesOnConflictingNameAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atoms.db")
	store, err := pagedstore.Open(path)
	require.NoError(t, err)
	d, err := Open(store, 1)
	require.NoError(t, err)
	require.NoError(t, d.Preset("owner", ReservedThreshold+1))
	require.NoError(t, store.Close())

	store2, err := pagedstore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store2.Close() })
	d2, err := Open(store2, 1)
	require.NoError(t, err)

	err = d2.Preset("owner", ReservedThreshold+2)
	require.ErrorIs(t, err, ErrAtomClash, "a cold-cache Preset must still see the persisted mapping")
}

func TestPresetClashesOnConflictingAtomAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atoms.db")
	store, err := pagedstore.Open(path)
	require.NoError(t, err)
	d, err := Open(store, 1)
	require.NoError(t, err)
	require.NoError(t, d.Preset("owner", ReservedThreshold+1))
	require.NoError(t, store.Close())

	store2, err := pagedstore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store2.Close() })
	d2, err := Open(store2, 1)
	require.NoError(t, err)

	err = d2.Preset("first-elm", ReservedThreshold+1)
	require.ErrorIs(t, err, ErrAtomClash, "a cold-cache Preset must still see the persisted mapping")
}

func TestDictionaryPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atoms.db")
	store, err := pagedstore.Open(path)
	require.NoError(t, err)
	d, err := Open(store, 1)
	require.NoError(t, err)
	a, err := d.Lookup("persisted", true)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store2, err := pagedstore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store2.Close() })
	d2, err := Open(store2, 1)
	require.NoError(t, err)

	got, err := d2.Lookup("persisted", false)
	require.NoError(t, err)
	require.Equal(t, a, got)

	next, err := d2.Lookup("fresh-after-reopen", true)
	require.NoError(t, err)
	require.Greater(t, next, a)
}
