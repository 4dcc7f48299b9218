package sdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sdbkit/sdb/internal/cell"
)

func TestMapSetGetErase(t *testing.T) {
	db := openTestDB(t)
	txn := db.Begin()
	obj := txn.CreateObject()
	parts := []cell.Cell{cell.UTF8("color")}
	require.NoError(t, txn.MapSet(obj.imp, parts, cell.UTF8("red")))
	require.NoError(t, txn.Commit())

	txn2 := db.Begin()
	v, err := txn2.MapGet(obj.imp, parts)
	require.NoError(t, err)
	require.Equal(t, "red", v.String())
	require.NoError(t, txn2.Rollback())

	txn3 := db.Begin()
	require.NoError(t, txn3.MapErase(obj.imp, parts))
	require.NoError(t, txn3.Commit())

	txn4 := db.Begin()
	v, err = txn4.MapGet(obj.imp, parts)
	require.NoError(t, err)
	require.True(t, v.IsNull())
	require.NoError(t, txn4.Rollback())
}

func TestMapFindSeededPrefix(t *testing.T) {
	db := openTestDB(t)
	txn := db.Begin()
	obj := txn.CreateObject()
	require.NoError(t, txn.MapSet(obj.imp, []cell.Cell{cell.UTF8("a"), cell.UTF8("x")}, cell.U64(1)))
	require.NoError(t, txn.MapSet(obj.imp, []cell.Cell{cell.UTF8("a"), cell.UTF8("y")}, cell.U64(2)))
	require.NoError(t, txn.MapSet(obj.imp, []cell.Cell{cell.UTF8("b"), cell.UTF8("z")}, cell.U64(3)))
	require.NoError(t, txn.Commit())

	var got []Mit
	_, err := db.FindMap(obj.Id(), []cell.Cell{cell.UTF8("a")}, func(m Mit) bool {
		got = append(got, m)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, m := range got {
		require.Len(t, m.Parts, 1)
	}
}

func TestMapEmitsNoNotifications(t *testing.T) {
	db := openTestDB(t)
	obs := &recordingObserver{}
	db.AddObserver(obs)

	txn := db.Begin()
	obj := txn.CreateObject()
	require.NoError(t, txn.MapSet(obj.imp, []cell.Cell{cell.UTF8("k")}, cell.U64(1)))
	require.NoError(t, txn.Commit())

	// Only the object's own creation is observed; the map write itself
	// produces no Kind (§6's notification table has no map-related entry).
	require.Len(t, obs.events, 1)
	require.Equal(t, ObjectCreated, obs.events[0].Kind)
}

func TestMapErasedOnObjectDelete(t *testing.T) {
	db := openTestDB(t)
	parts := []cell.Cell{cell.UTF8("k")}

	txn := db.Begin()
	obj := txn.CreateObject()
	require.NoError(t, txn.MapSet(obj.imp, parts, cell.U64(7)))
	require.NoError(t, txn.Commit())

	txn2 := db.Begin()
	require.NoError(t, txn2.EraseObject(obj))
	require.NoError(t, txn2.Commit())

	v, err := db.mapReadStore(mapKey(obj.Id(), parts))
	require.NoError(t, err)
	require.True(t, v.IsNull())
}
