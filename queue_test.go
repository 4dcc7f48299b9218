package sdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sdbkit/sdb/internal/cell"
)

func TestQueueAppendAndNavigate(t *testing.T) {
	db := openTestDB(t)

	txn := db.Begin()
	obj := txn.CreateObject()
	nr1, err := txn.QueueAppend(obj.imp, cell.UTF8("first"))
	require.NoError(t, err)
	nr2, err := txn.QueueAppend(obj.imp, cell.UTF8("second"))
	require.NoError(t, err)
	require.Equal(t, nr1+1, nr2)
	require.NoError(t, txn.Commit())

	nr, v, ok, err := db.QueueFirst(obj.Id())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, nr1, nr)
	require.Equal(t, "first", v.String())

	nr, v, ok, err = db.QueueLast(obj.Id())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, nr2, nr)
	require.Equal(t, "second", v.String())

	nr, v, ok, err = db.QueueNext(obj.Id(), nr1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, nr2, nr)
	require.Equal(t, "second", v.String())

	nr, v, ok, err = db.QueuePrev(obj.Id(), nr2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, nr1, nr)
	require.Equal(t, "first", v.String())

	_, _, ok, err = db.QueueNext(obj.Id(), nr2)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQueueEmptyObjectHasNoFirstOrLast(t *testing.T) {
	db := openTestDB(t)
	txn := db.Begin()
	obj := txn.CreateObject()
	require.NoError(t, txn.Commit())

	_, _, ok, err := db.QueueFirst(obj.Id())
	require.NoError(t, err)
	require.False(t, ok)

	_, _, ok, err = db.QueueLast(obj.Id())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQueueSetAndErase(t *testing.T) {
	db := openTestDB(t)
	txn := db.Begin()
	obj := txn.CreateObject()
	nr, err := txn.QueueAppend(obj.imp, cell.UTF8("a"))
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	txn2 := db.Begin()
	require.NoError(t, txn2.QueueSet(obj.imp, nr, cell.UTF8("b")))
	require.NoError(t, txn2.Commit())

	v, err := db.queueReadStore(obj.Id(), nr)
	require.NoError(t, err)
	require.Equal(t, "b", v.String())

	txn3 := db.Begin()
	require.NoError(t, txn3.QueueErase(obj.imp, nr))
	require.NoError(t, txn3.Commit())

	_, _, ok, err := db.QueueFirst(obj.Id())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQueueNotifications(t *testing.T) {
	db := openTestDB(t)
	obs := &recordingObserver{}
	db.AddObserver(obs)

	txn := db.Begin()
	obj := txn.CreateObject()
	nr, err := txn.QueueAppend(obj.imp, cell.UTF8("x"))
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	var found bool
	for _, e := range obs.events {
		if e.Kind == QueueAdded && e.ID == uint64(nr) && e.ID2 == obj.Id() {
			found = true
		}
	}
	require.True(t, found, "expected a QueueAdded notification")
}

func TestQueueErasedOnObjectDelete(t *testing.T) {
	db := openTestDB(t)
	txn := db.Begin()
	obj := txn.CreateObject()
	_, err := txn.QueueAppend(obj.imp, cell.UTF8("x"))
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	txn2 := db.Begin()
	require.NoError(t, txn2.EraseObject(obj))
	require.NoError(t, txn2.Commit())

	_, _, ok, err := db.QueueFirst(obj.Id())
	require.NoError(t, err)
	require.False(t, ok)
}
