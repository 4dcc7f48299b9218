package sdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sdbkit/sdb/internal/cell"
)

func TestCreateObjectPersistsAcrossReopenOfCache(t *testing.T) {
	db := openTestDB(t)
	txn := db.Begin()
	obj := txn.CreateObject()
	require.NoError(t, obj.Set(1, cell.UTF8("hello")))
	require.NoError(t, txn.Commit())

	txn2 := db.Begin()
	got, ok, err := txn2.Object(obj.Id())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", got.Get(1).String())
	require.NoError(t, txn2.Rollback())
}

func TestRollbackDiscardsPendingWrites(t *testing.T) {
	db := openTestDB(t)
	txn := db.Begin()
	obj := txn.CreateObject()
	require.NoError(t, obj.Set(1, cell.UTF8("a")))
	require.NoError(t, txn.Rollback())

	txn2 := db.Begin()
	_, ok, err := txn2.Object(obj.Id())
	require.NoError(t, err)
	require.False(t, ok, "a rolled-back New object must not be visible")
	require.NoError(t, txn2.Rollback())
}

func TestRollbackRestoresToDeleteToIdle(t *testing.T) {
	db := openTestDB(t)
	txn := db.Begin()
	obj := txn.CreateObject()
	require.NoError(t, txn.Commit())

	txn2 := db.Begin()
	require.NoError(t, txn2.EraseObject(obj))
	require.NoError(t, txn2.Rollback())

	txn3 := db.Begin()
	got, ok, err := txn3.Object(obj.Id())
	require.NoError(t, err)
	require.True(t, ok, "rollback must restore a ToDelete object to Idle")
	require.Equal(t, obj.Id(), got.Id())
	require.NoError(t, txn3.Rollback())
}

func TestRecordLockedAcrossTransactions(t *testing.T) {
	db := openTestDB(t)
	txn := db.Begin()
	obj := txn.CreateObject()
	require.NoError(t, txn.Commit())

	txnA := db.Begin()
	require.NoError(t, txnA.SetField(obj.imp, 1, cell.UTF8("a")))

	txnB := db.Begin()
	err := txnB.SetField(obj.imp, 1, cell.UTF8("b"))
	require.ErrorIs(t, err, ErrRecordLocked)

	require.NoError(t, txnA.Commit())

	txnC := db.Begin()
	require.NoError(t, txnC.SetField(obj.imp, 1, cell.UTF8("c")))
	require.NoError(t, txnC.Commit())
}

func TestSetFieldRejectsReservedAtom(t *testing.T) {
	db := openTestDB(t)
	txn := db.Begin()
	obj := txn.CreateObject()
	err := obj.Set(FieldOwner, cell.OID(1))
	require.ErrorIs(t, err, ErrReservedName)
	require.NoError(t, txn.Rollback())
}

func TestEraseThenReadFailsWithRecordDeleted(t *testing.T) {
	db := openTestDB(t)
	txn := db.Begin()
	obj := txn.CreateObject()
	require.NoError(t, txn.Commit())

	txn2 := db.Begin()
	require.NoError(t, txn2.EraseObject(obj))
	require.NoError(t, txn2.Commit())

	txn3 := db.Begin()
	err := txn3.SetField(obj.imp, 1, cell.UTF8("x"))
	require.ErrorIs(t, err, ErrRecordDeleted)
	require.NoError(t, txn3.Rollback())
}

func TestSetFieldEmitsValueChanged(t *testing.T) {
	db := openTestDB(t)
	obs := &recordingObserver{}
	db.AddObserver(obs)

	txn := db.Begin()
	obj := txn.CreateObject()
	require.NoError(t, obj.Set(42, cell.UTF8("hello")))
	require.NoError(t, txn.Commit())

	var kinds []Kind
	for _, e := range obs.events {
		kinds = append(kinds, e.Kind)
		if e.Kind == ValueChanged {
			require.Equal(t, obj.Id(), e.ID)
			require.Equal(t, uint32(42), e.Name)
		}
	}
	require.Contains(t, kinds, ObjectCreated)
	require.Contains(t, kinds, ValueChanged)
}

func TestSetReservedFieldDoesNotEmitValueChanged(t *testing.T) {
	db := openTestDB(t)
	obs := &recordingObserver{}
	db.AddObserver(obs)

	txn := db.Begin()
	owner := txn.CreateObject()
	_, err := owner.AppendElement(cell.UTF8("a"))
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	for _, e := range obs.events {
		require.NotEqual(t, ValueChanged, e.Kind, "reserved-field maintenance must not also raise ValueChanged")
	}
}

func TestObserverPanicDoesNotBreakOtherObserversOrCommit(t *testing.T) {
	db := openTestDB(t)
	db.AddObserver(panickingObserver{})
	good := &recordingObserver{}
	db.AddObserver(good)

	txn := db.Begin()
	obj := txn.CreateObject()
	require.NoError(t, txn.Commit())

	require.NotEmpty(t, good.events)
	_, ok, err := db.Begin().Object(obj.Id())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCodecRoundTrip(t *testing.T) {
	db := openTestDB(t)
	txn := db.Begin()
	obj := txn.CreateObject()
	require.NoError(t, obj.Set(42, cell.UTF8("round-trip")))
	require.NoError(t, obj.Set(43, cell.U64(9001)))
	require.NoError(t, txn.Commit())

	enc, err := encodeImp(obj.imp)
	require.NoError(t, err)
	decoded, err := decodeImp(obj.Id(), enc)
	require.NoError(t, err)
	require.Equal(t, "round-trip", decoded.field(42).String())
	require.Equal(t, uint64(9001), decoded.field(43).Uint64())
	require.Equal(t, TypeObject, decoded.typ)
}
