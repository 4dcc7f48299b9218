package sdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sdbkit/sdb/internal/cell"
	"github.com/sdbkit/sdb/internal/index"
)

func TestElementListAppendOrder(t *testing.T) {
	db := openTestDB(t)
	txn := db.Begin()
	owner := txn.CreateObject()

	e1, err := owner.AppendElement(cell.UTF8("a"))
	require.NoError(t, err)
	e2, err := owner.AppendElement(cell.UTF8("b"))
	require.NoError(t, err)
	e3, err := owner.AppendElement(cell.UTF8("c"))
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	txn2 := db.Begin()
	owner2, ok, err := txn2.Object(owner.Id())
	require.NoError(t, err)
	require.True(t, ok)

	first, ok, err := owner2.FirstElement()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, e1.Id(), first.Id())
	require.Equal(t, "a", first.Value().String())

	n, ok, err := first.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, e2.Id(), n.Id())

	n2, ok, err := n.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, e3.Id(), n2.Id())

	_, ok, err = n2.Next()
	require.NoError(t, err)
	require.False(t, ok)

	last, ok, err := owner2.LastElement()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, e3.Id(), last.Id())
	require.NoError(t, txn2.Rollback())
}

func TestElementPrependAndInsertBefore(t *testing.T) {
	db := openTestDB(t)
	txn := db.Begin()
	owner := txn.CreateObject()

	tail, err := owner.AppendElement(cell.UTF8("tail"))
	require.NoError(t, err)
	head, err := owner.PrependElement(cell.UTF8("head"))
	require.NoError(t, err)

	first, ok, err := owner.FirstElement()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, head.Id(), first.Id())

	mid, err := owner.InsertElementBefore(tail, cell.UTF8("mid"))
	require.NoError(t, err)

	n, ok, err := head.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, mid.Id(), n.Id())

	n2, ok, err := n.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tail.Id(), n2.Id())
	require.NoError(t, txn.Commit())
}

func TestElementEraseEmitsElementErased(t *testing.T) {
	db := openTestDB(t)
	obs := &recordingObserver{}
	db.AddObserver(obs)

	txn := db.Begin()
	owner := txn.CreateObject()
	e1, err := owner.AppendElement(cell.UTF8("a"))
	require.NoError(t, err)
	e2, err := owner.AppendElement(cell.UTF8("b"))
	require.NoError(t, err)
	require.NoError(t, e1.Erase())
	require.NoError(t, txn.Commit())

	var kinds []Kind
	for _, e := range obs.events {
		kinds = append(kinds, e.Kind)
	}
	require.Contains(t, kinds, ElementErased)
	require.NotContains(t, kinds, ElementChanged)

	txn2 := db.Begin()
	owner2, ok, err := txn2.Object(owner.Id())
	require.NoError(t, err)
	require.True(t, ok)
	first, ok, err := owner2.FirstElement()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, e2.Id(), first.Id())
	require.NoError(t, txn2.Rollback())
}

func TestAggregationAppendAndMove(t *testing.T) {
	db := openTestDB(t)
	txn := db.Begin()
	parent := txn.CreateObject()
	childA := txn.CreateObject()
	childB := txn.CreateObject()

	require.NoError(t, childA.SetOwner(&parent))
	require.NoError(t, childB.SetOwner(&parent))

	first, ok, err := parent.FirstChild()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, childA.Id(), first.Id())

	last, ok, err := parent.LastChild()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, childB.Id(), last.Id())

	owner, ok, err := childA.Owner()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, parent.Id(), owner.Id())

	// Re-aggregating under the same owner while already last is a no-op.
	require.NoError(t, childB.SetOwner(&parent))
	last2, ok, err := parent.LastChild()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, childB.Id(), last2.Id())

	require.NoError(t, childA.SetOwner(nil))
	_, ok, err = childA.Owner()
	require.NoError(t, err)
	require.False(t, ok)

	newFirst, ok, err := parent.FirstChild()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, childB.Id(), newFirst.Id())

	require.NoError(t, txn.Commit())
}

func TestRelationChainBothEndpoints(t *testing.T) {
	db := openTestDB(t)
	txn := db.Begin()
	a := txn.CreateObject()
	b := txn.CreateObject()
	c := txn.CreateObject()

	typ, err := db.Atoms().Lookup("likes", true)
	require.NoError(t, err)

	r1, err := txn.CreateRelation(typ, a, b)
	require.NoError(t, err)
	r2, err := txn.CreateRelation(typ, a, c)
	require.NoError(t, err)

	src, err := r1.Source()
	require.NoError(t, err)
	require.Equal(t, a.Id(), src.Id())
	tgt, err := r1.Target()
	require.NoError(t, err)
	require.Equal(t, b.Id(), tgt.Id())

	n, ok, err := r1.NextAt(a)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, r2.Id(), n.Id())

	p, ok, err := r2.PrevAt(a)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, r1.Id(), p.Id())

	_, ok, err = r1.NextAt(b)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, r1.Erase())
	_, ok, err = r2.PrevAt(a)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, txn.Commit())
}

func TestReflexiveRelationSingleEntry(t *testing.T) {
	db := openTestDB(t)
	txn := db.Begin()
	a := txn.CreateObject()
	typ, err := db.Atoms().Lookup("self-likes", true)
	require.NoError(t, err)

	r, err := txn.CreateRelation(typ, a, a)
	require.NoError(t, err)

	src, err := r.Source()
	require.NoError(t, err)
	tgt, err := r.Target()
	require.NoError(t, err)
	require.Equal(t, a.Id(), src.Id())
	require.Equal(t, a.Id(), tgt.Id())

	// The relation appears exactly once in a's combined list: first and
	// last both point at it, and it has neither predecessor nor successor.
	require.Equal(t, r.Id(), getLinkU64(txn, a.imp, FieldFirstRel))
	require.Equal(t, r.Id(), getLinkU64(txn, a.imp, FieldLastRel))
	_, ok, err := r.NextAt(a)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = r.PrevAt(a)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, txn.Commit())
}

func TestMoveRelationRejectsSelfAndWrongContext(t *testing.T) {
	db := openTestDB(t)
	txn := db.Begin()
	a := txn.CreateObject()
	b := txn.CreateObject()
	other := txn.CreateObject()
	typ, err := db.Atoms().Lookup("likes", true)
	require.NoError(t, err)

	r1, err := txn.CreateRelation(typ, a, b)
	require.NoError(t, err)
	require.ErrorIs(t, r1.MoveBefore(a, r1), ErrSelfRelation)

	unrelated, err := txn.CreateRelation(typ, other, other)
	require.NoError(t, err)
	require.ErrorIs(t, r1.MoveBefore(a, unrelated), ErrWrongContext)

	require.NoError(t, txn.Commit())
}

func TestIdxOrderedScanFromFirst(t *testing.T) {
	db := openTestDB(t)
	nameAtom, err := db.Atoms().Lookup("name", true)
	require.NoError(t, err)
	_, err = db.Indexes().CreateIndex("by_name", index.KindValue, []index.Item{{Atom: nameAtom}})
	require.NoError(t, err)

	txn := db.Begin()
	o1 := txn.CreateObject()
	require.NoError(t, o1.Set(nameAtom, cell.UTF8("bravo")))
	o2 := txn.CreateObject()
	require.NoError(t, o2.Set(nameAtom, cell.UTF8("alpha")))
	o3 := txn.CreateObject()
	require.NoError(t, o3.Set(nameAtom, cell.UTF8("charlie")))
	require.NoError(t, txn.Commit())

	ix, err := db.OpenIndex("by_name")
	require.NoError(t, err)
	defer ix.Close()

	var ids []uint64
	for ok := ix.First(); ok; ok = ix.Next() {
		ids = append(ids, ix.Id())
	}
	require.Equal(t, []uint64{o2.Id(), o1.Id(), o3.Id()}, ids)
}
