package sdb

import "github.com/sdbkit/sdb/internal/cell"

// getLinkU64 reads a reserved link field, treating Null as "no link"
// (id 0; oid/rid allocation starts at 1, so 0 never collides with a
// live id).
func getLinkU64(t *Transaction, imp *Imp, atom uint32) uint64 {
	c := t.GetField(imp, atom)
	if c.IsNull() {
		return 0
	}
	return c.Uint64()
}

func setLinkU64(t *Transaction, imp *Imp, atom uint32, id uint64) error {
	if id == 0 {
		return t.setReservedField(imp, atom, cell.Null)
	}
	return t.setReservedField(imp, atom, cell.OID(id))
}

// --- Element list (§4.7) ---

func (t *Transaction) removeElementFromChain(elem *Imp) error {
	ownerId := getLinkU64(t, elem, FieldList)
	owner, err := t.db.lookup(ownerId)
	if err != nil || owner == nil {
		return err
	}
	prev := getLinkU64(t, elem, FieldPrevElem)
	next := getLinkU64(t, elem, FieldNextElem)
	if prev == 0 {
		if err := setLinkU64(t, owner, FieldFirstElm, next); err != nil {
			return err
		}
	} else {
		prevImp, err := t.db.lookup(prev)
		if err != nil {
			return err
		}
		if err := setLinkU64(t, prevImp, FieldNextElem, next); err != nil {
			return err
		}
	}
	if next == 0 {
		if err := setLinkU64(t, owner, FieldLastElm, prev); err != nil {
			return err
		}
	} else {
		nextImp, err := t.db.lookup(next)
		if err != nil {
			return err
		}
		if err := setLinkU64(t, nextImp, FieldPrevElem, prev); err != nil {
			return err
		}
	}
	return nil
}

// insertElementBeforeInChain wires elem into owner's element list
// immediately before `before`, or at the end if before is nil. It
// reports whether elem landed at the front.
func (t *Transaction) insertElementBeforeInChain(elem, owner, before *Imp) (atFront bool, err error) {
	var prevId uint64
	if before != nil {
		prevId = getLinkU64(t, before, FieldPrevElem)
		if err = setLinkU64(t, before, FieldPrevElem, elem.id); err != nil {
			return false, err
		}
		if err = setLinkU64(t, elem, FieldNextElem, before.id); err != nil {
			return false, err
		}
	} else {
		prevId = getLinkU64(t, owner, FieldLastElm)
		if err = setLinkU64(t, owner, FieldLastElm, elem.id); err != nil {
			return false, err
		}
		if err = setLinkU64(t, elem, FieldNextElem, 0); err != nil {
			return false, err
		}
	}
	if prevId == 0 {
		if err = setLinkU64(t, owner, FieldFirstElm, elem.id); err != nil {
			return false, err
		}
	} else {
		prevImp, lerr := t.db.lookup(prevId)
		if lerr != nil {
			return false, lerr
		}
		if err = setLinkU64(t, prevImp, FieldNextElem, elem.id); err != nil {
			return false, err
		}
	}
	if err = setLinkU64(t, elem, FieldPrevElem, prevId); err != nil {
		return false, err
	}
	if err = setLinkU64(t, elem, FieldList, owner.id); err != nil {
		return false, err
	}
	return prevId == 0, nil
}

// InsertElementBefore creates a new element holding val and links it
// into owner's element list immediately before `before` (append at the
// end if before is nil).
func (t *Transaction) InsertElementBefore(owner, before *Imp, val cell.Cell) (*Imp, error) {
	elem := t.db.createImp(TypeElement)
	if err := t.setReservedField(elem, FieldValue, val); err != nil {
		return nil, err
	}
	atFront, err := t.insertElementBeforeInChain(elem, owner, before)
	if err != nil {
		return nil, err
	}
	where := WhereLast
	switch {
	case before != nil:
		where = WhereBefore
	case atFront:
		where = WhereFirst
	}
	t.emit(UpdateInfo{Kind: ElementAdded, ID: elem.id, ID2: owner.id, Where: where})
	return elem, nil
}

// EraseElement unlinks and deletes elem (§9 open question 1: this
// rewrite emits the dedicated ElementErased kind rather than reusing
// ElementChanged).
func (t *Transaction) EraseElement(elem *Imp) error {
	if err := t.removeElementFromChain(elem); err != nil {
		return err
	}
	if err := t.Erase(elem); err != nil {
		return err
	}
	t.emit(UpdateInfo{Kind: ElementErased, ID: elem.id})
	return nil
}

// MoveElement relocates an already-linked elem to sit immediately
// before `before` within its own owner's list (append at the end if
// before is nil).
func (t *Transaction) MoveElement(elem, before *Imp) error {
	ownerId := getLinkU64(t, elem, FieldList)
	owner, err := t.db.lookup(ownerId)
	if err != nil {
		return err
	}
	if err := t.removeElementFromChain(elem); err != nil {
		return err
	}
	atFront, err := t.insertElementBeforeInChain(elem, owner, before)
	if err != nil {
		return err
	}
	where := WhereLast
	var toId uint64
	switch {
	case before != nil:
		where, toId = WhereBefore, before.id
	case atFront:
		where = WhereFirst
	}
	t.emit(UpdateInfo{Kind: ElementMoved, ID: elem.id, ID2: toId, Where: where})
	return nil
}

// --- Aggregation (Owner forest + sibling chain, §4.7) ---

func (t *Transaction) removeObjFromChainWithOwner(child, owner *Imp) error {
	prev := getLinkU64(t, child, FieldPrevObj)
	next := getLinkU64(t, child, FieldNextObj)
	if prev == 0 {
		if err := setLinkU64(t, owner, FieldFirstObj, next); err != nil {
			return err
		}
	} else {
		prevImp, err := t.db.lookup(prev)
		if err != nil {
			return err
		}
		if err := setLinkU64(t, prevImp, FieldNextObj, next); err != nil {
			return err
		}
	}
	if next == 0 {
		if err := setLinkU64(t, owner, FieldLastObj, prev); err != nil {
			return err
		}
	} else {
		nextImp, err := t.db.lookup(next)
		if err != nil {
			return err
		}
		if err := setLinkU64(t, nextImp, FieldPrevObj, prev); err != nil {
			return err
		}
	}
	if err := setLinkU64(t, child, FieldPrevObj, 0); err != nil {
		return err
	}
	return setLinkU64(t, child, FieldNextObj, 0)
}

func (t *Transaction) insertObjBeforeInChain(child, owner, before *Imp) (atFront bool, err error) {
	var prevId uint64
	if before != nil {
		prevId = getLinkU64(t, before, FieldPrevObj)
		if err = setLinkU64(t, before, FieldPrevObj, child.id); err != nil {
			return false, err
		}
		if err = setLinkU64(t, child, FieldNextObj, before.id); err != nil {
			return false, err
		}
	} else {
		prevId = getLinkU64(t, owner, FieldLastObj)
		if err = setLinkU64(t, owner, FieldLastObj, child.id); err != nil {
			return false, err
		}
		if err = setLinkU64(t, child, FieldNextObj, 0); err != nil {
			return false, err
		}
	}
	if prevId == 0 {
		if err = setLinkU64(t, owner, FieldFirstObj, child.id); err != nil {
			return false, err
		}
	} else {
		prevImp, lerr := t.db.lookup(prevId)
		if lerr != nil {
			return false, lerr
		}
		if err = setLinkU64(t, prevImp, FieldNextObj, child.id); err != nil {
			return false, err
		}
	}
	if err = setLinkU64(t, child, FieldPrevObj, prevId); err != nil {
		return false, err
	}
	return prevId == 0, nil
}

// Deaggregate removes child from its current owner's list and clears
// Owner/PrevObj/NextObj. Idempotent if child has no owner.
func (t *Transaction) Deaggregate(child *Imp) error {
	ownerId := getLinkU64(t, child, FieldOwner)
	if ownerId == 0 {
		return nil
	}
	owner, err := t.db.lookup(ownerId)
	if err != nil {
		return err
	}
	if err := t.removeObjFromChainWithOwner(child, owner); err != nil {
		return err
	}
	if err := setLinkU64(t, child, FieldOwner, 0); err != nil {
		return err
	}
	t.emit(UpdateInfo{Kind: Deaggregated, ID: child.id, ID2: ownerId})
	return nil
}

// Aggregate appends child to owner's child list. A nil owner
// deaggregates. Trivial moves (already at owner's end, or owner ==
// child) are no-ops, per §4.7/§9.
func (t *Transaction) Aggregate(child, owner *Imp) error {
	if owner == nil {
		return t.Deaggregate(child)
	}
	if owner.id == child.id {
		return nil
	}
	curOwner := getLinkU64(t, child, FieldOwner)
	if curOwner == owner.id {
		if getLinkU64(t, owner, FieldLastObj) == child.id {
			return nil // already at the end
		}
		if err := t.removeObjFromChainWithOwner(child, owner); err != nil {
			return err
		}
	} else if curOwner != 0 {
		if err := t.Deaggregate(child); err != nil {
			return err
		}
	}
	if _, err := t.insertObjBeforeInChain(child, owner, nil); err != nil {
		return err
	}
	if err := setLinkU64(t, child, FieldOwner, owner.id); err != nil {
		return err
	}
	t.emit(UpdateInfo{Kind: Aggregated, ID: child.id, ID2: owner.id, Where: WhereLast})
	return nil
}

// MoveAggregate relocates an already-aggregated child to sit
// immediately before `before` in newOwner's child list (append at the
// end if before is nil).
func (t *Transaction) MoveAggregate(child, newOwner, before *Imp) error {
	if curOwnerId := getLinkU64(t, child, FieldOwner); curOwnerId != 0 {
		curOwner, err := t.db.lookup(curOwnerId)
		if err != nil {
			return err
		}
		if err := t.removeObjFromChainWithOwner(child, curOwner); err != nil {
			return err
		}
	}
	atFront, err := t.insertObjBeforeInChain(child, newOwner, before)
	if err != nil {
		return err
	}
	if err := setLinkU64(t, child, FieldOwner, newOwner.id); err != nil {
		return err
	}
	where := WhereLast
	var toId uint64
	switch {
	case before != nil:
		where, toId = WhereBefore, before.id
	case atFront:
		where = WhereFirst
	}
	t.emit(UpdateInfo{Kind: AggregateMoved, ID: child.id, ID2: toId, Where: where})
	_ = toId
	return nil
}

// --- Relation chains (§4.7) ---

func relSideOf(t *Transaction, rel *Imp, objId uint64) Side {
	if getLinkU64(t, rel, FieldSource) == objId {
		return SideSource
	}
	if getLinkU64(t, rel, FieldTarget) == objId {
		return SideTarget
	}
	return SideNone
}

func relPointerAtoms(side Side) (prevAtom, nextAtom uint32) {
	if side == SideSource {
		return FieldPrevSource, FieldNextSource
	}
	return FieldPrevTarget, FieldNextTarget
}

// removeRelFromChain unlinks rel from the combined relation list of
// obj (one of its endpoints), using the side-discriminated pointers
// appropriate to how rel participates in obj's list.
func (t *Transaction) removeRelFromChain(rel, obj *Imp) error {
	side := relSideOf(t, rel, obj.id)
	prevAtom, nextAtom := relPointerAtoms(side)
	prevId := getLinkU64(t, rel, prevAtom)
	nextId := getLinkU64(t, rel, nextAtom)
	if prevId == 0 {
		if err := setLinkU64(t, obj, FieldFirstRel, nextId); err != nil {
			return err
		}
	} else {
		prevImp, err := t.db.lookup(prevId)
		if err != nil {
			return err
		}
		_, pNextAtom := relPointerAtoms(relSideOf(t, prevImp, obj.id))
		if err := setLinkU64(t, prevImp, pNextAtom, nextId); err != nil {
			return err
		}
	}
	if nextId == 0 {
		if err := setLinkU64(t, obj, FieldLastRel, prevId); err != nil {
			return err
		}
	} else {
		nextImp, err := t.db.lookup(nextId)
		if err != nil {
			return err
		}
		nPrevAtom, _ := relPointerAtoms(relSideOf(t, nextImp, obj.id))
		if err := setLinkU64(t, nextImp, nPrevAtom, prevId); err != nil {
			return err
		}
	}
	return nil
}

// insertRelBeforeInChain wires rel into obj's combined relation list
// immediately before `before` (append at the end if before is nil),
// using the side-discriminated pointer pair for rel's role at obj.
func (t *Transaction) insertRelBeforeInChain(rel, obj, before *Imp) error {
	side := relSideOf(t, rel, obj.id)
	prevAtom, nextAtom := relPointerAtoms(side)

	var prevId uint64
	if before != nil {
		bPrevAtom, _ := relPointerAtoms(relSideOf(t, before, obj.id))
		prevId = getLinkU64(t, before, bPrevAtom)
		if err := setLinkU64(t, before, bPrevAtom, rel.id); err != nil {
			return err
		}
		if err := setLinkU64(t, rel, nextAtom, before.id); err != nil {
			return err
		}
	} else {
		prevId = getLinkU64(t, obj, FieldLastRel)
		if err := setLinkU64(t, obj, FieldLastRel, rel.id); err != nil {
			return err
		}
		if err := setLinkU64(t, rel, nextAtom, 0); err != nil {
			return err
		}
	}
	if prevId == 0 {
		if err := setLinkU64(t, obj, FieldFirstRel, rel.id); err != nil {
			return err
		}
	} else {
		prevImp, err := t.db.lookup(prevId)
		if err != nil {
			return err
		}
		_, pNextAtom := relPointerAtoms(relSideOf(t, prevImp, obj.id))
		if err := setLinkU64(t, prevImp, pNextAtom, rel.id); err != nil {
			return err
		}
	}
	return setLinkU64(t, rel, prevAtom, prevId)
}

// createRelationImpl links a new relation of type typ between source
// and target into both endpoints' combined relation lists (one list
// only, reflexively, if source == target), prepending or appending per
// prepend. The Rel-returning façade lives in handles.go.
func (t *Transaction) createRelationImpl(typ uint32, source, target *Imp, prepend bool) (*Imp, error) {
	rel := t.db.createImp(TypeRelation)
	if err := t.setReservedField(rel, FieldType, cell.Atom(typ)); err != nil {
		return nil, err
	}
	for _, a := range []uint32{FieldSource, FieldTarget, FieldPrevSource, FieldNextSource, FieldPrevTarget, FieldNextTarget} {
		if err := setLinkU64(t, rel, a, 0); err != nil {
			return nil, err
		}
	}
	if err := setLinkU64(t, rel, FieldSource, source.id); err != nil {
		return nil, err
	}
	if err := setLinkU64(t, rel, FieldTarget, target.id); err != nil {
		return nil, err
	}

	where := WhereLast
	if prepend {
		where = WhereFirst
	}

	if err := t.wireRelationEndpoint(rel, source, prepend); err != nil {
		return nil, err
	}
	t.emit(UpdateInfo{Kind: RelationAdded, ID: rel.id, ID2: source.id, Name: typ, Where: where, Side: SideSource})

	if target.id != source.id {
		if err := t.wireRelationEndpoint(rel, target, prepend); err != nil {
			return nil, err
		}
		t.emit(UpdateInfo{Kind: RelationAdded, ID: rel.id, ID2: target.id, Name: typ, Where: where, Side: SideTarget})
	}
	return rel, nil
}

func (t *Transaction) wireRelationEndpoint(rel, obj *Imp, prepend bool) error {
	var before *Imp
	if prepend {
		if firstId := getLinkU64(t, obj, FieldFirstRel); firstId != 0 {
			imp, err := t.db.lookup(firstId)
			if err != nil {
				return err
			}
			before = imp
		}
	}
	return t.insertRelBeforeInChain(rel, obj, before)
}

// EraseRelation unlinks rel from both endpoints' lists and deletes it.
func (t *Transaction) EraseRelation(rel *Imp) error {
	sourceId := getLinkU64(t, rel, FieldSource)
	targetId := getLinkU64(t, rel, FieldTarget)
	source, err := t.db.lookup(sourceId)
	if err != nil {
		return err
	}
	if err := t.removeRelFromChain(rel, source); err != nil {
		return err
	}
	if targetId != sourceId {
		target, err := t.db.lookup(targetId)
		if err != nil {
			return err
		}
		if err := t.removeRelFromChain(rel, target); err != nil {
			return err
		}
	}
	if err := t.Erase(rel); err != nil {
		return err
	}
	t.emit(UpdateInfo{Kind: RelationErased, ID: rel.id})
	return nil
}

// MoveRelation relocates rel within obj's combined relation list (one
// of its two endpoints) to sit immediately before `before` (append at
// the end if before is nil). The two endpoints are independent: moving
// at the source endpoint never touches the target endpoint's chain.
func (t *Transaction) MoveRelation(rel, obj, before *Imp) error {
	if before != nil {
		if before.id == rel.id {
			return ErrSelfRelation
		}
		if relSideOf(t, before, obj.id) == SideNone {
			return ErrWrongContext
		}
	}
	if err := t.removeRelFromChain(rel, obj); err != nil {
		return err
	}
	if err := t.insertRelBeforeInChain(rel, obj, before); err != nil {
		return err
	}
	where := WhereLast
	var toId uint64
	if before != nil {
		where, toId = WhereBefore, before.id
	}
	t.emit(UpdateInfo{Kind: RelationMoved, ID: rel.id, ID2: toId, Where: where, Side: relSideOf(t, rel, obj.id)})
	return nil
}
