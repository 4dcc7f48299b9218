package sdb

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/sdbkit/sdb/internal/cell"
	"github.com/sdbkit/sdb/internal/index"
	"github.com/sdbkit/sdb/internal/pagedstore"
)

// Orl is the common thin façade every handle embeds: a record plus the
// transaction it is being read or written through (§9 design note).
type Orl struct {
	imp *Imp
	txn *Transaction
}

// Id returns the record's persistent identifier.
func (o Orl) Id() uint64 { return o.imp.id }

// Get reads a user field's effective value through the handle's
// transaction.
func (o Orl) Get(atom uint32) cell.Cell { return o.txn.GetField(o.imp, atom) }

// Set writes a user field.
func (o Orl) Set(atom uint32, v cell.Cell) error { return o.txn.SetField(o.imp, atom, v) }

// Uuid returns the record's stable external identifier, Null if never
// assigned.
func (o Orl) Uuid() cell.Cell { return o.txn.GetField(o.imp, FieldUuid) }

// Obj is an object handle (§3).
type Obj struct{ Orl }

// Rel is a relation handle (§3, §4.7).
type Rel struct{ Orl }

// Lit is an element handle (§3, §4.7); named after the source's
// Lit::erase, the closest the original gets to naming this concept.
type Lit struct{ Orl }

func wrapObj(imp *Imp, txn *Transaction) Obj { return Obj{Orl{imp, txn}} }
func wrapRel(imp *Imp, txn *Transaction) Rel { return Rel{Orl{imp, txn}} }
func wrapLit(imp *Imp, txn *Transaction) Lit { return Lit{Orl{imp, txn}} }

// CreateObject allocates a new object. It immediately registers a cow
// for the new imp so Commit persists it even if no field is ever set
// (cowFor cannot fail for a brand new, unlocked imp).
func (t *Transaction) CreateObject() Obj {
	imp := t.db.createImp(TypeObject)
	_, _ = t.cowFor(imp)
	t.emit(UpdateInfo{Kind: ObjectCreated, ID: imp.id})
	return wrapObj(imp, t)
}

// Object resolves an existing object by id, (Obj{}, false) if absent,
// deleted, or not an object.
func (t *Transaction) Object(id uint64) (Obj, bool, error) {
	imp, err := t.db.lookup(id)
	if err != nil || imp == nil || imp.typ != TypeObject {
		return Obj{}, false, err
	}
	imp.mu.Lock()
	deleted := imp.state == Deleted
	imp.mu.Unlock()
	if deleted {
		return Obj{}, false, nil
	}
	return wrapObj(imp, t), true, nil
}

// ObjectByUuid resolves an object by its stable external identifier.
func (t *Transaction) ObjectByUuid(u uuid.UUID) (Obj, bool, error) {
	id, err := t.db.derefUuid(u)
	if err != nil || id == 0 {
		return Obj{}, false, err
	}
	return t.Object(id)
}

// EraseObject marks obj for deletion (§4.6). At commit its object row,
// index entries, uuid mapping, queue rows and sparse-map rows are
// removed. Its elements, relations and aggregation links are not
// unlinked or erased.
func (t *Transaction) EraseObject(obj Obj) error {
	if err := t.Erase(obj.imp); err != nil {
		return err
	}
	t.emit(UpdateInfo{Kind: ObjectErased, ID: obj.imp.id})
	return nil
}

// --- Element list façade (§4.7) ---

// AppendElement adds val to the end of owner's element list.
func (o Obj) AppendElement(val cell.Cell) (Lit, error) {
	imp, err := o.txn.InsertElementBefore(o.imp, nil, val)
	if err != nil {
		return Lit{}, err
	}
	return wrapLit(imp, o.txn), nil
}

// PrependElement adds val to the front of owner's element list.
func (o Obj) PrependElement(val cell.Cell) (Lit, error) {
	firstId := getLinkU64(o.txn, o.imp, FieldFirstElm)
	var before *Imp
	if firstId != 0 {
		imp, err := o.txn.db.lookup(firstId)
		if err != nil {
			return Lit{}, err
		}
		before = imp
	}
	imp, err := o.txn.InsertElementBefore(o.imp, before, val)
	if err != nil {
		return Lit{}, err
	}
	return wrapLit(imp, o.txn), nil
}

// InsertElementBefore adds val immediately before an existing element
// of the same list.
func (o Obj) InsertElementBefore(before Lit, val cell.Cell) (Lit, error) {
	imp, err := o.txn.InsertElementBefore(o.imp, before.imp, val)
	if err != nil {
		return Lit{}, err
	}
	return wrapLit(imp, o.txn), nil
}

// FirstElement / LastElement return the owner's list endpoints.
func (o Obj) FirstElement() (Lit, bool, error) { return o.elementAt(FieldFirstElm) }
func (o Obj) LastElement() (Lit, bool, error)  { return o.elementAt(FieldLastElm) }

func (o Obj) elementAt(atom uint32) (Lit, bool, error) {
	id := getLinkU64(o.txn, o.imp, atom)
	if id == 0 {
		return Lit{}, false, nil
	}
	imp, err := o.txn.db.lookup(id)
	if err != nil || imp == nil {
		return Lit{}, false, err
	}
	return wrapLit(imp, o.txn), true, nil
}

// Next / Prev walk an element's own list.
func (l Lit) Next() (Lit, bool, error) { return l.neighbor(FieldNextElem) }
func (l Lit) Prev() (Lit, bool, error) { return l.neighbor(FieldPrevElem) }

func (l Lit) neighbor(atom uint32) (Lit, bool, error) {
	id := getLinkU64(l.txn, l.imp, atom)
	if id == 0 {
		return Lit{}, false, nil
	}
	imp, err := l.txn.db.lookup(id)
	if err != nil || imp == nil {
		return Lit{}, false, err
	}
	return wrapLit(imp, l.txn), true, nil
}

// Value returns the element's payload.
func (l Lit) Value() cell.Cell { return l.txn.GetField(l.imp, FieldValue) }

// SetValue overwrites the element's payload.
func (l Lit) SetValue(v cell.Cell) error {
	if err := l.txn.setReservedField(l.imp, FieldValue, v); err != nil {
		return err
	}
	l.txn.emit(UpdateInfo{Kind: ElementChanged, ID: l.imp.id})
	return nil
}

// MoveBefore relocates the element to sit immediately before `before`
// in its own list (append at the end if before is Lit{}).
func (l Lit) MoveBefore(before Lit) error {
	return l.txn.MoveElement(l.imp, before.imp)
}

// Erase unlinks and deletes the element.
func (l Lit) Erase() error { return l.txn.EraseElement(l.imp) }

// --- Aggregation façade (§4.7) ---

// SetOwner aggregates o under owner (nil deaggregates).
func (o Obj) SetOwner(owner *Obj) error {
	var ownerImp *Imp
	if owner != nil {
		ownerImp = owner.imp
	}
	return o.txn.Aggregate(o.imp, ownerImp)
}

// Owner returns the object's current aggregation parent, if any.
func (o Obj) Owner() (Obj, bool, error) {
	id := getLinkU64(o.txn, o.imp, FieldOwner)
	if id == 0 {
		return Obj{}, false, nil
	}
	imp, err := o.txn.db.lookup(id)
	if err != nil || imp == nil {
		return Obj{}, false, err
	}
	return wrapObj(imp, o.txn), true, nil
}

// FirstChild / LastChild return the owner's aggregation list endpoints.
func (o Obj) FirstChild() (Obj, bool, error) { return o.childAt(FieldFirstObj) }
func (o Obj) LastChild() (Obj, bool, error)  { return o.childAt(FieldLastObj) }

func (o Obj) childAt(atom uint32) (Obj, bool, error) {
	id := getLinkU64(o.txn, o.imp, atom)
	if id == 0 {
		return Obj{}, false, nil
	}
	imp, err := o.txn.db.lookup(id)
	if err != nil || imp == nil {
		return Obj{}, false, err
	}
	return wrapObj(imp, o.txn), true, nil
}

// NextSibling / PrevSibling walk the object's own sibling chain.
func (o Obj) NextSibling() (Obj, bool, error) { return o.siblingAt(FieldNextObj) }
func (o Obj) PrevSibling() (Obj, bool, error) { return o.siblingAt(FieldPrevObj) }

func (o Obj) siblingAt(atom uint32) (Obj, bool, error) {
	id := getLinkU64(o.txn, o.imp, atom)
	if id == 0 {
		return Obj{}, false, nil
	}
	imp, err := o.txn.db.lookup(id)
	if err != nil || imp == nil {
		return Obj{}, false, err
	}
	return wrapObj(imp, o.txn), true, nil
}

// MoveBefore relocates o within newOwner's child list (append at the
// end if before is Obj{}).
func (o Obj) MoveBefore(newOwner Obj, before Obj) error {
	return o.txn.MoveAggregate(o.imp, newOwner.imp, before.imp)
}

// --- Relation façade (§4.7) ---

// CreateRelation links a new relation of type typ from source to
// target, appended to both endpoints' combined relation lists.
func (t *Transaction) CreateRelation(typ uint32, source, target Obj) (Rel, error) {
	imp, err := t.createRelationImpl(typ, source.imp, target.imp, false)
	if err != nil {
		return Rel{}, err
	}
	return wrapRel(imp, t), nil
}

// Type returns the relation's type atom.
func (r Rel) Type() uint32 { return uint32(r.txn.GetField(r.imp, FieldType).Uint64()) }

// Source / Target return the relation's endpoints.
func (r Rel) Source() (Obj, error) { return r.endpoint(FieldSource) }
func (r Rel) Target() (Obj, error) { return r.endpoint(FieldTarget) }

func (r Rel) endpoint(atom uint32) (Obj, error) {
	id := getLinkU64(r.txn, r.imp, atom)
	imp, err := r.txn.db.lookup(id)
	if err != nil || imp == nil {
		return Obj{}, err
	}
	return wrapObj(imp, r.txn), nil
}

// NextAt / PrevAt walk the relation's chain as seen from one endpoint.
func (r Rel) NextAt(obj Obj) (Rel, bool, error) { return r.neighborAt(obj, false) }
func (r Rel) PrevAt(obj Obj) (Rel, bool, error) { return r.neighborAt(obj, true) }

func (r Rel) neighborAt(obj Obj, prev bool) (Rel, bool, error) {
	side := relSideOf(r.txn, r.imp, obj.imp.id)
	prevAtom, nextAtom := relPointerAtoms(side)
	atom := nextAtom
	if prev {
		atom = prevAtom
	}
	id := getLinkU64(r.txn, r.imp, atom)
	if id == 0 {
		return Rel{}, false, nil
	}
	imp, err := r.txn.db.lookup(id)
	if err != nil || imp == nil {
		return Rel{}, false, err
	}
	return wrapRel(imp, r.txn), true, nil
}

// Erase unlinks and deletes the relation.
func (r Rel) Erase() error { return r.txn.EraseRelation(r.imp) }

// MoveBefore relocates the relation within obj's combined relation
// list (append at the end if before is Rel{}).
func (r Rel) MoveBefore(obj Obj, before Rel) error {
	return r.txn.MoveRelation(r.imp, obj.imp, before.imp)
}

// --- Queue iterator façade (§4.8) ---

// Qit is a queue-slot iterator handle over one object's queue.
type Qit struct {
	db  *Database
	oid uint64
	nr  uint32
	val cell.Cell
}

func (q Qit) Nr() uint32     { return q.nr }
func (q Qit) Value() cell.Cell { return q.val }

// FirstQueueSlot / LastQueueSlot seed a Qit at an endpoint.
func (db *Database) FirstQueueSlot(oid uint64) (Qit, bool, error) {
	nr, v, ok, err := db.QueueFirst(oid)
	return Qit{db, oid, nr, v}, ok, err
}

func (db *Database) LastQueueSlot(oid uint64) (Qit, bool, error) {
	nr, v, ok, err := db.QueueLast(oid)
	return Qit{db, oid, nr, v}, ok, err
}

// Next / Prev step the iterator.
func (q Qit) Next() (Qit, bool, error) {
	nr, v, ok, err := q.db.QueueNext(q.oid, q.nr)
	return Qit{q.db, q.oid, nr, v}, ok, err
}

func (q Qit) Prev() (Qit, bool, error) {
	nr, v, ok, err := q.db.QueuePrev(q.oid, q.nr)
	return Qit{q.db, q.oid, nr, v}, ok, err
}

// --- Map iterator façade (§4.8) ---

// Mit is one entry produced by a sparse-map scan.
type Mit struct {
	Parts []cell.Cell
	Val   cell.Cell
}

// FindMap seeds a Map-Iterator at ⟨oid ∥ prefix...⟩ and collects every
// matching entry; fn may be nil to collect everything.
func (db *Database) FindMap(oid uint64, prefix []cell.Cell, fn func(Mit) bool) ([]Mit, error) {
	var out []Mit
	err := db.MapFind(oid, prefix, func(parts []cell.Cell, v cell.Cell) bool {
		m := Mit{Parts: parts, Val: v}
		out = append(out, m)
		if fn != nil {
			return fn(m)
		}
		return true
	})
	return out, err
}

// --- Index scan façade (§4.3, scenario S4) ---

// Idx is an ordered cursor over one Value or Unique index's data
// table, yielding resolved object/relation ids in key order.
type Idx struct {
	db    *Database
	meta  index.Meta
	table uint32
	cur   *pagedstore.Cursor
	id    uint64
}

// OpenIndex resolves a named index and returns a fresh Idx positioned
// before its first entry; call First (or Last) to begin iterating.
// Next and Prev return false until the Idx has been positioned.
func (db *Database) OpenIndex(name string) (*Idx, error) {
	table, meta, ok := db.idx.FindIndex(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownId, name)
	}
	cur, err := db.store.OpenCursor(table)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	return &Idx{db: db, meta: meta, table: table, cur: cur}, nil
}

// Close releases the underlying cursor.
func (ix *Idx) Close() error { return ix.cur.Close() }

// First / Last position the scan at either end.
func (ix *Idx) First() bool { return ix.settle(ix.cur.First()) }
func (ix *Idx) Last() bool  { return ix.settle(ix.cur.Last()) }

// Next / Prev advance the scan.
func (ix *Idx) Next() bool { return ix.settle(ix.cur.Next()) }
func (ix *Idx) Prev() bool { return ix.settle(ix.cur.Prev()) }

func (ix *Idx) settle(ok bool) bool {
	if !ok {
		ix.id = 0
		return false
	}
	ix.id = binary.BigEndian.Uint64(ix.cur.ReadValue())
	return true
}

// Id returns the record id at the current position.
func (ix *Idx) Id() uint64 { return ix.id }

// Object resolves the current position as an object handle.
func (ix *Idx) Object(t *Transaction) (Obj, bool, error) { return t.Object(ix.id) }
