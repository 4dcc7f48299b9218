package sdb

import (
	"sync"

	"github.com/sdbkit/sdb/internal/atomdict"
	"github.com/sdbkit/sdb/internal/cell"
)

// reservedBase is the first atom id available to engine-reserved
// fields; it sits at the bottom of atomdict's reserved range.
const reservedBase = atomdict.ReservedThreshold

// RecType discriminates the three record shapes sharing the OID space.
type RecType byte

const (
	TypeObject RecType = 1 + iota
	TypeRelation
	TypeElement
)

// Reserved engine field atoms. All fall in atomdict's reserved range
// (top 100 values of the 32-bit atom space); user atoms must stay
// strictly below atomdict.ReservedThreshold.
const (
	FieldOwner uint32 = reservedBase + iota
	FieldPrevObj
	FieldNextObj
	FieldFirstObj
	FieldLastObj
	FieldFirstRel
	FieldLastRel
	FieldFirstElm
	FieldLastElm
	FieldType
	FieldUuid
	FieldSource
	FieldTarget
	FieldPrevSource
	FieldNextSource
	FieldPrevTarget
	FieldNextTarget
	FieldList
	FieldValue
	FieldPrevElem
	FieldNextElem
)

// State is a RecordImp's lifecycle state (§4.5).
type State byte

const (
	Idle State = iota
	New
	ToDelete
	Deleted
)

// Imp is the persistent, in-cache representation of one record after
// load from the store (RecordImp in spec.md). Exported so the graph
// handles (Obj/Rel/Lit/...) in other files of this package can share
// it without an internal/ boundary; external callers interact with it
// only through handles.
type Imp struct {
	mu     sync.Mutex
	typ    RecType
	id     uint64
	fields map[uint32]cell.Cell
	state  State
	refs   int32

	// locker is the sole RecordCow currently holding write authority, if
	// any. It is a weak back-reference: the Imp never frees the cow; the
	// cow's owning Transaction does, on commit/rollback.
	locker *Cow
}

func newImp(typ RecType, id uint64, fields map[uint32]cell.Cell, state State) *Imp {
	if fields == nil {
		fields = make(map[uint32]cell.Cell)
	}
	return &Imp{typ: typ, id: id, fields: fields, state: state}
}

// field returns the current committed value, Null if absent.
func (im *Imp) field(atom uint32) cell.Cell {
	im.mu.Lock()
	defer im.mu.Unlock()
	if c, ok := im.fields[atom]; ok {
		return c
	}
	return cell.Null
}

// snapshot returns a shallow copy of the full committed field map, used
// by the index engine to compute pre/post-merge composite keys.
func (im *Imp) snapshot() map[uint32]cell.Cell {
	im.mu.Lock()
	defer im.mu.Unlock()
	out := make(map[uint32]cell.Cell, len(im.fields))
	for k, v := range im.fields {
		out[k] = v
	}
	return out
}

func (im *Imp) addRef() {
	im.mu.Lock()
	im.refs++
	im.mu.Unlock()
}

func (im *Imp) release() int32 {
	im.mu.Lock()
	im.refs--
	n := im.refs
	im.mu.Unlock()
	return n
}
