package sdb

import (
	"github.com/sdbkit/sdb/internal/cell"
)

// Cow is the per-transaction shadow over an Imp holding pending writes
// (RecordCow in spec.md). It is exclusively owned by its Transaction
// and locks exactly one Imp for its lifetime.
type Cow struct {
	imp *Imp
	txn *Transaction

	fields      map[uint32]cell.Cell // delta only; Null cell = explicit erase
	queue       map[uint32]cell.Cell // queue slot nr -> cell; Null = remove
	queueCounter *uint32             // pending counter override, lazily loaded
	mapDelta    map[string]mapDeltaEntry
}

type mapDeltaEntry struct {
	key []byte
	val cell.Cell // Null = remove
}

func newCow(imp *Imp, txn *Transaction) *Cow {
	return &Cow{
		imp:      imp,
		txn:      txn,
		fields:   make(map[uint32]cell.Cell),
		queue:    make(map[uint32]cell.Cell),
		mapDelta: make(map[string]mapDeltaEntry),
	}
}

// field returns the effective value visible to this cow's transaction:
// the pending delta if present, else the imp's committed value.
func (c *Cow) field(atom uint32) cell.Cell {
	if v, ok := c.fields[atom]; ok {
		return v
	}
	return c.imp.field(atom)
}

// hasField reports whether the effective field value is non-null. This
// fixes the source's inverted hasField (§9 open question 2): the
// original returned isNull() directly.
func (c *Cow) hasField(atom uint32) bool {
	return !c.field(atom).IsNull()
}

func (c *Cow) setField(atom uint32, v cell.Cell) {
	c.fields[atom] = v
}

// effectiveSnapshot merges the imp's committed fields with this cow's
// pending delta, for building post-merge composite index keys.
func (c *Cow) effectiveSnapshot() map[uint32]cell.Cell {
	out := c.imp.snapshot()
	for k, v := range c.fields {
		if v.IsNull() {
			delete(out, k)
		} else {
			out[k] = v
		}
	}
	return out
}
