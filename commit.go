package sdb

import (
	"encoding/binary"
	"fmt"

	"github.com/sdbkit/sdb/internal/cell"
	"github.com/sdbkit/sdb/internal/index"
	"github.com/sdbkit/sdb/internal/pagedstore"
)

// valuesForItems pulls the value for each index item's atom out of a
// field snapshot, defaulting to Null.
func valuesForItems(items []index.Item, snap map[uint32]cell.Cell) []cell.Cell {
	out := make([]cell.Cell, len(items))
	for i, it := range items {
		if v, ok := snap[it.Atom]; ok {
			out[i] = v
		} else {
			out[i] = cell.Null
		}
	}
	return out
}

// maintainIndexesForAtom applies every index triggered by atom to the
// pre/post-merge snapshots, per §4.3's "first item's atom" rule.
func (db *Database) maintainIndexesForAtom(atom uint32, oldSnap, newSnap map[uint32]cell.Cell, id uint64) error {
	for _, meta := range db.idx.ByFirstAtom(atom) {
		table, _, ok := db.idx.FindIndex(meta.Name)
		if !ok {
			continue
		}
		oldVals := valuesForItems(meta.Items, oldSnap)
		newVals := valuesForItems(meta.Items, newSnap)
		if err := db.idx.ApplyChange(table, meta, oldVals, newVals, id); err != nil {
			return err
		}
	}
	return nil
}

// maintainIndexesForSnapshot applies every index once for a brand new
// or fully-removed record, where "old" is either empty (create) or the
// full live snapshot (delete).
func (db *Database) maintainIndexesForSnapshot(snap map[uint32]cell.Cell, id uint64, isCreate bool) error {
	seen := make(map[string]bool)
	for atom := range snap {
		for _, meta := range db.idx.ByFirstAtom(atom) {
			if seen[meta.Name] {
				continue
			}
			seen[meta.Name] = true
			table, _, ok := db.idx.FindIndex(meta.Name)
			if !ok {
				continue
			}
			vals := valuesForItems(meta.Items, snap)
			if isCreate {
				if key, ok := index.EncodeTuple(meta.Items, vals); ok {
					if err := db.idx.Insert(table, meta, key, id); err != nil {
						return err
					}
				}
			} else {
				if key, ok := index.EncodeTuple(meta.Items, vals); ok {
					if err := db.idx.Remove(table, meta, key, id); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// maintainUuid applies the special object-table uuid->id mapping
// (§4.3): remove old, insert new; null only removes.
func (db *Database) maintainUuid(oldVal, newVal cell.Cell, id uint64) error {
	if oldVal.IsNull() && newVal.IsNull() {
		return nil
	}
	cur, err := db.store.OpenCursor(tblObj)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	if !oldVal.IsNull() {
		key := objUUIDKey(oldVal.UUIDValue())
		if cur.MoveTo(key, pagedstore.Exact) {
			if err := cur.Remove(); err != nil {
				return err
			}
		}
	}
	if !newVal.IsNull() {
		key := objUUIDKey(newVal.UUIDValue())
		if err := cur.Insert(key, cell.Encode(cell.OID(id))); err != nil {
			return err
		}
	}
	return nil
}

// commitCow persists one committed-transaction cow per §4.6.
func (db *Database) commitCow(cow *Cow) error {
	imp := cow.imp
	imp.mu.Lock()
	state := imp.state
	imp.mu.Unlock()

	switch state {
	case ToDelete:
		if err := db.commitDelete(cow); err != nil {
			return err
		}
	case New:
		if err := db.commitCreate(cow); err != nil {
			return err
		}
	default: // Idle with deltas
		if err := db.commitUpdate(cow); err != nil {
			return err
		}
	}

	imp.mu.Lock()
	imp.locker = nil
	imp.mu.Unlock()
	return nil
}

func (db *Database) commitDelete(cow *Cow) error {
	imp := cow.imp
	old := imp.snapshot()

	if err := db.maintainIndexesForSnapshot(old, imp.id, false); err != nil {
		return err
	}
	if uv, ok := old[FieldUuid]; ok && !uv.IsNull() {
		if err := db.maintainUuid(uv, cell.Null, imp.id); err != nil {
			return err
		}
	}

	cur, err := db.store.OpenCursor(tblObj)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	if cur.MoveTo(objIDKey(imp.id), pagedstore.Exact) {
		if err := cur.Remove(); err != nil {
			return err
		}
	}

	if err := db.removeQueuePrefix(imp.id); err != nil {
		return err
	}
	if err := db.removeMapPrefix(imp.id); err != nil {
		return err
	}

	imp.mu.Lock()
	imp.state = Deleted
	imp.mu.Unlock()
	return nil
}

func (db *Database) commitCreate(cow *Cow) error {
	imp := cow.imp
	imp.mu.Lock()
	imp.fields = cow.fields
	fields := imp.fields
	imp.mu.Unlock()

	if err := db.maintainIndexesForSnapshot(fields, imp.id, true); err != nil {
		return err
	}
	if uv, ok := fields[FieldUuid]; ok && !uv.IsNull() {
		if err := db.maintainUuid(cell.Null, uv, imp.id); err != nil {
			return err
		}
	}

	enc, err := encodeImp(imp)
	if err != nil {
		return err
	}
	cur, err := db.store.OpenCursor(tblObj)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	if err := cur.Insert(objIDKey(imp.id), enc); err != nil {
		return err
	}
	var cv [8]byte
	binary.BigEndian.PutUint64(cv[:], dbOIDCounterPeek(db))
	if err := cur.Insert(objCounterKey, cv[:]); err != nil {
		return err
	}

	if err := db.persistQueueDelta(cow); err != nil {
		return err
	}
	if err := db.persistMapDelta(cow); err != nil {
		return err
	}

	imp.mu.Lock()
	imp.state = Idle
	imp.mu.Unlock()
	return nil
}

func dbOIDCounterPeek(db *Database) uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.nextOID
}

func (db *Database) commitUpdate(cow *Cow) error {
	imp := cow.imp
	oldSnap := imp.snapshot()
	newSnap := cow.effectiveSnapshot()

	for atom := range cow.fields {
		if atom == FieldUuid {
			continue // handled specially below
		}
		if err := db.maintainIndexesForAtom(atom, oldSnap, newSnap, imp.id); err != nil {
			return err
		}
	}

	imp.mu.Lock()
	imp.fields = newSnap
	imp.mu.Unlock()

	if newUUID, changed := cow.fields[FieldUuid]; changed {
		if err := db.maintainUuid(oldSnap[FieldUuid], newUUID, imp.id); err != nil {
			return err
		}
	}

	enc, err := encodeImp(imp)
	if err != nil {
		return err
	}
	cur, err := db.store.OpenCursor(tblObj)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	if err := cur.Insert(objIDKey(imp.id), enc); err != nil {
		return err
	}

	if err := db.persistQueueDelta(cow); err != nil {
		return err
	}
	if err := db.persistMapDelta(cow); err != nil {
		return err
	}
	return nil
}
