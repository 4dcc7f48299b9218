package sdb

import (
	"fmt"

	"github.com/sdbkit/sdb/internal/cell"
	"github.com/sdbkit/sdb/internal/pagedstore"
)

// mapKey builds the ⟨oid ∥ key1 ∥ ... ∥ keyn⟩ key (§4.8). Each key part
// is one self-describing cell, so the composite key decodes back into
// its parts without a stored arity.
func mapKey(oid uint64, parts []cell.Cell) []byte {
	out := cell.Encode(cell.OID(oid))
	for _, p := range parts {
		out = append(out, cell.Encode(p)...)
	}
	return out
}

func hasMapOidPrefix(key []byte, oid uint64) bool {
	prefix := cell.Encode(cell.OID(oid))
	return len(key) >= len(prefix) && string(key[:len(prefix)]) == string(prefix)
}

// MapSet writes a sparse-map cell keyed by parts on imp.
func (t *Transaction) MapSet(imp *Imp, parts []cell.Cell, v cell.Cell) error {
	cow, err := t.cowFor(imp)
	if err != nil {
		return err
	}
	key := mapKey(imp.id, parts)
	cow.mapDelta[string(key)] = mapDeltaEntry{key: key, val: v}
	return nil
}

// MapErase removes a sparse-map cell.
func (t *Transaction) MapErase(imp *Imp, parts []cell.Cell) error {
	return t.MapSet(imp, parts, cell.Null)
}

// MapGet reads a sparse-map cell: the cow's delta if imp is locked by
// this transaction and the key is pending, else the committed value.
func (t *Transaction) MapGet(imp *Imp, parts []cell.Cell) (cell.Cell, error) {
	key := mapKey(imp.id, parts)
	imp.mu.Lock()
	locker := imp.locker
	imp.mu.Unlock()
	if locker != nil && locker.txn == t {
		if e, ok := locker.mapDelta[string(key)]; ok {
			return e.val, nil
		}
	}
	return t.db.mapReadStore(key)
}

func (db *Database) mapReadStore(key []byte) (cell.Cell, error) {
	cur, err := db.store.OpenCursor(tblMap)
	if err != nil {
		return cell.Null, fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	defer cur.Close()
	if !cur.MoveTo(key, pagedstore.Exact) {
		return cell.Null, nil
	}
	v, _, err := cell.Decode(cur.ReadValue())
	return v, err
}

// MapFind is the Map-Iterator: it seeds a cursor at ⟨oid ∥ prefix...⟩
// and calls fn with each entry's remaining key parts and value,
// stopping as soon as the cursor key no longer carries that prefix or
// fn returns false.
func (db *Database) MapFind(oid uint64, prefix []cell.Cell, fn func(parts []cell.Cell, v cell.Cell) bool) error {
	cur, err := db.store.OpenCursor(tblMap)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	defer cur.Close()
	seed := mapKey(oid, prefix)
	cur.MoveTo(seed, pagedstore.Partial)
	for cur.IsValidPos() && hasBytePrefix(cur.ReadKey(), seed) {
		parts, err := decodeMapKeyParts(cur.ReadKey(), len(seed))
		if err != nil {
			return err
		}
		v, _, err := cell.Decode(cur.ReadValue())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRecordFormat, err)
		}
		if !fn(parts, v) {
			return nil
		}
		cur.Next()
	}
	return nil
}

func hasBytePrefix(key, prefix []byte) bool {
	return len(key) >= len(prefix) && string(key[:len(prefix)]) == string(prefix)
}

func decodeMapKeyParts(key []byte, skip int) ([]cell.Cell, error) {
	rest := key[skip:]
	var parts []cell.Cell
	for len(rest) > 0 {
		c, r, err := cell.Decode(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRecordFormat, err)
		}
		parts = append(parts, c)
		rest = r
	}
	return parts, nil
}

// persistMapDelta writes every pending map delta: a Null cell removes
// the entry, anything else upserts.
func (db *Database) persistMapDelta(cow *Cow) error {
	if len(cow.mapDelta) == 0 {
		return nil
	}
	cur, err := db.store.OpenCursor(tblMap)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	for _, e := range cow.mapDelta {
		if e.val.IsNull() {
			if cur.MoveTo(e.key, pagedstore.Exact) {
				if err := cur.Remove(); err != nil {
					return err
				}
			}
			continue
		}
		if err := cur.Insert(e.key, cell.Encode(e.val)); err != nil {
			return err
		}
	}
	return nil
}

// removeMapPrefix deletes every map row for oid as part of record
// deletion (§4.6).
func (db *Database) removeMapPrefix(oid uint64) error {
	cur, err := db.store.OpenCursor(tblMap)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	defer cur.Close()
	prefix := cell.Encode(cell.OID(oid))
	cur.MoveTo(prefix, pagedstore.Partial)
	var keys [][]byte
	for cur.IsValidPos() && hasMapOidPrefix(cur.ReadKey(), oid) {
		keys = append(keys, append([]byte(nil), cur.ReadKey()...))
		cur.Next()
	}
	for _, k := range keys {
		if cur.MoveTo(k, pagedstore.Exact) {
			if err := cur.Remove(); err != nil {
				return err
			}
		}
	}
	return nil
}
