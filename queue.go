package sdb

import (
	"encoding/binary"
	"fmt"

	"github.com/sdbkit/sdb/internal/cell"
	"github.com/sdbkit/sdb/internal/pagedstore"
)

// queueKey builds the ⟨id64(oid) ∥ id32(nr)⟩ key (§4.8). nr 0 is the
// reserved per-oid counter slot.
func queueKey(oid uint64, nr uint32) []byte {
	return append(cell.Encode(cell.OID(oid)), cell.Encode(cell.U32(nr))...)
}

func hasQueuePrefix(key []byte, oid uint64) bool {
	prefix := cell.Encode(cell.OID(oid))
	return len(key) >= len(prefix) && string(key[:len(prefix)]) == string(prefix)
}

// queueCounterFor lazily loads an oid's counter into the cow on first
// use within a transaction, so repeated appends in one transaction
// increment in memory before anything is persisted.
func (db *Database) queueCounterFor(cow *Cow) (*uint32, error) {
	if cow.queueCounter != nil {
		return cow.queueCounter, nil
	}
	cur, err := db.store.OpenCursor(tblQue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	defer cur.Close()
	var c uint32
	if cur.MoveTo(queueKey(cow.imp.id, 0), pagedstore.Exact) {
		c = binary.BigEndian.Uint32(cur.ReadValue())
	}
	cow.queueCounter = &c
	return cow.queueCounter, nil
}

// QueueAppend adds v as a new queue slot on imp and returns its nr.
func (t *Transaction) QueueAppend(imp *Imp, v cell.Cell) (uint32, error) {
	cow, err := t.cowFor(imp)
	if err != nil {
		return 0, err
	}
	ctr, err := t.db.queueCounterFor(cow)
	if err != nil {
		return 0, err
	}
	*ctr++
	nr := *ctr
	cow.queue[nr] = v
	t.emit(UpdateInfo{Kind: QueueAdded, ID: uint64(nr), ID2: imp.id})
	return nr, nil
}

// QueueSet overwrites an existing slot's value.
func (t *Transaction) QueueSet(imp *Imp, nr uint32, v cell.Cell) error {
	cow, err := t.cowFor(imp)
	if err != nil {
		return err
	}
	cow.queue[nr] = v
	t.emit(UpdateInfo{Kind: QueueChanged, ID: uint64(nr), ID2: imp.id})
	return nil
}

// QueueErase removes a slot.
func (t *Transaction) QueueErase(imp *Imp, nr uint32) error {
	cow, err := t.cowFor(imp)
	if err != nil {
		return err
	}
	cow.queue[nr] = cell.Null
	t.emit(UpdateInfo{Kind: QueueErased, ID: uint64(nr), ID2: imp.id})
	return nil
}

// QueueGet reads a slot: the cow's delta if imp is locked by this
// transaction and nr is pending, else the committed store value.
func (t *Transaction) QueueGet(imp *Imp, nr uint32) (cell.Cell, error) {
	imp.mu.Lock()
	locker := imp.locker
	imp.mu.Unlock()
	if locker != nil && locker.txn == t {
		if v, ok := locker.queue[nr]; ok {
			return v, nil
		}
	}
	return t.db.queueReadStore(imp.id, nr)
}

func (db *Database) queueReadStore(oid uint64, nr uint32) (cell.Cell, error) {
	cur, err := db.store.OpenCursor(tblQue)
	if err != nil {
		return cell.Null, fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	defer cur.Close()
	if !cur.MoveTo(queueKey(oid, nr), pagedstore.Exact) {
		return cell.Null, nil
	}
	v, _, err := cell.Decode(cur.ReadValue())
	return v, err
}

// QueueFirst/Last/Next/Prev walk committed queue slots for oid,
// stopping at the table's own prefix boundary (§4.8).
func (db *Database) QueueFirst(oid uint64) (uint32, cell.Cell, bool, error) {
	cur, err := db.store.OpenCursor(tblQue)
	if err != nil {
		return 0, cell.Null, false, fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	defer cur.Close()
	// slot 0 is the reserved counter; first live slot is nr 1.
	cur.MoveTo(queueKey(oid, 1), pagedstore.Partial)
	if !cur.IsValidPos() || !hasQueuePrefix(cur.ReadKey(), oid) {
		return 0, cell.Null, false, nil
	}
	return decodeQueuePos(cur)
}

func (db *Database) QueueLast(oid uint64) (uint32, cell.Cell, bool, error) {
	cur, err := db.store.OpenCursor(tblQue)
	if err != nil {
		return 0, cell.Null, false, fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	defer cur.Close()
	// Seek to the first key of the next oid, then step back one; if
	// there is no such key, the table's own last key may be ours.
	cur.MoveTo(queueKey(oid+1, 0), pagedstore.Partial)
	if cur.IsValidPos() {
		if !cur.Prev() {
			return 0, cell.Null, false, nil
		}
	} else if !cur.Last() {
		return 0, cell.Null, false, nil
	}
	if !hasQueuePrefix(cur.ReadKey(), oid) {
		return 0, cell.Null, false, nil
	}
	nr, v, err := decodeQueueKV(cur.ReadKey(), cur.ReadValue())
	if nr == 0 { // landed back on the counter slot: empty queue
		return 0, cell.Null, false, err
	}
	return nr, v, true, err
}

func (db *Database) QueueNext(oid uint64, nr uint32) (uint32, cell.Cell, bool, error) {
	cur, err := db.store.OpenCursor(tblQue)
	if err != nil {
		return 0, cell.Null, false, fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	defer cur.Close()
	if !cur.MoveTo(queueKey(oid, nr), pagedstore.Exact) {
		return 0, cell.Null, false, nil
	}
	if !cur.Next() || !hasQueuePrefix(cur.ReadKey(), oid) {
		return 0, cell.Null, false, nil
	}
	return decodeQueuePos(cur)
}

func (db *Database) QueuePrev(oid uint64, nr uint32) (uint32, cell.Cell, bool, error) {
	cur, err := db.store.OpenCursor(tblQue)
	if err != nil {
		return 0, cell.Null, false, fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	defer cur.Close()
	if !cur.MoveTo(queueKey(oid, nr), pagedstore.Exact) {
		return 0, cell.Null, false, nil
	}
	if !cur.Prev() || !hasQueuePrefix(cur.ReadKey(), oid) {
		return 0, cell.Null, false, nil
	}
	nr2, v, err := decodeQueueKV(cur.ReadKey(), cur.ReadValue())
	if nr2 == 0 {
		return 0, cell.Null, false, err
	}
	return nr2, v, true, err
}

func decodeQueuePos(cur *pagedstore.Cursor) (uint32, cell.Cell, bool, error) {
	nr, v, err := decodeQueueKV(cur.ReadKey(), cur.ReadValue())
	return nr, v, err == nil, err
}

func decodeQueueKV(key, value []byte) (uint32, cell.Cell, error) {
	oidC, rest, err := cell.Decode(key)
	if err != nil {
		return 0, cell.Null, err
	}
	_ = oidC
	nrC, _, err := cell.Decode(rest)
	if err != nil {
		return 0, cell.Null, err
	}
	v, _, err := cell.Decode(value)
	if err != nil {
		return 0, cell.Null, err
	}
	return uint32(nrC.Uint64()), v, nil
}

// persistQueueDelta writes the counter (if touched) and every pending
// slot delta: a Null cell removes the slot, anything else upserts.
func (db *Database) persistQueueDelta(cow *Cow) error {
	if len(cow.queue) == 0 && cow.queueCounter == nil {
		return nil
	}
	cur, err := db.store.OpenCursor(tblQue)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	if cow.queueCounter != nil {
		var cv [4]byte
		binary.BigEndian.PutUint32(cv[:], *cow.queueCounter)
		if err := cur.Insert(queueKey(cow.imp.id, 0), cv[:]); err != nil {
			return err
		}
	}
	for nr, v := range cow.queue {
		key := queueKey(cow.imp.id, nr)
		if v.IsNull() {
			if cur.MoveTo(key, pagedstore.Exact) {
				if err := cur.Remove(); err != nil {
					return err
				}
			}
			continue
		}
		if err := cur.Insert(key, cell.Encode(v)); err != nil {
			return err
		}
	}
	return nil
}

// removeQueuePrefix deletes every queue row for oid (including slot 0)
// as part of record deletion (§4.6).
func (db *Database) removeQueuePrefix(oid uint64) error {
	cur, err := db.store.OpenCursor(tblQue)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	defer cur.Close()
	cur.MoveTo(queueKey(oid, 0), pagedstore.Partial)
	var keys [][]byte
	for cur.IsValidPos() && hasQueuePrefix(cur.ReadKey(), oid) {
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
