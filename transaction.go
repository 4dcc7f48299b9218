package sdb

import (
	"fmt"
	"sync"

	"github.com/sdbkit/sdb/internal/cell"
)

// Transaction owns a set of RecordCows and the pending notification
// list; it is the only mutator entry point for the object model
// (§4.5, §4.6). Not safe for concurrent use by multiple goroutines.
type Transaction struct {
	db      *Database
	mu      sync.Mutex
	active  bool
	cows    map[uint64]*Cow
	pending []UpdateInfo
}

func newTransaction(db *Database) *Transaction {
	return &Transaction{db: db, active: true, cows: make(map[uint64]*Cow)}
}

// Active reports whether the transaction has not yet committed or
// rolled back.
func (t *Transaction) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// cowFor resolves imp to this transaction's Cow, implementing the
// locking discipline of §4.5.
func (t *Transaction) cowFor(imp *Imp) (*Cow, error) {
	imp.mu.Lock()
	if imp.state == Deleted {
		imp.mu.Unlock()
		return nil, ErrRecordDeleted
	}
	if imp.locker != nil {
		if imp.locker.txn != t {
			imp.mu.Unlock()
			return nil, ErrRecordLocked
		}
		cow := imp.locker
		imp.mu.Unlock()
		return cow, nil
	}
	cow, exists := t.cows[imp.id]
	if !exists {
		cow = newCow(imp, t)
	}
	imp.locker = cow
	imp.mu.Unlock()

	t.mu.Lock()
	t.active = true
	t.cows[imp.id] = cow
	t.mu.Unlock()
	return cow, nil
}

// GetField reads atom's effective value through this transaction: the
// pending delta if imp is locked by this transaction, else the imp's
// committed value.
func (t *Transaction) GetField(imp *Imp, atom uint32) cell.Cell {
	imp.mu.Lock()
	locker := imp.locker
	imp.mu.Unlock()
	if locker != nil && locker.txn == t {
		if v, ok := locker.fields[atom]; ok {
			return v
		}
	}
	return imp.field(atom)
}

// SetField writes a user field. Engine-reserved atoms are rejected with
// ErrReservedName; use setReservedField for internal graph maintenance.
// Emits ValueChanged (§6, S1) — link/list pointer fields maintained via
// setReservedField have their own Kinds (Aggregated, ElementChanged, ...)
// and do not also raise ValueChanged.
func (t *Transaction) SetField(imp *Imp, atom uint32, v cell.Cell) error {
	if atom >= reservedBase {
		return fmt.Errorf("%w: atom %d", ErrReservedName, atom)
	}
	if err := t.setFieldRaw(imp, atom, v); err != nil {
		return err
	}
	t.emit(UpdateInfo{Kind: ValueChanged, ID: imp.id, Name: atom})
	return nil
}

// setReservedField writes an engine-reserved field (link pointers,
// Type, Uuid, Value, ...); called from graph.go's list-maintenance code
// and from Lit.SetValue, never exposed to user callers directly.
func (t *Transaction) setReservedField(imp *Imp, atom uint32, v cell.Cell) error {
	return t.setFieldRaw(imp, atom, v)
}

func (t *Transaction) setFieldRaw(imp *Imp, atom uint32, v cell.Cell) error {
	cow, err := t.cowFor(imp)
	if err != nil {
		return err
	}
	cow.setField(atom, v)
	return nil
}

// Erase marks imp for deletion at commit (§4.5 state machine).
func (t *Transaction) Erase(imp *Imp) error {
	cow, err := t.cowFor(imp)
	if err != nil {
		return err
	}
	imp.mu.Lock()
	switch imp.state {
	case New:
		imp.state = ToDelete // still resolved at commit to New's rollback-free delete
	case Idle:
		imp.state = ToDelete
	case ToDelete:
		// already pending deletion
	}
	imp.mu.Unlock()
	_ = cow
	return nil
}

func (t *Transaction) emit(u UpdateInfo) {
	t.mu.Lock()
	t.pending = append(t.pending, u)
	t.mu.Unlock()
}

// Commit persists every cow this transaction actually mutated, applies
// index maintenance, emits notifications, and runs cache cleanup
// (§4.6). A no-op if the transaction is already inactive.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := t.db.store.Begin(); err != nil {
		return fmt.Errorf("%w: %v", ErrStartTrans, err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = t.db.store.Abort()
		}
	}()

	for _, cow := range t.cows {
		imp := cow.imp
		imp.mu.Lock()
		isLocker := imp.locker == cow
		imp.mu.Unlock()
		if !isLocker {
			continue
		}
		if err := t.db.commitCow(cow); err != nil {
			return err
		}
	}

	if err := t.db.store.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrCommitTrans, err)
	}
	ok = true

	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.active = false
	t.mu.Unlock()

	t.db.dispatch(pending)
	t.db.cacheCleanup()
	t.db.log.Debug().Int("records", len(t.cows)).Int("notifications", len(pending)).Msg("transaction committed")
	return nil
}

// Rollback discards every pending delta, restores ToDelete imps to
// Idle, tombstones New imps, and drops pending notifications (§4.6).
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	for _, cow := range t.cows {
		imp := cow.imp
		imp.mu.Lock()
		if imp.locker == cow {
			switch imp.state {
			case New:
				imp.state = Deleted
			case ToDelete:
				imp.state = Idle
			}
			imp.locker = nil
		}
		imp.mu.Unlock()
	}

	t.mu.Lock()
	t.pending = nil
	t.active = false
	t.mu.Unlock()

	t.db.cacheCleanup()
	t.db.log.Debug().Int("records", len(t.cows)).Msg("transaction rolled back")
	return nil
}
