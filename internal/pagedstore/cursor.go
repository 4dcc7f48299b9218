package pagedstore

import (
	"bytes"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// MoveMode selects exact or partial (prefix/nearest) positioning for
// Cursor.MoveTo.
type MoveMode int

const (
	// Exact requires the key to match exactly; otherwise the cursor
	// becomes invalid.
	Exact MoveMode = iota
	// Partial positions at the first key >= the requested key.
	Partial
)

// Cursor walks one table (bucket) in lexicographic byte order.
//
// A Cursor opened while the store has an active write transaction rides
// that transaction and may Insert/Remove. A Cursor opened outside a
// write transaction is a private read-only snapshot and owns its own
// bbolt transaction, released by Close.
type Cursor struct {
	store  *Store
	tx     *bolt.Tx
	ownTx  bool
	bucket *bolt.Bucket
	cur    *bolt.Cursor
	k, v   []byte
	valid  bool
}

// OpenCursor opens a cursor over the named table.
func (s *Store) OpenCursor(table uint32) (*Cursor, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrNotOpen
	}
	if s.writeTx != nil {
		tx := s.writeTx
		s.mu.Unlock()
		b := tx.Bucket(bucketName(table))
		if b == nil {
			return nil, fmt.Errorf("pagedstore: table %d: %w", table, ErrTableNotFound)
		}
		return &Cursor{store: s, tx: tx, bucket: b, cur: b.Cursor()}, nil
	}
	s.mu.Unlock()
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("pagedstore: OpenCursor: %w", err)
	}
	b := tx.Bucket(bucketName(table))
	if b == nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("pagedstore: table %d: %w", table, ErrTableNotFound)
	}
	return &Cursor{store: s, tx: tx, ownTx: true, bucket: b, cur: b.Cursor()}, nil
}

// Close releases a private snapshot transaction. A no-op for cursors
// riding the store's active write transaction.
func (c *Cursor) Close() error {
	if c.ownTx && c.tx != nil {
		tx := c.tx
		c.tx = nil
		return tx.Rollback()
	}
	return nil
}

func (c *Cursor) set(k, v []byte) bool {
	if k == nil {
		c.k, c.v, c.valid = nil, nil, false
		return false
	}
	c.k, c.v, c.valid = k, v, true
	return true
}

// First positions at the smallest key; returns false if the table is empty.
func (c *Cursor) First() bool { return c.set(c.cur.First()) }

// Last positions at the largest key; returns false if the table is empty.
func (c *Cursor) Last() bool { return c.set(c.cur.Last()) }

// Next advances; returns false if there is no next entry.
func (c *Cursor) Next() bool {
	if !c.valid {
		return false
	}
	return c.set(c.cur.Next())
}

// Prev retreats; returns false if there is no previous entry.
func (c *Cursor) Prev() bool {
	if !c.valid {
		return false
	}
	return c.set(c.cur.Prev())
}

// MoveTo positions the cursor at key. In Exact mode it returns true only
// on an exact hit (and leaves the cursor invalid otherwise). In Partial
// mode it positions at the first key >= key (bbolt's native Seek) and
// returns true iff that position is an exact hit; the cursor remains
// positioned at the nearest key either way.
func (c *Cursor) MoveTo(key []byte, mode MoveMode) bool {
	k, v := c.cur.Seek(key)
	exact := k != nil && bytes.Equal(k, key)
	if mode == Exact && !exact {
		c.k, c.v, c.valid = nil, nil, false
		return false
	}
	c.set(k, v)
	return exact
}

// IsValidPos reports whether the cursor currently sits on a live entry.
func (c *Cursor) IsValidPos() bool { return c.valid }

// ReadKey returns the key at the current position.
func (c *Cursor) ReadKey() []byte { return c.k }

// ReadValue returns the value at the current position.
func (c *Cursor) ReadValue() []byte { return c.v }

// Insert upserts key -> value. Only valid while riding the store's
// active write transaction.
func (c *Cursor) Insert(key, value []byte) error {
	if c.ownTx {
		return fmt.Errorf("pagedstore: Insert on read-only cursor: %w", ErrNoWriteTxn)
	}
	if err := c.bucket.Put(key, value); err != nil {
		return fmt.Errorf("pagedstore: Insert: %w", err)
	}
	// Re-seek: bbolt cursors can be invalidated by mutation.
	c.MoveTo(key, Exact)
	return nil
}

// Remove deletes the entry at the current position and invalidates the
// cursor. Callers that need to keep walking must MoveTo/Next again.
func (c *Cursor) Remove() error {
	if c.ownTx {
		return fmt.Errorf("pagedstore: Remove on read-only cursor: %w", ErrNoWriteTxn)
	}
	if !c.valid {
		return nil
	}
	if err := c.bucket.Delete(c.k); err != nil {
		return fmt.Errorf("pagedstore: Remove: %w", err)
	}
	c.k, c.v, c.valid = nil, nil, false
	return nil
}
