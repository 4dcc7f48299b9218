// Package pagedstore adapts a bbolt database into the PagedStore contract:
// named sub-trees identified by small integer ids, cursor-based access,
// and a single process-wide write transaction with a nesting counter.
package pagedstore

import (
	"errors"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// Store errors.
var (
	ErrAlreadyOpen    = errors.New("pagedstore: already open")
	ErrNotOpen        = errors.New("pagedstore: not open")
	ErrNoWriteTxn     = errors.New("pagedstore: no active write transaction")
	ErrNestedMismatch = errors.New("pagedstore: commit without matching begin")
	ErrTableNotFound  = errors.New("pagedstore: table not found")
	ErrMetaSlotRange  = errors.New("pagedstore: meta slot out of range")
)

// metaBucket holds the fixed meta slots addressed by a small schema id.
var metaBucket = []byte("__meta__")

// Store is a single-file keyed byte-store with named integer sub-trees.
//
// Only one write transaction may be open at a time; Begin/Commit/Abort
// implement the nesting counter described by the engine's transaction
// layer (§4.1): inner Begin/Commit pairs compose without flushing the
// underlying bbolt transaction until the outermost Commit.
type Store struct {
	mu       sync.Mutex
	db       *bolt.DB
	path     string
	writeTx  *bolt.Tx
	nesting  int
	tables   map[uint32][]byte // table id -> bucket name
	closed   bool
}

// Open opens or creates the single-file store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("pagedstore: open %s: %w", path, err)
	}
	s := &Store{db: db, path: path, tables: make(map[uint32][]byte)}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("pagedstore: init meta bucket: %w", err)
	}
	return s, nil
}

// Close closes the underlying file. It aborts any open write transaction.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.writeTx != nil {
		_ = s.writeTx.Rollback()
		s.writeTx = nil
		s.nesting = 0
	}
	s.closed = true
	return s.db.Close()
}

func bucketName(id uint32) []byte {
	return []byte{byte('t'), byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
}

// CreateTable creates (or reuses) a named sub-tree identified by id.
func (s *Store) CreateTable(id uint32) error {
	return s.withWrite(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName(id))
		if err != nil {
			return fmt.Errorf("pagedstore: CreateTable %d: %w", id, err)
		}
		return nil
	})
}

// DropTable deletes a sub-tree entirely.
func (s *Store) DropTable(id uint32) error {
	return s.withWrite(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket(bucketName(id))
		if err != nil && err != bolt.ErrBucketNotFound {
			return fmt.Errorf("pagedstore: DropTable %d: %w", id, err)
		}
		return nil
	})
}

// ClearTable removes every key in a sub-tree without dropping it.
func (s *Store) ClearTable(id uint32) error {
	return s.withWrite(func(tx *bolt.Tx) error {
		name := bucketName(id)
		if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
			return fmt.Errorf("pagedstore: ClearTable %d: %w", id, err)
		}
		_, err := tx.CreateBucket(name)
		if err != nil {
			return fmt.Errorf("pagedstore: ClearTable %d: %w", id, err)
		}
		return nil
	})
}

// withWrite runs fn against the active write transaction, opening one
// transiently if none is active (auto-commit single operation).
func (s *Store) withWrite(fn func(tx *bolt.Tx) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNotOpen
	}
	if s.writeTx != nil {
		tx := s.writeTx
		s.mu.Unlock()
		return fn(tx)
	}
	s.mu.Unlock()
	return s.db.Update(fn)
}

// Begin opens the underlying write transaction if this is the outermost
// call, otherwise just bumps the nesting counter.
func (s *Store) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotOpen
	}
	if s.nesting == 0 {
		tx, err := s.db.Begin(true)
		if err != nil {
			return fmt.Errorf("pagedstore: Begin: %w", err)
		}
		s.writeTx = tx
	}
	s.nesting++
	return nil
}

// Commit decrements the nesting counter and, once it reaches zero,
// commits the underlying write transaction. Never goes below zero.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nesting == 0 {
		return nil
	}
	s.nesting--
	if s.nesting == 0 {
		tx := s.writeTx
		s.writeTx = nil
		if tx == nil {
			return ErrNoWriteTxn
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("pagedstore: Commit: %w", err)
		}
	}
	return nil
}

// Abort unconditionally rolls back the underlying write transaction and
// resets the nesting counter to zero, regardless of nesting depth.
func (s *Store) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nesting == 0 || s.writeTx == nil {
		s.nesting = 0
		return nil
	}
	tx := s.writeTx
	s.writeTx = nil
	s.nesting = 0
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("pagedstore: Abort: %w", err)
	}
	return nil
}

// InTransaction reports whether a write transaction is currently open.
func (s *Store) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nesting > 0
}

// view runs fn against the active write tx, or against a fresh
// read-only transaction when none is open.
func (s *Store) view(fn func(tx *bolt.Tx) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNotOpen
	}
	if s.writeTx != nil {
		tx := s.writeTx
		s.mu.Unlock()
		return fn(tx)
	}
	s.mu.Unlock()
	return s.db.View(fn)
}

// ReadMetaSlot reads the fixed meta slot keyed by a small schema id.
func (s *Store) ReadMetaSlot(schema uint32) ([]byte, error) {
	var out []byte
	err := s.view(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		if b == nil {
			return ErrTableNotFound
		}
		v := b.Get(metaKey(schema))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// WriteMetaSlot writes the fixed meta slot keyed by a small schema id.
func (s *Store) WriteMetaSlot(schema uint32, value []byte) error {
	return s.withWrite(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		if b == nil {
			return ErrTableNotFound
		}
		return b.Put(metaKey(schema), value)
	})
}

func metaKey(schema uint32) []byte {
	return []byte{byte(schema >> 24), byte(schema >> 16), byte(schema >> 8), byte(schema)}
}
