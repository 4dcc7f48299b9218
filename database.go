// Package sdb implements an embedded, single-file object/graph database
// engine: a transactional copy-on-write record cache and secondary-index
// maintenance layer on top of a keyed byte-store, plus a small object
// model (attributes, ordered lists, ordered relation lists, per-object
// queues and sparse maps) with change notification.
package sdb

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sdbkit/sdb/internal/atomdict"
	"github.com/sdbkit/sdb/internal/cell"
	"github.com/sdbkit/sdb/internal/index"
	"github.com/sdbkit/sdb/internal/mimemap"
	"github.com/sdbkit/sdb/internal/pagedstore"
)

// Fixed sub-tree ids (§6 Persistent layout). metaTable is this
// implementation's supplemental writeMeta/readMeta area (SPEC_FULL §5).
const (
	tblObj       uint32 = 1
	tblStr       uint32 = 2
	tblIdxReg    uint32 = 3
	tblDir       uint32 = 4
	tblQue       uint32 = 5
	tblMap       uint32 = 6
	tblMetaFlat  uint32 = 7
	tblIdxDataLo uint32 = 1000

	rootMetaSchema uint32 = 1
)

var objCounterKey = []byte{0}

func objIDKey(id uint64) []byte   { return append([]byte{'i'}, cell.Encode(cell.OID(id))...) }
func objUUIDKey(u uuid.UUID) []byte { return append([]byte{'u'}, cell.Encode(cell.UUID(u))...) }
func metaFlatKey(k string) []byte { return cell.Encode(cell.UTF8(k)) }

// Database owns the PagedStore handle, the record cache, the atom
// dictionary, the index registry, and external-stream lifecycle.
type Database struct {
	mu      sync.Mutex
	store   *pagedstore.Store
	atoms   *atomdict.Dict
	idx     *index.Manager
	cache   map[uint64]*Imp
	nextOID uint64
	log     zerolog.Logger
	streams *streamManager
	mimes   *mimemap.Table
	path    string
	closed  bool

	observers []Observer
}

// Open opens or creates the single-file database at path, applying any
// Options.PresetPath atom/index bootstrap file on each open.
func Open(path string, opts Options) (*Database, error) {
	opts = opts.withDefaults()

	store, err := pagedstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenDbFile, err)
	}
	for _, t := range []uint32{tblObj, tblStr, tblIdxReg, tblDir, tblQue, tblMap, tblMetaFlat} {
		if err := store.CreateTable(t); err != nil {
			store.Close()
			return nil, fmt.Errorf("%w: %v", ErrCreateTable, err)
		}
	}

	atoms, err := atomdict.Open(store, tblDir)
	if err != nil {
		store.Close()
		return nil, err
	}
	idxMgr, err := index.Open(store, tblIdxReg, tblIdxDataLo)
	if err != nil {
		store.Close()
		return nil, err
	}

	db := &Database{
		store:   store,
		atoms:   atoms,
		idx:     idxMgr,
		cache:   make(map[uint64]*Imp),
		path:    path,
		mimes:   mimemap.New(),
		log:     newLogger(opts),
	}
	idxMgr.SetLogger(db.log)
	db.streams, err = openStreamManager(store, tblStr, streamsDir(path))
	if err != nil {
		store.Close()
		return nil, err
	}

	if err := db.writeRootMeta(); err != nil {
		store.Close()
		return nil, err
	}
	if err := db.loadOIDCounter(); err != nil {
		store.Close()
		return nil, err
	}
	if err := db.applyPreset(opts); err != nil {
		store.Close()
		return nil, err
	}

	db.log.Info().Str("path", path).Msg("database opened")
	return db, nil
}

func streamsDir(dbPath string) string {
	dir := filepath.Dir(dbPath)
	base := filepath.Base(dbPath)
	return filepath.Join(dir, base+".streams")
}

// writeRootMeta persists the root meta record naming every sub-tree, so
// a reopen can validate layout (§6).
func (db *Database) writeRootMeta() error {
	fw := cell.NewFrameWriter().BeginFrame().
		Slot(1, cell.I32(int32(tblObj))).
		Slot(2, cell.I32(int32(tblStr))).
		Slot(3, cell.I32(int32(tblIdxReg))).
		Slot(4, cell.I32(int32(tblDir))).
		Slot(5, cell.I32(int32(tblQue))).
		Slot(6, cell.I32(int32(tblMap))).
		Slot(7, cell.I32(int32(tblMetaFlat))).
		EndFrame()
	if err := db.store.WriteMetaSlot(rootMetaSchema, fw.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", ErrAccessMeta, err)
	}
	return nil
}

func (db *Database) loadOIDCounter() error {
	cur, err := db.store.OpenCursor(tblObj)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccessRecord, err)
	}
	defer cur.Close()
	if cur.MoveTo(objCounterKey, pagedstore.Exact) {
		db.nextOID = binary.BigEndian.Uint64(cur.ReadValue())
	}
	return nil
}

// Close flushes no additional state (all commits are already durable)
// and releases the underlying file.
func (db *Database) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()
	db.dispatch([]UpdateInfo{{Kind: DbClosing}})
	err := db.store.Close()
	db.log.Info().Err(err).Msg("database closed")
	return err
}

// AddObserver registers an observer for committed notifications.
func (db *Database) AddObserver(o Observer) {
	db.mu.Lock()
	db.observers = append(db.observers, o)
	db.mu.Unlock()
}

// dispatch delivers notifications in append order; one observer's
// panic or the caller's error must never stop delivery to the rest.
func (db *Database) dispatch(updates []UpdateInfo) {
	db.mu.Lock()
	observers := append([]Observer(nil), db.observers...)
	db.mu.Unlock()
	for _, u := range updates {
		for _, o := range observers {
			safeNotify(o, u)
		}
	}
}

func safeNotify(o Observer, u UpdateInfo) {
	defer func() { recover() }()
	o.Notify(u)
}

// Begin starts a new logical Transaction (§4.6). The object model is
// mutated only through a Transaction's methods.
func (db *Database) Begin() *Transaction { return newTransaction(db) }

// Atoms exposes the atom dictionary.
func (db *Database) Atoms() *atomdict.Dict { return db.atoms }

// Indexes exposes the index registry.
func (db *Database) Indexes() *index.Manager { return db.idx }

// lookup returns the cached Imp for id, loading it from the store on a
// cache miss. A record absent from the store returns (nil, nil) — not
// an error (§4.5).
func (db *Database) lookup(id uint64) (*Imp, error) {
	db.mu.Lock()
	if im, ok := db.cache[id]; ok {
		db.mu.Unlock()
		return im, nil
	}
	db.mu.Unlock()

	cur, err := db.store.OpenCursor(tblObj)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	defer cur.Close()
	if !cur.MoveTo(objIDKey(id), pagedstore.Exact) {
		return nil, nil
	}
	im, err := decodeImp(id, cur.ReadValue())
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	if existing, ok := db.cache[id]; ok {
		db.mu.Unlock()
		return existing, nil
	}
	db.cache[id] = im
	db.mu.Unlock()
	return im, nil
}

// createImp allocates a fresh id and installs a New-state Imp in the
// cache. Persistence happens at commit (§4.5 lifecycle).
func (db *Database) createImp(typ RecType) *Imp {
	db.mu.Lock()
	db.nextOID++
	id := db.nextOID
	im := newImp(typ, id, nil, New)
	db.cache[id] = im
	db.mu.Unlock()
	return im
}

// derefUuid returns the id whose FieldUuid equals u, or 0 if none.
func (db *Database) derefUuid(u uuid.UUID) (uint64, error) {
	cur, err := db.store.OpenCursor(tblObj)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	defer cur.Close()
	if !cur.MoveTo(objUUIDKey(u), pagedstore.Exact) {
		return 0, nil
	}
	c, _, err := cell.Decode(cur.ReadValue())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRecordFormat, err)
	}
	return c.Uint64(), nil
}

// cacheCleanup runs outside a transaction only: any imp whose external
// refcount is <= 0 and whose locker is nil is evicted (§4.6).
func (db *Database) cacheCleanup() {
	db.mu.Lock()
	defer db.mu.Unlock()
	for id, im := range db.cache {
		im.mu.Lock()
		evict := im.refs <= 0 && im.locker == nil
		im.mu.Unlock()
		if evict {
			delete(db.cache, id)
		}
	}
}

// WriteMeta stores a flat string->Cell entry in the supplemental
// metaTable (SPEC_FULL §5), outside the object model's transactions.
func (db *Database) WriteMeta(key string, v cell.Cell) error {
	if err := db.store.Begin(); err != nil {
		return fmt.Errorf("%w: %v", ErrStartTrans, err)
	}
	cur, err := db.store.OpenCursor(tblMetaFlat)
	if err != nil {
		_ = db.store.Abort()
		return fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	if err := cur.Insert(metaFlatKey(key), cell.Encode(v)); err != nil {
		_ = db.store.Abort()
		return err
	}
	return db.store.Commit()
}

// ReadMeta reads a flat string->Cell entry, Null if absent.
func (db *Database) ReadMeta(key string) (cell.Cell, error) {
	cur, err := db.store.OpenCursor(tblMetaFlat)
	if err != nil {
		return cell.Null, fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	defer cur.Close()
	if !cur.MoveTo(metaFlatKey(key), pagedstore.Exact) {
		return cell.Null, nil
	}
	v, _, err := cell.Decode(cur.ReadValue())
	if err != nil {
		return cell.Null, fmt.Errorf("%w: %v", ErrRecordFormat, err)
	}
	return v, nil
}

// Mimes exposes the stream mime/suffix table (SPEC_FULL §5).
func (db *Database) Mimes() *mimemap.Table { return db.mimes }

// ensureDir is a small helper shared by stream.go for the sibling
// streams directory.
func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
