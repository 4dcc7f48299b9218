package sdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sdbkit/sdb/internal/cell"
	"github.com/sdbkit/sdb/internal/pagedstore"
)

// Metadata slot atoms within one strTable frame (§4.9); small and
// private to this file, unrelated to the user atom dictionary.
const (
	strSlotMime     uint32 = 1
	strSlotSuffix   uint32 = 2
	strSlotLocale   uint32 = 3
	strSlotGzipped  uint32 = 4
	strSlotCrypted  uint32 = 5
	strSlotUseCount uint32 = 6
	strSlotLastUse  uint32 = 7
)

var streamCounterKey = []byte{0}

func sidKey(sid uint32) []byte { return append([]byte{1}, cell.Encode(cell.SID(sid))...) }

// StreamMeta is the decoded form of one stream's strTable row.
type StreamMeta struct {
	Mime     string
	Suffix   string
	Locale   string
	Gzipped  bool
	Crypted  bool
	UseCount uint64
	LastUse  time.Time
}

// streamManager owns SID allocation, the strTable metadata rows, and
// the in-memory lock table for the sibling streams directory (§4.9).
type streamManager struct {
	store *pagedstore.Store
	table uint32
	dir   string

	mu      sync.Mutex
	nextSid uint32
	locks   map[uint32]int32 // negative = writer, positive = reader count
}

func openStreamManager(store *pagedstore.Store, table uint32, dir string) (*streamManager, error) {
	if err := ensureDir(dir); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamsDir, err)
	}
	sm := &streamManager{store: store, table: table, dir: dir, locks: make(map[uint32]int32)}

	cur, err := store.OpenCursor(table)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	defer cur.Close()
	if cur.MoveTo(streamCounterKey, pagedstore.Exact) {
		c, _, err := cell.Decode(cur.ReadValue())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRecordFormat, err)
		}
		sm.nextSid = uint32(c.Uint64())
	}
	return sm, nil
}

func (sm *streamManager) pathFor(sid uint32) string {
	return filepath.Join(sm.dir, fmt.Sprintf("%d", sid))
}

// CreateStream allocates a new SID, writes its metadata row, and
// creates the backing file empty. mime drives the stored suffix via
// the Database's mime table.
func (db *Database) CreateStream(mime string) (uint32, error) {
	sm := db.streams
	sm.mu.Lock()
	sm.nextSid++
	sid := sm.nextSid
	sm.mu.Unlock()

	suffix := db.mimes.MimeToSuffix(mime)
	meta := StreamMeta{Mime: mime, Suffix: suffix, LastUse: time.Now().UTC()}

	if err := db.store.Begin(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStartTrans, err)
	}
	cur, err := db.store.OpenCursor(sm.table)
	if err != nil {
		_ = db.store.Abort()
		return 0, fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	if err := cur.Insert(streamCounterKey, cell.Encode(cell.SID(sid))); err != nil {
		_ = db.store.Abort()
		return 0, err
	}
	if err := cur.Insert(sidKey(sid), encodeStreamMeta(meta)); err != nil {
		_ = db.store.Abort()
		return 0, err
	}
	if err := db.store.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCommitTrans, err)
	}

	f, err := os.OpenFile(sm.pathFor(sid), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStreamFile, err)
	}
	return sid, f.Close()
}

// StreamMetaOf reads a stream's metadata row.
func (db *Database) StreamMetaOf(sid uint32) (StreamMeta, error) {
	cur, err := db.store.OpenCursor(db.streams.table)
	if err != nil {
		return StreamMeta{}, fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	defer cur.Close()
	if !cur.MoveTo(sidKey(sid), pagedstore.Exact) {
		return StreamMeta{}, ErrUnknownId
	}
	return decodeStreamMeta(cur.ReadValue())
}

// StreamPath returns the path of the backing file for sid.
func (db *Database) StreamPath(sid uint32) string { return db.streams.pathFor(sid) }

// AcquireStreamRead takes a read lock, refusing only if a writer
// currently holds it.
func (db *Database) AcquireStreamRead(sid uint32) bool {
	sm := db.streams
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.locks[sid] < 0 {
		return false
	}
	sm.locks[sid]++
	return true
}

// ReleaseStreamRead drops one read lock.
func (db *Database) ReleaseStreamRead(sid uint32) {
	sm := db.streams
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.locks[sid] > 0 {
		sm.locks[sid]--
		if sm.locks[sid] == 0 {
			delete(sm.locks, sid)
		}
	}
}

// AcquireStreamWrite takes the exclusive writer lock, refusing if any
// reader or writer already holds it.
func (db *Database) AcquireStreamWrite(sid uint32) bool {
	sm := db.streams
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.locks[sid] != 0 {
		return false
	}
	sm.locks[sid] = -1
	return true
}

// ReleaseStreamWrite releases the writer lock and notifies observers.
func (db *Database) ReleaseStreamWrite(sid uint32) {
	sm := db.streams
	sm.mu.Lock()
	if sm.locks[sid] < 0 {
		delete(sm.locks, sid)
	}
	sm.mu.Unlock()
	db.dispatch([]UpdateInfo{{Kind: StreamChanged, ID: uint64(sid)}})
}

// RemoveStream deletes a stream's metadata row and backing file.
func (db *Database) RemoveStream(sid uint32) error {
	sm := db.streams
	if err := db.store.Begin(); err != nil {
		return fmt.Errorf("%w: %v", ErrStartTrans, err)
	}
	cur, err := db.store.OpenCursor(sm.table)
	if err != nil {
		_ = db.store.Abort()
		return fmt.Errorf("%w: %v", ErrAccessCursor, err)
	}
	if cur.MoveTo(sidKey(sid), pagedstore.Exact) {
		if err := cur.Remove(); err != nil {
			_ = db.store.Abort()
			return err
		}
	}
	if err := db.store.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrCommitTrans, err)
	}
	if err := os.Remove(sm.pathFor(sid)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrStreamFile, err)
	}
	return nil
}

func encodeStreamMeta(m StreamMeta) []byte {
	return cell.NewFrameWriter().BeginFrame().
		Slot(strSlotMime, cell.UTF8(m.Mime)).
		Slot(strSlotSuffix, cell.UTF8(m.Suffix)).
		Slot(strSlotLocale, cell.UTF8(m.Locale)).
		Slot(strSlotGzipped, cell.Bool(m.Gzipped)).
		Slot(strSlotCrypted, cell.Bool(m.Crypted)).
		Slot(strSlotUseCount, cell.U64(m.UseCount)).
		Slot(strSlotLastUse, cell.DateTime(m.LastUse)).
		EndFrame().Bytes()
}

func decodeStreamMeta(buf []byte) (StreamMeta, error) {
	slots, err := cell.ReadSlots(buf)
	if err != nil {
		return StreamMeta{}, fmt.Errorf("%w: %v", ErrRecordFormat, err)
	}
	var m StreamMeta
	if c, ok := slots[strSlotMime]; ok {
		m.Mime = c.String()
	}
	if c, ok := slots[strSlotSuffix]; ok {
		m.Suffix = c.String()
	}
	if c, ok := slots[strSlotLocale]; ok {
		m.Locale = c.String()
	}
	if c, ok := slots[strSlotGzipped]; ok {
		m.Gzipped = c.Uint64() != 0
	}
	if c, ok := slots[strSlotCrypted]; ok {
		m.Crypted = c.Uint64() != 0
	}
	if c, ok := slots[strSlotUseCount]; ok {
		m.UseCount = c.Uint64()
	}
	if c, ok := slots[strSlotLastUse]; ok {
		m.LastUse = c.Time()
	}
	return m, nil
}
