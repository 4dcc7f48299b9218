package index

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sdbkit/sdb/internal/cell"
	"github.com/sdbkit/sdb/internal/pagedstore"
)

// Manager coordinates index schemas (the registry sub-tree) and the
// per-index data sub-trees they maintain.
type Manager struct {
	mu       sync.RWMutex
	store    *pagedstore.Store
	log      zerolog.Logger
	regTable uint32
	firstDataTable uint32
	nextData uint32
	byName   map[string]uint32 // name -> data table id
	metas    map[uint32]Meta   // data table id -> schema
}

const counterKeyByte = 0

func nameLookupKey(name string) []byte {
	return append([]byte{'n'}, cell.Encode(cell.Latin1(name))...)
}

func metaKey(table uint32) []byte {
	return append([]byte{'m'}, cell.Encode(cell.U32(table))...)
}

func reverseKey(firstAtom uint32, table uint32) []byte {
	k := append([]byte{'r'}, cell.Encode(cell.Atom(firstAtom))...)
	return append(k, cell.Encode(cell.U32(table))...)
}

// Open loads the index registry over regTable; data tables are
// allocated starting at firstDataTable.
func Open(store *pagedstore.Store, regTable, firstDataTable uint32) (*Manager, error) {
	if err := store.CreateTable(regTable); err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	m := &Manager{
		store: store, regTable: regTable, firstDataTable: firstDataTable,
		log:      zerolog.Nop(),
		nextData: firstDataTable,
		byName:   make(map[string]uint32),
		metas:    make(map[uint32]Meta),
	}
	if err := m.loadAll(); err != nil {
		return nil, err
	}
	return m, nil
}

// SetLogger installs the logger used for index lifecycle events
// (CreateIndex, DropIndex). Open defaults to a no-op logger.
func (m *Manager) SetLogger(l zerolog.Logger) {
	m.mu.Lock()
	m.log = l
	m.mu.Unlock()
}

func (m *Manager) loadAll() error {
	cur, err := m.store.OpenCursor(m.regTable)
	if err != nil {
		return fmt.Errorf("index: loadAll: %w", err)
	}
	defer cur.Close()
	max := m.firstDataTable
	for ok := cur.First(); ok; ok = cur.Next() {
		k := cur.ReadKey()
		if len(k) == 0 {
			continue
		}
		if k[0] != 'm' {
			continue
		}
		meta, table, err := decodeMeta(k, cur.ReadValue())
		if err != nil {
			return fmt.Errorf("index: loadAll decode: %w", err)
		}
		m.metas[table] = meta
		m.byName[meta.Name] = table
		if table >= max {
			max = table + 1
		}
	}
	m.nextData = max
	return nil
}

func decodeMeta(key []byte, value []byte) (Meta, uint32, error) {
	kc, _, err := cell.Decode(key[1:])
	if err != nil {
		return Meta{}, 0, err
	}
	table := uint32(kc.Uint64())

	buf := value
	if len(buf) < 1 {
		return Meta{}, 0, ErrIndexNotFound
	}
	kind := Kind(buf[0])
	buf = buf[1:]
	nameC, rest, err := cell.Decode(buf)
	if err != nil {
		return Meta{}, 0, err
	}
	buf = rest
	if len(buf) < 2 {
		return Meta{}, 0, ErrIndexNotFound
	}
	n := binary.BigEndian.Uint16(buf)
	buf = buf[2:]
	items := make([]Item, 0, n)
	for i := uint16(0); i < n; i++ {
		if len(buf) < 7 {
			return Meta{}, 0, ErrIndexNotFound
		}
		atom := binary.BigEndian.Uint32(buf)
		noCase := buf[4] != 0
		invert := buf[5] != 0
		coll := Collation(buf[6])
		buf = buf[7:]
		items = append(items, Item{Atom: atom, NoCase: noCase, Invert: invert, Collation: coll})
	}
	return Meta{Name: nameC.String(), Table: table, Kind: kind, Items: items}, table, nil
}

func encodeMeta(meta Meta) []byte {
	out := []byte{byte(meta.Kind)}
	out = append(out, cell.Encode(cell.Latin1(meta.Name))...)
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(meta.Items)))
	out = append(out, n[:]...)
	for _, it := range meta.Items {
		var b [7]byte
		binary.BigEndian.PutUint32(b[:4], it.Atom)
		if it.NoCase {
			b[4] = 1
		}
		if it.Invert {
			b[5] = 1
		}
		b[6] = byte(it.Collation)
		out = append(out, b[:]...)
	}
	return out
}

// CreateIndex registers a new index and allocates its data sub-tree.
func (m *Manager) CreateIndex(name string, kind Kind, items []Item) (uint32, error) {
	if len(items) == 0 {
		return 0, ErrEmptyItems
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[name]; ok {
		return 0, fmt.Errorf("%w: %s", ErrIndexExists, name)
	}

	table := m.nextData
	if err := m.store.Begin(); err != nil {
		return 0, err
	}
	ok := false
	defer func() {
		if ok {
			m.store.Commit()
		} else {
			m.store.Abort()
		}
	}()

	if err := m.store.CreateTable(table); err != nil {
		return 0, fmt.Errorf("index: CreateIndex: %w", err)
	}
	meta := Meta{Name: name, Table: table, Kind: kind, Items: items}
	cur, err := m.store.OpenCursor(m.regTable)
	if err != nil {
		return 0, fmt.Errorf("index: CreateIndex: %w", err)
	}
	if err := cur.Insert(nameLookupKey(name), cell.Encode(cell.U32(table))); err != nil {
		return 0, err
	}
	if err := cur.Insert(metaKey(table), encodeMeta(meta)); err != nil {
		return 0, err
	}
	if err := cur.Insert(reverseKey(items[0].Atom, table), cell.Encode(cell.U32(table))); err != nil {
		return 0, err
	}

	m.byName[name] = table
	m.metas[table] = meta
	m.nextData = table + 1
	ok = true
	m.log.Info().Str("index", name).Uint32("table", table).Int("kind", int(kind)).Msg("index created")
	return table, nil
}

// DropIndex removes an index's registry entries and its data sub-tree.
func (m *Manager) DropIndex(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	table, found := m.byName[name]
	if !found {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	meta := m.metas[table]

	if err := m.store.Begin(); err != nil {
		return err
	}
	ok := false
	defer func() {
		if ok {
			m.store.Commit()
		} else {
			m.store.Abort()
		}
	}()

	if err := m.store.DropTable(table); err != nil {
		return fmt.Errorf("index: DropIndex: %w", err)
	}
	cur, err := m.store.OpenCursor(m.regTable)
	if err != nil {
		return fmt.Errorf("index: DropIndex: %w", err)
	}
	if cur.MoveTo(nameLookupKey(name), pagedstore.Exact) {
		_ = cur.Remove()
	}
	if cur.MoveTo(metaKey(table), pagedstore.Exact) {
		_ = cur.Remove()
	}
	if cur.MoveTo(reverseKey(meta.Items[0].Atom, table), pagedstore.Exact) {
		_ = cur.Remove()
	}

	delete(m.byName, name)
	delete(m.metas, table)
	ok = true
	m.log.Info().Str("index", name).Uint32("table", table).Msg("index dropped")
	return nil
}

// FindIndex returns the data table id and schema for a named index.
func (m *Manager) FindIndex(name string) (uint32, Meta, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	table, ok := m.byName[name]
	if !ok {
		return 0, Meta{}, false
	}
	return table, m.metas[table], true
}

// ByFirstAtom returns every index whose first composite item is atom.
func (m *Manager) ByFirstAtom(atom uint32) []Meta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Meta
	for _, meta := range m.metas {
		if len(meta.Items) > 0 && meta.Items[0].Atom == atom {
			out = append(out, meta)
		}
	}
	return out
}
