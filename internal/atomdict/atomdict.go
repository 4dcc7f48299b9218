// Package atomdict maintains the bidirectional name<->atom mapping
// used to intern attribute and type names (§4.2). Atoms below
// ReservedThreshold are user atoms; the top 100 values of the 32-bit
// atom space are reserved for engine-internal field names.
package atomdict

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sdbkit/sdb/internal/cell"
	"github.com/sdbkit/sdb/internal/pagedstore"
)

// ReservedThreshold is the first atom id reserved for engine use; user
// atoms must be strictly below it.
const ReservedThreshold = math.MaxUint32 - 99

var (
	ErrAtomClash    = errors.New("atomdict: name/atom clash")
	ErrReservedName = errors.New("atomdict: atom id is reserved")
)

var counterKey = []byte{0} // sentinel null-key: max-atom counter
const nameTag = byte('n')
const atomTag = byte('a')

// Dict is the atom dictionary: an in-memory cache plus the persistent
// dirTable sub-tree.
type Dict struct {
	mu       sync.RWMutex
	store    *pagedstore.Store
	table    uint32
	byName   map[string]uint32
	byAtom   map[uint32]string
	maxAtom  uint32
}

// Open loads (or initializes) the atom dictionary over the given table.
func Open(store *pagedstore.Store, table uint32) (*Dict, error) {
	if err := store.CreateTable(table); err != nil {
		return nil, fmt.Errorf("atomdict: %w", err)
	}
	d := &Dict{
		store:  store,
		table:  table,
		byName: make(map[string]uint32),
		byAtom: make(map[uint32]string),
	}
	if err := d.loadCounter(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dict) loadCounter() error {
	cur, err := d.store.OpenCursor(d.table)
	if err != nil {
		return fmt.Errorf("atomdict: loadCounter: %w", err)
	}
	defer cur.Close()
	if cur.MoveTo(counterKey, pagedstore.Exact) {
		d.maxAtom = binary.BigEndian.Uint32(cur.ReadValue())
	}
	return nil
}

func nameKey(name string) []byte {
	return append([]byte{nameTag}, cell.Encode(cell.UTF8(name))...)
}

func atomKey(a uint32) []byte {
	return append([]byte{atomTag}, cell.Encode(cell.Atom(a))...)
}

// Lookup returns the atom for name, allocating one if create is true
// and the name is not yet known. Returns 0 if not found and not created.
func (d *Dict) Lookup(name string, create bool) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if a, ok := d.byName[name]; ok {
		return a, nil
	}

	a, err := d.storeLookupName(name)
	if err != nil {
		return 0, fmt.Errorf("atomdict: Lookup: %w", err)
	}
	if a != 0 {
		d.byName[name] = a
		d.byAtom[a] = name
		return a, nil
	}
	if !create {
		return 0, nil
	}
	return d.allocate(name)
}

// storeLookupName queries the persisted table directly, bypassing the
// in-memory cache; 0 if name is unknown. Must be called with d.mu held.
func (d *Dict) storeLookupName(name string) (uint32, error) {
	cur, err := d.store.OpenCursor(d.table)
	if err != nil {
		return 0, err
	}
	defer cur.Close()
	if !cur.MoveTo(nameKey(name), pagedstore.Exact) {
		return 0, nil
	}
	c, _, err := cell.Decode(cur.ReadValue())
	if err != nil {
		return 0, fmt.Errorf("decode: %w", err)
	}
	return uint32(c.Uint64()), nil
}

// storeLookupAtom queries the persisted table directly, bypassing the
// in-memory cache; "" if atom is unknown. Must be called with d.mu held.
func (d *Dict) storeLookupAtom(a uint32) (string, error) {
	cur, err := d.store.OpenCursor(d.table)
	if err != nil {
		return "", err
	}
	defer cur.Close()
	if !cur.MoveTo(atomKey(a), pagedstore.Exact) {
		return "", nil
	}
	c, _, err := cell.Decode(cur.ReadValue())
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	return c.String(), nil
}

// allocate must be called with d.mu held.
func (d *Dict) allocate(name string) (uint32, error) {
	if err := d.store.Begin(); err != nil {
		return 0, err
	}
	defer d.store.Commit()

	d.maxAtom++
	a := d.maxAtom

	cur, err := d.store.OpenCursor(d.table)
	if err != nil {
		_ = d.store.Abort()
		return 0, fmt.Errorf("atomdict: allocate: %w", err)
	}
	var cv [4]byte
	binary.BigEndian.PutUint32(cv[:], d.maxAtom)
	if err := cur.Insert(counterKey, cv[:]); err != nil {
		return 0, err
	}
	if err := cur.Insert(nameKey(name), cell.Encode(cell.Atom(a))); err != nil {
		return 0, err
	}
	if err := cur.Insert(atomKey(a), cell.Encode(cell.UTF8(name))); err != nil {
		return 0, err
	}
	d.byName[name] = a
	d.byAtom[a] = name
	return a, nil
}

// Reverse returns the name for atom a, or "" if unknown.
func (d *Dict) Reverse(a uint32) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.byAtom[a]; ok {
		return n, nil
	}
	name, err := d.storeLookupAtom(a)
	if err != nil {
		return "", fmt.Errorf("atomdict: Reverse: %w", err)
	}
	if name != "" {
		d.byAtom[a] = name
		d.byName[name] = a
	}
	return name, nil
}

// Preset idempotently installs a specific (name, atom) pair. Fails
// ErrAtomClash if name already maps elsewhere or atom already names
// something else.
func (d *Dict) Preset(name string, a uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.byName[name]; ok {
		if existing != a {
			return fmt.Errorf("%w: name %q already atom %d", ErrAtomClash, name, existing)
		}
		return nil
	}
	if existingName, ok := d.byAtom[a]; ok {
		if existingName != name {
			return fmt.Errorf("%w: atom %d already names %q", ErrAtomClash, a, existingName)
		}
		return nil
	}

	// Neither half is cached; a cold-cache reopen must still see a
	// persisted conflict before upserting, exactly as Lookup/Reverse
	// fall back to the store on a cache miss.
	if persistedAtom, err := d.storeLookupName(name); err != nil {
		return err
	} else if persistedAtom != 0 {
		if persistedAtom != a {
			return fmt.Errorf("%w: name %q already atom %d", ErrAtomClash, name, persistedAtom)
		}
		d.byName[name] = a
		d.byAtom[a] = name
		return nil
	}
	if persistedName, err := d.storeLookupAtom(a); err != nil {
		return err
	} else if persistedName != "" {
		if persistedName != name {
			return fmt.Errorf("%w: atom %d already names %q", ErrAtomClash, a, persistedName)
		}
		d.byName[name] = a
		d.byAtom[a] = name
		return nil
	}

	if err := d.store.Begin(); err != nil {
		return err
	}
	defer d.store.Commit()

	if a > d.maxAtom {
		d.maxAtom = a
		cur, err := d.store.OpenCursor(d.table)
		if err != nil {
			_ = d.store.Abort()
			return fmt.Errorf("atomdict: Preset: %w", err)
		}
		var cv [4]byte
		binary.BigEndian.PutUint32(cv[:], d.maxAtom)
		if err := cur.Insert(counterKey, cv[:]); err != nil {
			return err
		}
	}
	cur, err := d.store.OpenCursor(d.table)
	if err != nil {
		return fmt.Errorf("atomdict: Preset: %w", err)
	}
	if err := cur.Insert(nameKey(name), cell.Encode(cell.Atom(a))); err != nil {
		return err
	}
	if err := cur.Insert(atomKey(a), cell.Encode(cell.UTF8(name))); err != nil {
		return err
	}
	d.byName[name] = a
	d.byAtom[a] = name
	return nil
}

// IsReserved reports whether atom a falls in the engine-reserved range.
func IsReserved(a uint32) bool { return a >= ReservedThreshold }
