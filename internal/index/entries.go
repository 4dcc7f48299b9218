package index

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode"

	"github.com/sdbkit/sdb/internal/cell"
	"github.com/sdbkit/sdb/internal/pagedstore"
)

// idSuffix encodes a record id as an 8-byte big-endian suffix so Value
// index keys stay ordered and unique per (tuple, id) pair.
func idSuffix(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

// Insert adds one entry for recordID under the index's data table,
// per the kind's discipline (§4.3). key must come from EncodeTuple.
func (m *Manager) Insert(table uint32, meta Meta, key []byte, recordID uint64) error {
	switch meta.Kind {
	case KindUnique:
		cur, err := m.store.OpenCursor(table)
		if err != nil {
			return fmt.Errorf("index: Insert: %w", err)
		}
		if cur.MoveTo(key, pagedstore.Exact) {
			existing := binary.BigEndian.Uint64(cur.ReadValue())
			if existing != recordID {
				return fmt.Errorf("%w: index %s", ErrDuplicate, meta.Name)
			}
			return nil
		}
		return cur.Insert(key, idSuffix(recordID))
	case KindValue:
		cur, err := m.store.OpenCursor(table)
		if err != nil {
			return fmt.Errorf("index: Insert: %w", err)
		}
		full := append(append([]byte(nil), key...), idSuffix(recordID)...)
		return cur.Insert(full, idSuffix(recordID))
	case KindFulltext:
		return m.insertFulltext(table, key, recordID)
	default:
		return fmt.Errorf("index: unknown kind %d", meta.Kind)
	}
}

// Remove deletes the entry for recordID.
func (m *Manager) Remove(table uint32, meta Meta, key []byte, recordID uint64) error {
	switch meta.Kind {
	case KindUnique:
		cur, err := m.store.OpenCursor(table)
		if err != nil {
			return fmt.Errorf("index: Remove: %w", err)
		}
		if cur.MoveTo(key, pagedstore.Exact) {
			return cur.Remove()
		}
		return nil
	case KindValue:
		cur, err := m.store.OpenCursor(table)
		if err != nil {
			return fmt.Errorf("index: Remove: %w", err)
		}
		full := append(append([]byte(nil), key...), idSuffix(recordID)...)
		if cur.MoveTo(full, pagedstore.Exact) {
			return cur.Remove()
		}
		return nil
	case KindFulltext:
		return m.removeFulltext(table, key, recordID)
	default:
		return fmt.Errorf("index: unknown kind %d", meta.Kind)
	}
}

// ApplyChange recomputes the composite key from oldValues/newValues
// (aligned with meta.Items) and removes the pre-image entry / inserts
// the post-image entry, per §4.3 and §4.6's commit ordering.
func (m *Manager) ApplyChange(table uint32, meta Meta, oldValues, newValues []cell.Cell, recordID uint64) error {
	if oldKey, ok := EncodeTuple(meta.Items, oldValues); ok {
		if err := m.Remove(table, meta, oldKey, recordID); err != nil {
			return err
		}
	}
	if newKey, ok := EncodeTuple(meta.Items, newValues); ok {
		if err := m.Insert(table, meta, newKey, recordID); err != nil {
			return err
		}
	}
	return nil
}

// Tokenize splits fulltext input on non-letter/digit boundaries and
// lowercases each token. Concrete relevance scoring is out of scope
// (§4.3 / SPEC_FULL §5); this only supports the insert/remove contract.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.ToLower(f))
	}
	return out
}

// insertFulltext tokenizes the text body of key (EncodeItem's output: a
// tag byte followed by the normalized text) and inserts one entry per token.
func (m *Manager) insertFulltext(table uint32, key []byte, recordID uint64) error {
	cur, err := m.store.OpenCursor(table)
	if err != nil {
		return fmt.Errorf("index: insertFulltext: %w", err)
	}
	for _, tok := range Tokenize(string(key[1:])) {
		tk := append(cell.Encode(cell.UTF8(tok)), idSuffix(recordID)...)
		if err := cur.Insert(tk, idSuffix(recordID)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) removeFulltext(table uint32, key []byte, recordID uint64) error {
	cur, err := m.store.OpenCursor(table)
	if err != nil {
		return fmt.Errorf("index: removeFulltext: %w", err)
	}
	for _, tok := range Tokenize(string(key[1:])) {
		tk := append(cell.Encode(cell.UTF8(tok)), idSuffix(recordID)...)
		if cur.MoveTo(tk, pagedstore.Exact) {
			_ = cur.Remove()
		}
	}
	return nil
}

// Scan walks a Value or Unique index's data table in key order,
// invoking fn with each entry's record id, stopping early if fn
// returns false.
func (m *Manager) Scan(table uint32, meta Meta, fn func(recordID uint64) bool) error {
	cur, err := m.store.OpenCursor(table)
	if err != nil {
		return fmt.Errorf("index: Scan: %w", err)
	}
	defer cur.Close()
	for ok := cur.First(); ok; ok = cur.Next() {
		id := binary.BigEndian.Uint64(cur.ReadValue())
		if !fn(id) {
			return nil
		}
	}
	return nil
}
