package sdb

import (
	"encoding/binary"
	"fmt"

	"github.com/sdbkit/sdb/internal/cell"
)

const recordVersion = 1

// prologueFields returns the fixed per-type field sequence emitted as
// variable-length multibyte uint64s (§4.4 item 3); zero means absent.
func prologueFields(t RecType) []uint32 {
	switch t {
	case TypeObject:
		return []uint32{FieldOwner, FieldPrevObj, FieldNextObj, FieldFirstObj, FieldLastObj,
			FieldFirstRel, FieldLastRel, FieldFirstElm, FieldLastElm}
	case TypeRelation:
		return []uint32{FieldSource, FieldTarget, FieldPrevSource, FieldNextSource, FieldPrevTarget, FieldNextTarget}
	case TypeElement:
		return []uint32{FieldList, FieldPrevElem, FieldNextElem}
	default:
		return nil
	}
}

// namedReservedFields are reserved fields that, unlike the prologue
// ones, travel as ordinary named slots in the frame.
var namedReservedFields = []uint32{FieldValue, FieldType, FieldUuid}

func isNamedReserved(atom uint32) bool {
	for _, a := range namedReservedFields {
		if a == atom {
			return true
		}
	}
	return false
}

// encodeImp serializes one record per §4.4: version, type tag, fixed
// prologue, then a frame of user slots plus the named reserved slots.
func encodeImp(im *Imp) ([]byte, error) {
	if prologueFields(im.typ) == nil {
		return nil, fmt.Errorf("%w: unknown record type %d", ErrRecordFormat, im.typ)
	}
	buf := []byte{recordVersion, byte(im.typ)}

	im.mu.Lock()
	fields := make(map[uint32]cell.Cell, len(im.fields))
	for k, v := range im.fields {
		fields[k] = v
	}
	im.mu.Unlock()

	for _, atom := range prologueFields(im.typ) {
		v := fields[atom]
		var u uint64
		if !v.IsNull() {
			u = v.Uint64()
		}
		var vb [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(vb[:], u)
		buf = append(buf, vb[:n]...)
	}

	fw := cell.NewFrameWriter().BeginFrame()
	for atom, v := range fields {
		if atom >= reservedBase {
			continue
		}
		if v.IsNull() {
			continue
		}
		fw.Slot(atom, v)
	}
	for _, special := range namedReservedFields {
		if v, ok := fields[special]; ok && !v.IsNull() {
			fw.Slot(special, v)
		}
	}
	fw.EndFrame()
	buf = append(buf, fw.Bytes()...)
	return buf, nil
}

// decodeImp parses bytes written by encodeImp back into an Imp bound to
// id. Fails ErrRecordFormat on any structural mismatch.
func decodeImp(id uint64, buf []byte) (*Imp, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("%w: truncated record", ErrRecordFormat)
	}
	if buf[0] != recordVersion {
		return nil, fmt.Errorf("%w: version %d", ErrRecordFormat, buf[0])
	}
	typ := RecType(buf[1])
	prologue := prologueFields(typ)
	if prologue == nil {
		return nil, fmt.Errorf("%w: type tag %d", ErrRecordFormat, typ)
	}
	rest := buf[2:]

	fields := make(map[uint32]cell.Cell, len(prologue)+4)
	for _, atom := range prologue {
		u, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, fmt.Errorf("%w: truncated prologue", ErrRecordFormat)
		}
		rest = rest[n:]
		if u != 0 {
			fields[atom] = prologueCell(atom, u)
		}
	}

	slots, err := cell.ReadSlots(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecordFormat, err)
	}
	for k, v := range slots {
		fields[k] = v
	}

	return newImp(typ, id, fields, Idle), nil
}

// prologueCell wraps a raw prologue uint64 in the cell shape its field
// expects (OID-valued link fields everywhere in the prologue).
func prologueCell(atom uint32, u uint64) cell.Cell {
	return cell.OID(u)
}
