// Package cell implements the self-describing tagged value codec the
// engine uses for both store keys and store values: a type byte
// followed by a payload. For the fixed-width tags (integers, ids,
// atoms, UUID, bool, date-time) raw-byte order matches value order
// within a single tag. The variable-length tags (strings and blobs)
// carry a varint length prefix before their bytes, so within such a
// tag cells sort by length first and by content only among equal
// lengths.
package cell

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tag identifies a cell's payload shape. The numeric value is the
// on-disk type byte; changing it is a format break.
type Tag byte

const (
	TagNull Tag = iota
	TagI8
	TagI32
	TagI64
	TagU8
	TagU32
	TagU64
	TagAtom
	TagOID
	TagRID
	TagSID
	TagUUID
	TagLatin1
	TagASCII
	TagUTF8
	TagHTML
	TagXML
	TagBML
	TagImage
	TagLOB
	TagDateTime
	TagBool
)

var ErrShortBuffer = errors.New("cell: buffer too short")
var ErrUnknownTag = errors.New("cell: unknown type tag")

// Cell is a tagged value. Only the fields relevant to Tag are
// meaningful; use the constructors and accessors below rather than
// touching fields directly.
type Cell struct {
	Tag   Tag
	ival  int64
	uval  uint64
	bytes []byte
	tval  time.Time
}

// Null is the absent-value cell; field reads fall back to it.
var Null = Cell{Tag: TagNull}

func (c Cell) IsNull() bool { return c.Tag == TagNull }

func I8(v int8) Cell   { return Cell{Tag: TagI8, ival: int64(v)} }
func I32(v int32) Cell { return Cell{Tag: TagI32, ival: int64(v)} }
func I64(v int64) Cell { return Cell{Tag: TagI64, ival: v} }
func U8(v uint8) Cell  { return Cell{Tag: TagU8, uval: uint64(v)} }
func U32(v uint32) Cell { return Cell{Tag: TagU32, uval: uint64(v)} }
func U64(v uint64) Cell { return Cell{Tag: TagU64, uval: v} }
func Atom(v uint32) Cell { return Cell{Tag: TagAtom, uval: uint64(v)} }
func OID(v uint64) Cell { return Cell{Tag: TagOID, uval: v} }
func RID(v uint64) Cell { return Cell{Tag: TagRID, uval: v} }
func SID(v uint32) Cell { return Cell{Tag: TagSID, uval: uint64(v)} }
func Bool(v bool) Cell {
	var u uint64
	if v {
		u = 1
	}
	return Cell{Tag: TagBool, uval: u}
}
func DateTime(t time.Time) Cell { return Cell{Tag: TagDateTime, ival: t.UnixNano(), tval: t} }

func UUID(u uuid.UUID) Cell { b := u[:]; return Cell{Tag: TagUUID, bytes: append([]byte(nil), b...)} }

func Latin1(s string) Cell { return Cell{Tag: TagLatin1, bytes: []byte(s)} }
func ASCII(s string) Cell  { return Cell{Tag: TagASCII, bytes: []byte(s)} }
func UTF8(s string) Cell   { return Cell{Tag: TagUTF8, bytes: []byte(s)} }
func HTML(s string) Cell   { return Cell{Tag: TagHTML, bytes: []byte(s)} }
func XML(s string) Cell    { return Cell{Tag: TagXML, bytes: []byte(s)} }
func BML(s string) Cell    { return Cell{Tag: TagBML, bytes: []byte(s)} }
func Image(b []byte) Cell  { return Cell{Tag: TagImage, bytes: append([]byte(nil), b...)} }
func LOB(b []byte) Cell    { return Cell{Tag: TagLOB, bytes: append([]byte(nil), b...)} }

// Int64 returns the signed integer payload (I8/I32/I64/DateTime-as-nanos).
func (c Cell) Int64() int64 { return c.ival }

// Uint64 returns the unsigned integer payload (U8/U32/U64/Atom/OID/RID/SID/Bool).
func (c Cell) Uint64() uint64 { return c.uval }

// String returns the text payload for any of the string-shaped tags.
func (c Cell) String() string { return string(c.bytes) }

// RawBytes returns the raw payload for blob/string-shaped tags.
func (c Cell) RawBytes() []byte { return c.bytes }

// Time returns the payload as a time.Time for TagDateTime.
func (c Cell) Time() time.Time {
	if !c.tval.IsZero() {
		return c.tval
	}
	return time.Unix(0, c.ival).UTC()
}

// UUIDValue parses the payload as a uuid.UUID; zero UUID if malformed.
func (c Cell) UUIDValue() uuid.UUID {
	var u uuid.UUID
	copy(u[:], c.bytes)
	return u
}

// fixedLen returns the payload length for fixed-width tags, or -1 for
// variable-length tags that need a length prefix.
func fixedLen(t Tag) int {
	switch t {
	case TagNull:
		return 0
	case TagI8, TagU8, TagBool:
		return 1
	case TagI32, TagU32, TagAtom, TagSID:
		return 4
	case TagI64, TagU64, TagOID, TagRID, TagDateTime:
		return 8
	case TagUUID:
		return 16
	default:
		return -1
	}
}

// Encode writes the cell's self-describing byte form: one tag byte,
// then either a fixed-width payload or a varint length followed by the
// payload. Integer payloads are big-endian with the sign bit flipped
// for signed types, so raw-byte order matches numeric order.
func Encode(c Cell) []byte {
	n := fixedLen(c.Tag)
	if n >= 0 {
		out := make([]byte, 1+n)
		out[0] = byte(c.Tag)
		switch c.Tag {
		case TagNull:
		case TagI8:
			out[1] = byte(c.ival) ^ 0x80
		case TagU8, TagBool:
			out[1] = byte(c.uval)
		case TagI32:
			binary.BigEndian.PutUint32(out[1:], uint32(c.ival)^0x80000000)
		case TagU32, TagAtom, TagSID:
			binary.BigEndian.PutUint32(out[1:], uint32(c.uval))
		case TagI64, TagDateTime:
			binary.BigEndian.PutUint64(out[1:], uint64(c.ival)^0x8000000000000000)
		case TagU64, TagOID, TagRID:
			binary.BigEndian.PutUint64(out[1:], c.uval)
		case TagUUID:
			copy(out[1:], c.bytes)
		}
		return out
	}
	lenBuf := make([]byte, binary.MaxVarintLen64)
	ln := binary.PutUvarint(lenBuf, uint64(len(c.bytes)))
	out := make([]byte, 0, 1+ln+len(c.bytes))
	out = append(out, byte(c.Tag))
	out = append(out, lenBuf[:ln]...)
	out = append(out, c.bytes...)
	return out
}

// Decode reads one cell from the front of buf and returns it along with
// the unconsumed remainder.
func Decode(buf []byte) (Cell, []byte, error) {
	if len(buf) < 1 {
		return Cell{}, nil, ErrShortBuffer
	}
	tag := Tag(buf[0])
	rest := buf[1:]
	n := fixedLen(tag)
	if n >= 0 {
		if len(rest) < n {
			return Cell{}, nil, ErrShortBuffer
		}
		payload := rest[:n]
		rest = rest[n:]
		switch tag {
		case TagNull:
			return Null, rest, nil
		case TagI8:
			return Cell{Tag: tag, ival: int64(int8(payload[0] ^ 0x80))}, rest, nil
		case TagU8:
			return Cell{Tag: tag, uval: uint64(payload[0])}, rest, nil
		case TagBool:
			return Cell{Tag: tag, uval: uint64(payload[0])}, rest, nil
		case TagI32:
			v := int32(binary.BigEndian.Uint32(payload) ^ 0x80000000)
			return Cell{Tag: tag, ival: int64(v)}, rest, nil
		case TagU32, TagAtom, TagSID:
			return Cell{Tag: tag, uval: uint64(binary.BigEndian.Uint32(payload))}, rest, nil
		case TagI64, TagDateTime:
			v := int64(binary.BigEndian.Uint64(payload) ^ 0x8000000000000000)
			return Cell{Tag: tag, ival: v}, rest, nil
		case TagU64, TagOID, TagRID:
			return Cell{Tag: tag, uval: binary.BigEndian.Uint64(payload)}, rest, nil
		case TagUUID:
			return Cell{Tag: tag, bytes: append([]byte(nil), payload...)}, rest, nil
		}
		return Cell{}, nil, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
	switch tag {
	case TagLatin1, TagASCII, TagUTF8, TagHTML, TagXML, TagBML, TagImage, TagLOB:
		l, used := binary.Uvarint(rest)
		if used <= 0 {
			return Cell{}, nil, ErrShortBuffer
		}
		rest = rest[used:]
		if uint64(len(rest)) < l {
			return Cell{}, nil, ErrShortBuffer
		}
		payload := rest[:l]
		rest = rest[l:]
		return Cell{Tag: tag, bytes: append([]byte(nil), payload...)}, rest, nil
	}
	return Cell{}, nil, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
}
