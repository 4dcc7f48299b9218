package index

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sdbkit/sdb/internal/cell"
)

// EncodeItem normalizes c per item's nocase/collation/invert settings
// and prepends a type-tag byte so values of different effective types
// never interleave in key order (§4.3 step 1-3). Returns (nil, false)
// when c is null — callers must skip emitting the index entry.
func EncodeItem(c cell.Cell, it Item) ([]byte, bool) {
	if c.IsNull() {
		return nil, false
	}

	var body []byte
	switch c.Tag {
	case cell.TagLatin1:
		s := c.String()
		if it.NoCase {
			s = strings.ToLower(s)
		}
		body = []byte(collate(s, it.Collation))
	case cell.TagASCII:
		s := c.String()
		if it.NoCase {
			s = strings.ToLower(s)
		}
		body = []byte(s)
	case cell.TagUTF8, cell.TagHTML, cell.TagXML, cell.TagBML:
		s := c.String()
		if it.NoCase {
			s = strings.ToLower(s)
		}
		body = []byte(collate(s, it.Collation))
	default:
		body = cell.Encode(c)
	}

	if it.Invert {
		inv := make([]byte, len(body))
		for i, b := range body {
			inv[i] = ^b
		}
		body = inv
	}

	out := make([]byte, 1+len(body))
	out[0] = byte(c.Tag)
	copy(out[1:], body)
	return out, true
}

// collate applies the requested collation to UTF-8 text.
func collate(s string, c Collation) string {
	switch c {
	case CollationNFKDCanonicalBase:
		return canonicalBase(s)
	default:
		return s
	}
}

// canonicalBase takes, per codepoint, the first codepoint of its
// canonical (NFD) decomposition — the "base" letter stripped of
// combining marks for codepoints with a simple canonical decomposition;
// codepoints whose only decomposition is compatibility (non-canonical)
// keep their full NFKD decomposition. ASCII passes through untouched.
func canonicalBase(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x80 {
			b.WriteRune(r)
			continue
		}
		runes := []rune(norm.NFD.String(string(r)))
		if len(runes) == 1 && runes[0] == r {
			// No canonical decomposition: use the compatibility one, if any.
			b.WriteString(norm.NFKD.String(string(r)))
			continue
		}
		b.WriteRune(runes[0])
	}
	return b.String()
}

// EncodeTuple encodes every item of a composite key in order and
// concatenates them. Returns (nil, false) if any item is null — per
// §4.3, a null referenced item means "no entry".
func EncodeTuple(items []Item, values []cell.Cell) ([]byte, bool) {
	var out []byte
	for i, it := range items {
		enc, ok := EncodeItem(values[i], it)
		if !ok {
			return nil, false
		}
		out = append(out, enc...)
	}
	return out, true
}
