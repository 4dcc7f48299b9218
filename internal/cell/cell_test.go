package cell

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func roundtrip(t *testing.T, c Cell) Cell {
	t.Helper()
	buf := Encode(c)
	got, rest, err := Decode(buf)
	require.NoError(t, err)
	require.Empty(t, rest)
	return got
}

func TestRoundtripScalars(t *testing.T) {
	require.True(t, roundtrip(t, Null).IsNull())
	require.Equal(t, int64(-5), roundtrip(t, I8(-5)).Int64())
	require.Equal(t, int64(123456), roundtrip(t, I32(123456)).Int64())
	require.Equal(t, int64(-123456789012), roundtrip(t, I64(-123456789012)).Int64())
	require.Equal(t, uint64(200), roundtrip(t, U8(200)).Uint64())
	require.Equal(t, uint64(99), roundtrip(t, Atom(99)).Uint64())
	require.Equal(t, uint64(42), roundtrip(t, OID(42)).Uint64())
	require.Equal(t, uint64(7), roundtrip(t, SID(7)).Uint64())
	require.True(t, roundtrip(t, Bool(true)).Uint64() == 1)
	require.Equal(t, "hello", roundtrip(t, UTF8("hello")).String())
	require.Equal(t, "hello", roundtrip(t, Latin1("hello")).String())

	u := uuid.New()
	require.Equal(t, u, roundtrip(t, UUID(u)).UUIDValue())
}

func TestIntegerOrderPreserved(t *testing.T) {
	vals := []int64{-100, -1, 0, 1, 100}
	var prev []byte
	for _, v := range vals {
		enc := Encode(I64(v))
		if prev != nil {
			require.True(t, string(prev) < string(enc), "order broken at %d", v)
		}
		prev = enc
	}
}

func TestUnsignedOrderPreserved(t *testing.T) {
	vals := []uint64{0, 1, 255, 256, 1 << 40}
	var prev []byte
	for _, v := range vals {
		enc := Encode(OID(v))
		if prev != nil {
			require.True(t, string(prev) < string(enc))
		}
		prev = enc
	}
}

func TestFrameRoundtrip(t *testing.T) {
	w := NewFrameWriter()
	w.BeginFrame().Slot(1, UTF8("alice")).Slot(2, I32(30)).EndFrame()

	slots, err := ReadSlots(w.Bytes())
	require.NoError(t, err)
	require.Len(t, slots, 2)
	require.Equal(t, "alice", slots[1].String())
	require.Equal(t, int64(30), slots[2].Int64())
}
